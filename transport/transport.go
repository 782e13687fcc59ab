package transport

// Filler is the byte clocked out whenever the host only needs to receive.
// The card ignores it and an idle card answers with the same value.
const Filler = 0xFF

// Transport is a byte-oriented full-duplex serial link to one card socket.
//
// Implementations are not required to be safe for concurrent use; the
// block-device layer serializes access to each unit.
type Transport interface {
	// Select asserts the chip-select line.
	Select() error

	// Deselect deasserts the chip-select line.
	Deselect() error

	// Exchange shifts out one byte and returns the byte shifted in.
	Exchange(out byte) (byte, error)

	// ReadBulk fills dst with bytes received while clocking out Filler.
	ReadBulk(dst []byte) error

	// WriteBulk shifts out src, discarding the received bytes.
	WriteBulk(src []byte) error

	// SetBitRate selects the clock rate in kHz. Implementations may round
	// down to the nearest rate the hardware supports.
	SetBitRate(kHz uint32) error

	// BitRate returns the clock rate in kHz currently in effect.
	BitRate() uint32
}

// Critical suppresses interrupts or preemption on the current thread.
// Enter and Exit calls are always paired.
type Critical interface {
	Enter()
	Exit()
}

// Power switches the supply of a card socket.
type Power interface {
	PowerOn() error
	PowerOff() error
}

// NopCritical is a Critical that does nothing.
type NopCritical struct{}

// Enter does nothing.
func (NopCritical) Enter() {}

// Exit does nothing.
func (NopCritical) Exit() {}

// WithCritical runs fn inside c. Exit runs even if fn panics.
func WithCritical(c Critical, fn func() error) error {
	if c == nil {
		return fn()
	}
	c.Enter()
	defer c.Exit()
	return fn()
}

// Deselect deasserts chip select and clocks one more filler byte, which
// the card needs to release its data-out line.
func Deselect(t Transport) error {
	if err := t.Deselect(); err != nil {
		return err
	}
	_, err := t.Exchange(Filler)
	return err
}

// Fill clocks n filler bytes, discarding what the card returns.
func Fill(t Transport, n int) error {
	for i := 0; i < n; i++ {
		if _, err := t.Exchange(Filler); err != nil {
			return err
		}
	}
	return nil
}
