package sim

// Faults tunes the emulated card's timing and injects failures.
// The zero value answers instantly and never fails.
type Faults struct {
	// IdleAfter is the number of CMD0 frames left unanswered before the
	// card enters the idle state.
	IdleAfter int

	// InitPolls is the number of ACMD41 polls answered with idle before
	// the card becomes ready.
	InitPolls int

	// NeverReady keeps the card idle for every ACMD41.
	NeverReady bool

	// Echo, when non-zero, replaces the check pattern echoed by CMD8.
	Echo byte

	// Replies forces the R1 reply of the given opcodes.
	Replies map[byte]byte

	// ResponseDelay is the number of filler bytes before each R1 reply.
	ResponseDelay int

	// ReadLatency is the number of filler bytes before each read token.
	ReadLatency int

	// CSDLatency is the number of filler bytes before the CSD token.
	CSDLatency int

	// NoStartToken suppresses the read data token.
	NoStartToken bool

	// WriteBusy is the number of busy bytes after each accepted sector.
	WriteBusy int

	// StopBusy is the number of busy bytes after the stop token.
	StopBusy int

	// RejectSector, when positive, is the lifetime index (from 1) of the
	// written sector answered with RejectResponse.
	RejectSector int

	// RejectResponse is the data response sent for a rejected sector.
	RejectResponse byte

	// CSD, when non-nil, replaces the synthesized CSD register.
	CSD []byte
}

// DefaultFaults returns the timing of a typical card with no failures.
func DefaultFaults() Faults {
	return Faults{
		InitPolls:      3,
		ResponseDelay:  1,
		ReadLatency:    4,
		CSDLatency:     2,
		WriteBusy:      8,
		StopBusy:       4,
		RejectResponse: 0x0B, // CRC error
	}
}
