package sim

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softsd/pkg"
)

// Kind selects which card family the emulator answers as.
type Kind uint8

// Card kinds.
const (
	KindSD1  Kind = iota + 1 // MMC/SD v1: rejects CMD8
	KindSD2                  // SD v2 standard capacity, byte addressed
	KindSDHC                 // SD v2 high capacity, block addressed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSD1:
		return "sd1"
	case KindSD2:
		return "sd2"
	case KindSDHC:
		return "sdhc"
	default:
		return "unknown"
	}
}

// ParseKind parses the names returned by Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindSD1, KindSD2, KindSDHC} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// SectorSize is the data block size of the emulated card.
const SectorSize = 512

// Protocol bytes as seen from the card side.
const (
	filler         = 0xFF
	tokenStart     = 0xFE
	tokenWriteMult = 0xFC
	tokenStopTran  = 0xFD

	r1Idle    = 0x01
	r1Illegal = 0x04
	r1CRC     = 0x08
	r1Address = 0x20

	dataAccepted   = 0xE5 // xxx0 010 1
	dataWriteError = 0xED // xxx0 110 1

	hcs = 0x40000000

	// Cards need at least 74 clocks with chip select high after power-up.
	minPowerClocks = 74
	// Identification must run at or below 400 kHz.
	maxIdentKHz = 400
)

// Command is one command frame decoded by the emulator.
type Command struct {
	Op  byte
	Arg uint32
	CRC byte
	App bool // preceded by CMD55
}

// Stats counts the traffic seen by the emulator.
type Stats struct {
	Commands       int
	SectorsRead    int
	SectorsWritten int
	Rejected       int
	Selects        int
}

type mode uint8

const (
	modeCommand mode = iota
	modeRead
	modeWrite
)

type writeState uint8

const (
	writeToken writeState = iota
	writeData
	writeCRC
)

// Card emulates an SD card in SPI mode. It implements
// [github.com/ardnew/softsd/transport.Transport] and
// [github.com/ardnew/softsd/transport.Power], so the protocol engine can
// be run against it unchanged.
//
// Responses are queued as the host clocks bytes in and are returned on
// the following exchanges, the way a card answers on MISO. While chip
// select is high the card ignores input and returns 0xFF.
type Card struct {
	kind   Kind
	image  Image
	faults Faults

	powered  bool
	selected bool
	kHz      uint32
	clocks   int // clocks seen with chip select high since power-up
	resets   int // CMD0 frames seen since power-up
	started  bool
	ready    bool
	app      bool
	polls    int

	frame  [6]byte
	nframe int
	out    []byte

	mode       mode
	sector     int64
	streamLeft int // bytes of the current read packet not yet clocked out

	wstate  writeState
	wbuf    [SectorSize]byte
	wn      int
	written int // sectors received over the card lifetime

	log   []Command
	stats Stats
	mutex sync.Mutex
}

// New returns a powered emulated card of the given kind backed by image.
func New(kind Kind, image Image, opts ...Option) *Card {
	c := &Card{
		kind:    kind,
		image:   image,
		faults:  DefaultFaults(),
		powered: true,
		out:     make([]byte, 0, 2*SectorSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Card.
type Option func(*Card)

// WithFaults replaces the default timing and fault settings.
func WithFaults(f Faults) Option {
	return func(c *Card) {
		c.faults = f
	}
}

// Kind returns the card family.
func (c *Card) Kind() Kind {
	return c.kind
}

// Image returns the backing image.
func (c *Card) Image() Image {
	return c.image
}

// SetFaults changes the timing and fault settings.
func (c *Card) SetFaults(f Faults) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.faults = f
}

// Commands returns a copy of the command log.
func (c *Card) Commands() []Command {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Command(nil), c.log...)
}

// CountCommands returns how many logged commands have opcode op.
func (c *Card) CountCommands(op byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := 0
	for _, cmd := range c.log {
		if cmd.Op == op {
			n++
		}
	}
	return n
}

// Stats returns the traffic counters.
func (c *Card) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// ClearLog empties the command log and zeroes the counters.
func (c *Card) ClearLog() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.log = c.log[:0]
	c.stats = Stats{}
}

// Ready reports whether the card has left the idle state.
func (c *Card) Ready() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ready
}

// Selected reports the chip-select state.
func (c *Card) Selected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.selected
}

// Select asserts chip select.
func (c *Card) Select() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.selected {
		c.stats.Selects++
	}
	c.selected = true
	return nil
}

// Deselect deasserts chip select. A partly received command frame is
// dropped; a pending busy condition is kept.
func (c *Card) Deselect() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.selected = false
	c.nframe = 0
	return nil
}

// Exchange clocks one byte in each direction.
func (c *Card) Exchange(in byte) (byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.exchange(in), nil
}

// ReadBulk clocks len(dst) filler bytes and stores what the card returns.
func (c *Card) ReadBulk(dst []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i := range dst {
		dst[i] = c.exchange(filler)
	}
	return nil
}

// WriteBulk clocks src into the card.
func (c *Card) WriteBulk(src []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, b := range src {
		c.exchange(b)
	}
	return nil
}

// SetBitRate records the clock rate.
func (c *Card) SetBitRate(kHz uint32) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.kHz = kHz
	return nil
}

// BitRate returns the clock rate last set.
func (c *Card) BitRate() uint32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.kHz
}

// PowerOn applies power. The card starts in its power-up state.
func (c *Card) PowerOn() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.powered = true
	c.powerUp()
	return nil
}

// PowerOff removes power.
func (c *Card) PowerOff() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.powered = false
	c.powerUp()
	return nil
}

// Powered reports whether the card is powered.
func (c *Card) Powered() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.powered
}

func (c *Card) powerUp() {
	c.clocks = 0
	c.resets = 0
	c.started = false
	c.idle()
}

// idle returns to the idle state, aborting any transfer.
func (c *Card) idle() {
	c.ready = false
	c.app = false
	c.polls = 0
	c.nframe = 0
	c.out = c.out[:0]
	c.streamLeft = 0
	c.mode = modeCommand
	c.wstate = writeToken
}

func (c *Card) exchange(in byte) byte {
	if !c.powered {
		return filler
	}
	if !c.selected {
		c.clocks += 8
		return filler
	}
	out := c.next()
	c.receive(in)
	return out
}

// next pops the byte to drive on MISO.
func (c *Card) next() byte {
	if len(c.out) == 0 && c.mode == modeRead {
		c.streamSector()
	}
	if len(c.out) == 0 {
		return filler
	}
	b := c.out[0]
	c.out = c.out[1:]
	if c.streamLeft > 0 {
		c.streamLeft--
		if c.streamLeft == 0 {
			c.stats.SectorsRead++
		}
	}
	return b
}

func (c *Card) receive(in byte) {
	if c.mode == modeWrite && c.wstate != writeToken {
		c.receiveData(in)
		return
	}
	if c.nframe > 0 {
		c.frame[c.nframe] = in
		c.nframe++
		if c.nframe == len(c.frame) {
			c.nframe = 0
			c.execute()
		}
		return
	}
	switch {
	case in&0xC0 == 0x40:
		c.frame[0] = in
		c.nframe = 1
	case c.mode == modeWrite && in == tokenWriteMult:
		c.wstate = writeData
		c.wn = 0
	case c.mode == modeWrite && in == tokenStopTran:
		c.mode = modeCommand
		c.out = append(c.out, filler)
		c.busy(c.faults.StopBusy)
	}
}

func (c *Card) receiveData(in byte) {
	switch c.wstate {
	case writeData:
		c.wbuf[c.wn] = in
		c.wn++
		if c.wn == SectorSize {
			c.wn = 0
			c.wstate = writeCRC
		}
	case writeCRC:
		c.wn++
		if c.wn == 2 {
			c.wstate = writeToken
			c.commitSector()
		}
	}
}

// commitSector stores a received data packet and queues the data response.
func (c *Card) commitSector() {
	c.written++
	if c.faults.RejectSector > 0 && c.written == c.faults.RejectSector {
		c.stats.Rejected++
		c.out = append(c.out, c.faults.RejectResponse)
		pkg.LogDebug(pkg.ComponentSim, "sector rejected",
			"sector", c.sector,
			"response", pkg.Hex8(c.faults.RejectResponse))
		return
	}
	off := c.sector * SectorSize
	if _, err := c.image.WriteAt(c.wbuf[:], off); err != nil {
		c.stats.Rejected++
		c.out = append(c.out, dataWriteError)
		pkg.LogDebug(pkg.ComponentSim, "image write failed", "sector", c.sector, "error", err)
		return
	}
	c.sector++
	c.stats.SectorsWritten++
	c.out = append(c.out, dataAccepted)
	c.busy(c.faults.WriteBusy)
}

// streamSector queues the next data packet of a multiple-block read.
func (c *Card) streamSector() {
	if c.faults.NoStartToken || (c.sector+1)*SectorSize > c.image.Size() {
		c.out = append(c.out, filler)
		return
	}
	for i := 0; i < c.faults.ReadLatency; i++ {
		c.out = append(c.out, filler)
	}
	c.out = append(c.out, tokenStart)
	start := len(c.out)
	c.out = append(c.out, make([]byte, SectorSize)...)
	if _, err := c.image.ReadAt(c.out[start:], c.sector*SectorSize); err != nil {
		pkg.LogDebug(pkg.ComponentSim, "image read failed", "sector", c.sector, "error", err)
	}
	c.out = append(c.out, 0, 0)
	c.sector++
	c.streamLeft = len(c.out)
}

func (c *Card) busy(n int) {
	for i := 0; i < n; i++ {
		c.out = append(c.out, 0x00)
	}
}

// respond queues an R1 reply after the command response delay.
func (c *Card) respond(r1 byte, extra ...byte) {
	for i := 0; i < c.faults.ResponseDelay; i++ {
		c.out = append(c.out, filler)
	}
	c.out = append(c.out, r1)
	c.out = append(c.out, extra...)
}

// status returns the R1 idle bit for the current state.
func (c *Card) status() byte {
	if c.ready {
		return 0
	}
	return r1Idle
}

func (c *Card) execute() {
	cmd := Command{
		Op:  c.frame[0] & 0x3F,
		Arg: binary.BigEndian.Uint32(c.frame[1:5]),
		CRC: c.frame[5],
		App: c.app,
	}
	c.app = false
	c.log = append(c.log, cmd)
	c.stats.Commands++

	if cmd.Op == 0 {
		c.goIdle(cmd)
		return
	}
	if !c.started {
		// Still in SD bus mode: SPI commands go unanswered.
		return
	}
	if r, ok := c.faults.Replies[cmd.Op]; ok {
		c.respond(r)
		return
	}

	switch cmd.Op {
	case 8:
		c.sendIfCond(cmd)
	case 9:
		c.sendCSD()
	case 12:
		c.mode = modeCommand
		c.out = c.out[:0]
		c.streamLeft = 0
		c.out = append(c.out, filler) // stuff byte
		c.respond(0)
	case 18:
		c.startTransfer(cmd, modeRead)
	case 23:
		if !cmd.App {
			c.respond(c.status() | r1Illegal)
			return
		}
		c.respond(c.status())
	case 25:
		c.startTransfer(cmd, modeWrite)
	case 41:
		c.sendOpCond(cmd)
	case 55:
		c.app = true
		c.respond(c.status())
	case 58:
		c.readOCR()
	default:
		c.respond(c.status() | r1Illegal)
	}
}

func (c *Card) goIdle(cmd Command) {
	c.resets++
	if c.clocks < minPowerClocks || c.kHz > maxIdentKHz || c.resets <= c.faults.IdleAfter {
		return
	}
	c.idle()
	c.started = true
	if cmd.CRC != CRC7(c.frame[:5]) {
		c.respond(r1Idle | r1CRC)
		return
	}
	c.respond(r1Idle)
}

func (c *Card) sendIfCond(cmd Command) {
	if c.kind == KindSD1 {
		c.respond(c.status() | r1Illegal)
		return
	}
	if cmd.CRC != CRC7(c.frame[:5]) {
		c.respond(c.status() | r1CRC)
		return
	}
	echo := byte(cmd.Arg)
	if c.faults.Echo != 0 {
		echo = c.faults.Echo
	}
	c.respond(c.status(), 0x00, 0x00, byte(cmd.Arg>>8)&0x0F, echo)
}

func (c *Card) sendOpCond(cmd Command) {
	if !cmd.App {
		c.respond(c.status() | r1Illegal)
		return
	}
	if c.ready {
		c.respond(0)
		return
	}
	switch {
	case c.faults.NeverReady:
	case c.kind == KindSDHC && cmd.Arg&hcs == 0:
		// High capacity cards stay idle for hosts without HCS.
	case c.polls < c.faults.InitPolls:
		c.polls++
	default:
		c.ready = true
	}
	c.respond(c.status())
}

func (c *Card) readOCR() {
	var ocr0 byte
	if c.ready {
		ocr0 = 0x80
		if c.kind == KindSDHC {
			ocr0 |= 0x40
		}
	}
	c.respond(c.status(), ocr0, 0xFF, 0x80, 0x00)
}

func (c *Card) sendCSD() {
	if !c.ready {
		c.respond(c.status() | r1Illegal)
		return
	}
	c.respond(0)
	for i := 0; i < c.faults.CSDLatency; i++ {
		c.out = append(c.out, filler)
	}
	csd := c.faults.CSD
	if csd == nil {
		r := SynthesizeCSD(c.kind, c.image.Size())
		csd = r[:]
	}
	c.out = append(c.out, tokenStart)
	c.out = append(c.out, csd...)
	c.out = append(c.out, 0, 0)
}

// startTransfer validates the start address of CMD18/CMD25.
func (c *Card) startTransfer(cmd Command, m mode) {
	if !c.ready {
		c.respond(c.status() | r1Illegal)
		return
	}
	sector := int64(cmd.Arg)
	if c.kind != KindSDHC {
		if cmd.Arg%SectorSize != 0 {
			c.respond(r1Address)
			return
		}
		sector = int64(cmd.Arg) / SectorSize
	}
	if sector*SectorSize >= c.image.Size() {
		c.respond(r1Address)
		return
	}
	c.respond(0)
	c.mode = m
	c.sector = sector
	c.wstate = writeToken
}
