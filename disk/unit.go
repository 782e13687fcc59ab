package disk

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/sdcard"
	"github.com/ardnew/softsd/transport"
)

// Stats counts the requests served by a unit.
type Stats struct {
	Inits        uint64
	Reads        uint64
	Writes       uint64
	BytesRead    uint64
	BytesWritten uint64
	Errors       uint64
}

// Unit is one card socket.
type Unit struct {
	id       int
	card     *sdcard.Card
	config   sdcard.Config
	power    transport.Power
	settle   time.Duration
	readOnly bool

	ready  bool
	blocks uint32
	stats  Stats
	mutex  sync.Mutex
}

func newUnit(id int, bus transport.Transport, opts ...Option) *Unit {
	u := &Unit{
		id:     id,
		config: sdcard.DefaultConfig(),
		settle: DefaultSettle,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.config.Unit = id
	u.card = sdcard.New(bus, u.config)
	u.config = u.card.Config()
	return u
}

// ID returns the unit number.
func (u *Unit) ID() int {
	return u.id
}

// Card returns the protocol session of the unit.
func (u *Unit) Card() *sdcard.Card {
	return u.card
}

// Ready reports whether the last Initialize succeeded and the unit has not
// been shut down since.
func (u *Unit) Ready() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.ready
}

// Class returns the card class, or ClassUnknown if the unit is not ready.
func (u *Unit) Class() sdcard.Class {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if !u.ready {
		return sdcard.ClassUnknown
	}
	return u.card.Class()
}

// Stats returns a copy of the request counters.
func (u *Unit) Stats() Stats {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.stats
}

// Initialize powers the card, runs the initialization handshake and reads
// its capacity. It returns the size in blocks. On failure the unit is left
// not ready and the error wraps pkg.ErrNoDevice and the cause.
func (u *Unit) Initialize() (uint32, error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.ready = false
	u.blocks = 0
	u.stats.Inits++

	if u.power != nil {
		if err := u.power.PowerOn(); err != nil {
			u.stats.Errors++
			return 0, fmt.Errorf("%w: unit %d: power on: %w", pkg.ErrNoDevice, u.id, err)
		}
		if u.settle > 0 {
			time.Sleep(u.settle)
		}
	}

	if err := u.card.Init(); err != nil {
		u.stats.Errors++
		pkg.LogWarn(pkg.ComponentDisk, "no SD/MMC card detected",
			"unit", u.id,
			"error", err)
		return 0, fmt.Errorf("%w: unit %d: %w", pkg.ErrNoDevice, u.id, err)
	}

	blocks, err := u.card.Capacity()
	if err == nil && blocks == 0 {
		err = pkg.ErrCapacityQuery
	}
	if err != nil {
		u.stats.Errors++
		pkg.LogWarn(pkg.ComponentDisk, "cannot get card size",
			"unit", u.id,
			"error", err)
		return 0, fmt.Errorf("%w: unit %d: %w", pkg.ErrNoDevice, u.id, err)
	}

	u.blocks = blocks
	u.ready = true
	pkg.LogInfo(pkg.ComponentDisk, "card probed",
		"unit", u.id,
		"type", u.card.Class().String(),
		"kbytes", blocks,
		"mbps", u.card.Transport().BitRate()/1000)
	return blocks, nil
}

// Shutdown marks the unit not ready and removes card power.
func (u *Unit) Shutdown() error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.ready = false
	u.blocks = 0
	if u.power == nil {
		return nil
	}
	if err := u.power.PowerOff(); err != nil {
		return fmt.Errorf("unit %d: power off: %w", u.id, err)
	}
	pkg.LogDebug(pkg.ComponentDisk, "unit powered off", "unit", u.id)
	return nil
}

// ReadBlocks reads len(buf) bytes starting at block offset.
func (u *Unit) ReadBlocks(offset uint32, buf []byte) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.read(offset, buf)
}

// WriteBlocks writes len(buf) bytes starting at block offset. A trailing
// partial block is padded on the card.
func (u *Unit) WriteBlocks(offset uint32, buf []byte) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.write(offset, buf)
}

// check validates a request of length bytes at block offset. The caller
// holds the mutex.
func (u *Unit) check(offset uint32, length int) error {
	if !u.ready {
		return fmt.Errorf("%w: unit %d", pkg.ErrNoDevice, u.id)
	}
	n := (uint64(length) + sdcard.BlockSize - 1) / sdcard.BlockSize
	if uint64(offset)+n > uint64(u.blocks) {
		return fmt.Errorf("%w: unit %d: blocks %d+%d of %d",
			pkg.ErrOutOfRange, u.id, offset, n, u.blocks)
	}
	return nil
}

func (u *Unit) read(offset uint32, buf []byte) error {
	if err := u.check(offset, len(buf)); err != nil {
		return err
	}
	if err := u.card.ReadBlocks(offset, buf); err != nil {
		u.stats.Errors++
		return fmt.Errorf("unit %d: %w", u.id, err)
	}
	u.stats.Reads++
	u.stats.BytesRead += uint64(len(buf))
	return nil
}

func (u *Unit) write(offset uint32, buf []byte) error {
	if u.readOnly {
		return fmt.Errorf("%w: unit %d", pkg.ErrReadOnly, u.id)
	}
	if err := u.check(offset, len(buf)); err != nil {
		return err
	}
	if err := u.card.WriteBlocks(offset, buf); err != nil {
		u.stats.Errors++
		return fmt.Errorf("unit %d: %w", u.id, err)
	}
	u.stats.Writes++
	u.stats.BytesWritten += uint64(len(buf))
	return nil
}

// BlockSize returns sdcard.BlockSize.
func (u *Unit) BlockSize() uint32 {
	return sdcard.BlockSize
}

// BlockCount returns the capacity found by the last Initialize.
func (u *Unit) BlockCount() uint64 {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return uint64(u.blocks)
}

// Read reads whole blocks starting at lba into buf.
func (u *Unit) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	length := uint64(blocks) * sdcard.BlockSize
	if uint64(len(buf)) < length {
		return 0, pkg.ErrBufferTooSmall
	}
	if lba > uint64(^uint32(0)) {
		return 0, pkg.ErrOutOfRange
	}
	if err := u.ReadBlocks(uint32(lba), buf[:length]); err != nil {
		return 0, err
	}
	return blocks, nil
}

// Write writes whole blocks from buf starting at lba.
func (u *Unit) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	length := uint64(blocks) * sdcard.BlockSize
	if uint64(len(buf)) < length {
		return 0, pkg.ErrBufferTooSmall
	}
	if lba > uint64(^uint32(0)) {
		return 0, pkg.ErrOutOfRange
	}
	if err := u.WriteBlocks(uint32(lba), buf[:length]); err != nil {
		return 0, err
	}
	return blocks, nil
}

// Sync is a no-op: every write completes on the card before it returns.
func (u *Unit) Sync() error {
	return nil
}

// IsReadOnly reports whether the unit was attached read-only.
func (u *Unit) IsReadOnly() bool {
	return u.readOnly
}

// IsRemovable returns true.
func (u *Unit) IsRemovable() bool {
	return true
}

// IsPresent reports whether the unit is ready.
func (u *Unit) IsPresent() bool {
	return u.Ready()
}

// Eject shuts the unit down.
func (u *Unit) Eject() error {
	return u.Shutdown()
}

// size returns the capacity in bytes. The caller holds the mutex.
func (u *Unit) size() int64 {
	return int64(u.blocks) * sdcard.BlockSize
}

// ReadAt implements io.ReaderAt over the whole card.
func (u *Unit) ReadAt(p []byte, off int64) (int, error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.ready {
		return 0, fmt.Errorf("%w: unit %d", pkg.ErrNoDevice, u.id)
	}
	if off < 0 {
		return 0, pkg.ErrInvalidParameter
	}
	if off >= u.size() {
		return 0, io.EOF
	}
	want := p
	if rest := u.size() - off; int64(len(want)) > rest {
		want = want[:rest]
	}

	first, span := blockSpan(off, len(want))
	buf := make([]byte, span)
	if err := u.read(first, buf); err != nil {
		return 0, err
	}
	n := copy(want, buf[off-int64(first)*sdcard.BlockSize:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt over the whole card. Partial blocks at
// either end are read first and merged.
func (u *Unit) WriteAt(p []byte, off int64) (int, error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.ready {
		return 0, fmt.Errorf("%w: unit %d", pkg.ErrNoDevice, u.id)
	}
	if off < 0 {
		return 0, pkg.ErrInvalidParameter
	}
	if off+int64(len(p)) > u.size() {
		return 0, fmt.Errorf("%w: unit %d: write of %d bytes at %d", pkg.ErrOutOfRange, u.id, len(p), off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	first, span := blockSpan(off, len(p))
	buf := make([]byte, span)
	head := int(off - int64(first)*sdcard.BlockSize)
	if head != 0 || (head+len(p))%sdcard.BlockSize != 0 {
		if err := u.read(first, buf); err != nil {
			return 0, err
		}
	}
	copy(buf[head:], p)
	if err := u.write(first, buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// blockSpan returns the first block and the byte length of the whole
// blocks covering length bytes at off.
func blockSpan(off int64, length int) (uint32, int) {
	first := off / sdcard.BlockSize
	last := (off + int64(length) + sdcard.BlockSize - 1) / sdcard.BlockSize
	return uint32(first), int(last-first) * sdcard.BlockSize
}
