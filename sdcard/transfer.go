package sdcard

import (
	"fmt"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// span is the part of a request carried by one sector phase: n payload
// bytes starting at off in the caller's buffer. Sectors shorter than
// SectorSize are padded with filler bytes on the wire.
type span struct {
	off, n int
}

// sectorSpans splits a request of length bytes into per-sector phases.
func sectorSpans(length int) []span {
	spans := make([]span, 0, (length+SectorSize-1)/SectorSize)
	for off := 0; off < length; off += SectorSize {
		spans = append(spans, span{off: off, n: min(SectorSize, length-off)})
	}
	return spans
}

// SectorCount returns the number of sector phases needed for length bytes.
func SectorCount(length int) uint32 {
	return uint32((length + SectorSize - 1) / SectorSize)
}

// commandAddress converts a block offset to the argument of the
// multiple-block commands. Byte-addressed cards take the offset scaled
// by 512 and block-addressed cards take sector numbers; both then double
// it because a block is two sectors.
func (c *Card) commandAddress(offset uint32) uint32 {
	if !c.class.BlockAddressed() {
		offset <<= 9
	}
	return offset << 1
}

// ReadBlocks reads len(buf) bytes starting at block offset with one
// multiple-block read. A trailing partial sector is read in full from the
// card and the excess discarded.
//
// Any failure aborts the whole request; no partial count is reported. The
// card is deselected on every return path.
func (c *Card) ReadBlocks(offset uint32, buf []byte) error {
	if c.class == ClassUnknown {
		return pkg.ErrNotInitialized
	}
	if len(buf) == 0 {
		return nil
	}

	if err := c.bus.Select(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	arg := c.commandAddress(offset)
	reply, err := c.Command(CmdReadMultiple, arg)
	if err != nil {
		return c.release(err)
	}
	if reply != 0 {
		pkg.LogWarn(pkg.ComponentTransfer, "card_read: bad READ_MULTIPLE reply",
			"unit", c.config.Unit,
			"reply", pkg.Hex8(byte(reply)),
			"offset", fmt.Sprintf("%08x", arg))
		return c.release(fmt.Errorf("%w: READ_MULTIPLE reply=%s offset=%08x",
			pkg.ErrCommandRejected, pkg.Hex8(byte(reply)), arg))
	}

	for _, s := range sectorSpans(len(buf)) {
		if err := c.readSector(buf[s.off : s.off+s.n]); err != nil {
			return c.release(err)
		}
	}

	// The stop reply carries no information the caller can act on.
	if _, err := c.Command(CmdStop, 0); err != nil {
		return c.release(err)
	}
	return transport.Deselect(c.bus)
}

// readSector waits for the start token, then receives one sector into dst
// and discards the rest of the sector and its CRC.
func (c *Card) readSector(dst []byte) error {
	if _, err := c.poll(pkg.PhaseRead, true, isStartBlock); err != nil {
		pkg.LogWarn(pkg.ComponentTransfer, "card_read: READ_MULTIPLE timed out",
			"unit", c.config.Unit,
			"error", err)
		return err
	}
	if err := c.bus.ReadBulk(dst); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := transport.Fill(c.bus, SectorSize-len(dst)+2); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// WriteBlocks writes len(buf) bytes starting at block offset with one
// multiple-block write, preceded by a pre-erase hint for the number of
// sectors. A trailing partial sector is padded with filler bytes.
//
// A sector the card does not accept aborts the request without retry. The
// card is deselected on every return path.
func (c *Card) WriteBlocks(offset uint32, buf []byte) error {
	if c.class == ClassUnknown {
		return pkg.ErrNotInitialized
	}
	if len(buf) == 0 {
		return nil
	}

	if err := c.bus.Select(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	count := SectorCount(len(buf))
	reply, err := c.AppCommand(CmdSetWBECount, count)
	if err != nil {
		return c.release(err)
	}
	if reply != 0 {
		pkg.LogWarn(pkg.ComponentTransfer, "card_write: bad SET_WBECNT reply",
			"unit", c.config.Unit,
			"reply", pkg.Hex8(byte(reply)),
			"count", count)
		return c.release(fmt.Errorf("%w: SET_WBECNT reply=%s count=%d",
			pkg.ErrCommandRejected, pkg.Hex8(byte(reply)), count))
	}

	arg := c.commandAddress(offset)
	if reply, err = c.Command(CmdWriteMultiple, arg); err != nil {
		return c.release(err)
	}
	if reply != 0 {
		pkg.LogWarn(pkg.ComponentTransfer, "card_write: bad WRITE_MULTIPLE reply",
			"unit", c.config.Unit,
			"reply", pkg.Hex8(byte(reply)))
		return c.release(fmt.Errorf("%w: WRITE_MULTIPLE reply=%s offset=%08x",
			pkg.ErrCommandRejected, pkg.Hex8(byte(reply)), arg))
	}
	if err := transport.Deselect(c.bus); err != nil {
		return err
	}

	for _, s := range sectorSpans(len(buf)) {
		if err := c.writeSector(buf[s.off : s.off+s.n]); err != nil {
			return err
		}
	}

	return c.stopWrite()
}

// writeSector sends one data packet of a multiple-block write and waits
// for the card to program it. It selects and deselects around the packet.
func (c *Card) writeSector(src []byte) error {
	if err := c.bus.Select(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := c.waitReady(pkg.PhaseWaitWData, false); err != nil {
		return c.release(err)
	}

	if _, err := c.bus.Exchange(TokenWriteMultiple); err != nil {
		return c.release(fmt.Errorf("write: %w", err))
	}
	if err := c.bus.WriteBulk(src); err != nil {
		return c.release(fmt.Errorf("write: %w", err))
	}
	if err := c.bus.WriteBulk(c.pad[:SectorSize-len(src)]); err != nil {
		return c.release(fmt.Errorf("write: %w", err))
	}
	if err := transport.Fill(c.bus, 2); err != nil { // dummy CRC
		return c.release(fmt.Errorf("write: %w", err))
	}

	resp, err := c.bus.Exchange(transport.Filler)
	if err != nil {
		return c.release(fmt.Errorf("write: %w", err))
	}
	if resp&dataResponseMask != dataResponseAccepted {
		pkg.LogWarn(pkg.ComponentTransfer, "card_write: data rejected",
			"unit", c.config.Unit,
			"reply", pkg.Hex8(resp))
		return c.release(fmt.Errorf("%w: data response=%s", pkg.ErrDataRejected, pkg.Hex8(resp)))
	}

	if err := c.waitReady(pkg.PhaseWaitWDone, true); err != nil {
		return c.release(err)
	}
	return transport.Deselect(c.bus)
}

// stopWrite ends a multiple-block write with the stop token and waits for
// the card to finish programming.
func (c *Card) stopWrite() error {
	if err := c.bus.Select(); err != nil {
		return fmt.Errorf("write stop: %w", err)
	}
	if err := c.waitReady(pkg.PhaseWaitWStop, false); err != nil {
		return c.release(err)
	}
	if _, err := c.bus.Exchange(TokenStopTran); err != nil {
		return c.release(fmt.Errorf("write stop: %w", err))
	}
	if err := c.waitReady(pkg.PhaseWaitWIdle, false); err != nil {
		return c.release(err)
	}
	return transport.Deselect(c.bus)
}
