package sdcard

import (
	"fmt"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// CSD is the raw 16-byte Card-Specific Data register.
type CSD [16]byte

// CSD structure versions, from the top two bits of byte 0.
const (
	CSDVersion1 = 0 // SD v1.xx and MMC
	CSDVersion2 = 1 // SD v2.00 high capacity layout
)

// Version returns the CSD structure field.
func (r CSD) Version() int {
	return int(r[0] >> 6)
}

// Blocks decodes the capacity in BlockSize units.
//
// Both layouts are first decoded to 512-byte sectors: (C_SIZE+1) << 10
// for version 2, (C_SIZE+1) << (READ_BL_LEN+C_SIZE_MULT+2-9) for version
// 1. The sector count is then halved to whole blocks.
func (r CSD) Blocks() (uint32, error) {
	var n uint32
	switch r.Version() {
	case CSDVersion2:
		csize := uint32(r[9]) + uint32(r[8])<<8 + 1
		n = csize << 10
	case CSDVersion1:
		shift := uint32(r[5]&15) + uint32(r[10]&128)>>7 + uint32(r[9]&3)<<1 + 2
		csize := uint32(r[8]>>6) + uint32(r[7])<<2 + uint32(r[6]&3)<<10 + 1
		if shift < 9 {
			return 0, fmt.Errorf("%w: CSD exponent %d", pkg.ErrCapacityQuery, shift)
		}
		n = csize << (shift - 9)
	default:
		return 0, fmt.Errorf("%w: unknown CSD version %d", pkg.ErrCapacityQuery, r.Version())
	}
	return n >> 1, nil
}

// ReadCSD fetches the CSD register.
func (c *Card) ReadCSD() (CSD, error) {
	var csd CSD
	if err := c.bus.Select(); err != nil {
		return csd, fmt.Errorf("send_csd: %w", err)
	}
	reply, err := c.Command(CmdSendCSD, 0)
	if err != nil {
		return csd, c.release(err)
	}
	if reply != 0 {
		return csd, c.release(fmt.Errorf("%w: SEND_CSD reply=%s", pkg.ErrCapacityQuery, pkg.Hex8(byte(reply))))
	}

	if _, err := c.poll(pkg.PhaseSendCSD, false, isStartBlock); err != nil {
		pkg.LogWarn(pkg.ComponentCSD, "card_size: SEND_CSD timed out",
			"unit", c.config.Unit,
			"error", err)
		return csd, c.release(err)
	}

	if err := c.bus.ReadBulk(csd[:]); err != nil {
		return csd, c.release(fmt.Errorf("send_csd: %w", err))
	}
	if err := transport.Fill(c.bus, 2); err != nil { // CRC
		return csd, c.release(fmt.Errorf("send_csd: %w", err))
	}
	return csd, transport.Deselect(c.bus)
}

// Capacity reads the CSD register and returns the card size in blocks.
// The result is cached for Blocks.
func (c *Card) Capacity() (uint32, error) {
	csd, err := c.ReadCSD()
	if err != nil {
		return 0, err
	}
	n, err := csd.Blocks()
	if err != nil {
		pkg.LogWarn(pkg.ComponentCSD, "cannot decode card size",
			"unit", c.config.Unit,
			"version", csd.Version())
		return 0, err
	}
	c.blocks = n
	return n, nil
}

func isStartBlock(b byte) bool {
	return b == TokenStartBlock
}
