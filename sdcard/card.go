package sdcard

import (
	"strings"

	"github.com/ardnew/softsd/transport"
)

// Class is the card family resolved during initialization.
type Class uint8

// Card classes.
const (
	ClassUnknown Class = iota // Not initialized
	ClassSD1                  // MMC or SD v1, byte addressed
	ClassSD2                  // SD v2, byte addressed
	ClassSDHC                 // SD v2, block addressed
)

// String returns the short type label printed in probe reports.
func (c Class) String() string {
	switch c {
	case ClassSD1:
		return "I"
	case ClassSD2:
		return "II"
	case ClassSDHC:
		return "SDHC"
	default:
		return "unknown"
	}
}

// BlockAddressed reports whether the card takes sector numbers instead of
// byte offsets.
func (c Class) BlockAddressed() bool {
	return c == ClassSDHC
}

// R1 is the one-byte status reply to every command.
type R1 byte

// Valid reports whether the reply has bit 7 clear.
func (r R1) Valid() bool { return r&r1Invalid == 0 }

// Idle reports the in-idle-state flag.
func (r R1) Idle() bool { return r&R1Idle != 0 }

// IllegalCommand reports the illegal-command flag.
func (r R1) IllegalCommand() bool { return r&R1IllegalCommand != 0 }

// Errors reports whether any flag other than idle is set.
func (r R1) Errors() bool { return r&^R1Idle != 0 }

var r1Names = [...]string{
	"idle",
	"erase-reset",
	"illegal-command",
	"crc-error",
	"erase-seq-error",
	"address-error",
	"parameter-error",
	"invalid",
}

// String lists the flags set in r.
func (r R1) String() string {
	if r == 0 {
		return "ok"
	}
	var b strings.Builder
	for i, name := range r1Names {
		if r&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	return b.String()
}

// Card is the protocol session with one card.
//
// A Card is created once per socket and reinitialized in place by Init.
// It is not safe for concurrent use; callers serialize access and must
// not interleave two transactions on the same transport.
type Card struct {
	bus    transport.Transport
	config Config
	class  Class
	blocks uint32

	frame Frame
	pad   [SectorSize]byte
}

// New returns an uninitialized card session on bus.
func New(bus transport.Transport, config Config) *Card {
	c := &Card{
		bus:    bus,
		config: config.normalize(),
	}
	for i := range c.pad {
		c.pad[i] = transport.Filler
	}
	return c
}

// Class returns the class resolved by the last successful Init.
func (c *Card) Class() Class {
	return c.class
}

// Blocks returns the block count reported by the last successful
// Capacity call.
func (c *Card) Blocks() uint32 {
	return c.blocks
}

// Config returns the session configuration.
func (c *Card) Config() Config {
	return c.config
}

// Transport returns the underlying transport.
func (c *Card) Transport() transport.Transport {
	return c.bus
}

// Diagnostics returns the counters this card reports to.
func (c *Card) Diagnostics() *Diagnostics {
	return c.config.Diagnostics
}

// release deselects the card after a failure. The original error wins over
// a deselect error.
func (c *Card) release(err error) error {
	if derr := transport.Deselect(c.bus); derr != nil && err == nil {
		return derr
	}
	return err
}
