package sdcard

import (
	"errors"
	"fmt"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// Frame is an encoded 6-byte command packet.
type Frame [frameSize]byte

// EncodeCommand builds the frame for op with the given argument. Only
// CMD0 and CMD8 carry a real CRC; every other command gets a filler byte,
// which the card ignores in SPI mode.
func EncodeCommand(op byte, arg uint32) Frame {
	f := Frame{
		frameMarker | op,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		transport.Filler,
	}
	switch op {
	case CmdGoIdle:
		f[5] = crcGoIdle
	case CmdSendIfCond:
		f[5] = crcSendIfCon
	}
	return f
}

// Command sends op with arg and returns the card's status reply. The card
// must already be selected.
//
// Before every command other than CMD0 the card is given a bounded time to
// finish any internal work; a timeout there is logged and ignored. If no
// valid reply arrives within the bound, the last byte read is returned.
// The returned error only reports transport failures.
func (c *Card) Command(op byte, arg uint32) (R1, error) {
	if op != CmdGoIdle {
		if err := c.waitReady(pkg.PhaseWaitCmd, false); err != nil && !errors.Is(err, pkg.ErrTimingWindow) {
			return transport.Filler, err
		}
	}

	c.frame = EncodeCommand(op, arg)
	if err := c.bus.WriteBulk(c.frame[:]); err != nil {
		return transport.Filler, fmt.Errorf("cmd%d: %w", op, err)
	}

	bound := c.config.Bounds[pkg.PhaseCmd]
	reply := byte(transport.Filler)
	for i := 0; i < bound; i++ {
		var err error
		if reply, err = c.bus.Exchange(transport.Filler); err != nil {
			return transport.Filler, fmt.Errorf("cmd%d: %w", op, err)
		}
		if R1(reply).Valid() {
			c.config.Diagnostics.Observe(pkg.PhaseCmd, i)
			return R1(reply), nil
		}
	}

	// CMD0 commonly needs several pulses before the card answers.
	if op != CmdGoIdle {
		pkg.LogWarn(pkg.ComponentCommand, "card_cmd timeout",
			"unit", c.config.Unit,
			"cmd", op,
			"arg", fmt.Sprintf("%08x", arg),
			"reply", pkg.Hex8(reply))
	}
	return R1(reply), nil
}

// AppCommand sends the CMD55 prefix followed by the application command
// op. The prefix reply is not checked.
func (c *Card) AppCommand(op byte, arg uint32) (R1, error) {
	if _, err := c.Command(CmdApp, 0); err != nil {
		return transport.Filler, err
	}
	return c.Command(op, arg)
}

// poll clocks filler bytes until match accepts the received byte or the
// phase bound is reached. When critical is set, each exchange runs inside
// the configured critical section. The matched byte is returned; a timeout
// returns the phase error wrapping the last byte seen.
func (c *Card) poll(p pkg.Phase, critical bool, match func(byte) bool) (byte, error) {
	bound := c.config.Bounds[p]
	reply := byte(transport.Filler)
	for i := 0; i < bound; i++ {
		var err error
		if critical {
			err = transport.WithCritical(c.config.Critical, func() error {
				var xerr error
				reply, xerr = c.bus.Exchange(transport.Filler)
				return xerr
			})
		} else {
			reply, err = c.bus.Exchange(transport.Filler)
		}
		if err != nil {
			return reply, fmt.Errorf("%s: %w", p, err)
		}
		if match(reply) {
			c.config.Diagnostics.Observe(p, i)
			return reply, nil
		}
	}
	return reply, fmt.Errorf("%w: %s after %d polls, reply=%s", p.Error(), p, bound, pkg.Hex8(reply))
}

// waitReady discards one byte, then waits for the card to release the
// data-out line (reads back 0xFF).
func (c *Card) waitReady(p pkg.Phase, critical bool) error {
	if _, err := c.bus.Exchange(transport.Filler); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	_, err := c.poll(p, critical, func(b byte) bool { return b == transport.Filler })
	if errors.Is(err, pkg.ErrTimingWindow) {
		pkg.LogWarn(pkg.ComponentCommand, "wait_ready failed",
			"unit", c.config.Unit,
			"phase", p.String(),
			"limit", c.config.Bounds[p])
	}
	return err
}
