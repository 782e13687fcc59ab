package sdcard

import (
	"fmt"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// Init drives the card from power-up to the data transfer state and
// resolves its class. The sequence is fixed by the card's power-up
// requirements:
//
//  1. slow clock
//  2. at least 80 clocks with chip select high, then CMD0 until idle
//  3. CMD8 to tell SD v2 from MMC/SD v1
//  4. ACMD41 until the card leaves idle
//  5. CMD58 on SD v2 to detect block addressing
//  6. fast clock
//
// On failure the class stays ClassUnknown and the card is deselected.
// Init may be repeated; it overwrites the previous session state.
func (c *Card) Init() error {
	c.class = ClassUnknown
	c.blocks = 0

	if err := c.bus.SetBitRate(c.config.SlowKHz); err != nil {
		return fmt.Errorf("slow clock: %w", err)
	}

	if err := c.reset(); err != nil {
		return err
	}

	class, err := c.probeVersion()
	if err != nil {
		return err
	}

	if err := c.negotiate(class); err != nil {
		return err
	}

	if class == ClassSD2 {
		if class, err = c.readOCR(); err != nil {
			return err
		}
	}

	if err := c.bus.SetBitRate(c.config.FastKHz); err != nil {
		return fmt.Errorf("fast clock: %w", err)
	}
	c.class = class

	pkg.LogDebug(pkg.ComponentInit, "card initialized",
		"unit", c.config.Unit,
		"class", class.String(),
		"kHz", c.bus.BitRate())
	return nil
}

// reset pulses CMD0 until the card reports exactly the idle state.
func (c *Card) reset() error {
	reply := R1(transport.Filler)
	for attempt := 0; attempt < c.config.ResetAttempts; attempt++ {
		if err := transport.Deselect(c.bus); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if err := transport.Fill(c.bus, resetClocks); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		if err := c.bus.Select(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		var err error
		if reply, err = c.Command(CmdGoIdle, 0); err != nil {
			return c.release(fmt.Errorf("reset: %w", err))
		}
		if reply == R1Idle {
			break
		}
	}
	if err := transport.Deselect(c.bus); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if reply != R1Idle {
		return fmt.Errorf("%w: GO_IDLE reply=%s after %d attempts",
			pkg.ErrNoCard, pkg.Hex8(byte(reply)), c.config.ResetAttempts)
	}
	return nil
}

// probeVersion sends CMD8. Legacy cards reject it as illegal; SD v2 cards
// echo the voltage range and check pattern.
func (c *Card) probeVersion() (Class, error) {
	if err := c.bus.Select(); err != nil {
		return ClassUnknown, fmt.Errorf("send_if_cond: %w", err)
	}
	reply, err := c.Command(CmdSendIfCond, ifCondPattern)
	if err != nil {
		return ClassUnknown, c.release(err)
	}
	if reply.IllegalCommand() {
		if err := transport.Deselect(c.bus); err != nil {
			return ClassUnknown, err
		}
		return ClassSD1, nil
	}

	var echo [4]byte
	if err := c.bus.ReadBulk(echo[:]); err != nil {
		return ClassUnknown, c.release(fmt.Errorf("send_if_cond: %w", err))
	}
	if err := transport.Deselect(c.bus); err != nil {
		return ClassUnknown, err
	}
	if echo[3] != ifCondEcho {
		pkg.LogWarn(pkg.ComponentInit, "cannot detect card type",
			"unit", c.config.Unit,
			"response", fmt.Sprintf("%02x-%02x-%02x-%02x", echo[0], echo[1], echo[2], echo[3]))
		return ClassUnknown, fmt.Errorf("%w: SEND_IF_COND echo % x", pkg.ErrUnsupportedCard, echo)
	}
	return ClassSD2, nil
}

// negotiate repeats ACMD41 until the card leaves the idle state.
func (c *Card) negotiate(class Class) error {
	var arg uint32
	if class == ClassSD2 {
		arg = acmd41HCS
	}
	bound := c.config.Bounds[pkg.PhaseSendOp]
	for i := 0; ; i++ {
		if err := c.bus.Select(); err != nil {
			return fmt.Errorf("send_op: %w", err)
		}
		reply, err := c.AppCommand(CmdSendOpCond, arg)
		if err != nil {
			return c.release(fmt.Errorf("send_op: %w", err))
		}
		if reply == 0 {
			c.config.Diagnostics.Observe(pkg.PhaseSendOp, i)
			return transport.Deselect(c.bus)
		}
		if i >= bound {
			pkg.LogWarn(pkg.ComponentInit, "SEND_OP timed out",
				"unit", c.config.Unit,
				"reply", pkg.Hex8(byte(reply)))
			return c.release(fmt.Errorf("%w: reply=%s after %d polls",
				pkg.ErrNegotiationTimeout, pkg.Hex8(byte(reply)), i))
		}
	}
}

// readOCR reads the operating conditions register of an SD v2 card and
// reports whether it is block addressed.
func (c *Card) readOCR() (Class, error) {
	if err := c.bus.Select(); err != nil {
		return ClassUnknown, fmt.Errorf("read_ocr: %w", err)
	}
	reply, err := c.Command(CmdReadOCR, 0)
	if err != nil {
		return ClassUnknown, c.release(err)
	}
	if reply != 0 {
		pkg.LogWarn(pkg.ComponentInit, "READ_OCR failed",
			"unit", c.config.Unit,
			"reply", pkg.Hex8(byte(reply)))
		return ClassUnknown, c.release(fmt.Errorf("%w: READ_OCR reply=%s",
			pkg.ErrCommandRejected, pkg.Hex8(byte(reply))))
	}
	var ocr [4]byte
	if err := c.bus.ReadBulk(ocr[:]); err != nil {
		return ClassUnknown, c.release(fmt.Errorf("read_ocr: %w", err))
	}
	if err := transport.Deselect(c.bus); err != nil {
		return ClassUnknown, err
	}
	if ocr[0]&ocrBusyCCS == ocrBusyCCS {
		return ClassSDHC, nil
	}
	return ClassSD2, nil
}
