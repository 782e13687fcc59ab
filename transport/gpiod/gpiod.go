// Package gpiod implements transport.Transport by bit-banging SPI mode 0
// on GPIO lines of a Linux GPIO character device.
//
// It needs no SPI controller, only four free lines (five with a power
// switch), at the cost of throughput: every edge is a system call.
package gpiod

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/gpiod"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// DefaultKHz is the clock target before the first SetBitRate.
const DefaultKHz = 100

// Line is the part of a requested GPIO line the bus uses.
type Line interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// Lines holds the line offsets on the chip. Power < 0 disables power
// control.
type Lines struct {
	Sclk, Mosi, Miso, CS int
	Power                int
	PowerActiveLow       bool
}

// Bus bit-bangs SPI mode 0 with a software chip select.
type Bus struct {
	chip                 *gpiod.Chip
	sclk, mosi, miso, cs Line
	power                Line
	on                   int
	kHz                  uint32
	tclk                 time.Duration // half clock period
}

// Open requests the lines on chip (e.g. "gpiochip0").
func Open(chip string, lines Lines) (*Bus, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("softsd"))
	if err != nil {
		return nil, fmt.Errorf("gpiod: open %s: %w", chip, err)
	}

	var requested []*gpiod.Line
	var failed error
	request := func(offset int, opts ...gpiod.LineReqOption) Line {
		if failed != nil {
			return nil
		}
		l, err := c.RequestLine(offset, opts...)
		if err != nil {
			failed = fmt.Errorf("gpiod: line %d: %w", offset, err)
			return nil
		}
		requested = append(requested, l)
		return l
	}

	on := 1
	if lines.PowerActiveLow {
		on = 0
	}
	cs := request(lines.CS, gpiod.AsOutput(1))
	sclk := request(lines.Sclk, gpiod.AsOutput(0))
	mosi := request(lines.Mosi, gpiod.AsOutput(1))
	miso := request(lines.Miso, gpiod.AsInput)
	var power Line
	if lines.Power >= 0 {
		power = request(lines.Power, gpiod.AsOutput(1-on))
	}
	if failed != nil {
		for _, l := range requested {
			l.Close()
		}
		c.Close()
		return nil, failed
	}

	b := New(sclk, mosi, miso, cs, power, lines.PowerActiveLow)
	b.chip = c
	pkg.LogDebug(pkg.ComponentTransport, "gpiod lines requested",
		"chip", chip,
		"sclk", lines.Sclk,
		"mosi", lines.Mosi,
		"miso", lines.Miso,
		"cs", lines.CS,
		"power", lines.Power)
	return b, nil
}

// New returns a bus on already requested lines. power may be nil.
func New(sclk, mosi, miso, cs, power Line, powerActiveLow bool) *Bus {
	b := &Bus{
		sclk:  sclk,
		mosi:  mosi,
		miso:  miso,
		cs:    cs,
		power: power,
		on:    1,
	}
	if powerActiveLow {
		b.on = 0
	}
	b.setRate(DefaultKHz)
	return b
}

// Close releases the lines and the chip.
func (b *Bus) Close() error {
	var errs []error
	for _, l := range []Line{b.cs, b.sclk, b.mosi, b.miso, b.power} {
		if l != nil {
			errs = append(errs, l.Close())
		}
	}
	if b.chip != nil {
		errs = append(errs, b.chip.Close())
	}
	return errors.Join(errs...)
}

// Select drives chip select low.
func (b *Bus) Select() error {
	return b.cs.SetValue(0)
}

// Deselect drives chip select high.
func (b *Bus) Deselect() error {
	return b.cs.SetValue(1)
}

// Exchange shifts one byte each way, most significant bit first. Data is
// set up while the clock is low and sampled on the rising edge.
func (b *Bus) Exchange(out byte) (byte, error) {
	var in byte
	for i := 7; i >= 0; i-- {
		if err := b.mosi.SetValue(int(out>>i) & 1); err != nil {
			return transport.Filler, err
		}
		b.delay()
		if err := b.sclk.SetValue(1); err != nil {
			return transport.Filler, err
		}
		v, err := b.miso.Value()
		if err != nil {
			return transport.Filler, err
		}
		in = in<<1 | byte(v&1)
		b.delay()
		if err := b.sclk.SetValue(0); err != nil {
			return transport.Filler, err
		}
	}
	return in, nil
}

// ReadBulk clocks filler bytes out and stores the bytes received.
func (b *Bus) ReadBulk(dst []byte) error {
	for i := range dst {
		in, err := b.Exchange(transport.Filler)
		if err != nil {
			return err
		}
		dst[i] = in
	}
	return nil
}

// WriteBulk clocks src out.
func (b *Bus) WriteBulk(src []byte) error {
	for _, out := range src {
		if _, err := b.Exchange(out); err != nil {
			return err
		}
	}
	return nil
}

// SetBitRate sets the target clock. The rate reached is bounded by the
// line request latency.
func (b *Bus) SetBitRate(kHz uint32) error {
	if kHz == 0 {
		return fmt.Errorf("%w: gpiod: clock 0 kHz", pkg.ErrInvalidParameter)
	}
	b.setRate(kHz)
	return nil
}

// BitRate returns the target clock.
func (b *Bus) BitRate() uint32 {
	return b.kHz
}

func (b *Bus) setRate(kHz uint32) {
	b.kHz = kHz
	b.tclk = time.Second / time.Duration(2*1000*kHz)
}

func (b *Bus) delay() {
	if b.tclk > 0 {
		time.Sleep(b.tclk)
	}
}

// PowerOn drives the power line to its on level.
func (b *Bus) PowerOn() error {
	if b.power == nil {
		return nil
	}
	return b.power.SetValue(b.on)
}

// PowerOff drives the power line to its off level.
func (b *Bus) PowerOff() error {
	if b.power == nil {
		return nil
	}
	return b.power.SetValue(1 - b.on)
}

var (
	_ transport.Transport = (*Bus)(nil)
	_ transport.Power     = (*Bus)(nil)
)
