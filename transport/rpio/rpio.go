// Package rpio implements transport.Transport over the Raspberry Pi SPI0
// controller through direct register access with go-rpio.
//
// The controller's chip-enable lines are left to an unused select, and the
// card's select line is driven as a plain GPIO output.
package rpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// Config selects the controller and pins. Pin numbers are BCM numbers.
type Config struct {
	Device         rpio.SpiDev
	HardwareSelect uint8
	ChipSelect     uint8
	Power          uint8
	HasPower       bool
	PowerActiveLow bool
}

// Pin is a GPIO output.
type Pin interface {
	High()
	Low()
}

// Controller is the SPI register interface Bus drives.
type Controller interface {
	Exchange(buf []byte)
	Speed(hz int)
	End()
}

type controller struct {
	dev rpio.SpiDev
}

func (c controller) Exchange(buf []byte) { rpio.SpiExchange(buf) }
func (c controller) Speed(hz int)        { rpio.SpiSpeed(hz) }
func (c controller) End()                { rpio.SpiEnd(c.dev) }

// Bus is a card transport on a Raspberry Pi SPI controller.
type Bus struct {
	spi       Controller
	cs        Pin
	power     Pin
	activeLow bool
	kHz       uint32
	buf       [1]byte
	mapped    bool
}

// Open maps the GPIO and SPI registers, claims the controller and
// configures the pins as outputs.
func Open(cfg Config) (*Bus, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("rpio: open: %w", err)
	}
	if err := rpio.SpiBegin(cfg.Device); err != nil {
		_ = rpio.Close()
		return nil, fmt.Errorf("rpio: spi begin: %w", err)
	}
	rpio.SpiChipSelect(cfg.HardwareSelect)
	rpio.SpiMode(0, 0)

	cs := rpio.Pin(cfg.ChipSelect)
	cs.Output()
	var power Pin
	if cfg.HasPower {
		p := rpio.Pin(cfg.Power)
		p.Output()
		power = p
	}

	b := New(controller{dev: cfg.Device}, cs, power, cfg.PowerActiveLow)
	b.mapped = true
	return b, nil
}

// New returns a Bus over an already configured controller. power may be
// nil.
func New(spi Controller, cs, power Pin, activeLow bool) *Bus {
	b := &Bus{
		spi:       spi,
		cs:        cs,
		power:     power,
		activeLow: activeLow,
	}
	cs.High()
	b.rate(DefaultKHz)
	pkg.LogDebug(pkg.ComponentTransport, "rpio bus ready",
		"kHz", b.kHz,
		"power", power != nil)
	return b
}

// DefaultKHz is the clock in effect before the first SetBitRate.
const DefaultKHz = 250

// Close releases the controller and unmaps the registers if Open mapped
// them.
func (b *Bus) Close() error {
	b.cs.High()
	b.spi.End()
	if b.mapped {
		return rpio.Close()
	}
	return nil
}

// Select drives chip select low.
func (b *Bus) Select() error {
	b.cs.Low()
	return nil
}

// Deselect drives chip select high.
func (b *Bus) Deselect() error {
	b.cs.High()
	return nil
}

// Exchange shifts one byte.
func (b *Bus) Exchange(out byte) (byte, error) {
	b.buf[0] = out
	b.spi.Exchange(b.buf[:])
	return b.buf[0], nil
}

// ReadBulk clocks filler bytes into dst.
func (b *Bus) ReadBulk(dst []byte) error {
	for i := range dst {
		dst[i] = transport.Filler
	}
	b.spi.Exchange(dst)
	return nil
}

// WriteBulk shifts src out. src is left untouched.
func (b *Bus) WriteBulk(src []byte) error {
	buf := make([]byte, len(src))
	copy(buf, src)
	b.spi.Exchange(buf)
	return nil
}

// SetBitRate programs the clock divider. The controller rounds the
// divider, so the effective rate may be lower.
func (b *Bus) SetBitRate(kHz uint32) error {
	if kHz == 0 {
		return fmt.Errorf("%w: rpio: bit rate 0", pkg.ErrInvalidParameter)
	}
	b.rate(kHz)
	return nil
}

func (b *Bus) rate(kHz uint32) {
	b.spi.Speed(int(kHz) * 1000)
	b.kHz = kHz
}

// BitRate returns the last programmed rate in kHz.
func (b *Bus) BitRate() uint32 {
	return b.kHz
}

// PowerOn enables the card supply.
func (b *Bus) PowerOn() error {
	b.drivePower(true)
	return nil
}

// PowerOff disables the card supply.
func (b *Bus) PowerOff() error {
	b.drivePower(false)
	return nil
}

func (b *Bus) drivePower(on bool) {
	if b.power == nil {
		return
	}
	if on != b.activeLow {
		b.power.High()
	} else {
		b.power.Low()
	}
}

var (
	_ transport.Transport = (*Bus)(nil)
	_ transport.Power     = (*Bus)(nil)
)
