// Package tinygo implements transport.Transport over a TinyGo SPI
// peripheral. It depends only on the drivers.SPI interface, so it builds
// and tests on any host; the machine package is wired in by the caller.
//
// A typical board setup:
//
//	spi := machine.SPI0
//	cs := machine.D10
//	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	bus := tinygo.New(spi, cs, nil, func(kHz uint32) error {
//		return spi.Configure(machine.SPIConfig{
//			Frequency: kHz * 1000,
//			SCK:       machine.SPI0_SCK_PIN,
//			SDO:       machine.SPI0_SDO_PIN,
//			SDI:       machine.SPI0_SDI_PIN,
//		})
//	})
package tinygo

import (
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// Pin is a GPIO output. machine.Pin satisfies it.
type Pin interface {
	High()
	Low()
}

// Configure reprograms the peripheral clock.
type Configure func(kHz uint32) error

// Bus is a card transport on a TinyGo SPI peripheral.
type Bus struct {
	spi       drivers.SPI
	cs        Pin
	power     Pin
	configure Configure
	kHz       uint32
	fill      []byte
}

// New returns a Bus over spi. power and configure may be nil; without
// configure, SetBitRate only records the rate.
func New(spi drivers.SPI, cs, power Pin, configure Configure) *Bus {
	b := &Bus{
		spi:       spi,
		cs:        cs,
		power:     power,
		configure: configure,
	}
	cs.High()
	return b
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
	return b.spi.Transfer(out)
}

// ReadBulk clocks filler bytes into dst.
func (b *Bus) ReadBulk(dst []byte) error {
	if cap(b.fill) < len(dst) {
		b.fill = make([]byte, len(dst))
		for i := range b.fill {
			b.fill[i] = transport.Filler
		}
	}
	return b.spi.Tx(b.fill[:len(dst)], dst)
}

// WriteBulk shifts src out.
func (b *Bus) WriteBulk(src []byte) error {
	return b.spi.Tx(src, nil)
}

// SetBitRate reconfigures the peripheral.
func (b *Bus) SetBitRate(kHz uint32) error {
	if kHz == 0 {
		return fmt.Errorf("%w: tinygo: bit rate 0", pkg.ErrInvalidParameter)
	}
	if b.configure != nil {
		if err := b.configure(kHz); err != nil {
			return fmt.Errorf("tinygo: configure %d kHz: %w", kHz, err)
		}
	}
	b.kHz = kHz
	return nil
}

// BitRate returns the last configured rate in kHz.
func (b *Bus) BitRate() uint32 {
	return b.kHz
}

// PowerOn drives the power pin high.
func (b *Bus) PowerOn() error {
	if b.power != nil {
		b.power.High()
	}
	return nil
}

// PowerOff drives the power pin low.
func (b *Bus) PowerOff() error {
	if b.power != nil {
		b.power.Low()
	}
	return nil
}

var (
	_ transport.Transport = (*Bus)(nil)
	_ transport.Power     = (*Bus)(nil)
)
