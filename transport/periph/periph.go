// Package periph implements transport.Transport over a Linux SPI port
// through periph.io, with chip select and the optional power switch on
// GPIO pins.
//
// The SPI controller's own chip select cannot be used: the card needs
// clock cycles with chip select deasserted during power-up, so the port is
// opened with spi.NoCS and the card's select line is driven as a GPIO.
package periph

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// MaxKHz is the clock the connection is opened with. SetBitRate lowers
// the effective rate below it.
const MaxKHz = 25000

// Config selects the port and pins.
type Config struct {
	// Port is the spireg name, e.g. "/dev/spidev0.0" or "SPI0.0". Empty
	// selects the first registered port.
	Port string

	// ChipSelect is the gpioreg name of the card select pin, e.g. "GPIO8".
	ChipSelect string

	// Power is the gpioreg name of the supply enable pin. Empty disables
	// power control.
	Power string

	// PowerActiveLow inverts the power pin.
	PowerActiveLow bool
}

// Bus is a card transport on a periph.io SPI port.
type Bus struct {
	port    spi.PortCloser
	conn    spi.Conn
	cs      gpio.PinOut
	power   gpio.PinOut
	on      gpio.Level
	kHz     uint32
	tx      [1]byte
	rx      [1]byte
	scratch []byte
}

// Open initializes the periph.io host drivers, looks up the pins and
// opens the port.
func Open(cfg Config) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph: host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.ChipSelect)
	if cs == nil {
		return nil, fmt.Errorf("%w: periph: no chip select pin %q", pkg.ErrInvalidParameter, cfg.ChipSelect)
	}
	var power gpio.PinOut
	if cfg.Power != "" {
		p := gpioreg.ByName(cfg.Power)
		if p == nil {
			return nil, fmt.Errorf("%w: periph: no power pin %q", pkg.ErrInvalidParameter, cfg.Power)
		}
		power = p
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("periph: open %q: %w", cfg.Port, err)
	}
	b, err := New(port, cs, power, cfg.PowerActiveLow)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

// New connects to an opened port. power may be nil.
func New(port spi.PortCloser, cs, power gpio.PinOut, powerActiveLow bool) (*Bus, error) {
	conn, err := port.Connect(MaxKHz*physic.KiloHertz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("periph: connect %s: %w", port, err)
	}
	b := &Bus{
		port:  port,
		conn:  conn,
		cs:    cs,
		power: power,
		on:    gpio.High,
		kHz:   MaxKHz,
	}
	if powerActiveLow {
		b.on = gpio.Low
	}
	if err := b.cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("periph: chip select: %w", err)
	}

	pkg.LogDebug(pkg.ComponentTransport, "periph port opened",
		"port", port.String(),
		"cs", cs.String(),
		"power", power != nil)
	return b, nil
}

// Close releases the chip select and the port.
func (b *Bus) Close() error {
	err := b.cs.Out(gpio.High)
	return errors.Join(err, b.port.Close())
}

// Select drives chip select low.
func (b *Bus) Select() error {
	return b.cs.Out(gpio.Low)
}

// Deselect drives chip select high.
func (b *Bus) Deselect() error {
	return b.cs.Out(gpio.High)
}

// Exchange shifts one byte each way.
func (b *Bus) Exchange(out byte) (byte, error) {
	b.tx[0] = out
	if err := b.conn.Tx(b.tx[:], b.rx[:]); err != nil {
		return transport.Filler, err
	}
	return b.rx[0], nil
}

// ReadBulk clocks filler bytes out and stores the bytes received.
func (b *Bus) ReadBulk(dst []byte) error {
	for i := range dst {
		dst[i] = transport.Filler
	}
	return b.conn.Tx(dst, dst)
}

// WriteBulk clocks src out and discards the bytes received.
func (b *Bus) WriteBulk(src []byte) error {
	if cap(b.scratch) < len(src) {
		b.scratch = make([]byte, len(src))
	}
	return b.conn.Tx(src, b.scratch[:len(src)])
}

// SetBitRate limits the port clock.
func (b *Bus) SetBitRate(kHz uint32) error {
	if kHz == 0 || kHz > MaxKHz {
		return fmt.Errorf("%w: periph: clock %d kHz", pkg.ErrInvalidParameter, kHz)
	}
	if err := b.port.LimitSpeed(physic.Frequency(kHz) * physic.KiloHertz); err != nil {
		return err
	}
	b.kHz = kHz
	return nil
}

// BitRate returns the clock last set.
func (b *Bus) BitRate() uint32 {
	return b.kHz
}

// PowerOn drives the power pin to its on level.
func (b *Bus) PowerOn() error {
	if b.power == nil {
		return nil
	}
	return b.power.Out(b.on)
}

// PowerOff drives the power pin to its off level.
func (b *Bus) PowerOff() error {
	if b.power == nil {
		return nil
	}
	return b.power.Out(!b.on)
}

var (
	_ transport.Transport = (*Bus)(nil)
	_ transport.Power     = (*Bus)(nil)
)
