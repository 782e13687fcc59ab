package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	gorpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/ardnew/softsd/disk"
	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/pkg/prof"
	"github.com/ardnew/softsd/sdcard"
	"github.com/ardnew/softsd/sim"
	"github.com/ardnew/softsd/transport"
	"github.com/ardnew/softsd/transport/gpiod"
	"github.com/ardnew/softsd/transport/periph"
	"github.com/ardnew/softsd/transport/rpio"
)

// app holds the global flags.
type app struct {
	verbose bool
	jsonLog bool
	profile prof.Options

	simPath    string
	simClass   string
	simSizeMiB int64

	spiPort  string
	gpioChip string
	sck      int
	mosi     int
	miso     int
	rpio     bool

	cs             string
	power          string
	powerActiveLow bool

	slowKHz  uint32
	fastKHz  uint32
	readOnly bool

	// terminal opens the interactive console streams.
	terminal func() (lineReader, io.Writer, func() error, error)
}

func newApp() *app {
	return &app{terminal: openTerminal}
}

// session is one initialized card.
type session struct {
	registry *disk.Registry
	unit     *disk.Unit
	closers  []func() error
}

func (s *session) Close() error {
	errs := []error{s.unit.Shutdown()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// open attaches the selected transport as unit 0 and initializes the card.
func (a *app) open() (*session, error) {
	bus, power, closers, err := a.transport()
	if err != nil {
		return nil, err
	}

	config := sdcard.DefaultConfig()
	config.SlowKHz = a.slowKHz
	config.FastKHz = a.fastKHz
	opts := []disk.Option{disk.WithConfig(config), disk.WithReadOnly(a.readOnly)}
	if power != nil {
		opts = append(opts, disk.WithPower(power))
	}

	s := &session{registry: disk.NewRegistry(1), closers: closers}
	s.unit, err = s.registry.Attach(0, bus, opts...)
	if err == nil {
		_, err = s.unit.Initialize()
	}
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}
	return s, nil
}

func (a *app) transport() (transport.Transport, transport.Power, []func() error, error) {
	selected := 0
	for _, on := range []bool{a.simPath != "", a.spiPort != "", a.gpioChip != "", a.rpio} {
		if on {
			selected++
		}
	}
	if selected != 1 {
		return nil, nil, nil, fmt.Errorf("%w: select exactly one of --sim, --spi, --gpiochip or --rpio", pkg.ErrInvalidParameter)
	}

	switch {
	case a.simPath != "":
		return a.simTransport()

	case a.spiPort != "":
		bus, err := periph.Open(periph.Config{
			Port:           a.spiPort,
			ChipSelect:     a.cs,
			Power:          a.power,
			PowerActiveLow: a.powerActiveLow,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return bus, powerOf(bus, a.power), []func() error{bus.Close}, nil

	case a.gpioChip != "":
		cs, err := pinNumber("cs", a.cs)
		if err != nil {
			return nil, nil, nil, err
		}
		lines := gpiod.Lines{Sclk: a.sck, Mosi: a.mosi, Miso: a.miso, CS: cs, Power: -1, PowerActiveLow: a.powerActiveLow}
		if a.power != "" {
			if lines.Power, err = pinNumber("power", a.power); err != nil {
				return nil, nil, nil, err
			}
		}
		bus, err := gpiod.Open(a.gpioChip, lines)
		if err != nil {
			return nil, nil, nil, err
		}
		return bus, powerOf(bus, a.power), []func() error{bus.Close}, nil

	default:
		cs, err := pinNumber("cs", a.cs)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg := rpio.Config{
			Device:         gorpio.Spi0,
			HardwareSelect: 1,
			ChipSelect:     uint8(cs),
			PowerActiveLow: a.powerActiveLow,
		}
		if a.power != "" {
			p, err := pinNumber("power", a.power)
			if err != nil {
				return nil, nil, nil, err
			}
			cfg.Power, cfg.HasPower = uint8(p), true
		}
		bus, err := rpio.Open(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return bus, powerOf(bus, a.power), []func() error{bus.Close}, nil
	}
}

func (a *app) simTransport() (transport.Transport, transport.Power, []func() error, error) {
	kind, ok := sim.ParseKind(a.simClass)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: card family %q", pkg.ErrInvalidParameter, a.simClass)
	}

	img, err := sim.OpenFileImage(a.simPath, false)
	if errors.Is(err, os.ErrNotExist) {
		if a.simSizeMiB <= 0 {
			return nil, nil, nil, fmt.Errorf("%w: image size %d MiB", pkg.ErrInvalidParameter, a.simSizeMiB)
		}
		img, err = sim.CreateFileImage(a.simPath, a.simSizeMiB<<20)
		if err == nil {
			pkg.LogInfo(component, "created image", "path", a.simPath, "mib", a.simSizeMiB)
		}
	}
	if err != nil {
		return nil, nil, nil, err
	}

	card := sim.New(kind, img)
	return card, card, []func() error{img.Close}, nil
}

// powerOf returns p as a power switch when a power pin was given.
func powerOf(p transport.Power, pin string) transport.Power {
	if pin == "" {
		return nil
	}
	return p
}

func pinNumber(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: --%s %q is not a line number", pkg.ErrInvalidParameter, name, value)
	}
	return n, nil
}
