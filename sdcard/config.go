package sdcard

import (
	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/transport"
)

// Default clock rates in kHz.
const (
	DefaultSlowKHz = 250   // power-up and identification
	DefaultFastKHz = 13000 // data transfer after initialization
)

// DefaultResetAttempts is the number of CMD0 pulses tried before giving up.
const DefaultResetAttempts = 4

// Bounds holds the maximum number of poll iterations allowed in each phase.
type Bounds [pkg.NumPhases]int

// DefaultBounds returns the poll bounds tuned against real cards.
func DefaultBounds() Bounds {
	var b Bounds
	b[pkg.PhaseWaitWDone] = 400000
	b[pkg.PhaseWaitWIdle] = 200000
	b[pkg.PhaseWaitCmd] = 100000
	b[pkg.PhaseWaitWData] = 30000
	b[pkg.PhaseRead] = 90000
	b[pkg.PhaseSendOp] = 8000
	b[pkg.PhaseCmd] = 7000
	b[pkg.PhaseSendCSD] = 6000
	b[pkg.PhaseWaitWStop] = 5000
	return b
}

// Config holds the parameters of one card session.
type Config struct {
	// Unit identifies the card in log records.
	Unit int

	// SlowKHz is the clock rate used during initialization.
	SlowKHz uint32

	// FastKHz is the clock rate selected once the card is ready.
	FastKHz uint32

	// ResetAttempts is the number of CMD0 pulses tried.
	ResetAttempts int

	// Bounds limits every busy-wait of the protocol.
	Bounds Bounds

	// Critical wraps the timing-critical polls. Nil disables suppression.
	Critical transport.Critical

	// Diagnostics receives the maximum poll counts. Nil selects
	// DefaultDiagnostics.
	Diagnostics *Diagnostics
}

// DefaultConfig returns a Config with the default clock rates and bounds.
func DefaultConfig() Config {
	return Config{
		SlowKHz:       DefaultSlowKHz,
		FastKHz:       DefaultFastKHz,
		ResetAttempts: DefaultResetAttempts,
		Bounds:        DefaultBounds(),
		Critical:      transport.NopCritical{},
		Diagnostics:   DefaultDiagnostics,
	}
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SlowKHz == 0 {
		c.SlowKHz = d.SlowKHz
	}
	if c.FastKHz == 0 {
		c.FastKHz = d.FastKHz
	}
	if c.ResetAttempts <= 0 {
		c.ResetAttempts = d.ResetAttempts
	}
	for i, v := range c.Bounds {
		if v <= 0 {
			c.Bounds[i] = d.Bounds[i]
		}
	}
	if c.Critical == nil {
		c.Critical = d.Critical
	}
	if c.Diagnostics == nil {
		c.Diagnostics = d.Diagnostics
	}
	return c
}
