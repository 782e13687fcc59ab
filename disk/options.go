package disk

import (
	"time"

	"github.com/ardnew/softsd/sdcard"
	"github.com/ardnew/softsd/transport"
)

// DefaultSettle is the delay between applying power and the first clock.
const DefaultSettle = time.Millisecond

// Option configures a Unit at attach time.
type Option func(*Unit)

// WithConfig sets the card session configuration. The unit number in
// config is overwritten with the unit id.
func WithConfig(config sdcard.Config) Option {
	return func(u *Unit) {
		u.config = config
	}
}

// WithPower sets the supply switch driven by Initialize and Shutdown.
func WithPower(p transport.Power) Option {
	return func(u *Unit) {
		u.power = p
	}
}

// WithSettle sets the delay after power-on.
func WithSettle(d time.Duration) Option {
	return func(u *Unit) {
		u.settle = d
	}
}

// WithReadOnly rejects writes to the unit.
func WithReadOnly(readOnly bool) Option {
	return func(u *Unit) {
		u.readOnly = readOnly
	}
}
