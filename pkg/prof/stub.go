//go:build !profile

package prof

// ErrActive indicates a profiling session is already running. It is never
// returned without the profile tag.
var ErrActive error

// Enabled reports whether the binary was built with the profile tag.
const Enabled = false

// Start does nothing without the profile tag.
func Start(Options) (func() error, error) {
	return func() error { return nil }, nil
}
