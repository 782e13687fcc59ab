//go:build tinygo

package tinygo

import "runtime/interrupt"

// Critical masks interrupts between Enter and Exit. It does not nest.
type Critical struct {
	state interrupt.State
}

// Enter disables interrupts.
func (c *Critical) Enter() {
	c.state = interrupt.Disable()
}

// Exit restores the interrupt state saved by Enter.
func (c *Critical) Exit() {
	interrupt.Restore(c.state)
}
