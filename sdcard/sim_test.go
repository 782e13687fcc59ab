package sdcard

import (
	"testing"

	"github.com/ardnew/softsd/sim"
)

const testImageSize = 8 << 20

// newSimCard returns a session on an emulated card whose image holds a
// repeating byte pattern.
func newSimCard(t *testing.T, kind sim.Kind, faults sim.Faults) (*Card, *sim.Card, *sim.MemoryImage) {
	t.Helper()
	img := sim.NewMemoryImage(testImageSize)
	for i, b := 0, img.Bytes(); i < len(b); i++ {
		b[i] = byte(i*7 + i>>9)
	}
	dev := sim.New(kind, img, sim.WithFaults(faults))
	return New(dev, testConfig()), dev, img
}

// newReadyCard is newSimCard followed by a successful Init.
func newReadyCard(t *testing.T, kind sim.Kind, faults sim.Faults) (*Card, *sim.Card, *sim.MemoryImage) {
	t.Helper()
	c, dev, img := newSimCard(t, kind, faults)
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	dev.ClearLog()
	return c, dev, img
}

// countingCritical counts critical section entries and exits.
type countingCritical struct {
	depth, entered, exited, maxDepth int
}

func (c *countingCritical) Enter() {
	c.entered++
	c.depth++
	c.maxDepth = max(c.maxDepth, c.depth)
}

func (c *countingCritical) Exit() {
	c.exited++
	c.depth--
}

// bytesAfter returns the number of bytes exchanged after the first
// occurrence of frame up to the next deselect, or -1 if frame never
// appears.
func bytesAfter(events []sim.Event, frame []byte) int {
	var bytes []int
	for i, e := range events {
		if e.Kind == sim.EventByte {
			bytes = append(bytes, i)
		}
	}
	for k := 0; k+len(frame) <= len(bytes); k++ {
		match := true
		for j, b := range frame {
			if events[bytes[k+j]].Out != b {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		n := 0
		for _, e := range events[bytes[k+len(frame)-1]+1:] {
			if e.Kind == sim.EventDeselect {
				return n
			}
			if e.Kind == sim.EventByte {
				n++
			}
		}
		return n
	}
	return -1
}
