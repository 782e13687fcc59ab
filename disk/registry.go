package disk

import (
	"fmt"
	"sync"

	"github.com/ardnew/softsd/pkg"
	"github.com/ardnew/softsd/sdcard"
	"github.com/ardnew/softsd/transport"
)

// Registry is a fixed-size table of units addressed by number.
type Registry struct {
	units []*Unit
	mutex sync.RWMutex
}

// NewRegistry returns a table with room for size units, numbered 0 to
// size-1.
func NewRegistry(size int) *Registry {
	if size < 0 {
		size = 0
	}
	return &Registry{units: make([]*Unit, size)}
}

// Len returns the table size.
func (r *Registry) Len() int {
	return len(r.units)
}

// Attach binds bus to unit id. The card is not touched until Initialize.
func (r *Registry) Attach(id int, bus transport.Transport, opts ...Option) (*Unit, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil transport", pkg.ErrInvalidParameter)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if id < 0 || id >= len(r.units) {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidUnit, id)
	}
	if r.units[id] != nil {
		return nil, fmt.Errorf("%w: unit %d already attached", pkg.ErrInvalidParameter, id)
	}

	u := newUnit(id, bus, opts...)
	r.units[id] = u
	pkg.LogDebug(pkg.ComponentDisk, "unit attached",
		"unit", id,
		"readOnly", u.readOnly,
		"power", u.power != nil)
	return u, nil
}

// Detach shuts unit id down and removes it from the table.
func (r *Registry) Detach(id int) error {
	r.mutex.Lock()
	u, err := r.lookup(id)
	if err == nil {
		r.units[id] = nil
	}
	r.mutex.Unlock()

	if err != nil {
		return err
	}
	return u.Shutdown()
}

// Unit returns unit id.
func (r *Registry) Unit(id int) (*Unit, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.lookup(id)
}

// lookup validates id. The caller holds the mutex.
func (r *Registry) lookup(id int) (*Unit, error) {
	if id < 0 || id >= len(r.units) || r.units[id] == nil {
		return nil, fmt.Errorf("%w: %d", pkg.ErrInvalidUnit, id)
	}
	return r.units[id], nil
}

// Units returns the attached units in id order.
func (r *Registry) Units() []*Unit {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var units []*Unit
	for _, u := range r.units {
		if u != nil {
			units = append(units, u)
		}
	}
	return units
}

// Initialize initializes unit id and returns its size in blocks.
func (r *Registry) Initialize(id int) (uint32, error) {
	u, err := r.Unit(id)
	if err != nil {
		return 0, err
	}
	return u.Initialize()
}

// ReadBlocks reads len(buf) bytes from unit id starting at block offset.
func (r *Registry) ReadBlocks(id int, offset uint32, buf []byte) error {
	u, err := r.Unit(id)
	if err != nil {
		return err
	}
	return u.ReadBlocks(offset, buf)
}

// WriteBlocks writes len(buf) bytes to unit id starting at block offset.
func (r *Registry) WriteBlocks(id int, offset uint32, buf []byte) error {
	u, err := r.Unit(id)
	if err != nil {
		return err
	}
	return u.WriteBlocks(offset, buf)
}

// Shutdown powers unit id down.
func (r *Registry) Shutdown(id int) error {
	u, err := r.Unit(id)
	if err != nil {
		return err
	}
	return u.Shutdown()
}

// Diagnostics returns the per-phase maxima over every attached unit.
func (r *Registry) Diagnostics() sdcard.Snapshot {
	seen := make(map[*sdcard.Diagnostics]bool)
	var merged sdcard.Snapshot
	for _, u := range r.Units() {
		d := u.card.Diagnostics()
		if seen[d] {
			continue
		}
		seen[d] = true
		for p, v := range d.Snapshot() {
			merged[p] = max(merged[p], v)
		}
	}
	return merged
}
