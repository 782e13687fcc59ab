package sim

import (
	"sync"

	"github.com/ardnew/softsd/transport"
)

// EventKind classifies a recorded transport call.
type EventKind uint8

// Event kinds.
const (
	EventSelect EventKind = iota
	EventDeselect
	EventByte
	EventBitRate
)

// Event is one recorded transport call. Bulk transfers are recorded as one
// EventByte per byte.
type Event struct {
	Kind     EventKind
	Out, In  byte
	Selected bool
	KHz      uint32
}

// Recorder wraps a Transport and records every call made through it.
type Recorder struct {
	next     transport.Transport
	events   []Event
	selected bool
	mutex    sync.Mutex
}

// NewRecorder returns a Recorder forwarding to next.
func NewRecorder(next transport.Transport) *Recorder {
	return &Recorder{next: next}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset discards the recorded events.
func (r *Recorder) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = r.events[:0]
}

// Sent returns the bytes shifted out while chip select was asserted.
func (r *Recorder) Sent() []byte {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []byte
	for _, e := range r.events {
		if e.Kind == EventByte && e.Selected {
			out = append(out, e.Out)
		}
	}
	return out
}

// Count returns the number of events of kind k.
func (r *Recorder) Count(k EventKind) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// BitRates returns the rates set, in order.
func (r *Recorder) BitRates() []uint32 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var rates []uint32
	for _, e := range r.events {
		if e.Kind == EventBitRate {
			rates = append(rates, e.KHz)
		}
	}
	return rates
}

func (r *Recorder) record(e Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	e.Selected = r.selected
	r.events = append(r.events, e)
}

// Select forwards and records.
func (r *Recorder) Select() error {
	r.mutex.Lock()
	r.selected = true
	r.mutex.Unlock()
	r.record(Event{Kind: EventSelect})
	return r.next.Select()
}

// Deselect forwards and records.
func (r *Recorder) Deselect() error {
	r.mutex.Lock()
	r.selected = false
	r.mutex.Unlock()
	r.record(Event{Kind: EventDeselect})
	return r.next.Deselect()
}

// Exchange forwards and records.
func (r *Recorder) Exchange(out byte) (byte, error) {
	in, err := r.next.Exchange(out)
	if err != nil {
		return in, err
	}
	r.record(Event{Kind: EventByte, Out: out, In: in})
	return in, nil
}

// ReadBulk forwards byte by byte so each byte is recorded.
func (r *Recorder) ReadBulk(dst []byte) error {
	for i := range dst {
		in, err := r.Exchange(transport.Filler)
		if err != nil {
			return err
		}
		dst[i] = in
	}
	return nil
}

// WriteBulk forwards byte by byte so each byte is recorded.
func (r *Recorder) WriteBulk(src []byte) error {
	for _, b := range src {
		if _, err := r.Exchange(b); err != nil {
			return err
		}
	}
	return nil
}

// SetBitRate forwards and records.
func (r *Recorder) SetBitRate(kHz uint32) error {
	r.record(Event{Kind: EventBitRate, KHz: kHz})
	return r.next.SetBitRate(kHz)
}

// BitRate forwards.
func (r *Recorder) BitRate() uint32 {
	return r.next.BitRate()
}
