package inspect

import (
	"reflect"
	"sync"
	"time"

	"github.com/km-arc/go-inject/framework/container"
)

// Event is one recorded traversal event.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	Type      string    `json:"type,omitempty"`
	Declaring string    `json:"declaring,omitempty"`
	Time      time.Time `json:"time"`
}

// Recorder is a [container.Observer] keeping the most recent events in a
// fixed-size ring.
type Recorder struct {
	mu   sync.Mutex
	ring []Event
	next int
	full bool
	seq  uint64

	now func() time.Time
}

// NewRecorder creates a recorder holding up to size events.
func NewRecorder(size int) *Recorder {
	if size < 1 {
		size = 1
	}
	return &Recorder{ring: make([]Event, size), now: time.Now}
}

func (r *Recorder) record(kind string, path container.Path, typ, declaring reflect.Type) {
	e := Event{Kind: kind, Path: path.String(), Type: name(typ), Declaring: name(declaring)}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	e.Time = r.now()
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
}

// Events returns the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.ring[:r.next]...)
	}
	out := make([]Event, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Since returns the events with a sequence number greater than seq.
func (r *Recorder) Since(seq uint64) []Event {
	all := r.Events()
	for i, e := range all {
		if e.Seq > seq {
			return all[i:]
		}
	}
	return nil
}

func (r *Recorder) Descending(path container.Path, declaring, dependency reflect.Type) {
	r.record("descending", path, dependency, declaring)
}

func (r *Recorder) Ascending(path container.Path, declaring, dependency reflect.Type) {
	r.record("ascending", path, dependency, declaring)
}

func (r *Recorder) Circular(path container.Path) {
	r.record("circular", path, nil, nil)
}

func (r *Recorder) Resolved(path container.Path, concrete reflect.Type) {
	r.record("resolved", path, concrete, nil)
}

func (r *Recorder) Instantiated(path container.Path, handle *container.InstanceHandle) {
	r.record("instantiated", path, handle.Type, nil)
}

func name(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}
