package container

import (
	"reflect"
	"strconv"
	"sync"
)

// Observer receives graph traversal events.
//
// Descending and Ascending are always paired and receive the same path, the
// path of the declaring component. Circular fires once per tolerated cycle
// and has no matching Ascending. Resolved fires once per distinct path and
// concrete type among the most recent ones seen. Instantiated fires once per
// real construction, after the outermost resolution that built the
// component has returned; the handle carries the instance only after the
// callback has returned.
type Observer interface {
	Descending(path Path, declaring, dependency reflect.Type)
	Ascending(path Path, declaring, dependency reflect.Type)
	Circular(path Path)
	Resolved(path Path, concrete reflect.Type)
	Instantiated(path Path, handle *InstanceHandle)
}

// BaseObserver is an embeddable no-op [Observer]. Embed it and only
// override the events you need.
type BaseObserver struct{}

func (BaseObserver) Descending(Path, reflect.Type, reflect.Type) {}
func (BaseObserver) Ascending(Path, reflect.Type, reflect.Type)  {}
func (BaseObserver) Circular(Path)                               {}
func (BaseObserver) Resolved(Path, reflect.Type)                 {}
func (BaseObserver) Instantiated(Path, *InstanceHandle)          {}

// InstanceHandle refers to a freshly constructed component. The instance is
// attached after every Instantiated callback has returned, so observers
// cannot reach a half-published object from inside the callback.
type InstanceHandle struct {
	Type reflect.Type

	mu       sync.RWMutex
	instance any
	attached bool
}

// Instance returns the component once it has been attached.
func (h *InstanceHandle) Instance() (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instance, h.attached
}

func (h *InstanceHandle) attach(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instance, h.attached = v, true
}

// hub fans events out to the attached observers and de-duplicates Resolved.
type hub struct {
	mu        sync.RWMutex
	observers []Observer

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
	seenLimit int

	after []func(concrete reflect.Type, instance any)
}

func newHub(observers ...Observer) *hub {
	h := &hub{seen: make(map[string]struct{}), seenLimit: resolvedMemory}
	for _, o := range observers {
		h.add(o)
	}
	return h
}

func (h *hub) add(o Observer) {
	if o == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

func (h *hub) afterResolving(cb func(reflect.Type, any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, cb)
}

func (h *hub) list() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.observers
}

func (h *hub) descending(path Path, declaring, dependency reflect.Type) {
	for _, o := range h.list() {
		o.Descending(path, declaring, dependency)
	}
}

func (h *hub) ascending(path Path, declaring, dependency reflect.Type) {
	for _, o := range h.list() {
		o.Ascending(path, declaring, dependency)
	}
}

func (h *hub) circular(path Path) {
	for _, o := range h.list() {
		o.Circular(path)
	}
}

func (h *hub) resolved(path Path, concrete reflect.Type) {
	observers := h.list()
	if len(observers) == 0 {
		return
	}
	key := path.String() + "|" + strconv.FormatUint(typeID(concrete), 10)
	if !h.remember(key) {
		return
	}
	for _, o := range observers {
		o.Resolved(path, concrete)
	}
}

// resolvedMemory bounds how many path and type pairs Resolved de-duplicates.
const resolvedMemory = 4096

// remember records key and reports whether it was new. The oldest key is
// forgotten once seenLimit keys are held.
func (h *hub) remember(key string) bool {
	h.seenMu.Lock()
	defer h.seenMu.Unlock()
	if _, dup := h.seen[key]; dup {
		return false
	}
	if len(h.seenOrder) >= h.seenLimit {
		delete(h.seen, h.seenOrder[0])
		h.seenOrder = h.seenOrder[1:]
	}
	h.seen[key] = struct{}{}
	h.seenOrder = append(h.seenOrder, key)
	return true
}

func (h *hub) instantiated(path Path, concrete reflect.Type, instance any) {
	h.mu.RLock()
	observers, after := h.observers, h.after
	h.mu.RUnlock()

	handle := &InstanceHandle{Type: concrete}
	for _, o := range observers {
		o.Instantiated(path, handle)
	}
	handle.attach(instance)

	for _, cb := range after {
		cb(concrete, instance)
	}
}
