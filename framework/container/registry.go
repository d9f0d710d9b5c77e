package container

import (
	"reflect"
	"sort"
	"sync"
)

// groupMember is one binding of a component group.
type groupMember struct {
	group   *group
	binding Binding
	owner   *Scope
}

// group is the ordered member list of a group api within one scope.
type group struct {
	api reflect.Type

	mu      sync.Mutex
	members []*groupMember

	// spliced remembers, per discovering member, the member most recently
	// moved behind it, so several discoveries keep their discovery order.
	spliced map[*groupMember]*groupMember
}

func (g *group) add(m *groupMember) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, m)
}

func (g *group) snapshot() []*groupMember {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*groupMember(nil), g.members...)
}

func (g *group) memberBound(bound reflect.Type) *groupMember {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m.binding.bound() == bound {
			return m
		}
	}
	return nil
}

func (g *group) index(m *groupMember) int {
	for i, x := range g.members {
		if x == m {
			return i
		}
	}
	return -1
}

// splice moves discovered right behind discoverer when it currently sits
// further down the list. It reports whether the order changed.
func (g *group) splice(discoverer, discovered *groupMember) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, j := g.index(discoverer), g.index(discovered)
	if i < 0 || j <= i {
		return false
	}
	at := i + 1
	if last := g.spliced[discoverer]; last != nil {
		if k := g.index(last); k > i && k < j {
			at = k + 1
		}
	}
	if g.spliced == nil {
		g.spliced = make(map[*groupMember]*groupMember)
	}
	g.spliced[discoverer] = discovered
	if at == j {
		return false
	}
	copy(g.members[at+1:j+1], g.members[at:j])
	g.members[at] = discovered
	return true
}

// registry stores the bindings declared in one scope.
type registry struct {
	mu       sync.RWMutex
	bindings map[reflect.Type]Binding
	order    []reflect.Type
	groups   map[reflect.Type]*group

	// deferred maps a type to the loader of a deferred provider that
	// declares it.
	deferred map[reflect.Type]*deferredLoad
}

type deferredLoad struct {
	once sync.Once
	load func() error
	err  error
}

func newRegistry() *registry {
	return &registry{
		bindings: make(map[reflect.Type]Binding),
		groups:   make(map[reflect.Type]*group),
		deferred: make(map[reflect.Type]*deferredLoad),
	}
}

func (r *registry) register(b Binding) error {
	if err := b.validate(); err != nil {
		return &BindingError{API: b.API, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.bindings[b.API]
	if ok && existing.Cardinality == Shared && existing.Priority >= b.Priority {
		return &BindingError{API: b.API, Err: ErrDuplicateBinding}
	}
	if !ok {
		r.order = append(r.order, b.API)
	}
	r.bindings[b.API] = b
	return nil
}

func (r *registry) addMember(b Binding, owner *Scope) error {
	if err := b.validate(); err != nil {
		return &BindingError{API: b.API, Err: err}
	}

	r.mu.Lock()
	g, ok := r.groups[b.API]
	if !ok {
		g = &group{api: b.API}
		r.groups[b.API] = g
	}
	r.mu.Unlock()

	g.add(&groupMember{group: g, binding: b, owner: owner})
	return nil
}

func (r *registry) lookup(api reflect.Type) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[api]
	return b, ok
}

func (r *registry) group(api reflect.Type) *group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groups[api]
}

func (r *registry) bound(api reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[api]
	if !ok {
		_, ok = r.groups[api]
	}
	return ok
}

func (r *registry) deferTo(apis []reflect.Type, load func() error) {
	d := &deferredLoad{load: load}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, api := range apis {
		r.deferred[api] = d
	}
}

// loadDeferred runs the deferred provider declaring api, once. It reports
// whether a loader existed.
func (r *registry) loadDeferred(api reflect.Type) (bool, error) {
	r.mu.RLock()
	d, ok := r.deferred[api]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}
	d.once.Do(func() { d.err = d.load() })
	return true, d.err
}

func (r *registry) infos() []BindingInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BindingInfo, 0, len(r.order))
	for _, api := range r.order {
		out = append(out, r.bindings[api].info(false))
	}
	apis := make([]reflect.Type, 0, len(r.groups))
	for api := range r.groups {
		apis = append(apis, api)
	}
	sort.Slice(apis, func(i, j int) bool { return apis[i].String() < apis[j].String() })
	for _, api := range apis {
		for _, m := range r.groups[api].snapshot() {
			out = append(out, m.binding.info(true))
		}
	}
	return out
}

func (r *registry) types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]reflect.Type(nil), r.order...)
	for api := range r.groups {
		out = append(out, api)
	}
	return out
}
