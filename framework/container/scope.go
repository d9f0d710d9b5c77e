package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ScopeKind distinguishes the root scope from the two kinds of child scope.
type ScopeKind int

const (
	// Global is the root scope created by [New].
	Global ScopeKind = iota

	// Domain scopes keep their own cache for everything resolved beneath
	// them, including components whose binding lives in an ancestor.
	Domain

	// Local scopes add bindings on top of their parent; components bound
	// in an ancestor stay cached in that ancestor.
	Local
)

// String returns the human-readable name of the scope kind.
func (k ScopeKind) String() string {
	switch k {
	case Global:
		return "global"
	case Domain:
		return "domain"
	case Local:
		return "local"
	default:
		return "unknown"
	}
}

// ── Engine ────────────────────────────────────────────────────────────────────

// engine is the state shared by every scope of one tree.
type engine struct {
	tags *TagRegistry
	log  logrus.FieldLogger
	hub  *hub

	flights *flights

	mu      sync.RWMutex
	proxies map[reflect.Type]proxyFunc
}

func (e *engine) setProxy(api reflect.Type, p proxyFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.proxies[api] = p
}

func (e *engine) proxy(api reflect.Type) proxyFunc {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proxies[api]
}

// Option configures the engine behind a scope tree.
type Option func(*engine)

// WithLogger sets the logger used for engine diagnostics. The default
// discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver attaches an [Observer] to every resolution in the tree.
func WithObserver(o Observer) Option {
	return func(e *engine) { e.hub.add(o) }
}

// WithTagRegistry sets the composition rules of qualifier tags.
func WithTagRegistry(r *TagRegistry) Option {
	return func(e *engine) {
		if r != nil {
			e.tags = r
		}
	}
}

// ── Scope ─────────────────────────────────────────────────────────────────────

// Scope is a resolution boundary with its own bindings and cache and an
// optional parent it defaults to.
//
// It supports:
//   - Register / RegisterGroup and the generic Singleton, Bind, Instance,
//     Factory, Variant, Alias and Member helpers
//   - Resolve / ResolveGroup (and the generic forms)
//   - Child and Domain scopes with deterministic disposal through Close
//   - Analyze: static traversal of the binding graph
type Scope struct {
	id     uuid.UUID
	kind   ScopeKind
	parent *Scope
	engine *engine

	reg   *registry
	cache *cache

	mu       sync.Mutex
	children []*Scope

	// joined is the resolution a factory is producing into this scope while
	// the factory runs.
	joined atomic.Pointer[joinedCall]

	closed atomic.Bool
}

// New creates the global scope of a new tree.
func New(opts ...Option) *Scope {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &engine{
		tags:    NewTagRegistry(),
		log:     discard,
		hub:     newHub(),
		flights: newFlights(),
		proxies: make(map[reflect.Type]proxyFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return newScope(Global, nil, e)
}

func newScope(kind ScopeKind, parent *Scope, e *engine) *Scope {
	return &Scope{
		id:     uuid.New(),
		kind:   kind,
		parent: parent,
		engine: e,
		reg:    newRegistry(),
		cache:  newCache(e.flights),
	}
}

// ID returns the scope identity used in cache keys.
func (s *Scope) ID() uuid.UUID { return s.id }

// Kind returns the kind of the scope.
func (s *Scope) Kind() ScopeKind { return s.kind }

// Parent returns the parent scope, or nil for the global scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Tags returns the tag registry shared by the tree.
func (s *Scope) Tags() *TagRegistry { return s.engine.tags }

// Logger returns the engine logger.
func (s *Scope) Logger() logrus.FieldLogger { return s.engine.log }

// AddObserver attaches another observer to the tree.
func (s *Scope) AddObserver(o Observer) { s.engine.hub.add(o) }

// AfterResolving registers a callback fired after every real construction in
// the tree, once the instance has been published to the observers. Callbacks
// run after the outermost resolution that built the instance has returned,
// so they may resolve from the tree themselves.
//
//	s.AfterResolving(func(t reflect.Type, v any) {
//	    if w, ok := v.(Warmer); ok {
//	        w.Warm()
//	    }
//	})
func (s *Scope) AfterResolving(cb func(concrete reflect.Type, instance any)) {
	if cb != nil {
		s.engine.hub.afterResolving(cb)
	}
}

// Child creates a Local child scope.
func (s *Scope) Child() (*Scope, error) { return s.spawn(Local) }

// Domain creates a Domain child scope.
func (s *Scope) Domain() (*Scope, error) { return s.spawn(Domain) }

func (s *Scope) spawn(kind ScopeKind) (*Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrScopeClosed
	}
	child := newScope(kind, s, s.engine)
	s.children = append(s.children, child)
	return child, nil
}

// Children returns the live child scopes.
func (s *Scope) Children() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Scope(nil), s.children...)
}

// Find returns the scope with the given id in the subtree rooted at s.
func (s *Scope) Find(id uuid.UUID) (*Scope, bool) {
	if s.id == id {
		return s, true
	}
	for _, c := range s.Children() {
		if found, ok := c.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool { return s.closed.Load() }

// Close disposes the scope: child scopes first, newest first, then every
// instance the scope cached or tracked that implements [io.Closer], in
// reverse construction order. The context bounds the whole operation; once
// it expires remaining closers are skipped and the context error is
// included in the result.
//
// Close is safe to call multiple times; subsequent calls return
// [ErrScopeClosed].
func (s *Scope) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return ErrScopeClosed
	}
	children := s.children
	s.children = nil
	s.mu.Unlock()

	var errs []error
	for i := len(children) - 1; i >= 0; i-- {
		if err := children[i].Close(ctx); err != nil && !errors.Is(err, ErrScopeClosed) {
			errs = append(errs, err)
		}
	}

	for _, closer := range s.cache.drain() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.parent != nil {
		s.parent.removeChild(s)
	}

	err := errors.Join(errs...)
	if err != nil {
		s.engine.log.WithError(err).WithField("scope", s.id).Warn("scope closed with errors")
	} else {
		s.engine.log.WithField("scope", s.id).Debug("scope closed")
	}
	return err
}

func (s *Scope) removeChild(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.children {
		if c == child {
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// isAncestorOf reports whether s is a strict ancestor of other.
func (s *Scope) isAncestorOf(other *Scope) bool {
	for cur := other.parent; cur != nil; cur = cur.parent {
		if cur == s {
			return true
		}
	}
	return false
}

// domainRoot returns the nearest Domain scope at or above s.
func (s *Scope) domainRoot() *Scope {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.kind == Domain {
			return cur
		}
	}
	return nil
}

// ── Registration ──────────────────────────────────────────────────────────────

// Register adds a binding to the scope. It fails with a [*BindingError] when
// the target cannot be instantiated or when a singleton binding for the same
// type with equal or higher priority already exists in this scope.
func (s *Scope) Register(b Binding) error {
	if s.closed.Load() {
		return &BindingError{API: b.API, Err: ErrScopeClosed}
	}
	if err := s.reg.register(b); err != nil {
		return err
	}
	s.engine.log.WithFields(logrus.Fields{
		"api":    typeName(b.API),
		"target": b.describe(),
		"scope":  s.id,
	}).Trace("binding registered")
	return nil
}

// RegisterGroup appends a member to the component group of b.API.
func (s *Scope) RegisterGroup(b Binding) error {
	if s.closed.Load() {
		return &BindingError{API: b.API, Err: ErrScopeClosed}
	}
	return s.reg.addMember(b, s)
}

// Singleton binds API to a cached class.
//
//	container.Singleton[Key](s, container.Provide(NewValue))
func Singleton[API any](s *Scope, class *Class) error {
	return s.Register(Binding{API: TypeOf[API](), Target: ClassTarget{Class: class}})
}

// Bind binds API to a class constructed afresh on every resolution.
func Bind[API any](s *Scope, class *Class) error {
	return s.Register(Binding{API: TypeOf[API](), Target: ClassTarget{Class: class}, Cardinality: Stateful})
}

// Instance binds API to a pre-built value.
func Instance[API any](s *Scope, v API) error {
	return s.Register(Binding{API: TypeOf[API](), Target: InstanceTarget{Value: v}})
}

// Factory binds API to the products of a [ComponentFactory] class.
// accepts lists the tag types the product sees besides those the factory
// class itself accepts.
func Factory[API any](s *Scope, factory *Class, accepts ...reflect.Type) error {
	return s.Register(Binding{API: TypeOf[API](), Target: FactoryTarget{Factory: factory, Accepts: accepts}})
}

// Variant binds API to whatever a [VariantFactory] class selects.
func Variant[API any](s *Scope, factory *Class, accepts ...reflect.Type) error {
	return s.Register(Binding{API: TypeOf[API](), Target: VariantTarget{Factory: factory, Accepts: accepts}})
}

// Alias makes lookups of API resolve To instead.
func Alias[API, To any](s *Scope) error {
	return s.Register(Binding{API: TypeOf[API](), Target: AliasTarget{To: TypeOf[To]()}})
}

// Member appends a class to the component group of API.
func Member[API any](s *Scope, class *Class, card Cardinality) error {
	return s.RegisterGroup(Binding{API: TypeOf[API](), Target: ClassTarget{Class: class}, Cardinality: card})
}

// ── Lookup ────────────────────────────────────────────────────────────────────

// Lookup returns the binding satisfying api and the scope declaring it. The
// scope chain is searched from s outwards; aliases are followed.
func (s *Scope) Lookup(api reflect.Type) (Binding, *Scope, error) {
	return s.lookup(api)
}

func (s *Scope) lookup(api reflect.Type) (Binding, *Scope, error) {
	var seen map[reflect.Type]bool
	start := s
	for {
		b, owner, err := start.lookupDirect(api)
		if err != nil {
			return Binding{}, nil, err
		}
		alias, ok := b.Target.(AliasTarget)
		if !ok {
			return b, owner, nil
		}
		if seen == nil {
			seen = make(map[reflect.Type]bool)
		}
		if seen[api] {
			return Binding{}, nil, fmt.Errorf("%w: alias loop at %s", ErrInvalidTarget, api)
		}
		seen[api] = true
		api, start = alias.To, owner
	}
}

func (s *Scope) lookupDirect(api reflect.Type) (Binding, *Scope, error) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.reg.lookup(api); ok {
			return b, cur, nil
		}
		loaded, err := cur.reg.loadDeferred(api)
		if err != nil {
			return Binding{}, nil, err
		}
		if loaded {
			if b, ok := cur.reg.lookup(api); ok {
				return b, cur, nil
			}
		}
	}
	return Binding{}, nil, fmt.Errorf("%w: %s", ErrNotBound, typeName(api))
}

// lookupGroup returns the members of the group api across the scope chain,
// members declared in ancestors first.
func (s *Scope) lookupGroup(api reflect.Type) []*groupMember {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	var out []*groupMember
	for i := len(chain) - 1; i >= 0; i-- {
		if g := chain[i].reg.group(api); g != nil {
			out = append(out, g.snapshot()...)
		}
	}
	return out
}

// LookupGroup returns the member bindings of the group api visible from s, in
// group order.
func (s *Scope) LookupGroup(api reflect.Type) []Binding {
	members := s.lookupGroup(api)
	out := make([]Binding, len(members))
	for i, m := range members {
		out[i] = m.binding
	}
	return out
}

// Bound reports whether api has a binding or group in s or an ancestor.
func (s *Scope) Bound(api reflect.Type) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.reg.bound(api) {
			return true
		}
	}
	return false
}

// Bindings describes the bindings declared directly in s.
func (s *Scope) Bindings() []BindingInfo { return s.reg.infos() }

// CachedCount returns the number of instances cached by s.
func (s *Scope) CachedCount() int { return s.cache.len() }

// TypeByName finds a bound type in s or an ancestor by its String form.
func (s *Scope) TypeByName(name string) (reflect.Type, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		for _, t := range cur.reg.types() {
			if t.String() == name {
				return t, true
			}
		}
	}
	return nil, false
}

// Defer registers load to run the first time one of apis is looked up in s.
func (s *Scope) Defer(apis []reflect.Type, load func() error) {
	s.reg.deferTo(apis, load)
}
