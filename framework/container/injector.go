package container

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

// ResolveOption configures a single resolution request.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	tags []any
}

// WithTags seeds the ambient context of the request.
//
//	svc, err := container.Resolve[Service](s, container.WithTags(Region("eu")))
func WithTags(tags ...any) ResolveOption {
	return func(o *resolveOptions) { o.tags = append(o.tags, tags...) }
}

func collect(opts []ResolveOption) resolveOptions {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ── Entry points ──────────────────────────────────────────────────────────────

// Resolve returns the component satisfying api. Singletons come from the
// cache of the owning scope; stateful bindings are built afresh.
// Prefer the generic [Resolve] helper over calling this method directly.
func (s *Scope) Resolve(api reflect.Type, opts ...ResolveOption) (any, error) {
	if s.closed.Load() {
		return nil, ErrScopeClosed
	}
	ss, req := s.start(api, collect(opts))
	return ss.resolve(req)
}

// ResolveGroup returns every member of the component group bound to api, in
// group order.
func (s *Scope) ResolveGroup(api reflect.Type, opts ...ResolveOption) ([]any, error) {
	if s.closed.Load() {
		return nil, ErrScopeClosed
	}
	ss, req := s.start(api, collect(opts))
	return ss.resolveGroup(req)
}

// joinedCall is a running resolution that a scope temporarily belongs to.
type joinedCall struct {
	sess      *session
	declaring reflect.Type
}

// start returns the session a request on s runs in: the joined resolution
// while a factory is producing into s, a new one otherwise.
func (s *Scope) start(api reflect.Type, o resolveOptions) (*session, request) {
	req := s.request(api, o)
	if j := s.joined.Load(); j != nil {
		req.declaring = j.declaring
		return j.sess, req
	}
	return s.engine.newSession(Path{}), req
}

func (s *Scope) request(api reflect.Type, o resolveOptions) request {
	return request{
		api:    api,
		scope:  s,
		domain: s.domainRoot(),
		ctx:    NewContext(s.engine.tags, o.tags...),
		kind:   Mandatory,
	}
}

// Resolve is a generic helper that resolves T from the scope. It is the
// recommended way to retrieve components:
//
//	key, err := container.Resolve[Key](s)
func Resolve[T any](s *Scope, opts ...ResolveOption) (T, error) {
	var zero T
	v, err := s.Resolve(TypeOf[T](), opts...)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: cannot convert %T to %s", v, TypeOf[T]())
	}
	return out, nil
}

// MustResolve is like Resolve but panics on failure.
func MustResolve[T any](s *Scope, opts ...ResolveOption) T {
	v, err := Resolve[T](s, opts...)
	if err != nil {
		panic(err)
	}
	return v
}

// ResolveGroup is the generic form of [Scope.ResolveGroup].
func ResolveGroup[T any](s *Scope, opts ...ResolveOption) ([]T, error) {
	vs, err := s.ResolveGroup(TypeOf[T](), opts...)
	if err != nil {
		return nil, err
	}
	return convertAll[T](vs)
}

func convertAll[T any](vs []any) ([]T, error) {
	out := make([]T, 0, len(vs))
	for _, v := range vs {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("container: cannot convert %T to %s", v, TypeOf[T]())
		}
		out = append(out, t)
	}
	return out, nil
}

// ── Session ───────────────────────────────────────────────────────────────────

// session is one synchronous resolution call chain. It owns the reference
// chain tracker and is confined to the goroutine that started it.
type session struct {
	eng     *engine
	tracker tracker

	// built holds constructions whose Instantiated events wait until the
	// outermost frame of the session has returned, so that observers and
	// AfterResolving callbacks run outside every in-flight cache key.
	built []construction
}

type construction struct {
	path     Path
	concrete reflect.Type
	instance any
}

func (ss *session) constructed(path Path, concrete reflect.Type, instance any) {
	ss.built = append(ss.built, construction{path: path, concrete: concrete, instance: instance})
}

// publish fires the queued Instantiated events once no frame of the
// session is in flight.
func (ss *session) publish() {
	if len(ss.tracker.frames) > 0 {
		return
	}
	for len(ss.built) > 0 {
		c := ss.built[0]
		ss.built = ss.built[1:]
		ss.eng.hub.instantiated(c.path, c.concrete, c.instance)
	}
}

func (e *engine) newSession(base Path) *session {
	return &session{eng: e, tracker: tracker{base: base}}
}

// request is one reference to resolve.
type request struct {
	api reflect.Type

	// scope is where lookup starts.
	scope *Scope

	// domain is the nearest Domain scope of the original request, if any.
	domain *Scope

	// ctx is the context at the reference site, before the referenced
	// component filters it.
	ctx Context

	declaring reflect.Type
	kind      ParamKind
}

// at returns the path extended with the reference being resolved.
func (ss *session) at(req request) Path {
	return ss.tracker.snapshot().append(Frame{Requested: req.api, Context: req.ctx})
}

func (ss *session) resolve(req request) (any, error) {
	if req.scope.closed.Load() {
		return nil, annotate(ErrScopeClosed, ss.at(req))
	}
	b, owner, err := req.scope.lookup(req.api)
	if err != nil {
		return nil, annotate(err, ss.at(req))
	}
	return ss.resolveBinding(req, b, owner, nil)
}

func (ss *session) resolveBinding(req request, b Binding, owner *Scope, member *groupMember) (any, error) {
	bound := b.bound()
	if f := ss.tracker.find(bound); f != nil {
		return ss.circular(req, f, bound)
	}

	caller := ss.tracker.snapshot()
	ss.eng.hub.descending(caller, req.declaring, req.api)
	defer ss.eng.hub.ascending(caller, req.declaring, req.api)

	f := &frame{
		Frame: Frame{
			Requested: req.api,
			Bound:     bound,
			Context:   Accept(req.ctx, siteOf(b), ss.eng.tags),
		},
		member: member,
	}
	if member == nil {
		ss.discover(f)
	}

	ss.tracker.push(f)
	v, err := ss.produce(req, b, owner, f)
	ss.tracker.pop(f, err)

	for _, r := range f.resolvers {
		r.live.Store(false)
	}
	for _, p := range f.placeholders {
		p.fill(v, err)
	}
	ss.publish()
	return v, err
}

// produce returns the component of frame f, from the cache when the binding
// is a singleton.
func (ss *session) produce(req request, b Binding, owner *Scope, f *frame) (any, error) {
	path := ss.tracker.snapshot()
	ss.eng.hub.resolved(path, f.Bound)

	// Components bound above a domain scope are cached in the domain scope
	// when requested through it.
	holder := owner
	if req.domain != nil && owner.isAncestorOf(req.domain) {
		holder = req.domain
	}

	var build func() (any, error)
	switch t := b.Target.(type) {
	case InstanceTarget:
		f.state = Active
		return t.Value, nil
	case ClassTarget:
		build = func() (any, error) { return ss.construct(f, t.Class, owner, req.domain) }
	case FactoryTarget:
		build = func() (any, error) { return ss.fromFactory(f, t, owner, req.domain, b.Cardinality == Stateful) }
	case VariantTarget:
		build = func() (any, error) { return ss.fromVariant(f, t, owner, req.domain, b.Cardinality == Stateful) }
	default:
		return nil, &ResolutionError{Path: path, Err: fmt.Errorf("%w: %s", ErrInvalidTarget, b.describe())}
	}

	if b.Cardinality == Stateful {
		v, err := build()
		if err == nil {
			holder.cache.track(v)
		}
		return v, err
	}

	key := CacheKey{Bound: f.Bound, Context: f.Context.Key(), Scope: holder.id}
	v, err := holder.cache.getOrCreate(ss, key, build)
	if err == errWaitCycle {
		return ss.waitCycle(req, f, holder, key)
	}
	return v, err
}

// construct selects the constructor of class, resolves its parameters and
// members against scope and builds the instance.
func (ss *session) construct(f *frame, class *Class, scope, domain *Scope) (any, error) {
	f.state = Active
	path := ss.tracker.snapshot()

	ctor, err := class.selectConstructor()
	if err != nil {
		return nil, &ResolutionError{Path: path, Err: err}
	}

	args := make([]reflect.Value, len(ctor.Params))
	for i, p := range ctor.Params {
		arg, err := ss.inject(f, p, scope, domain)
		if err != nil {
			return nil, err
		}
		args[i] = arg
	}

	instance, err := invoke(path, func() (any, error) { return ctor.Call(args) })
	if err != nil {
		return nil, err
	}

	for _, m := range class.Members {
		if m.Unset != nil {
			unset, err := invoke(path, func() (any, error) { return m.Unset(instance) })
			if err != nil {
				return nil, err
			}
			if !unset.(bool) {
				continue
			}
		}
		arg, err := ss.inject(f, m.Param, scope, domain)
		if err != nil {
			return nil, err
		}
		if _, err := invoke(path, func() (any, error) { return nil, m.Set(instance, arg) }); err != nil {
			return nil, err
		}
	}

	ss.eng.log.WithFields(logrus.Fields{
		"type":    typeName(f.Bound),
		"context": f.Context.Key(),
		"scope":   scope.id,
	}).Debug("component constructed")

	ss.constructed(path, f.Bound, instance)
	return instance, nil
}

// inject produces the argument for one parameter of the component in f.
func (ss *session) inject(f *frame, p Param, scope, domain *Scope) (reflect.Value, error) {
	req := request{
		api:       p.API,
		scope:     scope,
		domain:    domain,
		ctx:       f.Context.With(ss.eng.tags, p.Tags...),
		declaring: f.Bound,
		kind:      p.Kind,
	}

	switch p.Kind {
	case Mandatory:
		v, err := ss.resolve(req)
		if err != nil {
			return reflect.Value{}, err
		}
		if err := checkAssignable(v, p.API, ss.at(req)); err != nil {
			return reflect.Value{}, err
		}
		return p.single(v, true), nil

	case OptionalParam:
		if _, _, err := scope.lookup(p.API); errors.Is(err, ErrNotBound) {
			return p.single(nil, false), nil
		}
		v, err := ss.resolve(req)
		if refusedAt(err, p.API) {
			return p.single(nil, false), nil
		}
		if err != nil {
			return reflect.Value{}, err
		}
		if err := checkAssignable(v, p.API, ss.at(req)); err != nil {
			return reflect.Value{}, err
		}
		return p.single(v, true), nil

	case GroupParam:
		vs, err := ss.resolveGroup(req)
		if err != nil {
			return reflect.Value{}, err
		}
		if len(vs) == 0 && !p.optionalGroup {
			return reflect.Value{}, &ResolutionError{
				Path: ss.at(req),
				Err:  fmt.Errorf("%w: group %s has no members", ErrNotBound, typeName(p.API)),
			}
		}
		return p.many(vs), nil

	case DeferredParam:
		r := ss.bind(f, scope, domain)
		lreq := req
		lreq.kind = Mandatory
		return p.lazy(&deferred{resolve: func() (any, error) {
			return r.session().resolve(lreq)
		}}), nil

	case ContextParam:
		return reflect.ValueOf(f.Context), nil

	case ResolverParam:
		return reflect.ValueOf(ss.bind(f, scope, domain)), nil
	}

	return reflect.Value{}, &ResolutionError{Path: ss.at(req), Err: fmt.Errorf("unknown parameter kind %s", p.Kind)}
}

// bind returns a resolver tied to f. It joins ss while f is under
// construction and starts new sessions from the path of f afterwards.
func (ss *session) bind(f *frame, scope, domain *Scope) *resolver {
	r := &resolver{
		sess:      ss,
		scope:     scope,
		domain:    domain,
		declaring: f.Bound,
		ctx:       f.Context,
		base:      ss.tracker.snapshot(),
	}
	r.live.Store(true)
	f.resolvers = append(f.resolvers, r)
	return r
}

// circular handles a reference to bound while f is still constructing it.
// Interface references with a registered proxy receive a placeholder;
// everything else is a hard cycle. Cycles through a group member are always
// hard.
func (ss *session) circular(req request, f *frame, bound reflect.Type) (any, error) {
	path := ss.tracker.snapshot().append(Frame{Requested: req.api, Bound: bound, Context: req.ctx})

	if proxy := ss.bridgeable(req, f.member); proxy != nil {
		p := newPlaceholder(req.api, path)
		f.placeholders = append(f.placeholders, p)
		ss.eng.hub.circular(path)
		ss.eng.log.WithField("path", path.String()).Debug("circular reference bridged by placeholder")
		return proxy(p.get), nil
	}
	return nil, &CircularReferencesError{ResolutionError{Path: path}}
}

// waitCycle handles a component that another resolution call is building
// while that call, directly or through further calls, waits on this one.
// The placeholder of a bridged reference finds the component in the cache
// once the other call has stored it.
func (ss *session) waitCycle(req request, f *frame, holder *Scope, key CacheKey) (any, error) {
	path := ss.tracker.snapshot()
	if proxy := ss.bridgeable(req, f.member); proxy != nil {
		p := newPlaceholder(req.api, path)
		p.lookup = func() (any, bool) { return holder.cache.get(key) }
		ss.eng.hub.circular(path)
		ss.eng.log.WithField("path", path.String()).Debug("concurrent circular reference bridged by placeholder")
		return proxy(p.get), nil
	}
	return nil, &CircularReferencesError{ResolutionError{Path: path}}
}

// bridgeable returns the proxy adapter standing in for req, or nil when a
// cycle through req is a hard failure.
func (ss *session) bridgeable(req request, member *groupMember) proxyFunc {
	if member != nil || req.kind != Mandatory || req.api.Kind() != reflect.Interface {
		return nil
	}
	return ss.eng.proxy(req.api)
}

// ── Groups ────────────────────────────────────────────────────────────────────

func (ss *session) resolveGroup(req request) ([]any, error) {
	if req.scope.closed.Load() {
		return nil, annotate(ErrScopeClosed, ss.at(req))
	}
	if ss.tracker.groupFrame(req.api) != nil {
		return nil, &CircularReferencesError{ResolutionError{Path: ss.at(req)}}
	}

	caller := ss.tracker.snapshot()
	ss.eng.hub.descending(caller, req.declaring, req.api)
	defer ss.eng.hub.ascending(caller, req.declaring, req.api)

	members := req.scope.lookupGroup(req.api)
	results := make(map[*groupMember]any, len(members))
	for _, m := range members {
		v, err := ss.resolveMember(req, m)
		if err != nil {
			return nil, err
		}
		results[m] = v
	}

	// Members may have been reordered by discoveries made while the loop
	// above was constructing them.
	out := make([]any, 0, len(results))
	for _, m := range req.scope.lookupGroup(req.api) {
		if v, ok := results[m]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (ss *session) resolveMember(req request, m *groupMember) (any, error) {
	req.scope = m.owner
	if alias, ok := m.binding.Target.(AliasTarget); ok {
		b, owner, err := m.owner.lookup(alias.To)
		if err != nil {
			return nil, annotate(err, ss.at(req))
		}
		return ss.resolveBinding(req, b, owner, nil)
	}
	return ss.resolveBinding(req, m.binding, m.owner, m)
}

// discover marks f as a group member when it is resolved while another
// member of the same group is being constructed, and moves it right behind
// that member in the group order.
func (ss *session) discover(f *frame) {
	for i := len(ss.tracker.frames) - 1; i >= 0; i-- {
		mf := ss.tracker.frames[i]
		if mf.member == nil {
			continue
		}
		g := mf.member.group
		m := g.memberBound(f.Bound)
		if m == nil || m == mf.member {
			continue
		}
		if g.splice(mf.member, m) {
			ss.eng.log.WithFields(logrus.Fields{
				"group":      typeName(g.api),
				"discoverer": typeName(mf.Bound),
				"discovered": typeName(f.Bound),
			}).Debug("group member moved behind its discoverer")
		}
		f.member = m
		return
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func siteOf(b Binding) Site {
	switch t := b.Target.(type) {
	case ClassTarget:
		return t.Class.site()
	case FactoryTarget:
		return productSite(t.Factory, t.Accepts)
	case VariantTarget:
		return productSite(t.Factory, t.Accepts)
	default:
		return Site{Name: typeName(b.API)}
	}
}

func productSite(factory *Class, accepts []reflect.Type) Site {
	site := factory.site()
	site.Accepts = append(append([]reflect.Type(nil), site.Accepts...), accepts...)
	return site
}

// invoke runs user code, turning returned errors and panics into
// InstantiationErrors. Errors that already carry a path pass through.
func invoke(path Path, fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("panic: %v", r)
			}
			v, err = nil, &InstantiationError{ResolutionError{Path: path, Err: cause}}
		}
	}()

	v, err = fn()
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &InstantiationError{ResolutionError{Path: path, Err: err}}
	}
	return v, nil
}

func checkAssignable(v any, api reflect.Type, path Path) error {
	if v == nil || reflect.TypeOf(v).AssignableTo(api) {
		return nil
	}
	return &ResolutionError{Path: path, Err: fmt.Errorf("%w: %T does not implement %s", ErrInvalidTarget, v, api)}
}

// refusedAt reports whether err is a variant refusal for api itself rather
// than for one of its transitive dependencies.
func refusedAt(err error, api reflect.Type) bool {
	if !errors.Is(err, ErrFactoryRefused) {
		return false
	}
	var re *ResolutionError
	if !errors.As(err, &re) {
		return false
	}
	last, ok := re.Path.Last()
	return ok && last.Requested == api
}
