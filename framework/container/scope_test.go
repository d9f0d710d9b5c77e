package container_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-inject/framework/container"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type Greeter interface{ Greet() string }

type english struct{ id int64 }

func (e *english) Greet() string { return "hello" }

type french struct{ formal bool }

func (f *french) Greet() string { return "bonjour" }

// counting returns a constructor for *english that numbers its products.
func counting(n *atomic.Int64) func() *english {
	return func() *english { return &english{id: n.Add(1)} }
}

type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *closeLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type dbConn struct {
	log *closeLog
	err error
}

func (c *dbConn) Close() error {
	c.log.add("db")
	return c.err
}

type repo struct {
	db  *dbConn
	log *closeLog
}

func (r *repo) Close() error {
	r.log.add("repo")
	return nil
}

// ── Registration ──────────────────────────────────────────────────────────────

func TestRegister_DuplicateSingleton_Rejected(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Singleton[Greeter](s, container.Provide(func() *english { return &english{} })))

	err := container.Singleton[Greeter](s, container.Provide(func() *french { return &french{} }))

	var be *container.BindingError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, container.ErrDuplicateBinding)
	assert.Equal(t, container.TypeOf[Greeter](), be.API)
}

func TestRegister_HigherPriority_Replaces(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Singleton[Greeter](s, container.Provide(func() *english { return &english{} })))
	require.NoError(t, s.Register(container.Binding{
		API:      container.TypeOf[Greeter](),
		Target:   container.ClassTarget{Class: container.Provide(func() *french { return &french{} })},
		Priority: 1,
	}))

	g, err := container.Resolve[Greeter](s)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", g.Greet())
}

func TestRegister_StatefulBinding_CanBeReplaced(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Bind[Greeter](s, container.Provide(func() *english { return &english{} })))
	require.NoError(t, container.Singleton[Greeter](s, container.Provide(func() *french { return &french{} })))

	g, err := container.Resolve[Greeter](s)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", g.Greet())
}

func TestRegister_InvalidTargets(t *testing.T) {
	tests := []struct {
		name     string
		register func(s *container.Scope) error
	}{
		{"class does not implement api", func(s *container.Scope) error {
			return container.Singleton[Greeter](s, container.Provide(func() *dbConn { return &dbConn{} }))
		}},
		{"constructor is not a function", func(s *container.Scope) error {
			return container.Singleton[Greeter](s, container.Provide("not a function"))
		}},
		{"constructor without results", func(s *container.Scope) error {
			return container.Singleton[Greeter](s, container.NewClass[*english](container.Ctor(func() {})))
		}},
		{"parameter type mismatch", func(s *container.Scope) error {
			return container.Singleton[Greeter](s, container.Provide(
				func(n int) *english { return &english{} },
				container.Ref[string](),
			))
		}},
		{"interface class", func(s *container.Scope) error {
			return container.Singleton[Greeter](s, container.NewClass[Greeter](container.Ctor(func() Greeter { return &english{} })))
		}},
		{"nil instance", func(s *container.Scope) error {
			return container.Instance[Greeter](s, nil)
		}},
		{"alias to itself", func(s *container.Scope) error {
			return container.Alias[Greeter, Greeter](s)
		}},
		{"factory without ComponentFactory", func(s *container.Scope) error {
			return container.Factory[Greeter](s, container.Provide(func() *english { return &english{} }))
		}},
		{"variant without VariantFactory", func(s *container.Scope) error {
			return container.Variant[Greeter](s, container.Provide(func() *english { return &english{} }))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.register(container.New())

			var be *container.BindingError
			assert.ErrorAs(t, err, &be)
			assert.ErrorIs(t, err, container.ErrInvalidTarget)
		})
	}
}

func TestResolve_NotBound(t *testing.T) {
	s := container.New()

	_, err := container.Resolve[Greeter](s)

	assert.ErrorIs(t, err, container.ErrNotBound)
	var re *container.ResolutionError
	require.ErrorAs(t, err, &re)
	last, ok := re.Path.Last()
	require.True(t, ok)
	assert.Equal(t, container.TypeOf[Greeter](), last.Requested)
}

func TestMustResolve_PanicsWhenNotBound(t *testing.T) {
	s := container.New()

	assert.Panics(t, func() { container.MustResolve[Greeter](s) })
}

// ── Cardinality ───────────────────────────────────────────────────────────────

func TestSingleton_SameInstanceEveryTime(t *testing.T) {
	s := container.New()
	var n atomic.Int64
	require.NoError(t, container.Singleton[Greeter](s, container.Provide(counting(&n))))

	a := container.MustResolve[Greeter](s)
	b := container.MustResolve[Greeter](s)

	assert.Same(t, a, b)
	assert.Equal(t, int64(1), n.Load())
}

func TestStateful_FreshInstanceEveryTime(t *testing.T) {
	s := container.New()
	var n atomic.Int64
	require.NoError(t, container.Bind[Greeter](s, container.Provide(counting(&n))))

	a := container.MustResolve[Greeter](s)
	b := container.MustResolve[Greeter](s)

	assert.NotSame(t, a, b)
	assert.Equal(t, int64(2), n.Load())
}

type handler struct{ db *dbConn }

func TestStateful_DependenciesStayCached(t *testing.T) {
	s := container.New()
	log := &closeLog{}
	require.NoError(t, container.Singleton[*dbConn](s, container.Provide(func() *dbConn { return &dbConn{log: log} })))
	require.NoError(t, container.Bind[*handler](s, container.Provide(func(db *dbConn) *handler { return &handler{db: db} })))

	h1 := container.MustResolve[*handler](s)
	h2 := container.MustResolve[*handler](s)

	assert.NotSame(t, h1, h2)
	assert.Same(t, h1.db, h2.db)
}

func TestInstance_ReturnsTheValue(t *testing.T) {
	s := container.New()
	e := &english{id: 42}
	require.NoError(t, container.Instance[Greeter](s, e))

	g := container.MustResolve[Greeter](s)

	assert.Same(t, e, g)
}

func TestAlias_SharesTheTargetInstance(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Singleton[*english](s, container.Provide(func() *english { return &english{} })))
	require.NoError(t, container.Alias[Greeter, *english](s))

	g := container.MustResolve[Greeter](s)
	e := container.MustResolve[*english](s)

	assert.Same(t, e, g)
}

type otherGreeter interface{ Greet() string }

func TestAlias_LoopIsRejectedAtLookup(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Alias[Greeter, otherGreeter](s))
	require.NoError(t, container.Alias[otherGreeter, Greeter](s))

	_, err := container.Resolve[Greeter](s)

	assert.ErrorIs(t, err, container.ErrInvalidTarget)
}

// ── Scopes ────────────────────────────────────────────────────────────────────

func TestLocalChild_UsesAncestorCache(t *testing.T) {
	root := container.New()
	var n atomic.Int64
	require.NoError(t, container.Singleton[Greeter](root, container.Provide(counting(&n))))

	child, err := root.Child()
	require.NoError(t, err)

	assert.Same(t, container.MustResolve[Greeter](root), container.MustResolve[Greeter](child))
	assert.Equal(t, 1, root.CachedCount())
	assert.Equal(t, 0, child.CachedCount())
}

func TestLocalChild_OverridesParentBinding(t *testing.T) {
	root := container.New()
	require.NoError(t, container.Singleton[Greeter](root, container.Provide(func() *english { return &english{} })))
	child, err := root.Child()
	require.NoError(t, err)
	require.NoError(t, container.Singleton[Greeter](child, container.Provide(func() *french { return &french{} })))

	assert.Equal(t, "hello", container.MustResolve[Greeter](root).Greet())
	assert.Equal(t, "bonjour", container.MustResolve[Greeter](child).Greet())
}

func TestDomain_KeepsItsOwnInstances(t *testing.T) {
	root := container.New()
	var n atomic.Int64
	require.NoError(t, container.Singleton[Greeter](root, container.Provide(counting(&n))))

	d1, err := root.Domain()
	require.NoError(t, err)
	d2, err := root.Domain()
	require.NoError(t, err)
	nested, err := d1.Child()
	require.NoError(t, err)

	g1 := container.MustResolve[Greeter](d1)
	g2 := container.MustResolve[Greeter](d2)
	g0 := container.MustResolve[Greeter](root)

	assert.NotSame(t, g1, g2)
	assert.NotSame(t, g0, g1)
	assert.Same(t, g1, container.MustResolve[Greeter](d1))
	assert.Same(t, g1, container.MustResolve[Greeter](nested), "a local scope below a domain shares the domain cache")
	assert.Equal(t, int64(3), n.Load())
	assert.Equal(t, 1, d1.CachedCount())
}

func TestScope_FindAndChildren(t *testing.T) {
	root := container.New()
	a, err := root.Child()
	require.NoError(t, err)
	b, err := a.Domain()
	require.NoError(t, err)

	found, ok := root.Find(b.ID())
	require.True(t, ok)
	assert.Same(t, b, found)
	assert.Equal(t, container.Domain, found.Kind())
	assert.Same(t, a, found.Parent())
	assert.Equal(t, []*container.Scope{a}, root.Children())
	assert.Equal(t, container.Global, root.Kind())
	assert.Nil(t, root.Parent())
}

func TestScope_BoundAndTypeByName(t *testing.T) {
	root := container.New()
	require.NoError(t, container.Singleton[Greeter](root, container.Provide(func() *english { return &english{} })))
	child, err := root.Child()
	require.NoError(t, err)

	assert.True(t, child.Bound(container.TypeOf[Greeter]()))
	assert.False(t, child.Bound(container.TypeOf[*french]()))

	typ, ok := child.TypeByName(container.TypeOf[Greeter]().String())
	require.True(t, ok)
	assert.Equal(t, container.TypeOf[Greeter](), typ)
}

func TestScope_Bindings_DescribesDeclaredBindings(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Bind[Greeter](s, container.Provide(func() *english { return &english{} })))

	infos := s.Bindings()

	require.Len(t, infos, 1)
	assert.Equal(t, "class", infos[0].Kind)
	assert.Equal(t, "stateful", infos[0].Cardinality)
	assert.Equal(t, container.TypeOf[*english]().String(), infos[0].Target)
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_ReverseConstructionOrder(t *testing.T) {
	s := container.New()
	log := &closeLog{}
	require.NoError(t, container.Singleton[*dbConn](s, container.Provide(func() *dbConn { return &dbConn{log: log} })))
	require.NoError(t, container.Singleton[*repo](s, container.Provide(func(db *dbConn) *repo { return &repo{db: db, log: log} })))

	container.MustResolve[*repo](s)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []string{"repo", "db"}, log.names())
	assert.Equal(t, 0, s.CachedCount())
}

func TestClose_ChildrenFirst(t *testing.T) {
	root := container.New()
	log := &closeLog{}
	require.NoError(t, container.Singleton[*dbConn](root, container.Provide(func() *dbConn { return &dbConn{log: log} })))

	d, err := root.Domain()
	require.NoError(t, err)
	require.NoError(t, container.Singleton[*repo](d, container.Provide(func(db *dbConn) *repo { return &repo{db: db, log: log} })))

	container.MustResolve[*dbConn](root)
	container.MustResolve[*repo](d)
	require.NoError(t, root.Close(context.Background()))

	// the domain built its own dbConn for repo; the root one closes last
	assert.Equal(t, []string{"repo", "db", "db"}, log.names())
	assert.True(t, d.Closed())
	assert.Empty(t, root.Children())
}

func TestClose_TracksStatefulClosers(t *testing.T) {
	s := container.New()
	log := &closeLog{}
	require.NoError(t, container.Bind[*dbConn](s, container.Provide(func() *dbConn { return &dbConn{log: log} })))

	container.MustResolve[*dbConn](s)
	container.MustResolve[*dbConn](s)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []string{"db", "db"}, log.names())
}

func TestClose_JoinsCloserErrors(t *testing.T) {
	s := container.New()
	boom := errors.New("boom")
	require.NoError(t, container.Singleton[*dbConn](s, container.Provide(func() *dbConn {
		return &dbConn{log: &closeLog{}, err: boom}
	})))
	container.MustResolve[*dbConn](s)

	assert.ErrorIs(t, s.Close(context.Background()), boom)
}

func TestClose_ExpiredContextSkipsClosers(t *testing.T) {
	s := container.New()
	log := &closeLog{}
	require.NoError(t, container.Singleton[*dbConn](s, container.Provide(func() *dbConn { return &dbConn{log: log} })))
	container.MustResolve[*dbConn](s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Close(ctx), context.Canceled)
	assert.Empty(t, log.names())
}

func TestClose_ScopeUnusableAfterwards(t *testing.T) {
	s := container.New()
	require.NoError(t, container.Singleton[Greeter](s, container.Provide(func() *english { return &english{} })))
	require.NoError(t, s.Close(context.Background()))

	_, err := container.Resolve[Greeter](s)
	assert.ErrorIs(t, err, container.ErrScopeClosed)

	_, err = s.Child()
	assert.ErrorIs(t, err, container.ErrScopeClosed)

	err = container.Instance[*french](s, &french{})
	assert.ErrorIs(t, err, container.ErrScopeClosed)

	assert.ErrorIs(t, s.Close(context.Background()), container.ErrScopeClosed)
}
