package container

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cached struct{ n int64 }

type closer struct {
	name   string
	closed *[]string
}

func (c *closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func TestCache_GetOrCreate_CoalescesConcurrentCallers(t *testing.T) {
	c := newCache(newFlights())
	key := CacheKey{Bound: reflect.TypeOf(&cached{}), Scope: uuid.New()}
	var calls atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	out := make([]any, 16)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.getOrCreate(&session{}, key, func() (any, error) {
				<-release
				return &cached{n: calls.Add(1)}, nil
			})
			assert.NoError(t, err)
			out[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range out {
		assert.Same(t, out[0], v)
	}
}

func TestCache_GetOrCreate_FailureLeavesNoEntry(t *testing.T) {
	c := newCache(newFlights())
	key := CacheKey{Bound: reflect.TypeOf(&cached{}), Scope: uuid.New()}

	_, err := c.getOrCreate(&session{}, key, func() (any, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.len())

	v, err := c.getOrCreate(&session{}, key, func() (any, error) { return &cached{n: 2}, nil })
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.(*cached).n)
}

func TestCache_KeysDifferByContextAndScope(t *testing.T) {
	c := newCache(newFlights())
	typ := reflect.TypeOf(&cached{})
	scope := uuid.New()
	var n int64
	supply := func() (any, error) {
		n++
		return &cached{n: n}, nil
	}

	a, _ := c.getOrCreate(&session{}, CacheKey{Bound: typ, Context: "x", Scope: scope}, supply)
	b, _ := c.getOrCreate(&session{}, CacheKey{Bound: typ, Context: "y", Scope: scope}, supply)
	d, _ := c.getOrCreate(&session{}, CacheKey{Bound: typ, Context: "x", Scope: uuid.New()}, supply)
	again, _ := c.getOrCreate(&session{}, CacheKey{Bound: typ, Context: "x", Scope: scope}, supply)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, d)
	assert.Same(t, a, again)
	assert.Equal(t, 3, c.len())
}

func TestCache_Drain_NewestFirst(t *testing.T) {
	c := newCache(newFlights())
	var closed []string
	for _, name := range []string{"first", "second"} {
		cl := &closer{name: name, closed: &closed}
		key := CacheKey{Bound: reflect.TypeOf(cl), Context: name}
		_, err := c.getOrCreate(&session{}, key, func() (any, error) { return cl, nil })
		require.NoError(t, err)
	}
	c.track(&closer{name: "tracked", closed: &closed})
	c.track(&cached{})

	for _, cl := range c.drain() {
		require.NoError(t, cl.Close())
	}

	assert.Equal(t, []string{"tracked", "second", "first"}, closed)
	assert.Equal(t, 0, c.len())
	assert.Empty(t, c.drain())
}

func TestFlights_AwaitDetectsWaitChain(t *testing.T) {
	fl := newFlights()
	a, b, c := &session{}, &session{}, &session{}

	fl.lead(a, "k1")
	fl.lead(b, "k2")
	require.NoError(t, fl.await(a, "k2"))
	require.NoError(t, fl.await(c, "k1"), "c waits on a chain that never reaches c")

	assert.ErrorIs(t, fl.await(b, "k1"), errWaitCycle)

	fl.release(a, "k2")
	assert.NoError(t, fl.await(b, "k1"))
}

func TestFlights_LandClearsOwner(t *testing.T) {
	fl := newFlights()
	a, b := &session{}, &session{}

	fl.lead(a, "k")
	require.NoError(t, fl.await(b, "k"))
	fl.land("k")
	fl.release(b, "k")

	assert.NoError(t, fl.await(a, "k"))
	assert.Empty(t, fl.owners)
}

func TestCache_GetOrCreate_CrossCallCycleFails(t *testing.T) {
	fl := newFlights()
	c := newCache(fl)
	k1 := CacheKey{Bound: reflect.TypeOf(&cached{}), Context: "one"}
	k2 := CacheKey{Bound: reflect.TypeOf(&cached{}), Context: "two"}
	a, b := &session{}, &session{}

	aLeads, bLeads := make(chan struct{}), make(chan struct{})
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = c.getOrCreate(a, k1, func() (any, error) {
			close(aLeads)
			<-bLeads
			return c.getOrCreate(a, k2, func() (any, error) { return &cached{n: 1}, nil })
		})
	}()
	go func() {
		defer wg.Done()
		<-aLeads
		_, errB = c.getOrCreate(b, k2, func() (any, error) {
			close(bLeads)
			return c.getOrCreate(b, k1, func() (any, error) { return &cached{n: 2}, nil })
		})
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("calls waiting on each other never returned")
	}

	failed := errors.Is(errA, errWaitCycle) || errors.Is(errB, errWaitCycle)
	assert.True(t, failed, "one of the calls reports the cycle: a=%v b=%v", errA, errB)
}

// ── Group order ───────────────────────────────────────────────────────────────

func testGroup(n int) (*group, []*groupMember) {
	g := &group{api: reflect.TypeOf((*any)(nil)).Elem()}
	members := make([]*groupMember, n)
	for i := range members {
		members[i] = &groupMember{group: g}
		g.add(members[i])
	}
	return g, members
}

func TestGroup_Splice(t *testing.T) {
	g, m := testGroup(6)

	require.True(t, g.splice(m[1], m[4]))
	assert.Equal(t, []*groupMember{m[0], m[1], m[4], m[2], m[3], m[5]}, g.snapshot())

	// a second discovery by the same member lands behind the first one
	require.True(t, g.splice(m[1], m[5]))
	assert.Equal(t, []*groupMember{m[0], m[1], m[4], m[5], m[2], m[3]}, g.snapshot())
}

func TestGroup_Splice_EarlierMemberStays(t *testing.T) {
	g, m := testGroup(4)

	assert.False(t, g.splice(m[2], m[0]))
	assert.False(t, g.splice(m[1], m[2]), "already right behind")
	assert.Equal(t, []*groupMember{m[0], m[1], m[2], m[3]}, g.snapshot())
}

func TestTracker_FindIgnoresFinishedFrames(t *testing.T) {
	typ := reflect.TypeOf(&cached{})
	var tr tracker
	f := &frame{Frame: Frame{Requested: typ, Bound: typ}}

	tr.push(f)
	assert.Same(t, f, tr.find(typ))
	tr.pop(f, nil)

	assert.Nil(t, tr.find(typ))
	assert.Equal(t, Resolved, f.state)
	assert.Equal(t, 0, tr.snapshot().Len())
}
