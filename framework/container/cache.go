package container

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// CacheKey identifies one cached component: its bound type, the canonical
// form of the context it was built under and the scope owning the entry.
type CacheKey struct {
	Bound   reflect.Type
	Context string
	Scope   uuid.UUID
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d|%s|%s", typeID(k.Bound), k.Scope, k.Context)
}

// cache holds the resolved singletons of one scope.
type cache struct {
	mu      sync.RWMutex
	entries map[CacheKey]any

	// closers are cached instances implementing io.Closer in the order they
	// were stored.
	closers []io.Closer

	flight  singleflight.Group
	flights *flights
}

func newCache(fl *flights) *cache {
	return &cache{entries: make(map[CacheKey]any), flights: fl}
}

func (c *cache) get(key CacheKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// getOrCreate returns the entry for key, invoking supplier at most once per
// key even under concurrent callers. Concurrent callers for the same key
// wait for the first and share its outcome. A failed supplier leaves no
// entry behind.
//
// caller is the resolution call asking for key. When waiting for the call
// already building key would close a chain of calls waiting on each other,
// getOrCreate returns errWaitCycle instead of blocking.
func (c *cache) getOrCreate(caller *session, key CacheKey, supplier func() (any, error)) (any, error) {
	if v, ok := c.get(key); ok {
		return v, nil
	}
	k := key.String()
	if err := c.flights.await(caller, k); err != nil {
		return nil, err
	}
	v, err, _ := c.flight.Do(k, func() (any, error) {
		c.flights.lead(caller, k)
		defer c.flights.land(k)

		if v, ok := c.get(key); ok {
			return v, nil
		}
		v, err := supplier()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = v
		if closer, ok := v.(io.Closer); ok {
			c.closers = append(c.closers, closer)
		}
		c.mu.Unlock()
		return v, nil
	})
	c.flights.release(caller, k)
	return v, err
}

// track records an uncached instance that still needs closing with the
// scope.
func (c *cache) track(v any) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}
	c.mu.Lock()
	c.closers = append(c.closers, closer)
	c.mu.Unlock()
}

// idle reports whether nothing was cached or tracked.
func (c *cache) idle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) == 0 && len(c.closers) == 0
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// drain empties the cache and returns its closers, newest first.
func (c *cache) drain() []io.Closer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]io.Closer, len(c.closers))
	for i, cl := range c.closers {
		out[len(c.closers)-1-i] = cl
	}
	c.entries = make(map[CacheKey]any)
	c.closers = nil
	return out
}

// errWaitCycle reports that a resolution call would wait for a component
// whose builder is, through a chain of waiting calls, waiting on the caller.
var errWaitCycle = errors.New("resolution calls wait on each other")

// flights records, for the whole scope tree, which resolution call builds
// each in-flight cache key and which key each blocked call waits on.
type flights struct {
	mu      sync.Mutex
	owners  map[string]*session
	waiting map[*session]string
}

func newFlights() *flights {
	return &flights{
		owners:  make(map[string]*session),
		waiting: make(map[*session]string),
	}
}

// await records that caller is about to wait for key. It fails when the
// chain owner(key), the key that owner waits for, its owner and so on leads
// back to caller.
func (fl *flights) await(caller *session, key string) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	owner := fl.owners[key]
	for steps := 0; owner != nil && steps <= len(fl.waiting); steps++ {
		if owner == caller {
			return errWaitCycle
		}
		next, ok := fl.waiting[owner]
		if !ok {
			break
		}
		owner = fl.owners[next]
	}
	fl.waiting[caller] = key
	return nil
}

// lead records that caller builds key.
func (fl *flights) lead(caller *session, key string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	delete(fl.waiting, caller)
	fl.owners[key] = caller
}

// land records that key is no longer being built.
func (fl *flights) land(key string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	delete(fl.owners, key)
}

// release records that caller stopped waiting for key.
func (fl *flights) release(caller *session, key string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.waiting[caller] == key {
		delete(fl.waiting, caller)
	}
}

var (
	typeIDsMu sync.Mutex
	typeIDs   = make(map[reflect.Type]uint64)
)

// typeID gives every reflect.Type a process-wide number so that cache keys
// can be rendered as strings without relying on type names being unique.
func typeID(t reflect.Type) uint64 {
	typeIDsMu.Lock()
	defer typeIDsMu.Unlock()
	id, ok := typeIDs[t]
	if !ok {
		id = uint64(len(typeIDs) + 1)
		typeIDs[t] = id
	}
	return id
}
