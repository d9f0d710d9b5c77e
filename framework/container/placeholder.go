package container

import (
	"fmt"
	"reflect"
	"sync"
)

// placeholder stands in for a component that is still being constructed
// further up the reference chain.
type placeholder struct {
	api  reflect.Type
	path Path

	once  sync.Once
	done  chan struct{}
	value any
	err   error

	// lookup, when set, finds the component built by another resolution
	// call.
	lookup func() (any, bool)
}

func newPlaceholder(api reflect.Type, path Path) *placeholder {
	return &placeholder{api: api, path: path, done: make(chan struct{})}
}

func (p *placeholder) fill(v any, err error) {
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
	})
}

func (p *placeholder) get() (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	default:
	}
	if p.lookup != nil {
		if v, ok := p.lookup(); ok {
			return v, nil
		}
	}
	return nil, &ResolutionError{Path: p.path, Err: ErrPlaceholderNotReady}
}

type proxyFunc func(target func() (any, error)) any

// RegisterProxy declares how to build a structural stand-in for interface
// T. When T is referenced while its implementation is still under
// construction, the dependent receives proxy(target) instead of failing;
// target returns the real instance once construction has completed and
// panics if called earlier.
//
//	container.RegisterProxy[Pinger](s, func(target func() Pinger) Pinger {
//	    return pingerProxy{target}
//	})
func RegisterProxy[T any](s *Scope, proxy func(target func() T) T) error {
	api := TypeOf[T]()
	if api.Kind() != reflect.Interface {
		return &BindingError{API: api, Err: fmt.Errorf("%w: proxies stand in for interfaces only", ErrInvalidTarget)}
	}
	if proxy == nil {
		return &BindingError{API: api, Err: fmt.Errorf("%w: nil proxy", ErrInvalidTarget)}
	}
	s.engine.setProxy(api, func(target func() (any, error)) any {
		return proxy(func() T {
			v, err := target()
			if err != nil {
				panic(err)
			}
			return v.(T)
		})
	})
	return nil
}

// deferred performs one resolution on demand and keeps the first success.
type deferred struct {
	resolve func() (any, error)

	mu    sync.Mutex
	done  bool
	value any
}

func (d *deferred) get() (any, error) {
	d.mu.Lock()
	if d.done {
		v := d.value
		d.mu.Unlock()
		return v, nil
	}
	d.mu.Unlock()

	v, err := d.resolve()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.done {
		d.value, d.done = v, true
	}
	return d.value, nil
}
