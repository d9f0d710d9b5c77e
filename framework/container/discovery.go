package container

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Discovery supplies candidate classes for a capability type. How the
// candidates are found (scanning, generated manifests, plugins) is up to the
// implementation. discriminator narrows the search; an empty discriminator
// asks for every candidate.
type Discovery interface {
	Candidates(api reflect.Type, discriminator string) []*Class
}

type catalogKey struct {
	api           reflect.Type
	discriminator string
}

// Catalog is an in-memory [Discovery] filled by hand or by generated code.
type Catalog struct {
	mu      sync.RWMutex
	entries map[catalogKey][]*Class
	order   map[reflect.Type][]catalogKey
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries: make(map[catalogKey][]*Class),
		order:   make(map[reflect.Type][]catalogKey),
	}
}

// Add lists classes as candidates for api under discriminator.
func (c *Catalog) Add(api reflect.Type, discriminator string, classes ...*Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := catalogKey{api: api, discriminator: discriminator}
	if _, ok := c.entries[k]; !ok {
		c.order[api] = append(c.order[api], k)
	}
	c.entries[k] = append(c.entries[k], classes...)
}

// Candidates returns the classes added for api under discriminator, or
// under every discriminator when discriminator is empty, in insertion order.
func (c *Catalog) Candidates(api reflect.Type, discriminator string) []*Class {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if discriminator != "" {
		return append([]*Class(nil), c.entries[catalogKey{api: api, discriminator: discriminator}]...)
	}
	var out []*Class
	for _, k := range c.order[api] {
		out = append(out, c.entries[k]...)
	}
	return out
}

// Discover appends every candidate d supplies for api to the component group
// of api in s. It returns the number of members added.
func Discover(s *Scope, d Discovery, api reflect.Type, discriminator string, card Cardinality) (int, error) {
	n := 0
	for _, class := range d.Candidates(api, discriminator) {
		b := Binding{API: api, Target: ClassTarget{Class: class}, Cardinality: card}
		if err := s.RegisterGroup(b); err != nil {
			return n, fmt.Errorf("container: discovering %s: %w", typeName(api), err)
		}
		n++
	}
	s.engine.log.WithFields(logrus.Fields{
		"api":           typeName(api),
		"discriminator": discriminator,
		"members":       n,
	}).Debug("group members discovered")
	return n, nil
}
