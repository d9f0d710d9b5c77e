package container

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Site is a declaration point taking part in context computation: a class,
// a constructor parameter or an injected member.
type Site struct {
	Name string

	// Accepts lists the tag types the site lets through. The types of Tags
	// are accepted implicitly.
	Accepts []reflect.Type

	// Tags are tag instances the site contributes to the context handed to
	// its own dependencies.
	Tags []any
}

type tagValue struct {
	value any
	key   string
	// fresh marks a value contributed since the last class boundary.
	fresh bool
}

type tagSet struct {
	typ    reflect.Type
	values []tagValue
}

func (s tagSet) find(key string) int {
	for i, v := range s.values {
		if v.key == key {
			return i
		}
	}
	return -1
}

// Context is the collapsed, ordered set of qualifier tags visible at a
// point of reference. The zero value is an empty context. Contexts are
// values; every operation returns a new one.
type Context struct {
	sets []tagSet
}

// Len returns the number of tag types present.
func (c Context) Len() int { return len(c.sets) }

// IsEmpty reports whether no tag is visible.
func (c Context) IsEmpty() bool { return len(c.sets) == 0 }

// Types returns the tag types in encounter order.
func (c Context) Types() []reflect.Type {
	out := make([]reflect.Type, len(c.sets))
	for i, s := range c.sets {
		out[i] = s.typ
	}
	return out
}

// Has reports whether at least one instance of tagType is visible.
func (c Context) Has(tagType reflect.Type) bool { return c.index(tagType) >= 0 }

// Values returns the visible instances of tagType in encounter order.
func (c Context) Values(tagType reflect.Type) []any {
	i := c.index(tagType)
	if i < 0 {
		return nil
	}
	out := make([]any, len(c.sets[i].values))
	for j, v := range c.sets[i].values {
		out[j] = v.value
	}
	return out
}

// Key is the canonical serialization of the context. Two contexts with the
// same visible tags have the same key regardless of encounter order of the
// tag types.
func (c Context) Key() string {
	if len(c.sets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.sets))
	for _, s := range c.sets {
		keys := make([]string, len(s.values))
		for i, v := range s.values {
			keys[i] = v.key
		}
		parts = append(parts, s.typ.PkgPath()+"."+s.typ.String()+"=["+strings.Join(keys, ",")+"]")
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func (c Context) String() string {
	if len(c.sets) == 0 {
		return "{}"
	}
	return "{" + c.Key() + "}"
}

func (c Context) index(t reflect.Type) int {
	for i, s := range c.sets {
		if s.typ == t {
			return i
		}
	}
	return -1
}

func (c Context) clone() Context {
	if len(c.sets) == 0 {
		return Context{}
	}
	out := Context{sets: make([]tagSet, len(c.sets))}
	for i, s := range c.sets {
		out.sets[i] = tagSet{typ: s.typ, values: append([]tagValue(nil), s.values...)}
	}
	return out
}

// With returns c extended with tags, collapsed according to rules. The new
// instances count as contributed by the current site.
func (c Context) With(rules *TagRegistry, tags ...any) Context {
	if len(tags) == 0 {
		return c
	}
	out := c.clone()
	for _, tag := range tags {
		if tag == nil {
			continue
		}
		t := reflect.TypeOf(tag)
		rule := rules.CompositionOf(t, tag)
		if rule == None {
			continue
		}
		v := tagValue{value: tag, key: tagKey(tag), fresh: true}
		i := out.index(t)
		if i < 0 {
			out.sets = append(out.sets, tagSet{typ: t, values: []tagValue{v}})
			continue
		}
		set := &out.sets[i]
		if rule == All {
			if j := set.find(v.key); j >= 0 {
				set.values[j].fresh = true
				continue
			}
			set.values = append(set.values, v)
			continue
		}
		set.values = []tagValue{v}
	}
	return out
}

// Accept computes the context a site sees from the context of the reference
// pointing at it. Tag types the site does not accept are dropped, accepted
// ones are collapsed by their composition rule, and the site's own tags are
// merged in last. Accept is a pure function of its inputs.
func Accept(ctx Context, site Site, rules *TagRegistry) Context {
	accepted := make(map[reflect.Type]bool, len(site.Accepts)+len(site.Tags))
	for _, t := range site.Accepts {
		accepted[t] = true
	}
	for _, tag := range site.Tags {
		if tag != nil {
			accepted[reflect.TypeOf(tag)] = true
		}
	}

	var out Context
	for _, set := range ctx.sets {
		if !accepted[set.typ] || len(set.values) == 0 {
			continue
		}
		var kept []tagValue
		switch rules.CompositionOf(set.typ, set.values[0].value) {
		case None:
			continue
		case Last:
			kept = []tagValue{set.values[len(set.values)-1]}
		case Immediate:
			last := set.values[len(set.values)-1]
			if !last.fresh {
				continue
			}
			kept = []tagValue{last}
		default:
			kept = append([]tagValue(nil), set.values...)
		}
		for i := range kept {
			kept[i].fresh = false
		}
		out.sets = append(out.sets, tagSet{typ: set.typ, values: kept})
	}
	return out.With(rules, site.Tags...)
}

// Without returns c minus every instance of the given tag types.
func (c Context) Without(tagTypes ...reflect.Type) Context {
	if len(tagTypes) == 0 || len(c.sets) == 0 {
		return c
	}
	var out Context
	for _, s := range c.sets {
		drop := false
		for _, t := range tagTypes {
			if s.typ == t {
				drop = true
				break
			}
		}
		if !drop {
			out.sets = append(out.sets, tagSet{typ: s.typ, values: append([]tagValue(nil), s.values...)})
		}
	}
	return out
}

// NewContext builds an ambient context from tags.
func NewContext(rules *TagRegistry, tags ...any) Context {
	return Context{}.With(rules, tags...)
}

// TagsOf returns every visible instance of tag type T.
//
//	regions := container.TagsOf[Region](ctx)
func TagsOf[T any](c Context) []T {
	vals := c.Values(TypeOf[T]())
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		if t, ok := v.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// TagOf returns the most recent visible instance of tag type T.
func TagOf[T any](c Context) (T, bool) {
	vals := TagsOf[T](c)
	if len(vals) == 0 {
		var zero T
		return zero, false
	}
	return vals[len(vals)-1], true
}

func tagKey(v any) string {
	return fmt.Sprintf("%#v", v)
}
