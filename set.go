package pickle

import (
	"fmt"
	"hash/maphash"
	"iter"

	"github.com/aristanetworks/gomap"
)

// seed0 hashes keys when there is no map to take the seed from.
var seed0 = maphash.MakeSeed()

// Set represents Python's set: a mutable unordered collection of hashable
// values compared by Python-like equality.
//
// Encoder emits set elements in a canonical sorted order, so that equal sets
// always produce equal pickles.
//
// Like Dict, Set is a pointer-like type; its zero value is an empty set that
// is invalid to Add to.
type Set struct {
	s *set
}

// FrozenSet represents Python's frozenset: an immutable Set.
//
// Unlike Set, FrozenSet is hashable and can be used as Dict key or Set element.
type FrozenSet struct {
	s *set
}

type set struct {
	m *gomap.Map[any, struct{}]
}

func newSet(size int) *set {
	return &set{m: gomap.NewHint[any, struct{}](size, equal, hash)}
}

func (s *set) add(x any) {
	s.m.Set(x, struct{}{})
}

func (s *set) has(x any) bool {
	if s == nil {
		hash(seed0, x)
		return false
	}
	_, ok := s.m.Get(x)
	return ok
}

func (s *set) len() int {
	if s == nil {
		return 0
	}
	return s.m.Len()
}

func (s *set) each(f func(x any) bool) {
	if s == nil {
		return
	}
	it := s.m.Iter()
	for it.Next() {
		if !f(it.Key()) {
			return
		}
	}
}

// items returns elements in canonical order.
func (s *set) items() []any {
	items := make([]any, 0, s.len())
	s.each(func(x any) bool {
		items = append(items, x)
		return true
	})
	sortCanonical(items)
	return items
}

func (s *set) sprintf(format string) string {
	str := "{"
	for i, x := range s.items() {
		if i > 0 {
			str += ", "
		}
		str += fmt.Sprintf(format, x)
	}
	return str + "}"
}

// NewSet returns new set with given elements.
//
// NewSet panics if an element's type is not allowed to be used as set element.
func NewSet(items ...any) Set {
	s := Set{newSet(len(items))}
	for _, x := range items {
		s.Add(x)
	}
	return s
}

// Add adds x to the set.
func (s Set) Add(x any) {
	s.s.add(x)
}

// Del removes x from the set.
func (s Set) Del(x any) {
	if s.s != nil {
		s.s.m.Delete(x)
	}
}

// Has reports whether an element equal to x is in the set.
func (s Set) Has(x any) bool { return s.s.has(x) }

// Len returns the number of elements in the set.
func (s Set) Len() int { return s.s.len() }

// Iter returns iterator over elements of the set in canonical order.
func (s Set) Iter() iter.Seq[any] { return seqOf(s.s.items()) }

func (s Set) String() string   { return s.s.sprintf("%v") }
func (s Set) GoString() string { return fmt.Sprintf("%T%s", s, s.s.sprintf("%#v")) }

// NewFrozenSet returns new frozen set with given elements.
func NewFrozenSet(items ...any) FrozenSet {
	s := newSet(len(items))
	for _, x := range items {
		s.add(x)
	}
	return FrozenSet{s}
}

// Has reports whether an element equal to x is in the set.
func (s FrozenSet) Has(x any) bool { return s.s.has(x) }

// Len returns the number of elements in the set.
func (s FrozenSet) Len() int { return s.s.len() }

// Iter returns iterator over elements of the set in canonical order.
func (s FrozenSet) Iter() iter.Seq[any] { return seqOf(s.s.items()) }

func (s FrozenSet) String() string   { return "frozenset(" + s.s.sprintf("%v") + ")" }
func (s FrozenSet) GoString() string { return fmt.Sprintf("%T%s", s, s.s.sprintf("%#v")) }

func seqOf(items []any) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, x := range items {
			if !yield(x) {
				return
			}
		}
	}
}
