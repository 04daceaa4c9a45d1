package pickle

import (
	"fmt"
	"reflect"
)

// memo maps identities of already emitted values to memo slots.
//
// Slots are assigned sequentially from 0 in registration order, which is the
// order in which the decoder observes the corresponding MEMOIZE/PUT opcodes.
type memo[K comparable] struct {
	slots map[K]int
}

func newMemo[K comparable]() *memo[K] {
	return &memo[K]{slots: make(map[K]int)}
}

// register returns slot for k, assigning the next free one if k is new.
func (m *memo[K]) register(k K) (slot int, fresh bool) {
	if slot, ok := m.slots[k]; ok {
		return slot, false
	}
	slot = len(m.slots)
	m.slots[k] = slot
	return slot, true
}

func (m *memo[K]) lookup(k K) (int, bool) {
	slot, ok := m.slots[k]
	return slot, ok
}

func (m *memo[K]) len() int {
	return len(m.slots)
}

// memoKey is the identity of a value on the encoding side.
//
// Addresses stay valid for the duration of one Encode call because every
// value reachable from the encoded root, and every synthesized value the
// encoder keeps alive, cannot be collected. The type is part of the key so
// that e.g. a struct and its first field are not confused.
//
// Class references are keyed by qualified name with zero typ/ptr.
type memoKey struct {
	typ   reflect.Type
	ptr   uintptr
	n     int
	class Class
}

// slotTable is the decoding side of the memo: it holds objects by slot index.
//
// Entries may be arena nodes that are still being built; a GET of such entry
// yields the very same node and thus the same object after materialization.
type slotTable struct {
	slots map[int]any
}

func newSlotTable() *slotTable {
	return &slotTable{slots: make(map[int]any)}
}

func (t *slotTable) put(i int, v any) {
	t.slots[i] = v
}

// memoize stores v at the next implicit index.
func (t *slotTable) memoize(v any) {
	t.slots[len(t.slots)] = v
}

func (t *slotTable) get(i int) (any, error) {
	v, ok := t.slots[i]
	if !ok {
		return nil, fmt.Errorf("memo: key error %d", i)
	}
	return v, nil
}

func (t *slotTable) len() int {
	return len(t.slots)
}

// identityOf returns the memo key of x if x has identity.
//
// Identity exists for non-empty slices, maps, pointers, and for Dict, Set and
// FrozenSet. Values of other types are copied around, and emitting them again
// yields an equal object.
func identityOf(x any) (memoKey, bool) {
	var p reflect.Value
	switch x := x.(type) {
	case Dict:
		p = reflect.ValueOf(x.d)
	case Set:
		p = reflect.ValueOf(x.s)
	case FrozenSet:
		p = reflect.ValueOf(x.s)
	case Class:
		return memoKey{class: x}, true
	}
	if p.IsValid() {
		if p.IsNil() {
			return memoKey{}, false
		}
		return memoKey{typ: reflect.TypeOf(x), ptr: p.Pointer()}, true
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() == 0 {
			return memoKey{}, false
		}
		return memoKey{typ: rv.Type(), ptr: rv.Pointer(), n: rv.Len()}, true
	case reflect.Map, reflect.Pointer:
		if rv.IsNil() {
			return memoKey{}, false
		}
		return memoKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	}
	return memoKey{}, false
}
