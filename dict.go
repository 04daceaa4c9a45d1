package pickle

// Python-like Dict that handles keys by Python-like equality on access.
//
// For example Dict.Get() will access the same element for all keys int(1), float64(1.0) and big.Int(1).

import (
	"fmt"
	"iter"

	"github.com/aristanetworks/gomap"
)

// Dict represents dict from Python.
//
// It mirrors Python with respect to which types are allowed to be used as
// keys, with respect to keys equality, and with respect to iteration order,
// which is the order of first insertion. For example Tuple is allowed to be
// used as key, and all int(1), float64(1.0) and big.Int(1) are considered to
// be equal. [Bytes] and string are never equal, even if their underlying
// content is the same.
//
// Decoder produces Dict for pickled dicts, and Encoder emits Dict items in
// iteration order.
//
// Note: similarly to builtin map Dict is pointer-like type: its zero-value
// represents nil dictionary that is empty and invalid to use Set on.
type Dict struct {
	d *dict
}

type dict struct {
	index   *gomap.Map[any, int] // key -> position in entries
	entries []entry
	dead    int // number of deleted entries
}

type entry struct {
	key, value any
	deleted    bool
}

// NewDict returns new empty dictionary.
func NewDict() Dict {
	return NewDictWithSizeHint(0)
}

// NewDictWithSizeHint returns new empty dictionary with preallocated space for size items.
func NewDictWithSizeHint(size int) Dict {
	return Dict{d: &dict{
		index:   gomap.NewHint[any, int](size, equal, hash),
		entries: make([]entry, 0, size),
	}}
}

// NewDictWithData returns new dictionary with preset data.
//
// kv should be key₁, value₁, key₂, value₂, ...
func NewDictWithData(kv ...any) Dict {
	l := len(kv)
	if l%2 != 0 {
		panic("odd number of arguments")
	}
	l /= 2
	d := NewDictWithSizeHint(l)
	for i := 0; i < l; i++ {
		d.Set(kv[2*i], kv[2*i+1])
	}
	return d
}

// Get returns value associated with equal key.
//
// An entry with key equal to the query is looked up and corresponding value
// is returned.
//
// nil is returned if no matching key is present in the dictionary.
//
// Get panics if key's type is not allowed to be used as Dict key.
func (d Dict) Get(key any) any {
	value, _ := d.Get_(key)
	return value
}

// Get_ is comma-ok version of Get.
func (d Dict) Get_(key any) (value any, ok bool) {
	if d.d == nil {
		hash(seed0, key) // still reject unhashable keys
		return nil, false
	}
	i, ok := d.d.index.Get(key)
	if !ok {
		return nil, false
	}
	return d.d.entries[i].value, true
}

// Set sets key to be associated with value.
//
// If an equal key is already present, its value is replaced and its position
// in iteration order is kept, as is the originally inserted key.
//
// Set panics if key's type is not allowed to be used as Dict key.
func (d Dict) Set(key, value any) {
	if i, ok := d.d.index.Get(key); ok {
		d.d.entries[i].value = value
		return
	}
	d.d.index.Set(key, len(d.d.entries))
	d.d.entries = append(d.d.entries, entry{key: key, value: value})
}

// Del removes equal key from the dictionary.
//
// Del panics if key's type is not allowed to be used as Dict key.
func (d Dict) Del(key any) {
	if d.d == nil {
		return
	}
	i, ok := d.d.index.Get(key)
	if !ok {
		return
	}
	d.d.index.Delete(key)
	d.d.entries[i] = entry{deleted: true}
	d.d.dead++

	if d.d.dead > len(d.d.entries)/2 {
		d.d.compact()
	}
}

// compact drops deleted entries and renumbers the index.
func (d *dict) compact() {
	live := make([]entry, 0, len(d.entries)-d.dead)
	for _, e := range d.entries {
		if e.deleted {
			continue
		}
		d.index.Set(e.key, len(live))
		live = append(live, e)
	}
	d.entries = live
	d.dead = 0
}

// Len returns the number of items in the dictionary.
func (d Dict) Len() int {
	if d.d == nil {
		return 0
	}
	return len(d.d.entries) - d.d.dead
}

// Iter returns iterator over all elements in the dictionary in insertion order.
func (d Dict) Iter() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		if d.d == nil {
			return
		}
		for i := 0; i < len(d.d.entries); i++ {
			e := d.d.entries[i]
			if e.deleted {
				continue
			}
			if !yield(e.key, e.value) {
				return
			}
		}
	}
}

// Keys returns keys of the dictionary in insertion order.
func (d Dict) Keys() []any {
	keys := make([]any, 0, d.Len())
	for k := range d.Iter() {
		keys = append(keys, k)
	}
	return keys
}

// String returns human-readable representation of the dictionary.
func (d Dict) String() string {
	return d.sprintf("%v")
}

// GoString returns detailed human-readable representation of the dictionary.
func (d Dict) GoString() string {
	return fmt.Sprintf("%T%s", d, d.sprintf("%#v"))
}

// sprintf serves String and GoString.
func (d Dict) sprintf(format string) string {
	s := "{"
	i := 0
	for k, v := range d.Iter() {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf(format, k) + ": " + fmt.Sprintf(format, v)
		i++
	}
	s += "}"
	return s
}
