package pickle

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// StateGetter is implemented by registered types that provide their own state
// for pickling. The returned state is pickled instead of the object's fields;
// nil means the object has no state.
type StateGetter interface {
	GetState() (any, error)
}

// StateSetter is implemented by registered types that restore themselves from
// unpickled state. SetState is called on the bare zero object.
type StateSetter interface {
	SetState(state any) error
}

// Default object state is formed from exported struct fields, including the
// ones promoted from embedded structs. The state key is the field name, or
// the name given by `pickle:"name"` tag. Fields tagged `pickle:",slot"` go to
// separate slot state, and `pickle:"-"` fields are skipped.
//
// An object without slot fields has state {name: value, ...}. An object with
// slot fields has state (dict or None, {slotname: value, ...}).

type field struct {
	name  string
	index []int
	slot  bool
}

type fieldTable struct {
	list   []field
	byName map[string]int
	nslots int
}

var fieldTables sync.Map // reflect.Type -> *fieldTable

// typeFields returns state fields of struct type t.
func typeFields(t reflect.Type) *fieldTable {
	if ft, ok := fieldTables.Load(t); ok {
		return ft.(*fieldTable)
	}

	ft := &fieldTable{byName: make(map[string]int)}
	for _, sf := range reflect.VisibleFields(t) {
		// promoted fields of embedded struct are visited on their own
		if sf.Anonymous && derefType(sf.Type).Kind() == reflect.Struct {
			continue
		}
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("pickle"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if _, dup := ft.byName[name]; dup {
			continue
		}
		f := field{name: name, index: sf.Index, slot: opts == "slot"}
		if f.slot {
			ft.nslots++
		}
		ft.byName[name] = len(ft.list)
		ft.list = append(ft.list, f)
	}

	actual, _ := fieldTables.LoadOrStore(t, ft)
	return actual.(*fieldTable)
}

// addressable returns pointer to v, copying v if it is not addressable.
func addressable(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Pointer {
		return v
	}
	if v.CanAddr() {
		return v.Addr()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p
}

// objectState returns state of registered object v (struct or pointer to
// struct). nil state means there is nothing to BUILD.
func objectState(v reflect.Value) (any, error) {
	p := addressable(v)
	if g, ok := p.Interface().(StateGetter); ok {
		state, err := g.GetState()
		if err != nil {
			return nil, errors.WithMessagef(err, "%s.GetState", p.Type())
		}
		return state, nil
	}

	dict, slots := fieldsState(p.Elem())
	if slots == nil {
		if dict.Len() == 0 {
			return nil, nil
		}
		return dict, nil
	}
	var d any = None{}
	if dict.Len() > 0 {
		d = dict
	}
	return Tuple{d, *slots}, nil
}

// fieldsState collects field values of struct v into dict and, if the type
// has slot fields, slots.
func fieldsState(v reflect.Value) (dict Dict, slots *Dict) {
	ft := typeFields(v.Type())
	dict = NewDictWithSizeHint(len(ft.list) - ft.nslots)
	if ft.nslots > 0 {
		s := NewDictWithSizeHint(ft.nslots)
		slots = &s
	}
	for _, f := range ft.list {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue // nil embedded pointer
		}
		if f.slot {
			slots.Set(f.name, fv.Interface())
		} else {
			dict.Set(f.name, fv.Interface())
		}
	}
	return dict, slots
}

// recordItems returns key/value pairs of struct value v that is pickled as a
// plain dict.
func recordItems(v reflect.Value) []any {
	ft := typeFields(v.Type())
	kv := make([]any, 0, 2*len(ft.list))
	for _, f := range ft.list {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		kv = append(kv, f.name, fv.Interface())
	}
	return kv
}

// splitState splits default object state into its dict and slots parts.
func splitState(state any) (dict, slots Dict, err error) {
	part := func(x any) (Dict, error) {
		switch x := x.(type) {
		case nil, None:
			return Dict{}, nil
		case Dict:
			return x, nil
		}
		return Dict{}, fmt.Errorf("state is not a dictionary: %T", x)
	}

	if t, ok := state.(Tuple); ok {
		if len(t) != 2 {
			return Dict{}, Dict{}, fmt.Errorf("state tuple must be (dict, slots); got %d items", len(t))
		}
		if dict, err = part(t[0]); err != nil {
			return
		}
		slots, err = part(t[1])
		return
	}
	dict, err = part(state)
	return
}

// converter assigns unpickled values to typed Go destinations.
//
// It remembers converted containers so that a container shared by several
// fields stays shared after conversion to the same type.
type converter struct {
	seen map[convKey]reflect.Value
}

type convKey struct {
	src memoKey
	dst reflect.Type
}

func newConverter() *converter {
	return &converter{seen: make(map[convKey]reflect.Value)}
}

// applyState sets state of freshly allocated object obj (pointer to struct).
func (c *converter) applyState(obj reflect.Value, state any) error {
	if s, ok := obj.Interface().(StateSetter); ok {
		if err := s.SetState(state); err != nil {
			return errors.WithMessagef(err, "%s.SetState", obj.Type())
		}
		return nil
	}

	dict, slots, err := splitState(state)
	if err != nil {
		return err
	}
	for _, d := range []Dict{dict, slots} {
		if err := c.assignFields(obj.Elem(), d); err != nil {
			return err
		}
	}
	return nil
}

// assignFields sets fields of struct v by names from d.
func (c *converter) assignFields(v reflect.Value, d Dict) error {
	ft := typeFields(v.Type())
	for k, x := range d.Iter() {
		name, err := AsString(k)
		if err != nil {
			return fmt.Errorf("attribute name must be string, not %T", k)
		}
		i, ok := ft.byName[name]
		if !ok {
			return fmt.Errorf("%s object has no attribute %q", v.Type(), name)
		}
		dst, err := fieldByIndexAlloc(v, ft.list[i].index)
		if err != nil {
			return err
		}
		if err := c.assign(dst, x); err != nil {
			return errors.WithMessagef(err, "attribute %q", name)
		}
	}
	return nil
}

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// assign sets dst to x, converting x to the type of dst if needed.
func (c *converter) assign(dst reflect.Value, x any) error {
	if x == nil || x == (None{}) {
		dst.SetZero()
		return nil
	}
	xv := reflect.ValueOf(x)
	if xv.Type().AssignableTo(dst.Type()) {
		dst.Set(xv)
		return nil
	}

	fail := func() error {
		return fmt.Errorf("cannot assign %T to %s", x, dst.Type())
	}

	if dst.Type() == bigIntType {
		b, err := AsBigInt(x)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(b))
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := AsInt64(x)
		if err != nil {
			return err
		}
		if dst.OverflowInt(i) {
			return fmt.Errorf("%d overflows %s", i, dst.Type())
		}
		dst.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b, err := AsBigInt(x)
		if err != nil {
			return err
		}
		if b.Sign() < 0 || !b.IsUint64() || dst.OverflowUint(b.Uint64()) {
			return fmt.Errorf("%s overflows %s", b, dst.Type())
		}
		dst.SetUint(b.Uint64())

	case reflect.Float32, reflect.Float64:
		f, err := AsFloat64(x)
		if err != nil {
			return err
		}
		dst.SetFloat(f)

	case reflect.Complex64, reflect.Complex128:
		if z, ok := x.(complex128); ok {
			dst.SetComplex(z)
			return nil
		}
		f, err := AsFloat64(x)
		if err != nil {
			return err
		}
		dst.SetComplex(complex(f, 0))

	case reflect.String:
		s, err := AsString(x)
		if err != nil {
			return err
		}
		dst.SetString(s)

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			b, err := AsBytes(x)
			if err != nil {
				return err
			}
			dst.SetBytes([]byte(b))
			return nil
		}
		items, ok := sequenceItems(x)
		if !ok {
			return fail()
		}
		key, shared := c.lookup(x, dst.Type())
		if v, ok := c.seen[key]; shared && ok {
			dst.Set(v)
			return nil
		}
		s := reflect.MakeSlice(dst.Type(), len(items), len(items))
		if shared {
			c.seen[key] = s
		}
		for i, item := range items {
			if err := c.assign(s.Index(i), item); err != nil {
				return errors.WithMessagef(err, "item %d", i)
			}
		}
		dst.Set(s)

	case reflect.Array:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if b, err := AsBytes(x); err == nil {
				if len(b) != dst.Len() {
					return fmt.Errorf("cannot assign %d bytes to %s", len(b), dst.Type())
				}
				reflect.Copy(dst, reflect.ValueOf([]byte(b)))
				return nil
			}
		}
		items, ok := sequenceItems(x)
		if !ok || len(items) != dst.Len() {
			return fail()
		}
		for i, item := range items {
			if err := c.assign(dst.Index(i), item); err != nil {
				return errors.WithMessagef(err, "item %d", i)
			}
		}

	case reflect.Map:
		d, ok := x.(Dict)
		if !ok {
			return fail()
		}
		key, shared := c.lookup(x, dst.Type())
		if v, ok := c.seen[key]; shared && ok {
			dst.Set(v)
			return nil
		}
		m := reflect.MakeMapWithSize(dst.Type(), d.Len())
		if shared {
			c.seen[key] = m
		}
		kt, vt := dst.Type().Key(), dst.Type().Elem()
		for k, v := range d.Iter() {
			mk := reflect.New(kt).Elem()
			if err := c.assign(mk, k); err != nil {
				return errors.WithMessage(err, "key")
			}
			mv := reflect.New(vt).Elem()
			if err := c.assign(mv, v); err != nil {
				return errors.WithMessagef(err, "value for %v", k)
			}
			m.SetMapIndex(mk, mv)
		}
		dst.Set(m)

	case reflect.Struct:
		// registered objects decode as pointers
		if xv.Kind() == reflect.Pointer && xv.Type().Elem() == dst.Type() {
			dst.Set(xv.Elem())
			return nil
		}
		d, ok := x.(Dict)
		if !ok {
			return fail()
		}
		return c.assignFields(dst, d)

	case reflect.Pointer:
		p := reflect.New(dst.Type().Elem())
		if err := c.assign(p.Elem(), x); err != nil {
			return err
		}
		dst.Set(p)

	default:
		return fail()
	}
	return nil
}

func (c *converter) lookup(x any, dst reflect.Type) (convKey, bool) {
	id, ok := identityOf(x)
	return convKey{src: id, dst: dst}, ok
}

// sequenceItems returns items of unpickled list or tuple.
func sequenceItems(x any) ([]any, bool) {
	switch x := x.(type) {
	case []any:
		return x, true
	case Tuple:
		return x, true
	}
	return nil, false
}
