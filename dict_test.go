package pickle

import (
	"fmt"
	"hash/maphash"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// tStructWithPrivate is used by tests to verify handing of struct with private fields.
type tStructWithPrivate struct {
	x, y any
}

// TestEqual verifies equal and hash.
func TestEqual(t *testing.T) {
	// tAllEqual represents tested set of values:
	// ∀ a ∈ tAllEqual:
	//   ∀ b ∈ tAllEqual ⇒ equal(a,b) = y
	//   ∀ c ∉ tAllEqual ⇒ equal(a,c) = n
	type tAllEqual []any

	// E is shortcut to create tAllEqual
	E := func(v ...any) tAllEqual { return tAllEqual(v) }

	// D and M are shortcuts to create Dict and map[any]any
	D := NewDictWithData
	type M = map[any]any

	// i1  and i1_  are two integer variables equal to 1 but with different address
	// obj and obj_ are similar equal structures located at different memory regions
	i1 := 1
	i1_ := 1
	obj := &Class{"a", "b"}
	obj_ := &Class{"a", "b"}

	testv := []tAllEqual{
		// numbers
		E(int(0),
			int64(0), int32(0), int16(0), int8(0),
			uint64(0), uint32(0), uint16(0), uint8(0),
			bigInt("0"),
			false,
			float32(0), float64(0),
			complex64(0), complex128(0)),

		E(int(1),
			int64(1), int32(1), int16(1), int8(1),
			uint64(1), uint32(1), uint16(1), uint8(1),
			bigInt("1"),
			true,
			float32(1), float64(1),
			complex64(1), complex128(1)),

		E(int(-1),
			int64(-1), int32(-1), int16(-1), int8(-1),
			bigInt("-1"),
			float32(-1), float64(-1),
			complex64(-1), complex128(-1)),

		E(int(0xff),
			int64(0xff), int32(0xff), int16(0xff),
			uint64(0xff), uint32(0xff), uint16(0xff),
			bigInt("255"),
			bigInt("255"), // two different *big.Int instances
			float32(0xff), float64(0xff),
			complex64(0xff), complex128(0xff)),

		E(int(-0x80),
			int64(-0x80), int32(-0x80), int16(-0x80), int8(-0x80),
			bigInt("-128"),
			float32(-0x80), float64(-0x80),
			complex64(-0x80), complex128(-0x80)),

		E(int(0xffffffff),
			int64(0xffffffff),
			uint64(0xffffffff), uint32(0xffffffff),
			bigInt("4294967295"),
			float64(0xffffffff),
			complex128(0xffffffff)),

		E(uint64(0xffffffffffffffff),
			bigInt("18446744073709551615")),

		E(int(-0x8000000000000000),
			int64(-0x8000000000000000),
			bigInt("-9223372036854775808"),
			float32(-0x8000000000000000), float64(-0x8000000000000000),
			complex64(-0x8000000000000000), complex128(-0x8000000000000000)),

		E(bigInt("1"+strings.Repeat("0", 22)), float64(1e22), complex128(complex(1e22, 0))),
		E(bigInt("1" + strings.Repeat("0", 40))),
		E(complex64(complex(0, 1)), complex128(complex(0, 1))),
		E(float64(1.25), float32(1.25), complex64(complex(1.25, 0)), complex128(complex(1.25, 0))),

		// str and bytes are never equal to each other
		E(""), E(Bytes("")),
		E("a"), E(Bytes("a")),
		E("мир"), E(Bytes("мир")),

		E(None{}),

		// tuple is never equal to list
		E(Tuple{}),
		E([]int{}, []float32{}, []any{}, [0]float64{}),
		E(Tuple{1, 2}, Tuple{1.0, bigInt("2")}),
		E([]int{1, 2}, []float32{1, 2}, []any{1, 2}, [2]float64{1, 2}),
		E(Tuple{1, "a"}, Tuple{true, "a"}),
		E([]any{1, "a"}, [2]any{1, "a"}),
		E(Tuple{1, Bytes("a")}),

		// Dict, map
		E(D(),
			M{}, map[int]bool{}),
		E(D(1, bigInt("2")),
			M{1: 2.0}, map[int]int{1: 2}),
		E(D(1, "a"),
			M{1: "a"}, map[int]string{1: "a"}),
		E(D("a", 1),
			M{"a": 1}),
		E(D("a", 1, None{}, 2),
			M{"a": 1, None{}: 2}),
		E(D("a", 1, Bytes("a"), 1),
			M{"a": 1, Bytes("a"): 1}),
		E(D("a", 1, Bytes("a"), 2),
			M{"a": 1, Bytes("a"): 2}),
		E(D("b", 1, "a", 2), D("a", 2, "b", 1)), // order does not matter

		// set and frozenset compare by membership
		E(NewSet(), NewFrozenSet()),
		E(NewSet(1, 2), NewSet(2.0, bigInt("1")), NewFrozenSet(1, 2)),
		E(NewSet("a"), NewFrozenSet("a")),
		E(NewFrozenSet(Bytes("a"))),

		// structs
		E(Class{"mod", "cls"}, Class{"mod", "cls"}),
		E(Call{Class{"mod", "cls"}, Tuple{"a", "b", 3}},
			Call{Class{"mod", "cls"}, Tuple{"a", "b", bigInt("3")}}),
		E(Ref{1}, Ref{bigInt("1")}, Ref{1.0}),
		E(tStructWithPrivate{"a", 1}, tStructWithPrivate{"a", bigInt("1")}),
		E(tStructWithPrivate{"b", 2}, tStructWithPrivate{"b", 2.0}),

		// pointers, as in builtin ==, are compared only by address
		E(&i1), E(&i1_), E(&obj), E(&obj_),

		// nil
		E(nil),
	}
	// automatically test equality on Tuples/list from ^^^ data
	testvAddSequences := func(lists bool) {
		l := len(testv)
		for i := 0; i < l; i++ {
			Ex := testv[i]
			Ey := testv[(i+1)%l]

			x0 := Ex[0]
			x1 := Ex[1%len(Ex)]
			y0 := Ey[0]
			y1 := Ey[1%len(Ey)]

			testv = append(testv, E(Tuple{x0, y0}, Tuple{x1, y1}))
			if lists {
				testv = append(testv, E([]any{x0, y0}, []any{x1, y1}))
			}
		}
	}
	testvAddSequences(true)
	// and sequences of sequences
	testvAddSequences(false)

	// thash is used to invoke hash.
	// if x is not hashable ok=false is returned instead of panic.
	tseed := maphash.MakeSeed()
	thash := func(x any) (h uint64, ok bool) {
		defer func() {
			r := recover()
			if r != nil {
				if _, ok = r.(unhashable); !ok {
					panic(r)
				}
				h = 0
			}
		}()

		return hash(tseed, x), true
	}

	// tequal is used to invoke equal.
	// it automatically checks Go-extension, self-equal, symmetry and hash invariants:
	//
	//	a==b        ⇒  equal(a,b)
	//	equal(a,a)  =  y
	//	equal(a,b)  =  equal(b,a)
	//	equal(a,b)  ⇒  hash(a) = hash(b)
	tequal := func(a, b any) bool {
		if !equal(a, a) {
			t.Errorf("not self-equal  %T %#v", a, a)
		}
		if !equal(b, b) {
			t.Errorf("not self-equal  %T %#v", b, b)
		}

		eq := equal(a, b)
		qe := equal(b, a)

		if eq != qe {
			t.Errorf("equal not symmetric:  %T %#v  %T %#v;  a == b: %v  b == a: %v",
				a, a, b, b, eq, qe)
		}

		ah, ahOk := thash(a)
		bh, bhOk := thash(b)
		if eq && ahOk && bhOk && !(ah == bh) {
			t.Errorf("hash different of equal  %T %#v hash:%x  %T %#v hash:%x",
				a, a, ah, b, b, bh)
		}

		goeq := false
		func() {
			// a == b panics on uncomparable dynamic types
			defer func() {
				recover()
			}()

			goeq = (a == b)
		}()

		if goeq && !eq {
			t.Errorf("equal is not extension of ==  %T %#v  %T %#v",
				a, a, b, b)
		}

		return eq
	}

	// EHas returns whether x ∈ E.
	EHas := func(E tAllEqual, x any) bool {
		for _, a := range E {
			if tequal(a, x) {
				return true
			}
		}
		return false
	}

	for i, E1 := range testv {
		// ∀ a,b ∈ tAllEqual ⇒ equal(a,b) = y
		for _, a := range E1 {
			for _, b := range E1 {
				if !tequal(a, b) {
					t.Errorf("not equal  %T %#v  %T %#v", a, a, b, b)
				}
			}
		}

		// ∀ a ∈ tAllEqual
		// ∀ c ∉ tAllEqual ⇒ equal(a,c) = n
		for j, E2 := range testv {
			if j == i {
				continue
			}

			for _, a := range E1 {
				for _, c := range E2 {
					if EHas(E1, c) {
						continue
					}

					if tequal(a, c) {
						t.Errorf("equal  %T %#v  %T %#v", a, a, c, c)
					}
				}
			}
		}
	}
}

// TestDict verifies Dict.
func TestDict(t *testing.T) {
	d := NewDict()

	// assertData asserts that d has data exactly as specified by provided
	// key,value pairs, in that iteration order.
	assertData := func(kvok ...any) {
		t.Helper()

		if len(kvok)%2 != 0 {
			panic("kvok % 2 != 0")
		}
		lok := len(kvok) / 2

		bad := false
		badf := func(format string, argv ...any) {
			t.Helper()
			bad = true
			t.Errorf(format, argv...)
		}

		l := d.Len()
		if l != lok {
			badf("len: have: %d  want: %d", l, lok)
		}

		i := 0
		for k, v := range d.Iter() {
			if i >= lok {
				badf("unexpected key %#v", k)
				break
			}
			kok, vok := kvok[2*i], kvok[2*i+1]
			if !(reflect.TypeOf(k) == reflect.TypeOf(kok) && equal(k, kok)) {
				badf("item %d: key %T %#v  ;  want %T %#v", i, k, k, kok, kok)
			}
			if v != vok {
				badf("key %T %#v -> value %T %#v  ;  want %T %#v", k, k, v, v, vok, vok)
			}
			i++
		}

		if bad {
			t.Fatalf("\nd:   %#v\nkvok: %#v", d, kvok)
		}
	}

	// assertGet asserts that d.Get(k) results in exactly vok.
	assertGet := func(k any, vok any) {
		t.Helper()
		v := d.Get(k)
		if v != vok {
			t.Fatalf("get %#v: have: %#v  want: %#v\nd: %#v", k, v, vok, d)
		}
	}

	// numbers
	assertData()

	d.Set(1, "x")
	assertData(1, "x")
	assertGet(1, "x")
	assertGet(1.0, "x")
	assertGet(bigInt("1"), "x")
	assertGet(complex(1, 0), "x")
	assertGet(true, "x")

	d.Del(7)
	assertData(1, "x")

	d.Set(2.5, "y")
	assertData(1, "x", 2.5, "y")
	assertGet(2, nil)
	assertGet(2.5, "y")
	assertGet(bigInt("2"), nil)
	assertGet(complex(2.5, 0), "y")

	// equal key replaces the value, but keeps the key and its position
	d.Set(1.0, "z")
	assertData(1, "z", 2.5, "y")

	d.Del(1)
	assertData(2.5, "y")
	assertGet(1, nil)
	assertGet(1.0, nil)
	assertGet(2.5, "y")

	d.Del(2.5)
	assertData()
	assertGet(2.5, nil)

	// strings/bytes
	d.Set("abc", "a")
	assertData("abc", "a")
	assertGet("abc", "a")
	assertGet(Bytes("abc"), nil)

	d.Set(Bytes("abc"), "b")
	assertData("abc", "a", Bytes("abc"), "b")
	assertGet("abc", "a")
	assertGet(Bytes("abc"), "b")

	d.Del("abc")
	assertData(Bytes("abc"), "b")
	assertGet("abc", nil)
	assertGet(Bytes("abc"), "b")

	d.Del(Bytes("abc"))
	assertData()

	// None, tuple
	d.Set(None{}, "n")
	assertData(None{}, "n")
	assertGet(None{}, "n")
	assertGet(Tuple{}, nil)

	d.Set(Tuple{}, "t")
	assertData(None{}, "n", Tuple{}, "t")

	d.Set(Tuple{1, 2, "a"}, "t12a")
	d.Set(Tuple{1, 2, Bytes("a")}, "t12b")
	assertData(None{}, "n", Tuple{}, "t", Tuple{1, 2, "a"}, "t12a", Tuple{1, 2, Bytes("a")}, "t12b")
	assertGet(Tuple{1, 2}, nil)
	assertGet(Tuple{1.0, bigInt("2"), "a"}, "t12a")
	assertGet(Tuple{1, 2, Bytes("a")}, "t12b")

	d.Del(Tuple{1, 2, "a"})
	assertData(None{}, "n", Tuple{}, "t", Tuple{1, 2, Bytes("a")}, "t12b")

	// frozenset
	d = NewDict()
	d.Set(NewFrozenSet(1, 2), "f")
	assertGet(NewFrozenSet(2, 1), "f")
	assertGet(NewFrozenSet(1), nil)

	// structs
	d = NewDict()
	d.Set(Class{"a", "b"}, 1)
	d.Set(Class{"c", "d"}, 2)
	d.Set(Ref{"a"}, 3)
	d.Set(tStructWithPrivate{"x", "y"}, 4)
	assertData(Class{"a", "b"}, 1, Class{"c", "d"}, 2, Ref{"a"}, 3, tStructWithPrivate{"x", "y"}, 4)
	assertGet(Class{"x", "y"}, nil)
	assertGet(Ref{"x"}, nil)
	assertGet(tStructWithPrivate{"p", "q"}, nil)

	// pointers
	i := 1
	j := 1
	k := 1
	x := Class{"a", "b"}
	y := Class{"a", "b"}
	z := Class{"a", "b"}
	d = NewDict()
	d.Set(&i, 1)
	d.Set(&j, 2)
	d.Set(&x, 3)
	d.Set(&y, 4)
	assertData(&i, 1, &j, 2, &x, 3, &y, 4)
	assertGet(&k, nil)
	assertGet(&z, nil)

	// NewDictWithSizeHint
	d = NewDictWithSizeHint(100)
	assertData()
	assertGet(1, nil)
	assertGet("a", nil)

	// NewDictWithData
	d = NewDictWithData("a", 1, 2, "b")
	assertData("a", 1, 2, "b")
	assertGet(2, "b")
	assertGet("a", 1)
	assert.Equal(t, []any{"a", 2}, d.Keys())
	assert.Panics(t, func() { NewDictWithData("a") })

	// unhashable types
	vbad := []any{
		[]any{},
		[]any{1, 2, 3},
		[]int{},
		[2]int{1, 2},
		NewDict(),
		NewSet(),
		map[any]any{},
		map[int]bool{},
		Ref{[]any{}},
		Tuple{1, []any{}},
		tStructWithPrivate{1, []any{}},
		tStructWithPrivate{[]any{}, 1},
	}

	assertUnhashable := func(subj any, f func()) {
		t.Helper()
		defer func() {
			t.Helper()
			r := recover()
			if r == nil {
				t.Errorf("%#v: no panic", subj)
				return
			}
			u, ok := r.(unhashable)
			if !ok {
				panic(r)
			}
			assert.True(t, strings.HasPrefix(u.String(), "unhashable type: "), u.String())
		}()

		f()
	}

	for _, k := range vbad {
		assertUnhashable(k, func() { d.Get(k) })
		assertUnhashable(k, func() { d.Set(k, 1) })
		assertUnhashable(k, func() { d.Del(k) })
		assertUnhashable(k, func() { NewDictWithData(k, 1) })
		assertUnhashable(k, func() { NewSet(k) })
		assertUnhashable(k, func() { Dict{}.Get(k) })
	}

	// = ~nil
	d = Dict{}
	assertData()
	assertGet(1, nil)
	assertGet("a", nil)
	d.Del(1)
	assertData()
	assert.Empty(t, d.Keys())

	assert.Panics(t, func() { d.Set(1, "x") })
}

// TestDictCompact verifies that removing many entries keeps order and lookups intact.
func TestDictCompact(t *testing.T) {
	d := NewDict()
	for i := 0; i < 100; i++ {
		d.Set(i, fmt.Sprintf("v%d", i))
	}
	for i := 0; i < 100; i++ {
		if i%3 != 0 {
			d.Del(i)
		}
	}

	assert.Equal(t, 34, d.Len())
	var keys []any
	for k, v := range d.Iter() {
		keys = append(keys, k)
		assert.Equal(t, fmt.Sprintf("v%d", k), v)
	}
	for i, k := range keys {
		assert.Equal(t, 3*i, k)
		assert.Equal(t, fmt.Sprintf("v%d", 3*i), d.Get(3*i))
	}

	// reinsertion goes to the end
	d.Set(1, "again")
	assert.Equal(t, 1, d.Keys()[d.Len()-1])
}

func TestDictString(t *testing.T) {
	d := NewDictWithData("a", int64(1), Bytes("b"), Tuple{int64(2)})
	assert.Equal(t, "{a: 1, b: [2]}", d.String())
	assert.Equal(t, `pickle.Dict{"a": 1, pickle.Bytes("b"): pickle.Tuple{2}}`, d.GoString())
	assert.Equal(t, "{}", Dict{}.String())
}

// benchmarks for map and Dict compare them from performance point of view.

func BenchmarkMapGet(b *testing.B) {
	m := map[any]any{}
	for i := 0; i < 100; i++ {
		m[i] = i
	}
	m["abc"] = 777

	b.Run("string", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = m["abc"]
		}
	})

	b.Run("int", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = m[77]
		}
	})
}

func BenchmarkDictGet(b *testing.B) {
	d := NewDict()
	for i := 0; i < 100; i++ {
		d.Set(i, i)
	}
	d.Set("abc", 777)

	b.Run("string", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = d.Get("abc")
		}
	})

	b.Run("int", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = d.Get(77)
		}
	})
}
