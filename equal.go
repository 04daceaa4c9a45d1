package pickle

// Python-like equality and hashing of values.
//
// Dict and Set use them for their keys, so that e.g. int64(1), float64(1.0)
// and big.Int(1) address the same entry, as in Python.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/maphash"
	"math"
	"math/big"
	"reflect"
)

// Equal reports whether a == b by Python rules.
//
// Numbers compare by value across Go types, Tuple only equals Tuple, other
// slices and arrays compare element-wise, Dict and Go maps compare as
// mappings, Set and FrozenSet compare by membership, and pointers compare by
// identity.
//
// Equal panics with ErrNesting if a and b nest deeper than maxNesting levels,
// which is also what happens for cyclic values.
func Equal(a, b any) bool {
	return equal(a, b)
}

// maxNesting bounds recursion of equal and hash into nested values.
const maxNesting = DefaultMaxDepth

// ErrNesting is the panic value of Equal, and of hashing Dict keys and Set
// elements, for values nested deeper than maxNesting.
var ErrNesting = errors.New("maximum recursion depth exceeded")

// kind represents to which category a type belongs.
//
// It primarily classifies bool, numbers, slices, structs and maps, and puts
// everything else into "other" category.
type kind uint

const (
	kBool    kind = iota
	kInt          // int + intX
	kUint         // uint + uintX
	kFloat        // floatX
	kComplex      // complexX
	kBigInt       // *big.Int

	kSlice   // slice + array
	kMap     // map
	kStruct  // struct
	kPointer // pointer
	kOther   // everything else
)

func kindOf(x any) kind {
	r := reflect.ValueOf(x)

	switch r.Kind() {
	case reflect.Bool:
		return kBool
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Int16, reflect.Int8:
		return kInt
	case reflect.Uint, reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8, reflect.Uintptr:
		return kUint
	case reflect.Float64, reflect.Float32:
		return kFloat
	case reflect.Complex128, reflect.Complex64:
		return kComplex
	case reflect.Slice, reflect.Array:
		return kSlice
	case reflect.Map:
		return kMap
	case reflect.Struct:
		return kStruct
	}

	if _, ok := x.(*big.Int); ok {
		return kBigInt
	}
	if r.Kind() == reflect.Pointer {
		return kPointer
	}
	return kOther
}

// equal implements equality matching what Python would return for a == b.
//
// Equality properties:
//
//	(a == b) ⇒ equal(a,b)
//	equal(a,a) = y
//	equal(a,b) = equal(b,a)
//	equal(a,b) ^ equal(b,c) ⇒ equal(a,c)
func equal(xa, xb any) bool {
	return equalAt(xa, xb, 0)
}

func equalAt(xa, xb any, depth int) bool {
	if depth > maxNesting {
		panic(ErrNesting)
	}

	// str and bytes never compare equal to each other
	switch a := xa.(type) {
	case string:
		b, ok := xb.(string)
		return ok && a == b
	case Bytes:
		b, ok := xb.(Bytes)
		return ok && a == b
	}
	switch xb.(type) {
	case string, Bytes:
		return false
	}

	a := reflect.ValueOf(xa)
	b := reflect.ValueOf(xb)

	ak := kindOf(xa)
	bk := kindOf(xb)

	// equality is symmetric: handle only half of the comparison matrix
	if ak > bk {
		a, b = b, a
		ak, bk = bk, ak
		xa, xb = xb, xa
	}

	switch ak {
	case kBool:
		// bool compares to numbers as 1 or 0
		abint := bint(a.Bool())
		switch bk {
		case kBool:
			return abint == bint(b.Bool())
		case kInt:
			return abint == b.Int()
		case kUint:
			return eq_Int_Uint(abint, b.Uint())
		case kFloat:
			return float64(abint) == b.Float()
		case kComplex:
			return complex(float64(abint), 0) == b.Complex()
		case kBigInt:
			return eq_Int_BigInt(abint, xb.(*big.Int))
		}
		return false

	case kInt:
		aint := a.Int()
		switch bk {
		case kInt:
			return aint == b.Int()
		case kUint:
			return eq_Int_Uint(aint, b.Uint())
		case kFloat:
			return float64(aint) == b.Float()
		case kComplex:
			return complex(float64(aint), 0) == b.Complex()
		case kBigInt:
			return eq_Int_BigInt(aint, xb.(*big.Int))
		}
		return false

	case kUint:
		auint := a.Uint()
		switch bk {
		case kUint:
			return auint == b.Uint()
		case kFloat:
			return float64(auint) == b.Float()
		case kComplex:
			return complex(float64(auint), 0) == b.Complex()
		case kBigInt:
			bb := xb.(*big.Int)
			return bb.IsUint64() && auint == bb.Uint64()
		}
		return false

	case kFloat:
		afloat := a.Float()
		switch bk {
		case kFloat:
			return afloat == b.Float()
		case kComplex:
			return complex(afloat, 0) == b.Complex()
		case kBigInt:
			return eq_Float_BigInt(afloat, xb.(*big.Int))
		}
		return false

	case kComplex:
		acomplex := a.Complex()
		switch bk {
		case kComplex:
			return acomplex == b.Complex()
		case kBigInt:
			return imag(acomplex) == 0 && eq_Float_BigInt(real(acomplex), xb.(*big.Int))
		}
		return false

	case kBigInt:
		if bk == kBigInt {
			return xa.(*big.Int).Cmp(xb.(*big.Int)) == 0
		}
		return false

	case kSlice:
		if bk != kSlice {
			return false
		}
		// tuple is never equal to list
		_, atuple := xa.(Tuple)
		_, btuple := xb.(Tuple)
		if atuple != btuple {
			return false
		}
		return eq_Slice_Slice(a, b, depth)

	case kMap:
		switch bk {
		case kMap:
			return eq_Map_Map(a, b, depth)
		}
		if d, ok := xb.(Dict); ok {
			return eq_Map_Dict(a, d, depth)
		}
		return false
	}

	// our types that need special handling
	switch a := xa.(type) {
	case Dict:
		b, ok := xb.(Dict)
		return ok && eq_Dict_Dict(a, b, depth)
	case Set:
		return eq_Set_Any(a.s, xb)
	case FrozenSet:
		return eq_Set_Any(a.s, xb)
	}
	switch xb.(type) {
	case Dict, Set, FrozenSet:
		return false
	}

	// structs  (also covers None, Class, Call etc...)
	if ak == kStruct {
		return bk == kStruct && eq_Struct_Struct(a, b, depth)
	}

	return xa == xb // pointers and everything else: identity
}

func eq_Int_Uint(a int64, b uint64) bool {
	return a >= 0 && uint64(a) == b
}

func eq_Int_BigInt(a int64, b *big.Int) bool {
	return b.IsInt64() && a == b.Int64()
}

func eq_Float_BigInt(a float64, b *big.Int) bool {
	bf, accuracy := bigInt_Float64(b)
	return accuracy == big.Exact && a == bf
}

func eq_Slice_Slice(a, b reflect.Value, depth int) bool {
	al := a.Len()
	if al != b.Len() {
		return false
	}
	for i := 0; i < al; i++ {
		if !equalAt(a.Index(i).Interface(), b.Index(i).Interface(), depth+1) {
			return false
		}
	}
	return true
}

func eq_Struct_Struct(a, b reflect.Value, depth int) bool {
	if a.Type() != b.Type() {
		return false
	}

	l := a.NumField()
	for i := 0; i < l; i++ {
		if !equalAt(fieldInterface(a, i), fieldInterface(b, i), depth+1) {
			return false
		}
	}
	return true
}

// dicts D₁ and D₂ are equal if len(D₁) = len(D₂) and ∀ k ∈ D₁: equal(D₁[k], D₂[k]).
func eq_Dict_Dict(a, b Dict, depth int) bool {
	if a.Len() != b.Len() {
		return false
	}
	eq := true
	a.Iter()(func(k, va any) bool {
		vb, ok := b.Get_(k)
		eq = ok && equalAt(va, vb, depth+1)
		return eq
	})
	return eq
}

func eq_Map_Dict(a reflect.Value, b Dict, depth int) bool {
	if a.Len() != b.Len() {
		return false
	}
	ai := a.MapRange()
	for ai.Next() {
		vb, ok := b.Get_(ai.Key().Interface())
		if !ok || !equalAt(ai.Value().Interface(), vb, depth+1) {
			return false
		}
	}
	return true
}

func eq_Map_Map(a, b reflect.Value, depth int) bool {
	return eq_Map_Dict(a, dictFromMap(b), depth)
}

func eq_Set_Any(a *set, xb any) bool {
	var b *set
	switch x := xb.(type) {
	case Set:
		b = x.s
	case FrozenSet:
		b = x.s
	default:
		return false
	}
	if a.len() != b.len() {
		return false
	}
	eq := true
	a.each(func(x any) bool {
		eq = b.has(x)
		return eq
	})
	return eq
}

// dictFromMap converts Go map to Dict; it panics if a key is unhashable.
func dictFromMap(m reflect.Value) Dict {
	d := NewDictWithSizeHint(m.Len())
	mi := m.MapRange()
	for mi.Next() {
		d.Set(mi.Key().Interface(), mi.Value().Interface())
	}
	return d
}

// ---- hash ----

// hash returns hash of x consistent with equality implemented by equal.
//
//	equal(a,b)  ⇒  hash(a) = hash(b)
//
// hash panics with "unhashable type: ..." if x is not allowed to be used as
// Dict key or Set element, and with ErrNesting if x nests too deep.
func hash(seed maphash.Seed, x any) uint64 {
	return hashAt(seed, x, 0)
}

func hashAt(seed maphash.Seed, x any, depth int) uint64 {
	if depth > maxNesting {
		panic(ErrNesting)
	}

	switch v := x.(type) {
	case string:
		return maphash.String(seed, v)
	case Bytes:
		return maphash.String(seed, string(v))
	}

	var h maphash.Hash
	h.SetSeed(seed)

	hash_Uint := func(u uint64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		h.Write(b[:])
	}
	hash_Int := func(i int64) {
		hash_Uint(uint64(i))
	}
	hash_Float := func(f float64) {
		// integral floats hash as the integer they are equal to
		switch {
		case f >= math.MinInt64 && f < 0 && math.Trunc(f) == f:
			hash_Int(int64(f))
		case f >= 0 && f < 1<<64 && math.Trunc(f) == f:
			hash_Uint(uint64(f))
		default:
			hash_Uint(math.Float64bits(f))
		}
	}

	r := reflect.ValueOf(x)
	switch kindOf(x) {
	case kBool:
		hash_Int(bint(r.Bool()))
		return h.Sum64()
	case kInt:
		hash_Int(r.Int())
		return h.Sum64()
	case kUint:
		hash_Uint(r.Uint())
		return h.Sum64()
	case kFloat:
		hash_Float(r.Float())
		return h.Sum64()

	case kComplex:
		c := r.Complex()
		hash_Float(real(c))
		if imag(c) != 0 {
			hash_Float(imag(c))
		}
		return h.Sum64()

	case kBigInt:
		b := x.(*big.Int)
		switch {
		case b.IsInt64():
			hash_Int(b.Int64())
		case b.IsUint64():
			hash_Uint(b.Uint64())
		default:
			f, accuracy := bigInt_Float64(b)
			if accuracy == big.Exact {
				hash_Float(f)
			} else {
				h.WriteString("bigInt")
				h.Write(b.Bytes())
			}
		}
		return h.Sum64()

	case kPointer:
		hash_Uint(uint64(r.Pointer()))
		return h.Sum64()
	}

	switch v := x.(type) {
	case Tuple:
		h.WriteString("tuple")
		for _, item := range v {
			hash_Uint(hashAt(seed, item, depth+1))
		}
		return h.Sum64()

	case FrozenSet:
		// order independent
		var acc uint64
		v.s.each(func(item any) bool {
			acc ^= hashAt(seed, item, depth+1)
			return true
		})
		h.WriteString("frozenset")
		hash_Uint(acc)
		return h.Sum64()

	case Dict, Set:
		goto unhashable
	}

	if kindOf(x) == kStruct {
		typ := r.Type()
		h.WriteString(typ.Name())
		l := typ.NumField()
		for i := 0; i < l; i++ {
			hash_Uint(hashAt(seed, fieldInterface(r, i), depth+1))
		}
		return h.Sum64()
	}

unhashable:
	panic(unhashable{x})
}

// unhashable is the panic value of hash for values that cannot be keys.
type unhashable struct {
	x any
}

func (u unhashable) String() string {
	return fmt.Sprintf("unhashable type: %T", u.x)
}

// ---- misc ----

// bint returns int corresponding to bool.
func bint(x bool) int64 {
	if x {
		return 1
	}
	return 0
}

// bigInt_Float64 converts b to float64, reporting conversion accuracy.
func bigInt_Float64(b *big.Int) (float64, big.Accuracy) {
	return new(big.Float).SetInt(b).Float64()
}
