package pickle

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strings"
)

// Canonical order of unordered collections.
//
// Set and FrozenSet elements, as well as keys of Go maps, have no iteration
// order of their own. Encoder emits them sorted by compareCanonical so that
// equal collections produce byte-identical pickles in any process.

// rank groups values by category; categories are ordered by rank first.
func rank(x any) int {
	switch x.(type) {
	case nil, None:
		return 0
	case bool:
		return 1
	case string:
		return 4
	case Bytes:
		return 5
	case Tuple:
		return 6
	case FrozenSet:
		return 7
	case Class:
		return 8
	}
	switch kindOf(x) {
	case kBool:
		return 1
	case kInt, kUint, kFloat, kBigInt:
		return 2
	case kComplex:
		return 3
	}
	if reflect.TypeOf(x).Kind() == reflect.String {
		return 4
	}
	return 9
}

func sortCanonical(items []any) {
	slices.SortStableFunc(items, compareCanonical)
}

// ordered reports whether sorted items have no ties that matter: equal
// neighbours must be plain values, whose pickles do not depend on their order.
func ordered(items []any) bool {
	for i := 1; i < len(items); i++ {
		if compareCanonical(items[i-1], items[i]) == 0 && (tieSensitive(items[i-1]) || tieSensitive(items[i])) {
			return false
		}
	}
	return true
}

// sortPairs sorts key/value pairs by key, and pairs with equal keys by value.
// It reports false if pairs still tie as in ordered.
func sortPairs(pairs [][2]any) bool {
	comparePairs := func(a, b [2]any) int {
		if c := compareCanonical(a[0], b[0]); c != 0 {
			return c
		}
		return compareCanonical(a[1], b[1])
	}
	slices.SortFunc(pairs, comparePairs)
	for i := 1; i < len(pairs); i++ {
		a, b := pairs[i-1], pairs[i]
		if comparePairs(a, b) == 0 && (tieSensitive(a[0]) || tieSensitive(a[1]) || tieSensitive(b[0]) || tieSensitive(b[1])) {
			return false
		}
	}
	return true
}

// tieSensitive reports whether the position of x in a pickle can change the
// bytes emitted: x is memoized, or is composed of values that might be.
func tieSensitive(x any) bool {
	if _, ok := identityOf(x); ok {
		return true
	}
	return rank(x) >= 6
}

// compareCanonical returns -1, 0 or +1 depending on whether a sorts before,
// together with or after b.
func compareCanonical(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}

	c := 0
	switch ra {
	case 0:
		// all None are the same
	case 1:
		c = cmp.Compare(bint(reflect.ValueOf(a).Bool()), bint(reflect.ValueOf(b).Bool()))
	case 2:
		c = compareNumbers(a, b)
	case 3:
		ca, cb := reflect.ValueOf(a).Complex(), reflect.ValueOf(b).Complex()
		c = compareFloats(real(ca), real(cb))
		if c == 0 {
			c = compareFloats(imag(ca), imag(cb))
		}
	case 4:
		c = strings.Compare(reflect.ValueOf(a).String(), reflect.ValueOf(b).String())
	case 5:
		c = strings.Compare(string(a.(Bytes)), string(b.(Bytes)))
	case 6:
		c = slices.CompareFunc(a.(Tuple), b.(Tuple), compareCanonical)
	case 7:
		fa, fb := a.(FrozenSet), b.(FrozenSet)
		c = cmp.Compare(fa.Len(), fb.Len())
		if c == 0 {
			c = slices.CompareFunc(fa.s.items(), fb.s.items(), compareCanonical)
		}
	case 8:
		ca, cb := a.(Class), b.(Class)
		c = cmp.Or(strings.Compare(ca.Module, cb.Module), strings.Compare(ca.Name, cb.Name))
	default:
		c = bytes.Compare(canonicalBytes(a), canonicalBytes(b))
	}
	if c != 0 {
		return c
	}

	// equal by value, but possibly of different Go types, e.g. int64(1) and
	// float64(1) as keys of map[any]any.
	return strings.Compare(typeName(a), typeName(b))
}

func typeName(x any) string {
	if x == nil {
		return ""
	}
	return reflect.TypeOf(x).String()
}

// compareNumbers compares real numbers by value; NaNs sort last.
func compareNumbers(a, b any) int {
	fa, nanA := bigFloat(a)
	fb, nanB := bigFloat(b)
	switch {
	case nanA && nanB:
		return cmp.Compare(math.Float64bits(reflect.ValueOf(a).Float()), math.Float64bits(reflect.ValueOf(b).Float()))
	case nanA:
		return +1
	case nanB:
		return -1
	}
	return fa.Cmp(fb)
}

func compareFloats(a, b float64) int {
	return compareNumbers(a, b)
}

// bigFloat converts real number x to big.Float exactly.
func bigFloat(x any) (f *big.Float, nan bool) {
	f = new(big.Float).SetPrec(0)
	if b, ok := x.(*big.Int); ok {
		return f.SetInt(b), false
	}
	v := reflect.ValueOf(x)
	switch kindOf(x) {
	case kBool:
		return f.SetInt64(bint(v.Bool())), false
	case kInt:
		return f.SetInt64(v.Int()), false
	case kUint:
		return f.SetUint64(v.Uint()), false
	case kFloat:
		if math.IsNaN(v.Float()) {
			return nil, true
		}
		return f.SetFloat64(v.Float()), false
	}
	panic(fmt.Sprintf("bigFloat: not a real number: %T", x))
}

// canonicalBytes returns standalone encoding of x used to order values that
// have no natural order, e.g. registered objects.
func canonicalBytes(x any) []byte {
	data, err := encodeStandalone(x)
	if err != nil {
		return []byte(fmt.Sprintf("%#v", x))
	}
	return data
}
