package pickle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundtrip encodes v at every protocol and returns what decodes back.
func roundtrip(t *testing.T, v any, f func(t *testing.T, proto int, data []byte, got any)) {
	t.Helper()
	for proto := 0; proto <= HighestProtocol; proto++ {
		t.Run(fmt.Sprintf("proto=%d", proto), func(t *testing.T) {
			data, err := Dumps(v, proto)
			require.NoError(t, err)
			got, err := LoadsWithConfig(data, &DecoderConfig{Symbolic: true})
			require.NoError(t, err, "%s", pyquote(string(data)))
			f(t, proto, data, got)
		})
	}
}

func TestSharedList(t *testing.T) {
	l := []any{int64(1), int64(2)}
	roundtrip(t, Tuple{l, l}, func(t *testing.T, proto int, data []byte, got any) {
		tup := got.(Tuple)
		require.Len(t, tup, 2)
		a, b := tup[0].([]any), tup[1].([]any)
		assert.Equal(t, []any{int64(1), int64(2)}, a)
		assert.Same(t, &a[0], &b[0], "list is not shared")

		// the list is emitted once
		assert.Equal(t, 1, bytes.Count(data, []byte{opBinint1, 2})+bytes.Count(data, []byte("I2\n")))
	})
}

func TestSharedDict(t *testing.T) {
	a := NewDict()
	b := NewDict()
	a.Set("peer", b)
	b.Set("peer", a)
	a.Set("name", "a")
	b.Set("name", "b")

	roundtrip(t, []any{a, b}, func(t *testing.T, proto int, data []byte, got any) {
		l := got.([]any)
		require.Len(t, l, 2)
		ga, gb := l[0].(Dict), l[1].(Dict)
		assert.Equal(t, "a", ga.Get("name"))
		assert.Equal(t, "b", gb.Get("name"))
		assert.True(t, ga.Get("peer").(Dict).d == gb.d, "a.peer is not b")
		assert.True(t, gb.Get("peer").(Dict).d == ga.d, "b.peer is not a")
	})
}

func TestSelfReferencingList(t *testing.T) {
	l := make([]any, 1)
	l[0] = l

	data, err := Dumps(l, 2)
	require.NoError(t, err)
	assert.Equal(t, "\x80\x02]q\x00h\x00a.", string(data))

	roundtrip(t, l, func(t *testing.T, proto int, data []byte, got any) {
		gl := got.([]any)
		require.Len(t, gl, 1)
		inner := gl[0].([]any)
		assert.Same(t, &gl[0], &inner[0])
	})
}

func TestSelfReferencingDict(t *testing.T) {
	d := NewDict()
	d.Set("self", d)

	roundtrip(t, d, func(t *testing.T, proto int, data []byte, got any) {
		gd := got.(Dict)
		require.Equal(t, 1, gd.Len())
		assert.True(t, gd.Get("self").(Dict).d == gd.d)
	})
}

// a tuple can reach itself only through a mutable container.
func TestTupleCycle(t *testing.T) {
	l := make([]any, 1)
	tup := Tuple{l}
	l[0] = tup

	data, err := Dumps(tup, 2)
	require.NoError(t, err)
	// the outer tuple is dropped and fetched from memo once it turns out the
	// list already pickled it.
	assert.Equal(t, "\x80\x02]q\x00h\x00\x85q\x01a0h\x01.", string(data))

	roundtrip(t, tup, func(t *testing.T, proto int, data []byte, got any) {
		gt := got.(Tuple)
		require.Len(t, gt, 1)
		gl := gt[0].([]any)
		require.Len(t, gl, 1)
		inner := gl[0].(Tuple)
		assert.Same(t, &gl[0], &inner[0].([]any)[0])
	})
}

func TestSetOfSharedTuple(t *testing.T) {
	key := Tuple{int64(1), "x"}
	d := NewDictWithData(key, NewSet(key))

	roundtrip(t, d, func(t *testing.T, proto int, data []byte, got any) {
		gd := got.(Dict)
		s, ok := gd.Get_(Tuple{int64(1), "x"})
		require.True(t, ok)
		assert.True(t, s.(Set).Has(Tuple{int64(1), "x"}))
	})
}

func TestMaxDepth(t *testing.T) {
	nest := func(n int) any {
		var v any = Tuple{}
		for i := 0; i < n; i++ {
			v = []any{v}
		}
		return v
	}

	for proto := 0; proto <= HighestProtocol; proto++ {
		_, err := DumpsWithConfig(nest(10), &EncoderConfig{Protocol: proto, MaxDepth: 10})
		assert.NoError(t, err, "proto %d", proto)

		_, err = DumpsWithConfig(nest(11), &EncoderConfig{Protocol: proto, MaxDepth: 10})
		assert.ErrorIs(t, err, ErrPickling, "proto %d", proto)
	}

	// no recursion: deep nesting works with a big enough limit
	const deep = 100000
	data, err := DumpsWithConfig(nest(deep), &EncoderConfig{Protocol: HighestProtocol, MaxDepth: deep})
	require.NoError(t, err)
	v, err := Loads(data)
	require.NoError(t, err)
	for i := 0; i < deep; i++ {
		l, ok := v.([]any)
		require.True(t, ok, "level %d: %T", i, v)
		v = l[0]
	}
	assert.Equal(t, Tuple{}, v)
}

// hashDeterminismSamples returns sha256 of pickles of values whose Go
// representation has no stable iteration order.
func hashDeterminismSamples(t *testing.T) []string {
	m := make(map[any]any)
	s := NewSet()
	for i := 0; i < 200; i++ {
		m[fmt.Sprintf("k%d", i)] = int64(i)
		m[int64(i)] = Tuple{int64(i), float64(i) / 3}
		s.Add(fmt.Sprintf("s%d", i))
		s.Add(int64(i * 7))
	}
	samples := []any{
		m,
		s,
		NewFrozenSet(Bytes("a"), "a", int64(1), 2.5, Tuple{}, None{}, complex(1, 1)),
		map[string][]int{"x": {1}, "y": {2, 3}, "z": nil},
		NewDictWithData("set", s, "map", m),
	}

	var hashes []string
	for _, v := range samples {
		for proto := 0; proto <= HighestProtocol; proto++ {
			data, err := Dumps(v, proto)
			require.NoError(t, err)
			sum := sha256.Sum256(data)
			hashes = append(hashes, hex.EncodeToString(sum[:]))
		}
	}
	return hashes
}

func TestDeterminism(t *testing.T) {
	want := hashDeterminismSamples(t)
	for i := 0; i < 10; i++ {
		assert.Equal(t, want, hashDeterminismSamples(t))
	}

	// equal sets built in different order
	a := NewSet("x", int64(1), 2.5, Bytes("x"))
	b := NewSet(Bytes("x"), 2.5, "x", int64(1))
	for proto := 0; proto <= HighestProtocol; proto++ {
		da, err := Dumps(a, proto)
		require.NoError(t, err)
		db, err := Dumps(b, proto)
		require.NoError(t, err)
		assert.Equal(t, da, db, "proto %d", proto)
	}
}

const determinismChildEnv = "PICKLE_DETERMINISM_CHILD"

// TestDeterminismAcrossProcesses verifies that pickles do not depend on
// per-process hash seeds: another process must produce the same bytes.
func TestDeterminismAcrossProcesses(t *testing.T) {
	hashes := hashDeterminismSamples(t)

	if os.Getenv(determinismChildEnv) != "" {
		for _, h := range hashes {
			fmt.Println("hash:", h)
		}
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestDeterminismAcrossProcesses$")
	cmd.Env = append(os.Environ(), determinismChildEnv+"=1")
	out, err := cmd.Output()
	require.NoError(t, err, "%s", out)

	var child []string
	for _, line := range strings.Split(string(out), "\n") {
		if h, ok := strings.CutPrefix(line, "hash: "); ok {
			child = append(child, h)
		}
	}
	assert.Equal(t, hashes, child)
}

func TestProtocolBounds(t *testing.T) {
	v := []any{int64(1), "x", Tuple{Bytes("y")}}

	highest, err := Dumps(v, HighestProtocol)
	require.NoError(t, err)
	data, err := Dumps(v, -1)
	require.NoError(t, err)
	assert.Equal(t, highest, data)

	for _, proto := range []int{HighestProtocol + 1, -2} {
		_, err := Dumps(v, proto)
		assert.ErrorIs(t, err, ErrValue, "proto %d", proto)
	}
}

func TestMappingRoundtrip(t *testing.T) {
	in := map[string]int{"a": 1, "b": 2}
	roundtrip(t, in, func(t *testing.T, proto int, data []byte, got any) {
		d, ok := got.(Dict)
		require.True(t, ok, "%T", got)
		assert.Equal(t, 2, d.Len())
		assert.Equal(t, int64(1), d.Get("a"))
		assert.Equal(t, int64(2), d.Get("b"))
	})
}

// Hashing set elements and dict keys nested deeper than the recursion limit
// must fail cleanly instead of exhausting the goroutine stack.
func TestDecodeDeepHashable(t *testing.T) {
	deep := "N" + strings.Repeat("\x85", 4*DefaultMaxDepth) // TUPLE1 over and over

	for _, data := range []string{
		"\x80\x04\x8f(" + deep + "\x90.", // EMPTY_SET MARK ... ADDITEMS
		"\x80\x04(" + deep + "\x91.",     // MARK ... FROZENSET
		"\x80\x04}" + deep + "Ns.",       // EMPTY_DICT ... SETITEM
	} {
		_, err := Loads([]byte(data))
		assert.ErrorIs(t, err, ErrUnpickling)
		assert.ErrorIs(t, err, ErrNesting)
	}

	// nesting below the limit is fine
	shallow := "N" + strings.Repeat("\x85", 100)
	v, err := Loads([]byte("\x80\x04\x8f(" + shallow + "\x90."))
	require.NoError(t, err)
	assert.Equal(t, 1, v.(Set).Len())
}

func TestEqualDeep(t *testing.T) {
	var a, b any = []any{}, []any{}
	for i := 0; i < 2*DefaultMaxDepth; i++ {
		a, b = []any{a}, []any{b}
	}
	assert.PanicsWithValue(t, ErrNesting, func() { Equal(a, b) })

	l := []any{nil}
	l[0] = l
	m := []any{nil}
	m[0] = m
	assert.PanicsWithValue(t, ErrNesting, func() { Equal(l, m) })
}

// Entries of Go maps whose keys compare equal are ordered by their values, so
// the pickle does not depend on map iteration order.
func TestMapPointerKeysDeterministic(t *testing.T) {
	r := NewClassResolver()
	require.NoError(t, r.Register(Class{"geometry", "Point"}, Point{}))
	config := &EncoderConfig{Protocol: 2, Resolver: r}

	m := map[*Point]string{
		{X: 1}: "first",
		{X: 1}: "second",
		{X: 2}: "third",
	}
	want, err := DumpsWithConfig(m, config)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		data, err := DumpsWithConfig(m, config)
		require.NoError(t, err)
		require.Equal(t, want, data, "iteration %d", i)
	}

	v, err := LoadsWithConfig(want, &DecoderConfig{Resolver: r})
	require.NoError(t, err)
	d := v.(Dict)
	var values []any
	for k, v := range d.Iter() {
		assert.IsType(t, &Point{}, k)
		values = append(values, v)
	}
	assert.Equal(t, []any{"first", "second", "third"}, values)

	// nothing tells such entries apart
	_, err = DumpsWithConfig(map[*Point]string{{X: 1}: "same", {X: 1}: "same"}, config)
	assert.ErrorIs(t, err, ErrPickling)

	s := NewSet(&Point{X: 1}, &Point{X: 1})
	_, err = DumpsWithConfig(s, config)
	assert.ErrorIs(t, err, ErrPickling)

	// plain values that tie emit the same bytes in either order
	nan := math.NaN()
	data, err := Dumps(map[float64]string{nan: "x", math.Copysign(nan, 1): "x"}, 2)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

// Records and arrays decode as dicts and lists, which cannot be keys.
func TestUnhashableKeys(t *testing.T) {
	type pair struct{ a, b int }
	type Record struct{ A, B int }

	for _, v := range []any{
		map[pair]string{{1, 2}: "x"},
		map[Record]string{{1, 2}: "x"},
		map[[2]int]string{{1, 2}: "x"},
		map[any]int{&[]int{1}: 1},
		NewSet(Record{1, 2}),
		NewSet(Tuple{int64(1), Record{1, 2}}),
		NewFrozenSet(Record{1, 2}),
		NewDictWithData(Record{1, 2}, int64(1)),
	} {
		for proto := 0; proto <= HighestProtocol; proto++ {
			_, err := Dumps(v, proto)
			assert.ErrorIs(t, err, ErrPickling, "%T proto %d", v, proto)
			assert.ErrorContains(t, err, "unhashable type", "%T proto %d", v, proto)
		}
	}

	// bytes arrays are fine as keys
	roundtrip(t, map[[2]byte]int{{'a', 'b'}: 1}, func(t *testing.T, proto int, data []byte, got any) {
		assert.Equal(t, int64(1), got.(Dict).Get(Bytes("ab")))
	})
}

func TestPointerCycle(t *testing.T) {
	var x any
	x = &x
	for proto := 0; proto <= HighestProtocol; proto++ {
		_, err := Dumps(&x, proto)
		assert.ErrorIs(t, err, ErrPickling, "proto %d", proto)
		assert.ErrorContains(t, err, "maximum recursion depth exceeded")
	}

	// plain pointers are followed
	n := int64(5)
	roundtrip(t, &n, func(t *testing.T, proto int, data []byte, got any) {
		assert.Equal(t, int64(5), got)
	})
}
