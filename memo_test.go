package pickle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoRegister(t *testing.T) {
	m := newMemo[string]()

	slot, fresh := m.register("a")
	assert.Equal(t, 0, slot)
	assert.True(t, fresh)

	slot, fresh = m.register("b")
	assert.Equal(t, 1, slot)
	assert.True(t, fresh)

	slot, fresh = m.register("a")
	assert.Equal(t, 0, slot)
	assert.False(t, fresh)

	slot, ok := m.lookup("b")
	assert.True(t, ok)
	assert.Equal(t, 1, slot)

	_, ok = m.lookup("c")
	assert.False(t, ok)
	assert.Equal(t, 2, m.len())
}

func TestSlotTable(t *testing.T) {
	st := newSlotTable()

	st.memoize("x")
	st.memoize("y")
	st.put(7, "z")
	assert.Equal(t, 3, st.len())

	for i, want := range map[int]any{0: "x", 1: "y", 7: "z"} {
		v, err := st.get(i)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	_, err := st.get(5)
	assert.EqualError(t, err, "memo: key error 5")

	// PUT may overwrite
	st.put(0, "w")
	v, err := st.get(0)
	require.NoError(t, err)
	assert.Equal(t, "w", v)
}

func TestIdentityOf(t *testing.T) {
	l := []any{int64(1), int64(2)}
	m := map[string]int{"a": 1}
	p := &Point{}
	d := NewDict()
	s := NewSet()

	// values without identity
	for _, x := range []any{
		nil, int64(1), "abc", 1.5, true, None{}, Bytes("abc"),
		[]any{}, Tuple{}, []any(nil), map[string]int(nil), (*Point)(nil),
		Dict{}, Set{}, FrozenSet{}, [2]int{1, 2}, Point{},
	} {
		_, ok := identityOf(x)
		assert.False(t, ok, "%#v", x)
	}

	key := func(x any) memoKey {
		t.Helper()
		k, ok := identityOf(x)
		require.True(t, ok, "%#v", x)
		return k
	}

	// the same object has the same key
	assert.Equal(t, key(l), key(l))
	assert.Equal(t, key(m), key(m))
	assert.Equal(t, key(p), key(p))
	assert.Equal(t, key(d), key(d))
	assert.Equal(t, key(s), key(s))

	// a copy of Dict header still refers to the same dict
	d2 := d
	assert.Equal(t, key(d), key(d2))

	// sub-slices are different objects, as are equal but distinct lists
	assert.NotEqual(t, key(l), key(l[:1]))
	assert.NotEqual(t, key(l), key([]any{int64(1), int64(2)}))

	// the type is part of identity
	tup := Tuple(l)
	assert.NotEqual(t, key(l), key(tup))

	// classes are keyed by name
	c := Class{Module: "m", Name: "C"}
	assert.Equal(t, key(c), key(Class{Module: "m", Name: "C"}))
	assert.NotEqual(t, key(c), key(Class{Module: "m", Name: "D"}))
}
