package openhash_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradyschofield/openhash"
)

func TestStringIntMapBasics(t *testing.T) {
	m := openhash.NewStringIntMap()
	m.Put("alpha", 1)
	m.Put("beta", 2)
	m.Put("alpha", 10) // re-assign
	assert.Equal(t, 2, m.Size())

	v, err := m.At("alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	_, err = m.At("gamma")
	assert.ErrorIs(t, err, openhash.ErrKeyNotFound)

	m.Erase("alpha")
	assert.False(t, m.Contains("alpha"))
	assert.Equal(t, 1, m.Size())
	_, err = m.At("alpha")
	assert.ErrorIs(t, err, openhash.ErrKeyNotFound)
}

func TestStringIntMapRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	path := tempPath(t, "s2i.oht")

	m := openhash.NewStringIntMap()
	m.Reserve(4000)
	ref := make(map[string]int64)
	idx := int64(0)
	for len(ref) < 3000 {
		s := randomString(rng)
		if _, ok := ref[s]; ok {
			continue
		}
		m.Put(s, idx)
		ref[s] = idx
		idx++
	}
	// Erase a slice of them before writing.
	erased := make([]string, 0, 200)
	for s := range ref {
		if len(erased) == 200 {
			break
		}
		m.Erase(s)
		erased = append(erased, s)
		delete(ref, s)
	}
	require.NoError(t, m.Write(path))

	r, err := openhash.OpenStringIntMap(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, len(ref), r.Size())
	for s, want := range ref {
		require.True(t, r.Contains(s), "key %q", s)
		got, err := r.At(s)
		require.NoError(t, err)
		assert.Equal(t, want, got, "key %q", s)
	}
	for _, s := range erased {
		assert.False(t, r.Contains(s), "erased key %q", s)
		_, err := r.At(s)
		assert.ErrorIs(t, err, openhash.ErrKeyNotFound)
	}

	// Rebuild the inverse table from the mapped entries; the key views
	// must copy cleanly into owned strings.
	inverse := openhash.NewIntStringMap()
	r.ForEach(func(key string, value int64) bool {
		inverse.Put(value, string([]byte(key)))
		return true
	})
	assert.Equal(t, r.Size(), inverse.Size())
	for s, i := range ref {
		got, err := inverse.At(i)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestStringIntMapEmptyKey(t *testing.T) {
	path := tempPath(t, "s2i.oht")
	m := openhash.NewStringIntMap()
	m.Put("", 42)
	m.Put("x", 1)
	require.NoError(t, m.Write(path))

	r, err := openhash.OpenStringIntMap(path)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.At("")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestStringIntMapClone(t *testing.T) {
	m := openhash.NewStringIntMap()
	m.Put("a", 1)
	c := m.Clone()
	c.Put("a", 2)
	c.Put("b", 3)

	v, err := m.At("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.False(t, m.Contains("b"))
}

func TestOpenStringIntMapMappingFailure(t *testing.T) {
	path := tempPath(t, "s2i.oht")
	m := openhash.NewStringIntMap()
	m.Put("a", 1)
	require.NoError(t, m.Write(path))

	_, err := openhash.OpenStringIntMap(path, openhash.WithMapper[string](failMapper{}))
	assert.ErrorIs(t, err, openhash.ErrMapping)
}

func TestStringIntMapTombstoneChain(t *testing.T) {
	m := openhash.NewStringIntMap(
		openhash.WithHasher[string](collideAll[string]),
		openhash.WithCapacity[string](64),
	)
	keys := []string{"a", "b", "c", "d", "e", "f"}
	for i, k := range keys {
		m.Put(k, int64(i))
	}
	m.Erase("a")
	assert.False(t, m.Contains("a"))
	for _, k := range keys[1:] {
		assert.True(t, m.Contains(k))
	}

	path := tempPath(t, "chain.oht")
	require.NoError(t, m.Write(path))
	r, err := openhash.OpenStringIntMap(path, openhash.WithHasher[string](collideAll[string]))
	require.NoError(t, err)
	defer r.Close()

	// The mapped probe hits the same tombstone and stops there too.
	assert.False(t, r.Contains("a"))
	for i, k := range keys {
		if i == 0 {
			continue
		}
		v, err := r.At(k)
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}
}
