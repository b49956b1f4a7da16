package openhash_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gradyschofield/openhash"
)

func BenchmarkSetInsert(b *testing.B) {
	s := openhash.NewSet[int64](openhash.WithCapacity[int64](b.N))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Insert(int64(i))
	}
}

func BenchmarkSetContains(b *testing.B) {
	const n = 1 << 16
	s := openhash.NewSet[int64](openhash.WithCapacity[int64](n))
	for i := int64(0); i < n; i++ {
		_ = s.Insert(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Contains(int64(i % (2 * n)))
	}
}

func BenchmarkMappedSetContains(b *testing.B) {
	const n = 1 << 16
	path := b.TempDir() + "/bench_set.oht"
	s := openhash.NewSet[int64](openhash.WithCapacity[int64](n))
	for i := int64(0); i < n; i++ {
		_ = s.Insert(i)
	}
	require.NoError(b, s.Write(path))
	m, err := openhash.OpenSet[int64](path)
	require.NoError(b, err)
	defer m.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Contains(int64(i % (2 * n)))
	}
}

func BenchmarkStringIntMapAt(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	const n = 1 << 14
	m := openhash.NewStringIntMap(openhash.WithCapacity[string](n))
	keys := make([]string, n)
	for i := range keys {
		keys[i] = randomString(rng)
		m.Put(keys[i], int64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.At(keys[i%n])
	}
}

func BenchmarkMappedStringIntMapAt(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	const n = 1 << 14
	path := b.TempDir() + "/bench_s2i.oht"
	m := openhash.NewStringIntMap(openhash.WithCapacity[string](n))
	keys := make([]string, 0, n)
	seen := map[string]bool{}
	for len(keys) < n {
		k := randomString(rng)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		m.Put(k, int64(len(keys)))
	}
	require.NoError(b, m.Write(path))
	r, err := openhash.OpenStringIntMap(path)
	require.NoError(b, err)
	defer r.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.At(keys[i%n])
	}
}
