package openhash_test

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

// failMapper simulates mapping exhaustion so ErrMapping paths can be
// tested deterministically.
type failMapper struct{}

func (failMapper) Map(*os.File, int) ([]byte, error) {
	return nil, errors.New("injected mapping failure")
}

func (failMapper) Unmap([]byte) error { return nil }

// collideAll sends every key to bucket 0, turning the whole table into a
// single probe chain.
func collideAll[K any](K) uint64 { return 0 }

func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// forgedHeader builds a 40-byte table header with the given fields, for
// corrupt-file tests. Load and growth factors are the defaults.
func forgedHeader(count, capacity, flagsOffset uint64) []byte {
	buf := make([]byte, 40)
	binary.NativeEndian.PutUint64(buf[0:8], count)
	binary.NativeEndian.PutUint64(buf[8:16], capacity)
	binary.NativeEndian.PutUint64(buf[16:24], math.Float64bits(0.8))
	binary.NativeEndian.PutUint64(buf[24:32], math.Float64bits(1.2))
	binary.NativeEndian.PutUint64(buf[32:40], flagsOffset)
	return buf
}

func randomString(rng *rand.Rand) string {
	n := rng.Intn(12) + 3
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rng.Intn(127-32) + 32)
	}
	return string(buf)
}
