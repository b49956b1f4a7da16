package openhash

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// Hasher computes the probe hash for a key. The engine supplies defaults
// but accepts a caller-provided substitute at construction. For correct
// behavior hash(a) == hash(b) must hold whenever a == b, and good
// performance needs the full 64 bits to be well distributed.
type Hasher[K any] func(K) uint64

// AltIntHash mixes an integer through a 64-bit avalanche so sequential
// keys do not cluster into adjacent probe chains.
func AltIntHash(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// StringHash hashes a string with xxhash.
func StringHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// fixedHasher builds the default hash for a fixed-width key type: word-size
// keys go through AltIntHash, wider keys (arrays, structs) through xxhash
// over their raw bytes.
func fixedHasher[K comparable]() Hasher[K] {
	var zero K
	size := unsafe.Sizeof(zero)
	if size <= 8 {
		return func(k K) uint64 {
			var x uint64
			copy(unsafe.Slice((*byte)(unsafe.Pointer(&x)), 8),
				unsafe.Slice((*byte)(unsafe.Pointer(&k)), size))
			return AltIntHash(x)
		}
	}
	return func(k K) uint64 {
		return xxhash.Sum64(unsafe.Slice((*byte)(unsafe.Pointer(&k)), size))
	}
}

// checkFixed panics unless K is a fixed-width, pointer-free type. Keys and
// fixed values are written to disk as raw bytes and reinterpreted from the
// mapping, so any type carrying a pointer (string, slice, map, ...) would
// serialize garbage.
func checkFixed[K comparable]() {
	var zero K
	t := reflect.TypeOf(zero)
	if t == nil || holdsPointers(t) {
		panic(fmt.Sprintf("openhash: %v is not a fixed-width pointer-free type", t))
	}
}

func holdsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Uintptr, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return holdsPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if holdsPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
