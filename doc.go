/*
Package openhash provides open-addressing hash tables whose on-disk layout
can be memory mapped and queried with zero deserialization cost.

A table is built in memory by a writer, flushed to a file, and reopened by
any number of readers that map the file instead of parsing it. The probing
algorithm, the tombstone handling and the two-bit occupancy encoding are
identical on both sides, so a mapped table answers the same queries as the
owned table it was written from.

Basic usage:

	import "github.com/gradyschofield/openhash"

	// Build an owned map and write it out.
	m := openhash.NewIntStringMap()
	m.Put(0, "abc")
	m.Put(3, "def")
	if err := m.Write("values.oht"); err != nil {
		log.Fatal(err)
	}

	// Reopen it read only, backed by the mapped file.
	r, err := openhash.OpenIntStringMap("values.oht")
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	s, err := r.At(3) // zero-copy view into the mapping
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(s)

Variants:

  - Set[K] and Map[K, V]: fixed-width, pointer-free keys and values stored
    in flat arrays. Owned instances are mutable; mapped instances are read
    only.
  - StringIntMap: string keys, int64 values. The mapped reader keeps key
    text in a concatenated blob and compares against it in place.
  - IntStringMap: int64 keys, string values stored in a blob, returned as
    zero-copy views.
  - ViewableBuilder / ViewableMap: arbitrary value types through a
    ViewCodec that serializes values and reconstructs allocation-free views
    from the mapped bytes.

Features:

  - Open addressing with linear probing; erased slots become tombstones
    that retain their key so lookups can short-circuit.
  - Load-factor-triggered growth (default 0.8 load factor, 1.2 growth).
  - Pluggable hash functions; xxhash for strings, an avalanche hash for
    integer keys to avoid clustering on sequential values.
  - Injectable mapping provider for deterministic failure testing.

Limitations:

The file format uses host-native byte order and records neither endianness
nor pointer width. Files written on one architecture are not portable to an
architecture with a different byte order. A mapped table is safe for
concurrent readers; owned tables are single-writer and do no locking.
*/
package openhash
