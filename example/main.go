package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gradyschofield/openhash"
)

func main() {
	// Clean up previous runs
	os.Remove("values.oht")

	// Build an owned int64 -> string map.
	m := openhash.NewIntStringMap()
	m.Put(0, "abc")
	m.Put(3, "def")
	m.Put(4, "ghi")
	m.Erase(4)

	if err := m.Write("values.oht"); err != nil {
		log.Fatalf("Failed to write map: %v", err)
	}
	fmt.Printf("Wrote map with %d live entries\n", m.Size())

	// Reopen it read only, backed by the mapped file.
	r, err := openhash.OpenIntStringMap("values.oht")
	if err != nil {
		log.Fatalf("Failed to open map: %v", err)
	}
	defer r.Close()

	fmt.Printf("Mapped map has %d entries\n", r.Size())

	for _, key := range []int64{0, 3, 4} {
		v, err := r.At(key)
		if err != nil {
			fmt.Printf("key %d: %v\n", key, err)
			continue
		}
		fmt.Printf("key %d = %q\n", key, v)
	}

	// A fixed-width set round trip.
	s := openhash.NewSet[int64]()
	for i := int64(0); i < 10; i++ {
		if err := s.Insert(i * 7); err != nil {
			log.Fatalf("Failed to insert: %v", err)
		}
	}
	if err := s.Write("keys.oht"); err != nil {
		log.Fatalf("Failed to write set: %v", err)
	}
	defer os.Remove("keys.oht")

	mapped, err := openhash.OpenSet[int64]("keys.oht")
	if err != nil {
		log.Fatalf("Failed to open set: %v", err)
	}
	defer mapped.Close()

	fmt.Printf("mapped set contains 21: %v\n", mapped.Contains(21))
	fmt.Printf("mapped set contains 22: %v\n", mapped.Contains(22))
}
