package openhash

import (
	"bufio"
	"io"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Set is an open-addressing hash set of fixed-width, pointer-free keys.
// An owned Set (NewSet, ReadSet) is mutable; a mapped Set (OpenSet) is a
// read-only view over a written file and rejects every mutating call with
// ErrReadOnly. Mapped instances are safe for concurrent readers; owned
// instances are single-writer.
type Set[K comparable] struct {
	keys         []K
	flags        *BitPairSet
	size         int
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[K]
	mapping      *mapping // non-nil means read only
}

// NewSet returns an empty owned set. K must be fixed width and pointer
// free; NewSet panics otherwise.
func NewSet[K comparable](opts ...Option[K]) *Set[K] {
	checkFixed[K]()
	cfg := makeConfig(opts)
	s := &Set[K]{
		flags:        NewBitPairSet(0),
		loadFactor:   cfg.loadFactor,
		growthFactor: cfg.growthFactor,
		hasher:       cfg.hasher,
	}
	if s.hasher == nil {
		s.hasher = fixedHasher[K]()
	}
	if cfg.capacity > 0 {
		s.rehash(cfg.capacity)
	}
	return s
}

// OpenSet maps the file at path as a read-only set. The file bytes are
// interpreted in place; no slot data is copied.
func OpenSet[K comparable](path string, opts ...Option[K]) (*Set[K], error) {
	checkFixed[K]()
	cfg := makeConfig(opts)
	m, err := openMapping(path, cfg.mapper)
	if err != nil {
		return nil, err
	}
	s, err := decodeSet[K](m.data, cfg)
	if err != nil {
		m.close()
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	s.mapping = m
	return s, nil
}

// ReadSet deserializes an owned, mutable set from a stream of the written
// layout.
func ReadSet[K comparable](r io.Reader, opts ...Option[K]) (*Set[K], error) {
	checkFixed[K]()
	cfg := makeConfig(opts)
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	h, err := parseStreamHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	keySize := int(unsafe.Sizeof(*new(K)))
	// Dividing instead of multiplying keeps a forged 64-bit capacity from
	// wrapping the bound; readSlice then allocates only as bytes arrive.
	if h.capacity > (h.flagsOffset-headerSize)/uint64(maxInt(1, keySize)) {
		return nil, errors.Newf("corrupt header: capacity %d cannot fit below occupancy offset %d",
			h.capacity, h.flagsOffset)
	}
	keys, err := readSlice[K](r, int(h.capacity), "key array")
	if err != nil {
		return nil, err
	}
	if err := discardPad(r, int(h.flagsOffset)-headerSize-keySize*int(h.capacity)); err != nil {
		return nil, err
	}
	flags, err := readBitPairSet(r)
	if err != nil {
		return nil, err
	}
	if flags.Len() < int(h.capacity) {
		return nil, errors.Newf("occupancy section covers %d slots, capacity is %d", flags.Len(), h.capacity)
	}
	s := &Set[K]{
		keys:         keys,
		flags:        flags,
		size:         int(h.count),
		loadFactor:   h.loadFactor,
		growthFactor: h.growthFactor,
		hasher:       cfg.hasher,
	}
	if s.hasher == nil {
		s.hasher = fixedHasher[K]()
	}
	return s, nil
}

func decodeSet[K comparable](data []byte, cfg config[K]) (*Set[K], error) {
	h, err := parseTableHeader(data)
	if err != nil {
		return nil, err
	}
	keySize := int(unsafe.Sizeof(*new(K)))
	if err := checkCapacity(h.capacity, len(data), keySize); err != nil {
		return nil, err
	}
	region, err := slotRegion(data, headerSize, keySize*int(h.capacity), "key")
	if err != nil {
		return nil, err
	}
	if uint64(headerSize+keySize*int(h.capacity)) > h.flagsOffset {
		return nil, errors.Newf("key array overlaps occupancy section at %d", h.flagsOffset)
	}
	flags, err := bitPairSetFromBytes(data[h.flagsOffset:])
	if err != nil {
		return nil, err
	}
	if flags.Len() < int(h.capacity) {
		return nil, errors.Newf("occupancy section covers %d slots, capacity is %d", flags.Len(), h.capacity)
	}
	var keys []K
	if h.capacity > 0 {
		keys = unsafe.Slice((*K)(unsafe.Pointer(&region[0])), h.capacity)
	}
	s := &Set[K]{
		keys:         keys,
		flags:        flags,
		size:         int(h.count),
		loadFactor:   h.loadFactor,
		growthFactor: h.growthFactor,
		hasher:       cfg.hasher,
	}
	if s.hasher == nil {
		s.hasher = fixedHasher[K]()
	}
	return s, nil
}

// Size returns the number of live entries.
func (s *Set[K]) Size() int {
	return s.size
}

// Contains reports whether key is live in the set. It never fails: absent,
// erased and never-inserted keys all report false.
func (s *Set[K]) Contains(key K) bool {
	return lookupSlot(s.flags, len(s.keys), s.hashOf(key), func(i int) bool {
		return s.keys[i] == key
	}) >= 0
}

// Insert adds key. Inserting a present key is a no-op. The set grows
// before the insert when the load factor would be exceeded.
func (s *Set[K]) Insert(key K) error {
	if s.mapping != nil {
		return errors.Wrap(ErrReadOnly, "insert")
	}
	insertAt := -1
	if len(s.keys) > 0 {
		_, found, ins := findSlot(s.flags, len(s.keys), s.hashOf(key), func(i int) bool {
			return s.keys[i] == key
		})
		if found {
			return nil
		}
		insertAt = ins
	}
	if float64(s.size) >= float64(len(s.keys))*s.loadFactor {
		s.rehash(0)
		insertAt = reinsertSlot(s.flags, len(s.keys), s.hashOf(key))
	}
	s.flags.SetBoth(insertAt)
	s.keys[insertAt] = key
	s.size++
	return nil
}

// Erase removes key, leaving a tombstone that retains the key bytes.
// Erasing an absent key is a no-op.
func (s *Set[K]) Erase(key K) error {
	if s.mapping != nil {
		return errors.Wrap(ErrReadOnly, "erase")
	}
	slot := eraseSlot(s.flags, len(s.keys), s.hashOf(key), func(i int) bool {
		return s.keys[i] == key
	})
	if slot >= 0 {
		s.flags.ClearOccupied(slot)
		s.size--
	}
	return nil
}

// Reserve rehashes the set to hold n live entries under the load factor.
// It is a no-op when n is below the current size.
func (s *Set[K]) Reserve(n int) error {
	if s.mapping != nil {
		return errors.Wrap(ErrReadOnly, "reserve")
	}
	s.rehash(n)
	return nil
}

// Clear removes every entry, keeping the current capacity.
func (s *Set[K]) Clear() error {
	if s.mapping != nil {
		return errors.Wrap(ErrReadOnly, "clear")
	}
	s.flags.Clear()
	s.size = 0
	return nil
}

// ForEach calls fn for every live key until fn returns false. Iteration
// order is unspecified.
func (s *Set[K]) ForEach(fn func(K) bool) {
	for i := range s.keys {
		if s.flags.Occupied(i) && !fn(s.keys[i]) {
			return
		}
	}
}

// Clone deep-copies an owned set. Cloning a mapped set fails with
// ErrInvalidCopy: a copy may never alias the mapping. Reopen the file for
// another reader, or rebuild an owned set from ForEach.
func (s *Set[K]) Clone() (*Set[K], error) {
	if s.mapping != nil {
		return nil, errors.Wrap(ErrInvalidCopy, "clone")
	}
	keys := make([]K, len(s.keys))
	copy(keys, s.keys)
	return &Set[K]{
		keys:         keys,
		flags:        s.flags.clone(),
		size:         s.size,
		loadFactor:   s.loadFactor,
		growthFactor: s.growthFactor,
		hasher:       s.hasher,
	}, nil
}

// Write serializes the set to path in the mappable layout with the
// occupancy section aligned to 8 bytes.
func (s *Set[K]) Write(path string) error {
	return s.WriteAligned(path, 8)
}

// WriteAligned is Write with an explicit occupancy section alignment,
// which must be a positive multiple of 8.
func (s *Set[K]) WriteAligned(path string, alignment int) error {
	if s.mapping != nil {
		return errors.Wrap(ErrReadOnly, "write")
	}
	if alignment <= 0 || alignment%8 != 0 {
		return errors.Newf("alignment %d is not a positive multiple of 8", alignment)
	}
	keyBytes := int(unsafe.Sizeof(*new(K))) * len(s.keys)
	pad := padTo(headerSize+keyBytes, alignment)
	return writeFile(path, func(w io.Writer) error {
		hdr := tableHeader{
			count:        uint64(s.size),
			capacity:     uint64(len(s.keys)),
			loadFactor:   s.loadFactor,
			growthFactor: s.growthFactor,
			flagsOffset:  uint64(headerSize + keyBytes + pad),
		}
		if err := hdr.writeTo(w); err != nil {
			return err
		}
		if keyBytes > 0 {
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&s.keys[0])), keyBytes)
			if _, err := w.Write(raw); err != nil {
				return err
			}
		}
		if err := writePad(w, pad); err != nil {
			return err
		}
		return s.flags.writeTo(w)
	})
}

// Close releases the backing resources: the mapping and descriptor for a
// mapped set, the heap arrays for an owned one. The set is unusable
// afterward. Close is idempotent.
func (s *Set[K]) Close() error {
	m := s.mapping
	s.mapping = nil
	s.keys = nil
	s.flags = NewBitPairSet(0)
	s.size = 0
	if m != nil {
		return m.close()
	}
	return nil
}

func (s *Set[K]) hashOf(key K) uint64 {
	return s.hasher(key)
}

func (s *Set[K]) rehash(target int) {
	newCap, ok := nextCapacity(target, s.size, len(s.keys), s.loadFactor, s.growthFactor)
	if !ok {
		return
	}
	newKeys := make([]K, newCap)
	newFlags := NewBitPairSet(newCap)
	for i := range s.keys {
		if !s.flags.Occupied(i) {
			continue
		}
		idx := reinsertSlot(newFlags, newCap, s.hashOf(s.keys[i]))
		newFlags.SetBoth(idx)
		newKeys[idx] = s.keys[i]
	}
	s.keys = newKeys
	s.flags = newFlags
}

// writeFile creates path and streams the layout through a buffered writer,
// syncing before close. Failures are ErrIO.
func writeFile(path string, emit func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return ioError(err, "creating %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := emit(bw); err != nil {
		f.Close()
		return ioError(err, "writing %s", path)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return ioError(err, "writing %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return ioError(err, "syncing %s", path)
	}
	if err := f.Close(); err != nil {
		return ioError(err, "closing %s", path)
	}
	return nil
}

func discardPad(r io.Reader, n int) error {
	if n < 0 {
		return errors.Newf("corrupt header: negative padding %d", n)
	}
	if n == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
		return errors.Wrap(err, "skipping padding")
	}
	return nil
}
