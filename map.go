package openhash

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// Map is an open-addressing hash map with fixed-width, pointer-free keys
// and values held in parallel arrays. Ownership and the owned/mapped
// split behave exactly as for Set.
//
// On disk the value array follows the key array, each padded to an 8-byte
// boundary:
//
//	header | keys | pad | values | pad | occupancy
type Map[K comparable, V any] struct {
	keys         []K
	values       []V
	flags        *BitPairSet
	size         int
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[K]
	mapping      *mapping
}

// NewMap returns an empty owned map. Both K and V must be fixed width and
// pointer free; NewMap panics otherwise.
func NewMap[K comparable, V comparable](opts ...Option[K]) *Map[K, V] {
	checkFixed[K]()
	checkFixed[V]()
	cfg := makeConfig(opts)
	m := &Map[K, V]{
		flags:        NewBitPairSet(0),
		loadFactor:   cfg.loadFactor,
		growthFactor: cfg.growthFactor,
		hasher:       cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = fixedHasher[K]()
	}
	if cfg.capacity > 0 {
		m.rehash(cfg.capacity)
	}
	return m
}

// OpenMap maps the file at path as a read-only map.
func OpenMap[K comparable, V comparable](path string, opts ...Option[K]) (*Map[K, V], error) {
	checkFixed[K]()
	checkFixed[V]()
	cfg := makeConfig(opts)
	mp, err := openMapping(path, cfg.mapper)
	if err != nil {
		return nil, err
	}
	m, err := decodeMap[K, V](mp.data, cfg)
	if err != nil {
		mp.close()
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	m.mapping = mp
	return m, nil
}

// ReadMap deserializes an owned, mutable map from a stream of the written
// layout.
func ReadMap[K comparable, V comparable](r io.Reader, opts ...Option[K]) (*Map[K, V], error) {
	checkFixed[K]()
	checkFixed[V]()
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
	valueSize := int(unsafe.Sizeof(*new(V)))
	// Dividing instead of multiplying keeps a forged 64-bit capacity from
	// wrapping the bound; readSlice then allocates only as bytes arrive.
	if h.capacity > (h.flagsOffset-headerSize)/uint64(maxInt(1, keySize+valueSize)) {
		return nil, errors.Newf("corrupt header: capacity %d cannot fit below occupancy offset %d",
			h.capacity, h.flagsOffset)
	}
	capacity := int(h.capacity)
	keys, err := readSlice[K](r, capacity, "key array")
	if err != nil {
		return nil, err
	}
	if capacity > 0 {
		if err := discardPad(r, padTo(headerSize+keySize*capacity, 8)); err != nil {
			return nil, err
		}
	}
	values, err := readSlice[V](r, capacity, "value array")
	if err != nil {
		return nil, err
	}
	consumed := headerSize
	if capacity > 0 {
		consumed += keySize*capacity + padTo(headerSize+keySize*capacity, 8) + valueSize*capacity
	}
	if err := discardPad(r, int(h.flagsOffset)-consumed); err != nil {
		return nil, err
	}
	flags, err := readBitPairSet(r)
	if err != nil {
		return nil, err
	}
	if flags.Len() < capacity {
		return nil, errors.Newf("occupancy section covers %d slots, capacity is %d", flags.Len(), capacity)
	}
	m := &Map[K, V]{
		keys:         keys,
		values:       values,
		flags:        flags,
		size:         int(h.count),
		loadFactor:   h.loadFactor,
		growthFactor: h.growthFactor,
		hasher:       cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = fixedHasher[K]()
	}
	return m, nil
}

func decodeMap[K comparable, V comparable](data []byte, cfg config[K]) (*Map[K, V], error) {
	h, err := parseTableHeader(data)
	if err != nil {
		return nil, err
	}
	keySize := int(unsafe.Sizeof(*new(K)))
	valueSize := int(unsafe.Sizeof(*new(V)))
	if err := checkCapacity(h.capacity, len(data), keySize+valueSize); err != nil {
		return nil, err
	}
	capacity := int(h.capacity)
	keyRegion, err := slotRegion(data, headerSize, keySize*capacity, "key")
	if err != nil {
		return nil, err
	}
	valuesOff := headerSize + keySize*capacity
	valuesOff += padTo(valuesOff, 8)
	valueRegion, err := slotRegion(data, valuesOff, valueSize*capacity, "value")
	if err != nil {
		return nil, err
	}
	if uint64(valuesOff+valueSize*capacity) > h.flagsOffset {
		return nil, errors.Newf("value array overlaps occupancy section at %d", h.flagsOffset)
	}
	flags, err := bitPairSetFromBytes(data[h.flagsOffset:])
	if err != nil {
		return nil, err
	}
	if flags.Len() < capacity {
		return nil, errors.Newf("occupancy section covers %d slots, capacity is %d", flags.Len(), capacity)
	}
	var keys []K
	var values []V
	if capacity > 0 {
		keys = unsafe.Slice((*K)(unsafe.Pointer(&keyRegion[0])), capacity)
		values = unsafe.Slice((*V)(unsafe.Pointer(&valueRegion[0])), capacity)
	}
	m := &Map[K, V]{
		keys:         keys,
		values:       values,
		flags:        flags,
		size:         int(h.count),
		loadFactor:   h.loadFactor,
		growthFactor: h.growthFactor,
		hasher:       cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = fixedHasher[K]()
	}
	return m, nil
}

// Size returns the number of live entries.
func (m *Map[K, V]) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *Map[K, V]) Contains(key K) bool {
	return m.lookup(key) >= 0
}

// At returns the value for key, or ErrKeyNotFound when key is absent,
// erased or the map is empty.
func (m *Map[K, V]) At(key K) (V, error) {
	slot := m.lookup(key)
	if slot < 0 {
		var zero V
		return zero, errors.Wrapf(ErrKeyNotFound, "key %v", key)
	}
	return m.values[slot], nil
}

// Put inserts key with value, or re-assigns the value when key is already
// present. The map grows before the insert when the load factor would be
// exceeded.
func (m *Map[K, V]) Put(key K, value V) error {
	if m.mapping != nil {
		return errors.Wrap(ErrReadOnly, "put")
	}
	insertAt := -1
	if len(m.keys) > 0 {
		slot, found, ins := findSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
			return m.keys[i] == key
		})
		if found {
			m.values[slot] = value
			return nil
		}
		insertAt = ins
	}
	if float64(m.size) >= float64(len(m.keys))*m.loadFactor {
		m.rehash(0)
		insertAt = reinsertSlot(m.flags, len(m.keys), m.hasher(key))
	}
	m.flags.SetBoth(insertAt)
	m.keys[insertAt] = key
	m.values[insertAt] = value
	m.size++
	return nil
}

// Erase removes key, leaving a tombstone that retains the key and value
// bytes. Erasing an absent key is a no-op.
func (m *Map[K, V]) Erase(key K) error {
	if m.mapping != nil {
		return errors.Wrap(ErrReadOnly, "erase")
	}
	slot := eraseSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
	if slot >= 0 {
		m.flags.ClearOccupied(slot)
		m.size--
	}
	return nil
}

// Reserve rehashes the map to hold n live entries under the load factor.
// It is a no-op when n is below the current size.
func (m *Map[K, V]) Reserve(n int) error {
	if m.mapping != nil {
		return errors.Wrap(ErrReadOnly, "reserve")
	}
	m.rehash(n)
	return nil
}

// Clear removes every entry, keeping the current capacity.
func (m *Map[K, V]) Clear() error {
	if m.mapping != nil {
		return errors.Wrap(ErrReadOnly, "clear")
	}
	m.flags.Clear()
	m.size = 0
	return nil
}

// ForEach calls fn for every live entry until fn returns false. Iteration
// order is unspecified.
func (m *Map[K, V]) ForEach(fn func(K, V) bool) {
	for i := range m.keys {
		if m.flags.Occupied(i) && !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

// Clone deep-copies an owned map; cloning a mapped map fails with
// ErrInvalidCopy.
func (m *Map[K, V]) Clone() (*Map[K, V], error) {
	if m.mapping != nil {
		return nil, errors.Wrap(ErrInvalidCopy, "clone")
	}
	keys := make([]K, len(m.keys))
	copy(keys, m.keys)
	values := make([]V, len(m.values))
	copy(values, m.values)
	return &Map[K, V]{
		keys:         keys,
		values:       values,
		flags:        m.flags.clone(),
		size:         m.size,
		loadFactor:   m.loadFactor,
		growthFactor: m.growthFactor,
		hasher:       m.hasher,
	}, nil
}

// Write serializes the map to path in the mappable layout.
func (m *Map[K, V]) Write(path string) error {
	return m.WriteAligned(path, 8)
}

// WriteAligned is Write with an explicit occupancy section alignment,
// which must be a positive multiple of 8.
func (m *Map[K, V]) WriteAligned(path string, alignment int) error {
	if m.mapping != nil {
		return errors.Wrap(ErrReadOnly, "write")
	}
	if alignment <= 0 || alignment%8 != 0 {
		return errors.Newf("alignment %d is not a positive multiple of 8", alignment)
	}
	capacity := len(m.keys)
	keyBytes := int(unsafe.Sizeof(*new(K))) * capacity
	valueBytes := int(unsafe.Sizeof(*new(V))) * capacity
	keyPad := 0
	if capacity > 0 {
		keyPad = padTo(headerSize+keyBytes, 8)
	}
	end := headerSize + keyBytes + keyPad + valueBytes
	pad := padTo(end, alignment)
	return writeFile(path, func(w io.Writer) error {
		hdr := tableHeader{
			count:        uint64(m.size),
			capacity:     uint64(capacity),
			loadFactor:   m.loadFactor,
			growthFactor: m.growthFactor,
			flagsOffset:  uint64(end + pad),
		}
		if err := hdr.writeTo(w); err != nil {
			return err
		}
		if capacity > 0 {
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&m.keys[0])), keyBytes)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			if err := writePad(w, keyPad); err != nil {
				return err
			}
			raw = unsafe.Slice((*byte)(unsafe.Pointer(&m.values[0])), valueBytes)
			if _, err := w.Write(raw); err != nil {
				return err
			}
		}
		if err := writePad(w, pad); err != nil {
			return err
		}
		return m.flags.writeTo(w)
	})
}

// Close releases the backing resources; see Set.Close.
func (m *Map[K, V]) Close() error {
	mp := m.mapping
	m.mapping = nil
	m.keys = nil
	m.values = nil
	m.flags = NewBitPairSet(0)
	m.size = 0
	if mp != nil {
		return mp.close()
	}
	return nil
}

func (m *Map[K, V]) lookup(key K) int {
	return lookupSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
}

func (m *Map[K, V]) rehash(target int) {
	newCap, ok := nextCapacity(target, m.size, len(m.keys), m.loadFactor, m.growthFactor)
	if !ok {
		return
	}
	newKeys := make([]K, newCap)
	newValues := make([]V, newCap)
	newFlags := NewBitPairSet(newCap)
	for i := range m.keys {
		if !m.flags.Occupied(i) {
			continue
		}
		idx := reinsertSlot(newFlags, newCap, m.hasher(m.keys[i]))
		newFlags.SetBoth(idx)
		newKeys[idx] = m.keys[i]
		newValues[idx] = m.values[i]
	}
	m.keys = newKeys
	m.values = newValues
	m.flags = newFlags
}
