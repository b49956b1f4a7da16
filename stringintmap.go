package openhash

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// StringIntMap is an owned, mutable open-addressing map from string keys
// to int64 values. Written files are reopened with OpenStringIntMap as a
// zero-copy mapped reader.
//
// On disk the int64 values sit inline per slot while the key text lives
// in a concatenated blob, each slot carrying an (offset, length) span:
//
//	header | values | spans | key blob | pad | occupancy
//
// Tombstoned slots keep their span so the mapped probe can still compare
// retained keys and short-circuit on a matching tombstone.
type StringIntMap struct {
	keys         []string
	values       []int64
	flags        *BitPairSet
	size         int
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[string]
}

// NewStringIntMap returns an empty owned map. Keys hash with xxhash
// unless WithHasher substitutes another function.
func NewStringIntMap(opts ...Option[string]) *StringIntMap {
	cfg := makeConfig(opts)
	m := &StringIntMap{
		flags:        NewBitPairSet(0),
		loadFactor:   cfg.loadFactor,
		growthFactor: cfg.growthFactor,
		hasher:       cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = StringHash
	}
	if cfg.capacity > 0 {
		m.rehash(cfg.capacity)
	}
	return m
}

// Size returns the number of live entries.
func (m *StringIntMap) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *StringIntMap) Contains(key string) bool {
	return m.lookup(key) >= 0
}

// At returns the value for key, or ErrKeyNotFound when key is absent,
// erased or the map is empty.
func (m *StringIntMap) At(key string) (int64, error) {
	slot := m.lookup(key)
	if slot < 0 {
		return 0, errors.Wrapf(ErrKeyNotFound, "key %q", key)
	}
	return m.values[slot], nil
}

// Put inserts key with value, or re-assigns the value when key is already
// present.
func (m *StringIntMap) Put(key string, value int64) {
	insertAt := -1
	if len(m.keys) > 0 {
		slot, found, ins := findSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
			return m.keys[i] == key
		})
		if found {
			m.values[slot] = value
			return
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
}

// Erase removes key, leaving a tombstone that retains the key. Erasing an
// absent key is a no-op.
func (m *StringIntMap) Erase(key string) {
	slot := eraseSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
	if slot >= 0 {
		m.flags.ClearOccupied(slot)
		m.size--
	}
}

// Reserve rehashes the map to hold n live entries under the load factor;
// a no-op when n is below the current size.
func (m *StringIntMap) Reserve(n int) {
	m.rehash(n)
}

// Clear removes every entry, keeping the current capacity.
func (m *StringIntMap) Clear() {
	m.flags.Clear()
	m.size = 0
}

// ForEach calls fn for every live entry until fn returns false.
func (m *StringIntMap) ForEach(fn func(string, int64) bool) {
	for i := range m.keys {
		if m.flags.Occupied(i) && !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

// Clone deep-copies the map.
func (m *StringIntMap) Clone() *StringIntMap {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	values := make([]int64, len(m.values))
	copy(values, m.values)
	return &StringIntMap{
		keys:         keys,
		values:       values,
		flags:        m.flags.clone(),
		size:         m.size,
		loadFactor:   m.loadFactor,
		growthFactor: m.growthFactor,
		hasher:       m.hasher,
	}
}

// Write serializes the map to path in the mappable layout.
func (m *StringIntMap) Write(path string) error {
	return m.WriteAligned(path, 8)
}

// WriteAligned is Write with an explicit occupancy section alignment,
// which must be a positive multiple of 8.
func (m *StringIntMap) WriteAligned(path string, alignment int) error {
	if alignment <= 0 || alignment%8 != 0 {
		return errors.Newf("alignment %d is not a positive multiple of 8", alignment)
	}
	capacity := len(m.keys)
	spans := make([]blobSpan, capacity)
	blobStart := headerSize + 8*capacity + blobSpanSize*capacity
	blobLen := 0
	for i := range m.keys {
		if _, ever := m.flags.Get(i); !ever {
			continue
		}
		spans[i] = blobSpan{off: uint64(blobStart + blobLen), len: uint64(len(m.keys[i]))}
		blobLen += len(m.keys[i])
	}
	pad := padTo(blobStart+blobLen, alignment)
	return writeFile(path, func(w io.Writer) error {
		hdr := tableHeader{
			count:        uint64(m.size),
			capacity:     uint64(capacity),
			loadFactor:   m.loadFactor,
			growthFactor: m.growthFactor,
			flagsOffset:  uint64(blobStart + blobLen + pad),
		}
		if err := hdr.writeTo(w); err != nil {
			return err
		}
		if capacity > 0 {
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&m.values[0])), 8*capacity)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			raw = unsafe.Slice((*byte)(unsafe.Pointer(&spans[0])), blobSpanSize*capacity)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			for i := range m.keys {
				if spans[i].len == 0 && spans[i].off == 0 {
					continue
				}
				if _, err := io.WriteString(w, m.keys[i]); err != nil {
					return err
				}
			}
		}
		if err := writePad(w, pad); err != nil {
			return err
		}
		return m.flags.writeTo(w)
	})
}

func (m *StringIntMap) lookup(key string) int {
	return lookupSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
}

func (m *StringIntMap) rehash(target int) {
	newCap, ok := nextCapacity(target, m.size, len(m.keys), m.loadFactor, m.growthFactor)
	if !ok {
		return
	}
	newKeys := make([]string, newCap)
	newValues := make([]int64, newCap)
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

// MappedStringIntMap is the read-only mapped form of a written
// StringIntMap. Key text is compared in place against the mapped blob;
// nothing is copied. It is safe for concurrent readers and carries no
// mutating methods at all.
type MappedStringIntMap struct {
	values   []int64
	spans    []blobSpan
	data     []byte
	flags    *BitPairSet
	size     int
	capacity int
	hasher   Hasher[string]
	mapping  *mapping
}

// OpenStringIntMap maps the file at path written by StringIntMap.Write.
func OpenStringIntMap(path string, opts ...Option[string]) (*MappedStringIntMap, error) {
	cfg := makeConfig(opts)
	mp, err := openMapping(path, cfg.mapper)
	if err != nil {
		return nil, err
	}
	m, err := decodeStringIntMap(mp.data, cfg)
	if err != nil {
		mp.close()
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	m.mapping = mp
	return m, nil
}

func decodeStringIntMap(data []byte, cfg config[string]) (*MappedStringIntMap, error) {
	h, err := parseTableHeader(data)
	if err != nil {
		return nil, err
	}
	if err := checkCapacity(h.capacity, len(data), 8+blobSpanSize); err != nil {
		return nil, err
	}
	capacity := int(h.capacity)
	valueRegion, err := slotRegion(data, headerSize, 8*capacity, "value")
	if err != nil {
		return nil, err
	}
	spanRegion, err := slotRegion(data, headerSize+8*capacity, blobSpanSize*capacity, "span")
	if err != nil {
		return nil, err
	}
	flags, err := bitPairSetFromBytes(data[h.flagsOffset:])
	if err != nil {
		return nil, err
	}
	if flags.Len() < capacity {
		return nil, errors.Newf("occupancy section covers %d slots, capacity is %d", flags.Len(), capacity)
	}
	m := &MappedStringIntMap{
		data:     data,
		flags:    flags,
		size:     int(h.count),
		capacity: capacity,
		hasher:   cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = StringHash
	}
	if capacity > 0 {
		m.values = unsafe.Slice((*int64)(unsafe.Pointer(&valueRegion[0])), capacity)
		m.spans = unsafe.Slice((*blobSpan)(unsafe.Pointer(&spanRegion[0])), capacity)
		for i, sp := range m.spans {
			if err := sp.check(h.flagsOffset, "key"); err != nil {
				return nil, errors.Wrapf(err, "slot %d", i)
			}
		}
	}
	return m, nil
}

// Size returns the number of live entries.
func (m *MappedStringIntMap) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *MappedStringIntMap) Contains(key string) bool {
	return m.lookup(key) >= 0
}

// At returns the value for key, or ErrKeyNotFound when key is absent, was
// erased before the write, or the table is empty.
func (m *MappedStringIntMap) At(key string) (int64, error) {
	slot := m.lookup(key)
	if slot < 0 {
		return 0, errors.Wrapf(ErrKeyNotFound, "key %q", key)
	}
	return m.values[slot], nil
}

// ForEach calls fn for every live entry until fn returns false. The key
// strings are zero-copy views into the mapping, valid until Close.
func (m *MappedStringIntMap) ForEach(fn func(string, int64) bool) {
	for i := 0; i < m.capacity; i++ {
		if m.flags.Occupied(i) && !fn(m.keyAt(i), m.values[i]) {
			return
		}
	}
}

// Close unmaps the file and closes its descriptor. Every view returned
// earlier is invalid afterward. Close is idempotent.
func (m *MappedStringIntMap) Close() error {
	mp := m.mapping
	m.mapping = nil
	m.values = nil
	m.spans = nil
	m.data = nil
	m.flags = NewBitPairSet(0)
	m.size = 0
	m.capacity = 0
	if mp != nil {
		return mp.close()
	}
	return nil
}

func (m *MappedStringIntMap) keyAt(i int) string {
	sp := m.spans[i]
	if sp.len == 0 {
		return ""
	}
	return unsafe.String(&m.data[sp.off], sp.len)
}

func (m *MappedStringIntMap) lookup(key string) int {
	return lookupSlot(m.flags, m.capacity, m.hasher(key), func(i int) bool {
		return m.keyAt(i) == key
	})
}
