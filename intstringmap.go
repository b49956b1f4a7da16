package openhash

import (
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// IntStringMap is an owned, mutable open-addressing map from int64 keys
// to string values. Written files are reopened with OpenIntStringMap as a
// zero-copy mapped reader.
//
// On disk the int64 keys sit inline per slot while the value text lives
// in a concatenated blob, each slot carrying an (offset, length) span:
//
//	header | keys | spans | value blob | pad | occupancy
type IntStringMap struct {
	keys         []int64
	values       []string
	flags        *BitPairSet
	size         int
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[int64]
}

// NewIntStringMap returns an empty owned map. Keys hash with AltIntHash
// unless WithHasher substitutes another function.
func NewIntStringMap(opts ...Option[int64]) *IntStringMap {
	cfg := makeConfig(opts)
	m := &IntStringMap{
		flags:        NewBitPairSet(0),
		loadFactor:   cfg.loadFactor,
		growthFactor: cfg.growthFactor,
		hasher:       cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = func(k int64) uint64 { return AltIntHash(uint64(k)) }
	}
	if cfg.capacity > 0 {
		m.rehash(cfg.capacity)
	}
	return m
}

// Size returns the number of live entries.
func (m *IntStringMap) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *IntStringMap) Contains(key int64) bool {
	return m.lookup(key) >= 0
}

// At returns the value for key, or ErrKeyNotFound when key is absent,
// erased or the map is empty.
func (m *IntStringMap) At(key int64) (string, error) {
	slot := m.lookup(key)
	if slot < 0 {
		return "", errors.Wrapf(ErrKeyNotFound, "key %d", key)
	}
	return m.values[slot], nil
}

// Put inserts key with value, or re-assigns the value when key is already
// present.
func (m *IntStringMap) Put(key int64, value string) {
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
func (m *IntStringMap) Erase(key int64) {
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
func (m *IntStringMap) Reserve(n int) {
	m.rehash(n)
}

// Clear removes every entry, keeping the current capacity.
func (m *IntStringMap) Clear() {
	m.flags.Clear()
	m.size = 0
}

// ForEach calls fn for every live entry until fn returns false.
func (m *IntStringMap) ForEach(fn func(int64, string) bool) {
	for i := range m.keys {
		if m.flags.Occupied(i) && !fn(m.keys[i], m.values[i]) {
			return
		}
	}
}

// Clone deep-copies the map.
func (m *IntStringMap) Clone() *IntStringMap {
	keys := make([]int64, len(m.keys))
	copy(keys, m.keys)
	values := make([]string, len(m.values))
	copy(values, m.values)
	return &IntStringMap{
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
func (m *IntStringMap) Write(path string) error {
	return m.WriteAligned(path, 8)
}

// WriteAligned is Write with an explicit occupancy section alignment,
// which must be a positive multiple of 8.
func (m *IntStringMap) WriteAligned(path string, alignment int) error {
	if alignment <= 0 || alignment%8 != 0 {
		return errors.Newf("alignment %d is not a positive multiple of 8", alignment)
	}
	capacity := len(m.keys)
	spans := make([]blobSpan, capacity)
	blobStart := headerSize + 8*capacity + blobSpanSize*capacity
	blobLen := 0
	for i := range m.values {
		if _, ever := m.flags.Get(i); !ever {
			continue
		}
		spans[i] = blobSpan{off: uint64(blobStart + blobLen), len: uint64(len(m.values[i]))}
		blobLen += len(m.values[i])
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
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&m.keys[0])), 8*capacity)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			raw = unsafe.Slice((*byte)(unsafe.Pointer(&spans[0])), blobSpanSize*capacity)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			for i := range m.values {
				if spans[i].len == 0 {
					continue
				}
				if _, err := io.WriteString(w, m.values[i]); err != nil {
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

func (m *IntStringMap) lookup(key int64) int {
	return lookupSlot(m.flags, len(m.keys), m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
}

func (m *IntStringMap) rehash(target int) {
	newCap, ok := nextCapacity(target, m.size, len(m.keys), m.loadFactor, m.growthFactor)
	if !ok {
		return
	}
	newKeys := make([]int64, newCap)
	newValues := make([]string, newCap)
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

// MappedIntStringMap is the read-only mapped form of a written
// IntStringMap. Values are returned as zero-copy views into the mapped
// blob, valid until Close. Safe for concurrent readers; carries no
// mutating methods.
type MappedIntStringMap struct {
	keys     []int64
	spans    []blobSpan
	data     []byte
	flags    *BitPairSet
	size     int
	capacity int
	hasher   Hasher[int64]
	mapping  *mapping
}

// OpenIntStringMap maps the file at path written by IntStringMap.Write.
func OpenIntStringMap(path string, opts ...Option[int64]) (*MappedIntStringMap, error) {
	cfg := makeConfig(opts)
	mp, err := openMapping(path, cfg.mapper)
	if err != nil {
		return nil, err
	}
	m, err := decodeIntStringMap(mp.data, cfg)
	if err != nil {
		mp.close()
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	m.mapping = mp
	return m, nil
}

func decodeIntStringMap(data []byte, cfg config[int64]) (*MappedIntStringMap, error) {
	h, err := parseTableHeader(data)
	if err != nil {
		return nil, err
	}
	if err := checkCapacity(h.capacity, len(data), 8+blobSpanSize); err != nil {
		return nil, err
	}
	capacity := int(h.capacity)
	keyRegion, err := slotRegion(data, headerSize, 8*capacity, "key")
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
	m := &MappedIntStringMap{
		data:     data,
		flags:    flags,
		size:     int(h.count),
		capacity: capacity,
		hasher:   cfg.hasher,
	}
	if m.hasher == nil {
		m.hasher = func(k int64) uint64 { return AltIntHash(uint64(k)) }
	}
	if capacity > 0 {
		m.keys = unsafe.Slice((*int64)(unsafe.Pointer(&keyRegion[0])), capacity)
		m.spans = unsafe.Slice((*blobSpan)(unsafe.Pointer(&spanRegion[0])), capacity)
		for i, sp := range m.spans {
			if err := sp.check(h.flagsOffset, "value"); err != nil {
				return nil, errors.Wrapf(err, "slot %d", i)
			}
		}
	}
	return m, nil
}

// Size returns the number of live entries.
func (m *MappedIntStringMap) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *MappedIntStringMap) Contains(key int64) bool {
	return m.lookup(key) >= 0
}

// At returns the value for key as a zero-copy view into the mapping, or
// ErrKeyNotFound when key is absent, was erased before the write, or the
// table is empty.
func (m *MappedIntStringMap) At(key int64) (string, error) {
	slot := m.lookup(key)
	if slot < 0 {
		return "", errors.Wrapf(ErrKeyNotFound, "key %d", key)
	}
	return m.valueAt(slot), nil
}

// ForEach calls fn for every live entry until fn returns false. The value
// strings are zero-copy views into the mapping, valid until Close.
func (m *MappedIntStringMap) ForEach(fn func(int64, string) bool) {
	for i := 0; i < m.capacity; i++ {
		if m.flags.Occupied(i) && !fn(m.keys[i], m.valueAt(i)) {
			return
		}
	}
}

// Close unmaps the file and closes its descriptor. Every view returned
// earlier is invalid afterward. Close is idempotent.
func (m *MappedIntStringMap) Close() error {
	mp := m.mapping
	m.mapping = nil
	m.keys = nil
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

func (m *MappedIntStringMap) valueAt(i int) string {
	sp := m.spans[i]
	if sp.len == 0 {
		return ""
	}
	return unsafe.String(&m.data[sp.off], sp.len)
}

func (m *MappedIntStringMap) lookup(key int64) int {
	return lookupSlot(m.flags, m.capacity, m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
}
