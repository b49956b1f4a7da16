package openhash

import (
	"bytes"
	"io"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ViewCodec is the capability a value type supplies to be stored in a
// viewable map. Serialize must write a self-describing byte sequence (the
// bytes must encode their own length or shape); MakeView reconstructs a
// lightweight, allocation-free view directly from those bytes once they
// are memory mapped, e.g. a typed slice over an embedded array.
type ViewCodec[V any, View any] interface {
	Serialize(w io.Writer, v V) error
	MakeView(b []byte) View
}

// ViewableBuilder accumulates key to value pairs in owned memory for an
// arbitrary value type. Write flushes them to the mappable layout; the
// file is reopened with OpenViewableMap, which hands back views instead
// of values.
//
// On disk:
//
//	header | keys | pad | spans | value blob | pad | occupancy
type ViewableBuilder[K comparable, V any, View any] struct {
	keys         []K
	values       []V
	flags        *BitPairSet
	size         int
	loadFactor   float64
	growthFactor float64
	hasher       Hasher[K]
	codec        ViewCodec[V, View]
}

// NewViewableBuilder returns an empty builder over the given codec. K
// must be fixed width and pointer free; NewViewableBuilder panics
// otherwise. V is unconstrained: only its serialized bytes reach the
// file.
func NewViewableBuilder[K comparable, V any, View any](codec ViewCodec[V, View], opts ...Option[K]) *ViewableBuilder[K, V, View] {
	checkFixed[K]()
	cfg := makeConfig(opts)
	b := &ViewableBuilder[K, V, View]{
		flags:        NewBitPairSet(0),
		loadFactor:   cfg.loadFactor,
		growthFactor: cfg.growthFactor,
		hasher:       cfg.hasher,
		codec:        codec,
	}
	if b.hasher == nil {
		b.hasher = fixedHasher[K]()
	}
	if cfg.capacity > 0 {
		b.rehash(cfg.capacity)
	}
	return b
}

// Size returns the number of live entries.
func (b *ViewableBuilder[K, V, View]) Size() int {
	return b.size
}

// Contains reports whether key is live in the builder.
func (b *ViewableBuilder[K, V, View]) Contains(key K) bool {
	return lookupSlot(b.flags, len(b.keys), b.hasher(key), func(i int) bool {
		return b.keys[i] == key
	}) >= 0
}

// Put inserts key with value, or re-assigns the value when key is already
// present.
func (b *ViewableBuilder[K, V, View]) Put(key K, value V) {
	insertAt := -1
	if len(b.keys) > 0 {
		slot, found, ins := findSlot(b.flags, len(b.keys), b.hasher(key), func(i int) bool {
			return b.keys[i] == key
		})
		if found {
			b.values[slot] = value
			return
		}
		insertAt = ins
	}
	if float64(b.size) >= float64(len(b.keys))*b.loadFactor {
		b.rehash(0)
		insertAt = reinsertSlot(b.flags, len(b.keys), b.hasher(key))
	}
	b.flags.SetBoth(insertAt)
	b.keys[insertAt] = key
	b.values[insertAt] = value
	b.size++
}

// Erase removes key, leaving a tombstone that retains the key. Erasing an
// absent key is a no-op.
func (b *ViewableBuilder[K, V, View]) Erase(key K) {
	slot := eraseSlot(b.flags, len(b.keys), b.hasher(key), func(i int) bool {
		return b.keys[i] == key
	})
	if slot >= 0 {
		b.flags.ClearOccupied(slot)
		b.size--
	}
}

// Reserve rehashes the builder to hold n live entries under the load
// factor; a no-op when n is below the current size.
func (b *ViewableBuilder[K, V, View]) Reserve(n int) {
	b.rehash(n)
}

// Write serializes the builder to path. Each live value is run through
// the codec's Serialize into the trailing blob; tombstones keep their key
// but carry no value bytes.
func (b *ViewableBuilder[K, V, View]) Write(path string) error {
	return b.WriteAligned(path, 8)
}

// WriteAligned is Write with an explicit occupancy section alignment,
// which must be a positive multiple of 8.
func (b *ViewableBuilder[K, V, View]) WriteAligned(path string, alignment int) error {
	if alignment <= 0 || alignment%8 != 0 {
		return errors.Newf("alignment %d is not a positive multiple of 8", alignment)
	}
	capacity := len(b.keys)
	keySize := int(unsafe.Sizeof(*new(K)))
	keyBytes := keySize * capacity
	keyPad := padTo(headerSize+keyBytes, 8)
	blobStart := headerSize + keyBytes + keyPad + blobSpanSize*capacity

	spans := make([]blobSpan, capacity)
	var blob bytes.Buffer
	for i := range b.values {
		if !b.flags.Occupied(i) {
			continue
		}
		start := blob.Len()
		if err := b.codec.Serialize(&blob, b.values[i]); err != nil {
			return errors.Wrapf(err, "serializing value for slot %d", i)
		}
		spans[i] = blobSpan{off: uint64(blobStart + start), len: uint64(blob.Len() - start)}
	}
	pad := padTo(blobStart+blob.Len(), alignment)
	return writeFile(path, func(w io.Writer) error {
		hdr := tableHeader{
			count:        uint64(b.size),
			capacity:     uint64(capacity),
			loadFactor:   b.loadFactor,
			growthFactor: b.growthFactor,
			flagsOffset:  uint64(blobStart + blob.Len() + pad),
		}
		if err := hdr.writeTo(w); err != nil {
			return err
		}
		if capacity > 0 {
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&b.keys[0])), keyBytes)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			if err := writePad(w, keyPad); err != nil {
				return err
			}
			raw = unsafe.Slice((*byte)(unsafe.Pointer(&spans[0])), blobSpanSize*capacity)
			if _, err := w.Write(raw); err != nil {
				return err
			}
			if _, err := w.Write(blob.Bytes()); err != nil {
				return err
			}
		}
		if err := writePad(w, pad); err != nil {
			return err
		}
		return b.flags.writeTo(w)
	})
}

func (b *ViewableBuilder[K, V, View]) rehash(target int) {
	newCap, ok := nextCapacity(target, b.size, len(b.keys), b.loadFactor, b.growthFactor)
	if !ok {
		return
	}
	newKeys := make([]K, newCap)
	newValues := make([]V, newCap)
	newFlags := NewBitPairSet(newCap)
	for i := range b.keys {
		if !b.flags.Occupied(i) {
			continue
		}
		idx := reinsertSlot(newFlags, newCap, b.hasher(b.keys[i]))
		newFlags.SetBoth(idx)
		newKeys[idx] = b.keys[i]
		newValues[idx] = b.values[i]
	}
	b.keys = newKeys
	b.values = newValues
	b.flags = newFlags
}

// ViewableMap is the read-only mapped form of a written ViewableBuilder.
// At locates the key's slot and reconstructs the value view with the
// codec's MakeView over the corresponding blob bytes; nothing is copied.
// Views are valid until Close. Safe for concurrent readers.
type ViewableMap[K comparable, View any] struct {
	keys     []K
	spans    []blobSpan
	data     []byte
	flags    *BitPairSet
	size     int
	capacity int
	hasher   Hasher[K]
	makeView func([]byte) View
	mapping  *mapping
}

// OpenViewableMap maps the file at path written by a
// ViewableBuilder[K, V, View] using the same codec.
func OpenViewableMap[K comparable, V any, View any](path string, codec ViewCodec[V, View], opts ...Option[K]) (*ViewableMap[K, View], error) {
	checkFixed[K]()
	cfg := makeConfig(opts)
	mp, err := openMapping(path, cfg.mapper)
	if err != nil {
		return nil, err
	}
	m, err := decodeViewableMap[K](mp.data, codec.MakeView, cfg)
	if err != nil {
		mp.close()
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	m.mapping = mp
	return m, nil
}

func decodeViewableMap[K comparable, View any](data []byte, makeView func([]byte) View, cfg config[K]) (*ViewableMap[K, View], error) {
	h, err := parseTableHeader(data)
	if err != nil {
		return nil, err
	}
	keySize := int(unsafe.Sizeof(*new(K)))
	if err := checkCapacity(h.capacity, len(data), keySize+blobSpanSize); err != nil {
		return nil, err
	}
	capacity := int(h.capacity)
	keyRegion, err := slotRegion(data, headerSize, keySize*capacity, "key")
	if err != nil {
		return nil, err
	}
	spansOff := headerSize + keySize*capacity
	spansOff += padTo(spansOff, 8)
	spanRegion, err := slotRegion(data, spansOff, blobSpanSize*capacity, "span")
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
	m := &ViewableMap[K, View]{
		data:     data,
		flags:    flags,
		size:     int(h.count),
		capacity: capacity,
		hasher:   cfg.hasher,
		makeView: makeView,
	}
	if m.hasher == nil {
		m.hasher = fixedHasher[K]()
	}
	if capacity > 0 {
		m.keys = unsafe.Slice((*K)(unsafe.Pointer(&keyRegion[0])), capacity)
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
func (m *ViewableMap[K, View]) Size() int {
	return m.size
}

// Contains reports whether key is live in the map. It never fails.
func (m *ViewableMap[K, View]) Contains(key K) bool {
	return m.lookup(key) >= 0
}

// At returns the view for key, or ErrKeyNotFound when key is absent, was
// erased before the write, or the table is empty.
func (m *ViewableMap[K, View]) At(key K) (View, error) {
	slot := m.lookup(key)
	if slot < 0 {
		var zero View
		return zero, errors.Wrapf(ErrKeyNotFound, "key %v", key)
	}
	return m.viewAt(slot), nil
}

// ForEach calls fn for every live entry until fn returns false.
func (m *ViewableMap[K, View]) ForEach(fn func(K, View) bool) {
	for i := 0; i < m.capacity; i++ {
		if m.flags.Occupied(i) && !fn(m.keys[i], m.viewAt(i)) {
			return
		}
	}
}

// Close unmaps the file and closes its descriptor. Every view returned
// earlier is invalid afterward. Close is idempotent.
func (m *ViewableMap[K, View]) Close() error {
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

func (m *ViewableMap[K, View]) viewAt(i int) View {
	sp := m.spans[i]
	return m.makeView(m.data[sp.off : sp.off+sp.len])
}

func (m *ViewableMap[K, View]) lookup(key K) int {
	return lookupSlot(m.flags, m.capacity, m.hasher(key), func(i int) bool {
		return m.keys[i] == key
	})
}
