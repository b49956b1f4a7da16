package openhash

import (
	"encoding/binary"
	"io"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// BitPairSet packs two flags per slot into an array of 32-bit words:
// bit 0 of the pair is "occupied", bit 1 is "everOccupied". A slot with
// everOccupied set and occupied clear is a tombstone. occupied implies
// everOccupied.
//
// The words are either heap allocated or a read-only view over mapped
// bytes; mutation of a mapped BitPairSet is prevented by the owning table.
type BitPairSet struct {
	words []uint32
	size  int
}

const slotsPerWord = 16 // 32 bits / 2 bits per slot

func bitPairWords(size int) int {
	return (size + slotsPerWord - 1) / slotsPerWord
}

// NewBitPairSet returns a cleared set covering size slots.
func NewBitPairSet(size int) *BitPairSet {
	return &BitPairSet{
		words: make([]uint32, bitPairWords(size)),
		size:  size,
	}
}

// Len returns the number of slots covered.
func (b *BitPairSet) Len() int {
	return b.size
}

// Get returns the occupied and everOccupied flags for slot i.
func (b *BitPairSet) Get(i int) (occupied, everOccupied bool) {
	w := b.words[i/slotsPerWord] >> (uint(i%slotsPerWord) * 2)
	return w&1 != 0, w&2 != 0
}

// Occupied reports whether slot i holds a live entry.
func (b *BitPairSet) Occupied(i int) bool {
	return b.words[i/slotsPerWord]>>(uint(i%slotsPerWord)*2)&1 != 0
}

// SetBoth marks slot i occupied and everOccupied.
func (b *BitPairSet) SetBoth(i int) {
	b.words[i/slotsPerWord] |= 3 << (uint(i%slotsPerWord) * 2)
}

// ClearOccupied turns slot i into a tombstone: occupied is cleared,
// everOccupied is retained.
func (b *BitPairSet) ClearOccupied(i int) {
	b.words[i/slotsPerWord] &^= 1 << (uint(i%slotsPerWord) * 2)
}

// Clear resets every slot to unused. Only rehash and Clear on an owned
// table reach this; it is the sole operation that discards tombstones.
func (b *BitPairSet) Clear() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// clone deep-copies the set onto the heap.
func (b *BitPairSet) clone() *BitPairSet {
	words := make([]uint32, len(b.words))
	copy(words, b.words)
	return &BitPairSet{words: words, size: b.size}
}

// Serialized section layout, host-native byte order:
//
//	[8B] logical slot count
//	[8B] packed word count
//	[4B * word count] words
const bitPairHeaderSize = 16

// sectionSize returns the number of bytes writeTo will produce.
func (b *BitPairSet) sectionSize() int {
	return bitPairHeaderSize + 4*len(b.words)
}

func (b *BitPairSet) writeTo(w io.Writer) error {
	var hdr [bitPairHeaderSize]byte
	binary.NativeEndian.PutUint64(hdr[0:8], uint64(b.size))
	binary.NativeEndian.PutUint64(hdr[8:16], uint64(len(b.words)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(b.words) == 0 {
		return nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), 4*len(b.words))
	_, err := w.Write(raw)
	return err
}

// bitPairSetFromBytes decodes a serialized section in place: the returned
// set's words alias data. The region length is validated before any
// reinterpretation. Both declared counts are 64-bit and come straight
// from the file, so every bound here divides instead of multiplying: a
// forged count near 2^64 must not wrap a product into passing.
func bitPairSetFromBytes(data []byte) (*BitPairSet, error) {
	if len(data) < bitPairHeaderSize {
		return nil, errors.Newf("occupancy section truncated: %d bytes", len(data))
	}
	size := binary.NativeEndian.Uint64(data[0:8])
	wordCount := binary.NativeEndian.Uint64(data[8:16])
	if avail := uint64(len(data)-bitPairHeaderSize) / 4; wordCount > avail {
		return nil, errors.Newf("occupancy section truncated: %d words declared, room for %d",
			wordCount, avail)
	}
	if wordCount < bitPairWords64(size) {
		return nil, errors.Newf("occupancy section inconsistent: %d slots need %d words, have %d",
			size, bitPairWords64(size), wordCount)
	}
	var words []uint32
	if wordCount > 0 {
		words = unsafe.Slice((*uint32)(unsafe.Pointer(&data[bitPairHeaderSize])), wordCount)
	}
	return &BitPairSet{words: words, size: int(size)}, nil
}

// readBitPairSet deserializes a section from a stream into owned words.
func readBitPairSet(r io.Reader) (*BitPairSet, error) {
	var hdr [bitPairHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "reading occupancy header")
	}
	size := binary.NativeEndian.Uint64(hdr[0:8])
	wordCount := binary.NativeEndian.Uint64(hdr[8:16])
	if size > uint64(math.MaxInt)/slotsPerWord {
		return nil, errors.Newf("occupancy section declares %d slots", size)
	}
	if wordCount > uint64(math.MaxInt)/4 {
		return nil, errors.Newf("occupancy section declares %d words", wordCount)
	}
	if wordCount < bitPairWords64(size) {
		return nil, errors.Newf("occupancy section inconsistent: %d slots need %d words, have %d",
			size, bitPairWords64(size), wordCount)
	}
	words, err := readSlice[uint32](r, int(wordCount), "occupancy words")
	if err != nil {
		return nil, err
	}
	return &BitPairSet{words: words, size: int(size)}, nil
}

func bitPairWords64(size uint64) uint64 {
	n := size / slotsPerWord
	if size%slotsPerWord != 0 {
		n++
	}
	return n
}
