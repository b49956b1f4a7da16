package openhash

import (
	"encoding/binary"
	"io"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// On-disk layout, host-native byte order:
//
//	┌──────────────────────────────┐
//	│ [8B] count  (live entries)   │
//	│ [8B] capacity (slot count)   │
//	│ [8B] loadFactor (float64)    │
//	│ [8B] growthFactor (float64)  │
//	│ [8B] flagsOffset             │
//	├──────────────────────────────┤
//	│ slot data (variant specific) │
//	├──────────────────────────────┤
//	│ 0..7B zero padding           │
//	├──────────────────────────────┤
//	│ occupancy section            │
//	└──────────────────────────────┘
//
// flagsOffset is the byte offset of the occupancy section from the start
// of the file, after any alignment padding. Slot data is the raw native
// key array for Set/Map; the blob variants add descriptor tables and a
// value blob (see their files). No endianness or pointer width is
// recorded: files are not portable across byte orders.
const headerSize = 40

type tableHeader struct {
	count        uint64
	capacity     uint64
	loadFactor   float64
	growthFactor float64
	flagsOffset  uint64
}

func (h tableHeader) writeTo(w io.Writer) error {
	var buf [headerSize]byte
	binary.NativeEndian.PutUint64(buf[0:8], h.count)
	binary.NativeEndian.PutUint64(buf[8:16], h.capacity)
	binary.NativeEndian.PutUint64(buf[16:24], math.Float64bits(h.loadFactor))
	binary.NativeEndian.PutUint64(buf[24:32], math.Float64bits(h.growthFactor))
	binary.NativeEndian.PutUint64(buf[32:40], h.flagsOffset)
	_, err := w.Write(buf[:])
	return err
}

// parseTableHeader decodes and sanity-checks the fixed header against the
// region length. Every mapped decode goes through this before any slot
// data is reinterpreted.
func parseTableHeader(data []byte) (tableHeader, error) {
	if len(data) < headerSize {
		return tableHeader{}, errors.Newf("file truncated: %d bytes, need %d for header", len(data), headerSize)
	}
	h, err := parseStreamHeader(data)
	if err != nil {
		return tableHeader{}, err
	}
	if h.flagsOffset > uint64(len(data)) {
		return tableHeader{}, errors.Newf("corrupt header: occupancy offset %d outside file of %d bytes",
			h.flagsOffset, len(data))
	}
	return h, nil
}

// parseStreamHeader decodes a header buffer without a surrounding region
// to validate against; stream constructors use it directly.
func parseStreamHeader(buf []byte) (tableHeader, error) {
	h := tableHeader{
		count:        binary.NativeEndian.Uint64(buf[0:8]),
		capacity:     binary.NativeEndian.Uint64(buf[8:16]),
		loadFactor:   math.Float64frombits(binary.NativeEndian.Uint64(buf[16:24])),
		growthFactor: math.Float64frombits(binary.NativeEndian.Uint64(buf[24:32])),
		flagsOffset:  binary.NativeEndian.Uint64(buf[32:40]),
	}
	if h.count > h.capacity {
		return tableHeader{}, errors.Newf("corrupt header: count %d exceeds capacity %d", h.count, h.capacity)
	}
	if h.flagsOffset < headerSize {
		return tableHeader{}, errors.Newf("corrupt header: occupancy offset %d inside header", h.flagsOffset)
	}
	return h, nil
}

// checkCapacity rejects a declared slot count that could not fit
// slotBytes bytes per slot in a region of regionLen bytes. The count is
// untrusted 64-bit file data, so the bound divides instead of
// multiplying: a forged count near 2^64 must not wrap a product into
// passing and turn the later reinterpretation into a panic.
func checkCapacity(capacity uint64, regionLen, slotBytes int) error {
	if slotBytes < 1 {
		slotBytes = 1
	}
	if capacity > uint64(regionLen)/uint64(slotBytes) {
		return errors.Newf("corrupt header: capacity %d cannot fit %d-byte slots in %d bytes",
			capacity, slotBytes, regionLen)
	}
	return nil
}

// readSlice reads count fixed-width elements from r in bounded chunks,
// growing the result only as bytes actually arrive. A stream has no
// region length to validate a declared count against, so the allocation
// must not trust it up front.
func readSlice[T any](r io.Reader, count int, what string) ([]T, error) {
	if count < 0 {
		return nil, errors.Newf("reading %s: negative element count %d", what, count)
	}
	elemSize := int(unsafe.Sizeof(*new(T)))
	chunk := maxInt(1, (1<<20)/maxInt(1, elemSize))
	out := make([]T, 0, minInt(count, chunk))
	for len(out) < count {
		n := minInt(count-len(out), chunk)
		buf := make([]T, n)
		if elemSize > 0 {
			raw := unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), n*elemSize)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, errors.Wrapf(err, "reading %s", what)
			}
		}
		out = append(out, buf...)
	}
	return out, nil
}

// slotRegion bounds-checks a slot data section of size bytes starting at
// off and returns it. Used before any unsafe reinterpretation of mapped
// memory.
func slotRegion(data []byte, off, size int, what string) ([]byte, error) {
	if off < 0 || size < 0 || off+size > len(data) {
		return nil, errors.Newf("corrupt file: %s section [%d, %d) outside file of %d bytes",
			what, off, off+size, len(data))
	}
	return data[off : off+size], nil
}

// padTo returns the number of zero bytes needed to advance off to the next
// multiple of align.
func padTo(off int, align int) int {
	if r := off % align; r != 0 {
		return align - r
	}
	return 0
}

var zeroPad [8]byte

func writePad(w io.Writer, n int) error {
	for n > 0 {
		c := n
		if c > len(zeroPad) {
			c = len(zeroPad)
		}
		if _, err := w.Write(zeroPad[:c]); err != nil {
			return err
		}
		n -= c
	}
	return nil
}

// blobSpan locates a variable-length record inside a written file:
// an absolute byte offset and a length. Tombstoned slots keep their span
// so the probe can still compare retained keys; unused slots are {0, 0}.
type blobSpan struct {
	off uint64
	len uint64
}

const blobSpanSize = 16

func (s blobSpan) check(flagsOffset uint64, what string) error {
	if s.off+s.len > flagsOffset {
		return errors.Newf("corrupt file: %s span [%d, %d) overlaps occupancy section at %d",
			what, s.off, s.off+s.len, flagsOffset)
	}
	return nil
}
