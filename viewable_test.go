package openhash_test

import (
	"encoding/binary"
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gradyschofield/openhash"
)

// int32SliceCodec stores an []int32 as an 8-byte length followed by the
// raw elements, and reopens it as a typed slice over the mapped bytes.
type int32SliceCodec struct{}

func (int32SliceCodec) Serialize(w io.Writer, v []int32) error {
	var hdr [8]byte
	binary.NativeEndian.PutUint64(hdr[:], uint64(len(v)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(v) == 0 {
		return nil
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), 4*len(v))
	_, err := w.Write(raw)
	return err
}

func (int32SliceCodec) MakeView(b []byte) []int32 {
	n := binary.NativeEndian.Uint64(b[:8])
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[8])), n)
}

func TestViewableRoundTrip(t *testing.T) {
	path := tempPath(t, "viewable.oht")

	b := openhash.NewViewableBuilder[int64, []int32, []int32](int32SliceCodec{})
	b.Put(4, []int32{1, 2, 3})
	b.Put(7, []int32{10})
	b.Put(9, nil)
	require.NoError(t, b.Write(path))

	m, err := openhash.OpenViewableMap[int64, []int32, []int32](path, int32SliceCodec{})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 3, m.Size())

	view, err := m.At(4)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, []int32(view))

	view, err = m.At(7)
	require.NoError(t, err)
	assert.Equal(t, []int32{10}, []int32(view))

	view, err = m.At(9)
	require.NoError(t, err)
	assert.Empty(t, view)

	_, err = m.At(5)
	assert.ErrorIs(t, err, openhash.ErrKeyNotFound)
	assert.False(t, m.Contains(5))
}

func TestViewableReassignAndErase(t *testing.T) {
	path := tempPath(t, "viewable.oht")

	b := openhash.NewViewableBuilder[int64, []int32, []int32](int32SliceCodec{})
	b.Put(1, []int32{1})
	b.Put(1, []int32{2, 2}) // re-assign
	b.Put(2, []int32{3})
	b.Erase(2)
	assert.Equal(t, 1, b.Size())
	require.NoError(t, b.Write(path))

	m, err := openhash.OpenViewableMap[int64, []int32, []int32](path, int32SliceCodec{})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 1, m.Size())
	view, err := m.At(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 2}, []int32(view))
	_, err = m.At(2)
	assert.ErrorIs(t, err, openhash.ErrKeyNotFound)
}

func TestViewableManyEntries(t *testing.T) {
	path := tempPath(t, "viewable.oht")

	b := openhash.NewViewableBuilder[int64, []int32, []int32](int32SliceCodec{})
	b.Reserve(2000)
	for i := int64(0); i < 1500; i++ {
		b.Put(i, []int32{int32(i), int32(i) * 2, int32(i) * 3})
	}
	require.NoError(t, b.Write(path))

	m, err := openhash.OpenViewableMap[int64, []int32, []int32](path, int32SliceCodec{})
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 1500, m.Size())
	for i := int64(0); i < 1500; i++ {
		view, err := m.At(i)
		require.NoError(t, err)
		require.Len(t, []int32(view), 3)
		assert.Equal(t, int32(i)*2, view[1])
	}

	seen := 0
	m.ForEach(func(k int64, v []int32) bool {
		assert.Equal(t, int32(k), v[0])
		seen++
		return true
	})
	assert.Equal(t, 1500, seen)
}

func TestOpenViewableMapMappingFailure(t *testing.T) {
	path := tempPath(t, "viewable.oht")
	b := openhash.NewViewableBuilder[int64, []int32, []int32](int32SliceCodec{})
	b.Put(1, []int32{1})
	require.NoError(t, b.Write(path))

	_, err := openhash.OpenViewableMap[int64, []int32, []int32](path, int32SliceCodec{},
		openhash.WithMapper[int64](failMapper{}))
	assert.ErrorIs(t, err, openhash.ErrMapping)
}
