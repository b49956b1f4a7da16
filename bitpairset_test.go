package openhash

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitPairSetFlags(t *testing.T) {
	b := NewBitPairSet(100)
	require.Equal(t, 100, b.Len())

	for i := 0; i < 100; i++ {
		occupied, ever := b.Get(i)
		assert.False(t, occupied)
		assert.False(t, ever)
	}

	b.SetBoth(0)
	b.SetBoth(17)
	b.SetBoth(99)

	occupied, ever := b.Get(17)
	assert.True(t, occupied)
	assert.True(t, ever)

	// Tombstone: occupied drops, everOccupied survives.
	b.ClearOccupied(17)
	occupied, ever = b.Get(17)
	assert.False(t, occupied)
	assert.True(t, ever)

	// Neighbors in the same word are untouched.
	occupied, ever = b.Get(16)
	assert.False(t, occupied)
	assert.False(t, ever)
	assert.True(t, b.Occupied(0))
	assert.True(t, b.Occupied(99))

	b.Clear()
	for _, i := range []int{0, 17, 99} {
		occupied, ever := b.Get(i)
		assert.False(t, occupied)
		assert.False(t, ever)
	}
}

func TestBitPairSetSerializationRoundTrip(t *testing.T) {
	b := NewBitPairSet(37)
	b.SetBoth(0)
	b.SetBoth(13)
	b.SetBoth(36)
	b.ClearOccupied(13)

	var buf bytes.Buffer
	require.NoError(t, b.writeTo(&buf))
	require.Equal(t, b.sectionSize(), buf.Len())

	// In-place decode over the serialized bytes.
	decoded, err := bitPairSetFromBytes(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 37, decoded.Len())
	for i := 0; i < 37; i++ {
		wantOcc, wantEver := b.Get(i)
		gotOcc, gotEver := decoded.Get(i)
		assert.Equal(t, wantOcc, gotOcc, "slot %d", i)
		assert.Equal(t, wantEver, gotEver, "slot %d", i)
	}

	// Stream decode into owned words.
	streamed, err := readBitPairSet(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 37, streamed.Len())
	occupied, ever := streamed.Get(13)
	assert.False(t, occupied)
	assert.True(t, ever)
}

func TestBitPairSetDecodeTruncated(t *testing.T) {
	b := NewBitPairSet(64)
	var buf bytes.Buffer
	require.NoError(t, b.writeTo(&buf))

	_, err := bitPairSetFromBytes(buf.Bytes()[:10])
	assert.Error(t, err)

	_, err = bitPairSetFromBytes(buf.Bytes()[:buf.Len()-1])
	assert.Error(t, err)
}

// A word count near 2^64 must fail the length check, not wrap a product
// and panic in the slice reinterpretation.
func TestBitPairSetDecodeForgedWordCount(t *testing.T) {
	buf := make([]byte, bitPairHeaderSize)
	binary.NativeEndian.PutUint64(buf[0:8], 0)
	binary.NativeEndian.PutUint64(buf[8:16], 1<<62)

	require.NotPanics(t, func() {
		_, err := bitPairSetFromBytes(buf)
		assert.Error(t, err)
	})
	require.NotPanics(t, func() {
		_, err := readBitPairSet(bytes.NewReader(buf))
		assert.Error(t, err)
	})
}

func TestBitPairSetDecodeForgedSlotCount(t *testing.T) {
	buf := make([]byte, bitPairHeaderSize)
	binary.NativeEndian.PutUint64(buf[0:8], 1<<63)
	binary.NativeEndian.PutUint64(buf[8:16], 1)

	_, err := bitPairSetFromBytes(buf)
	assert.Error(t, err)

	_, err = readBitPairSet(bytes.NewReader(buf))
	assert.Error(t, err)
}

func TestBitPairSetClone(t *testing.T) {
	b := NewBitPairSet(20)
	b.SetBoth(3)
	c := b.clone()
	c.ClearOccupied(3)
	assert.True(t, b.Occupied(3))
	assert.False(t, c.Occupied(3))
}
