package tfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap(t *testing.T) {
	bm := newBitmap(20)
	assert.Len(t, bm.bits, 3)
	assert.Equal(t, 20, bm.freeCount())
	assert.Equal(t, 0, bm.firstFree(0))

	for i := 0; i < 9; i++ {
		require.NoError(t, bm.set(i))
	}
	assert.Equal(t, byte(0xff), bm.bits[0])
	assert.Equal(t, byte(0x01), bm.bits[1])
	assert.Equal(t, 9, bm.firstFree(0))
	assert.Equal(t, 11, bm.freeCount())

	require.NoError(t, bm.clear(3))
	assert.Equal(t, 3, bm.firstFree(0))
	assert.Equal(t, 9, bm.firstFree(4))
	set, err := bm.isSet(3)
	require.NoError(t, err)
	assert.False(t, set)

	assert.Error(t, bm.set(20))
	assert.Error(t, bm.clear(-1))
	_, err = bm.isSet(25)
	assert.Error(t, err)
}

func TestBitmapFull(t *testing.T) {
	bm := newBitmap(12)
	for i := 0; i < 12; i++ {
		require.NoError(t, bm.set(i))
	}
	assert.Equal(t, -1, bm.firstFree(0))
	assert.Equal(t, 0, bm.freeCount())
	// the padding bits of the last byte are never handed out
	assert.Equal(t, byte(0x0f), bm.bits[1])
}

func TestBitmapToBlock(t *testing.T) {
	bm := newBitmap(16)
	require.NoError(t, bm.set(0))
	require.NoError(t, bm.set(15))
	b := bm.toBlock(testBlockSize)
	require.Len(t, b, int(testBlockSize))
	assert.Equal(t, []byte{0x01, 0x80, 0x00}, b[:3])

	again, err := bitmapFromBytes(b, 16)
	require.NoError(t, err)
	assert.Equal(t, bm, again)

	_, err = bitmapFromBytes([]byte{0x01}, 16)
	assert.Error(t, err)
}
