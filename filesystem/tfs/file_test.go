package tfs

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyfs/go-tinyfs/blockdev"
)

func testFile(t *testing.T) (*FileSystem, *inode) {
	t.Helper()
	fs, _ := testFileSystem(t)
	require.NoError(t, fs.Create("/f", 0o644))
	return fs, mustResolve(t, fs, "/f")
}

func TestWriteReadAcrossBlocks(t *testing.T) {
	fs, in := testFile(t)
	data := bytes.Repeat([]byte("0123456789abcdef"), 200) // 3200 bytes
	n, err := fs.writeAt(in, 100, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, uint64(3300), in.size)
	assert.Equal(t, 4, in.blockCount())

	in = mustResolve(t, fs, "/f")
	got, err := fs.readAt(in, 100, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	head, err := fs.readAt(in, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 100), head, "bytes before the first write read as zeros")

	tail, err := fs.readAt(in, 3290, 100)
	require.NoError(t, err)
	assert.Len(t, tail, 10, "reads stop at the file size")

	empty, err := fs.readAt(in, 5000, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOverwriteKeepsNeighbours(t *testing.T) {
	fs, in := testFile(t)
	_, err := fs.writeAt(in, 0, []byte("hello, world"))
	require.NoError(t, err)
	_, err = fs.writeAt(in, 7, []byte("there"))
	require.NoError(t, err)
	got, err := fs.readAt(in, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello, there", string(got))
	assert.Equal(t, 1, in.blockCount())
}

func TestSparseWrite(t *testing.T) {
	fs, in := testFile(t)
	_, err := fs.writeAt(in, int64(5*testBlockSize), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, in.blockCount(), "only the written block is allocated")
	got, err := fs.readAt(in, 0, int(in.size))
	require.NoError(t, err)
	assert.Equal(t, int(5*testBlockSize)+1, len(got))
	assert.Equal(t, byte('x'), got[len(got)-1])
	assert.Equal(t, make([]byte, 5*testBlockSize), got[:5*testBlockSize])
}

func TestWriteTooLarge(t *testing.T) {
	fs, in := testFile(t)
	limit := int64(directPointers) * int64(testBlockSize)
	free := fs.dataBitmap.freeCount()

	_, err := fs.writeAt(in, limit-2, []byte("abc"))
	assert.True(t, errors.Is(err, ErrFileTooLarge))
	assert.Equal(t, free, fs.dataBitmap.freeCount(), "nothing allocated")
	assert.Equal(t, uint64(0), in.size)

	n, err := fs.writeAt(in, limit-3, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(limit), in.size)
}

func TestWriteOutOfSpaceRollsBack(t *testing.T) {
	fs, _ := testCreate(t, testMaxInodes, 4)
	require.NoError(t, fs.Create("/f", 0o644))
	in := mustResolve(t, fs, "/f")
	free := fs.dataBitmap.freeCount()
	require.Equal(t, 3, free)

	_, err := fs.writeAt(in, 0, make([]byte, 4*testBlockSize))
	assert.True(t, errors.Is(err, ErrOutOfSpace))
	assert.Equal(t, free, fs.dataBitmap.freeCount())
	on := mustResolve(t, fs, "/f")
	assert.Equal(t, 0, on.blockCount())
	assert.Equal(t, uint64(0), on.size)
}

func TestWriteIOError(t *testing.T) {
	fs, in := testFile(t)
	dev := &failingDevice{Device: fs.dev}
	fs.dev = dev
	dev.failWrites = true
	_, err := fs.writeAt(in, 0, []byte("data"))
	assert.True(t, errors.Is(err, blockdev.ErrIO))

	dev.failWrites = false
	dev.failReads = true
	_, err = fs.readAt(&inode{number: 3, size: 10, directPointers: [directPointers]uint32{5}}, 0, 10)
	assert.True(t, errors.Is(err, blockdev.ErrIO))
}

func TestTruncate(t *testing.T) {
	fs, in := testFile(t)
	data := bytes.Repeat([]byte{0xAA}, int(3*testBlockSize))
	_, err := fs.writeAt(in, 0, data)
	require.NoError(t, err)
	free := fs.dataBitmap.freeCount()

	require.NoError(t, fs.truncate(in, 1500))
	assert.Equal(t, uint64(1500), in.size)
	assert.Equal(t, 2, in.blockCount())
	assert.Equal(t, free+1, fs.dataBitmap.freeCount())

	// growing again exposes zeros, not the old content
	require.NoError(t, fs.truncate(in, int64(2*testBlockSize)))
	got, err := fs.readAt(in, 0, int(2*testBlockSize))
	require.NoError(t, err)
	assert.Equal(t, data[:1500], got[:1500])
	assert.Equal(t, make([]byte, int(2*testBlockSize)-1500), got[1500:])

	require.NoError(t, fs.truncate(in, 0))
	assert.Equal(t, 0, in.blockCount())
	assert.Equal(t, free+3, fs.dataBitmap.freeCount())

	assert.True(t, errors.Is(fs.truncate(in, int64(directPointers)*int64(testBlockSize)+1), ErrFileTooLarge))
	assert.True(t, errors.Is(fs.truncate(in, -1), ErrInvalidParams))
}

func TestReadClampsLength(t *testing.T) {
	fs, _ := testFile(t)
	_, err := fs.WriteBytes("/f", 0, []byte("hello"))
	require.NoError(t, err)

	b, err := fs.ReadBytes("/f", 1, math.MaxInt)
	require.NoError(t, err)
	assert.Equal(t, "ello", string(b))
	b, err = fs.ReadBytes("/f", 4, math.MaxInt-3)
	require.NoError(t, err)
	assert.Equal(t, "o", string(b))
	b, err = fs.ReadBytes("/f", math.MaxInt64, math.MaxInt)
	require.NoError(t, err)
	assert.Empty(t, b)
}
