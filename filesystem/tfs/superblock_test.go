package tfs

import (
	"errors"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSuperblock(t *testing.T) *superblock {
	t.Helper()
	sb, err := newSuperblock(testBlockSize, 72, testMaxInodes, testMaxDataBlocks)
	require.NoError(t, err)
	sb.created = testTime
	sb.uuid = uuid.MustParse("5c3a0f7e-1d2b-4c8a-9e6f-0a1b2c3d4e5f")
	sb.label = "scratch"
	return sb
}

func TestNewSuperblockLayout(t *testing.T) {
	sb := testSuperblock(t)
	assert.Equal(t, uint32(1), sb.inodeBitmapBlock)
	assert.Equal(t, uint32(2), sb.dataBitmapBlock)
	assert.Equal(t, uint32(3), sb.inodeTableStart)
	assert.Equal(t, uint32(4), sb.inodeTableBlocks())
	assert.Equal(t, testDataRegionStart, sb.dataRegionStart)
	assert.Greater(t, sb.dataRegionStart, sb.inodeTableStart+sb.inodeTableBlocks())
	assert.Equal(t, uint32(72), sb.totalBlocks())
	assert.Equal(t, uint64(16*1024), sb.maxFileSize())

	block, offset := sb.inodeLocation(0)
	assert.Equal(t, uint32(3), block)
	assert.Equal(t, uint32(0), offset)
	block, offset = sb.inodeLocation(6)
	assert.Equal(t, uint32(4), block)
	assert.Equal(t, uint32(512), offset)
	assert.Equal(t, uint32(8+5), sb.dataBlock(5))
}

func TestNewSuperblockDefaultsDataBlocks(t *testing.T) {
	sb, err := newSuperblock(testBlockSize, 1000, testMaxInodes, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000)-testDataRegionStart, sb.maxDataBlocks)

	// capped at what one bitmap block can track
	sb, err = newSuperblock(testBlockSize, 20000, testMaxInodes, 0)
	require.NoError(t, err)
	assert.Equal(t, testBlockSize*8, sb.maxDataBlocks)
}

func TestNewSuperblockInvalid(t *testing.T) {
	tests := []struct {
		name                          string
		blockSize, blocks, inodes, db uint32
	}{
		{"no inodes", testBlockSize, 72, 0, 64},
		{"inode bitmap overflow", testBlockSize, 100000, testBlockSize*8 + 1, 64},
		{"data bitmap overflow", testBlockSize, 100000, 16, testBlockSize*8 + 1},
		{"device too small", testBlockSize, 8, 16, 0},
		{"too many data blocks", testBlockSize, 72, 16, 65},
		{"block smaller than inode", 128, 72, 16, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newSuperblock(tt.blockSize, tt.blocks, tt.inodes, tt.db)
			assert.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)
		})
	}
}

func TestSuperblockFromBytes(t *testing.T) {
	expected := testSuperblock(t)
	b, err := expected.toBytes()
	require.NoError(t, err)
	require.Len(t, b, int(testBlockSize))

	sb, err := superblockFromBytes(b)
	require.NoError(t, err)
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(expected, sb); diff != nil {
		t.Errorf("superblockFromBytes() = %v", diff)
	}
	assert.True(t, expected.equal(sb))
}

func TestSuperblockNotFormatted(t *testing.T) {
	valid, err := testSuperblock(t).toBytes()
	require.NoError(t, err)

	t.Run("zeroed", func(t *testing.T) {
		_, err := superblockFromBytes(make([]byte, testBlockSize))
		assert.True(t, errors.Is(err, ErrNotFormatted))
	})
	t.Run("short", func(t *testing.T) {
		_, err := superblockFromBytes(valid[:superblockSize-1])
		assert.True(t, errors.Is(err, ErrNotFormatted))
	})
	t.Run("corrupted", func(t *testing.T) {
		b := append([]byte(nil), valid...)
		// flip a bit of max inodes
		b[24] ^= 0x01
		_, err := superblockFromBytes(b)
		assert.True(t, errors.Is(err, ErrNotFormatted))
	})
}

func TestSuperblockLabelTooLong(t *testing.T) {
	sb := testSuperblock(t)
	sb.label = "a label that is far longer than thirty-two bytes"
	_, err := sb.toBytes()
	assert.Error(t, err)
}
