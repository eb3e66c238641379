package tfs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryNames(t *testing.T, fs *FileSystem, dir *inode) []string {
	t.Helper()
	entries, err := fs.entries(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.filename)
	}
	return names
}

func TestRootDirectory(t *testing.T) {
	fs, _ := testFileSystem(t)
	root := mustResolve(t, fs, "/")
	entries, err := fs.entries(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ".", entries[0].filename)
	assert.Equal(t, rootInode, entries[0].inode)
	assert.Equal(t, "..", entries[1].filename)
	assert.Equal(t, rootInode, entries[1].inode)
}

func TestDirectoryUniqueness(t *testing.T) {
	fs, _ := testFileSystem(t)
	root := mustResolve(t, fs, "/")
	require.NoError(t, fs.addEntry(root, 5, kindFile, "a"))
	err := fs.addEntry(root, 6, kindFile, "a")
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	e, err := fs.find(root, "a")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), e.inode)
}

func TestDirectoryRemove(t *testing.T) {
	fs, _ := testFileSystem(t)
	root := mustResolve(t, fs, "/")
	require.NoError(t, fs.addEntry(root, 5, kindFile, "a"))
	require.NoError(t, fs.removeEntry(root, "a"))

	_, err := fs.find(root, "a")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = fs.removeEntry(root, "a")
	assert.True(t, errors.Is(err, ErrNotFound), "second remove is not silently accepted")

	// the tombstoned slot is the first one reused
	require.NoError(t, fs.addEntry(root, 7, kindFile, "b"))
	_, d, loc, err := fs.findEntry(root, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, loc.index)
	assert.Equal(t, uint32(0), loc.block)
	assert.Equal(t, 3, d.validCount())
}

func TestDirectoryGrowth(t *testing.T) {
	fs, _ := testFileSystem(t)
	root := mustResolve(t, fs, "/")
	perBlock := entriesPerBlock(testBlockSize)
	// fill the first block, . and .. included
	for i := 0; i < perBlock-2; i++ {
		require.NoError(t, fs.addEntry(root, uint32(i+1), kindFile, fmt.Sprintf("f%d", i)))
	}
	assert.Equal(t, 1, root.blockCount())
	free := fs.dataBitmap.freeCount()

	require.NoError(t, fs.addEntry(root, 9, kindFile, "overflow"))
	assert.Equal(t, 2, root.blockCount())
	assert.Equal(t, free-1, fs.dataBitmap.freeCount())
	assert.Equal(t, uint32(1), root.directPointers[1], "new block attached to the lowest free pointer")

	// persisted
	again := mustResolve(t, fs, "/")
	if diff := cmp.Diff(root.directPointers, again.directPointers); diff != "" {
		t.Errorf("root pointers mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(2*testBlockSize), again.size)

	names := entryNames(t, fs, again)
	assert.Len(t, names, perBlock+1)
	assert.Equal(t, "overflow", names[len(names)-1])
}

func TestDirectoryFull(t *testing.T) {
	fs, _ := testCreate(t, 256, testMaxDataBlocks)
	root := mustResolve(t, fs, "/")
	capacity := directPointers*entriesPerBlock(testBlockSize) - 2
	for i := 0; i < capacity; i++ {
		require.NoError(t, fs.addEntry(root, uint32(i+1), kindFile, fmt.Sprintf("f%d", i)))
	}
	assert.Equal(t, directPointers, root.blockCount())
	free := fs.dataBitmap.freeCount()

	err := fs.addEntry(root, 200, kindFile, "one-too-many")
	assert.True(t, errors.Is(err, ErrDirectoryFull))
	assert.Equal(t, free, fs.dataBitmap.freeCount(), "nothing allocated on failure")
}

func TestCompactDirectory(t *testing.T) {
	fs, _ := testFileSystem(t)
	root := mustResolve(t, fs, "/")
	perBlock := entriesPerBlock(testBlockSize)
	for i := 0; i < perBlock; i++ {
		require.NoError(t, fs.addEntry(root, uint32(i+1), kindFile, fmt.Sprintf("f%d", i)))
	}
	require.Equal(t, 2, root.blockCount())
	free := fs.dataBitmap.freeCount()

	released, err := fs.compactDirectory(root)
	require.NoError(t, err)
	assert.Equal(t, 0, released, "second block still holds entries")

	require.NoError(t, fs.removeEntry(root, fmt.Sprintf("f%d", perBlock-2)))
	require.NoError(t, fs.removeEntry(root, fmt.Sprintf("f%d", perBlock-1)))
	assert.Equal(t, 2, root.blockCount(), "remove alone does not reclaim")

	released, err = fs.compactDirectory(root)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 1, root.blockCount())
	assert.Equal(t, free+1, fs.dataBitmap.freeCount())

	again := mustResolve(t, fs, "/")
	assert.Equal(t, uint32(0), again.directPointers[1])
	assert.Len(t, entryNames(t, fs, again), perBlock-2+2)
}

func TestDirectoryOnFile(t *testing.T) {
	fs, _ := testFileSystem(t)
	require.NoError(t, fs.Create("/plain", 0o644))
	file := mustResolve(t, fs, "/plain")
	_, err := fs.find(file, "x")
	assert.True(t, errors.Is(err, ErrNotADirectory))
	assert.True(t, errors.Is(fs.addEntry(file, 3, kindFile, "x"), ErrNotADirectory))
	_, err = fs.entries(file)
	assert.True(t, errors.Is(err, ErrNotADirectory))
}
