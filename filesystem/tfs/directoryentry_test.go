package tfs

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectoryBlock() *directoryBlock {
	d := newDirectoryBlock(testBlockSize)
	d.entries[0] = &directoryEntry{inode: 4, valid: true, fileType: kindDirectory, filename: "."}
	d.entries[1] = &directoryEntry{inode: 0, valid: true, fileType: kindDirectory, filename: ".."}
	d.entries[2] = &directoryEntry{inode: 9, valid: true, fileType: kindFile, filename: "notes.txt"}
	d.entries[3] = &directoryEntry{inode: 2, valid: false, fileType: kindFile, filename: "gone"}
	d.entries[4] = &directoryEntry{inode: 11, valid: true, fileType: kindDirectory, filename: strings.Repeat("n", maxNameLength)}
	return d
}

func TestDirectoryBlockFromBytes(t *testing.T) {
	expected := testDirectoryBlock()
	b := make([]byte, testBlockSize)
	require.NoError(t, expected.MarshalTFS(b))

	d := &directoryBlock{}
	if err := d.UnmarshalTFS(b); err != nil {
		t.Fatalf("Failed to parse directory block: %v", err)
	}
	deep.CompareUnexportedFields = true
	if diff := deep.Equal(expected, d); diff != nil {
		t.Errorf("UnmarshalTFS() = %v", diff)
	}
	assert.Equal(t, 4, d.validCount())
	assert.Equal(t, 3, d.firstFree())
	assert.Equal(t, entriesPerBlock(testBlockSize)*dirEntryLength, d.Size())
}

func TestDirectoryEntryMarshalClearsName(t *testing.T) {
	b := make([]byte, dirEntryLength)
	long := &directoryEntry{inode: 1, valid: true, fileType: kindFile, filename: "a-rather-long-name"}
	require.NoError(t, long.MarshalTFS(b))
	short := &directoryEntry{inode: 2, valid: true, fileType: kindFile, filename: "b"}
	require.NoError(t, short.MarshalTFS(b))

	assert.Equal(t, make([]byte, dirEntryLength-dirEntryHeaderLength-1), b[dirEntryHeaderLength+1:])
	de := &directoryEntry{}
	require.NoError(t, de.UnmarshalTFS(b))
	assert.True(t, short.equal(de))
}

func TestDirectoryEntryErrors(t *testing.T) {
	de := &directoryEntry{filename: strings.Repeat("x", maxNameLength+1)}
	assert.Error(t, de.MarshalTFS(make([]byte, dirEntryLength)), "name too long")
	assert.Error(t, (&directoryEntry{}).MarshalTFS(make([]byte, 10)), "short buffer")

	// a name length field larger than the record
	b := make([]byte, dirEntryLength)
	b[6] = 0xff
	assert.Error(t, de.UnmarshalTFS(b))
	assert.Error(t, de.UnmarshalTFS(b[:4]))
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"a", "hello.txt", "..hidden", "with space", strings.Repeat("z", maxNameLength)} {
		assert.NoError(t, validateName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b", "nul\x00", strings.Repeat("z", maxNameLength+1)} {
		assert.True(t, errors.Is(validateName(name), ErrInvalidName), "%q", name)
	}
}
