package tfs

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotwutingfeng/asciiset"
)

const (
	dirEntryLength       int = 128
	dirEntryHeaderLength int = 0x8
	maxNameLength        int = dirEntryLength - dirEntryHeaderLength
)

// bytes that may never appear in a file name
var forbiddenNameChars, _ = asciiset.MakeASCIISet("/\x00")

var (
	_ marshaler   = (*directoryEntry)(nil)
	_ unmarshaler = (*directoryEntry)(nil)
	_ marshaler   = (*directoryBlock)(nil)
	_ unmarshaler = (*directoryBlock)(nil)
)

// directoryEntry is a single fixed-size record inside a directory data block
type directoryEntry struct {
	inode    uint32
	valid    bool
	fileType fileKind
	filename string
}

func (de *directoryEntry) equal(other *directoryEntry) bool {
	return de.inode == other.inode && de.valid == other.valid && de.filename == other.filename && de.fileType == other.fileType
}

func (de *directoryEntry) Size() int {
	return dirEntryLength
}

func (de *directoryEntry) UnmarshalTFS(b []byte) (err error) {
	var (
		offset  int
		valid   uint8
		kind    uint8
		nameLen uint16
	)
	if offset, err = toUint32(b, 0x0, &de.inode); err != nil {
		return fmt.Errorf("failed to deserialize inode: %w", err)
	}
	if offset, err = toUint8(b, offset, &valid); err != nil {
		return fmt.Errorf("failed to deserialize valid flag: %w", err)
	}
	if offset, err = toUint8(b, offset, &kind); err != nil {
		return fmt.Errorf("failed to deserialize file type: %w", err)
	}
	if offset, err = toUint16(b, offset, &nameLen); err != nil {
		return fmt.Errorf("failed to deserialize file name length: %w", err)
	}
	if int(nameLen) > maxNameLength {
		return fmt.Errorf("file name length %d exceeds maximum of %d", nameLen, maxNameLength)
	}
	if _, err = toString(b, offset, int(nameLen), &de.filename); err != nil {
		return fmt.Errorf("failed to deserialize file name: %w", err)
	}
	de.valid = valid == 1
	de.fileType = fileKind(kind)
	return nil
}

func (de *directoryEntry) MarshalTFS(b []byte) error {
	if len(b) < dirEntryLength {
		return fmt.Errorf("directory entry of bytes of length %d is too short for the entry size %d", len(b), dirEntryLength)
	}
	if len(de.filename) > maxNameLength {
		return fmt.Errorf("file name %q is longer than %d bytes", de.filename, maxNameLength)
	}
	binary.LittleEndian.PutUint32(b[0x0:0x4], de.inode)
	b[0x4] = 0
	if de.valid {
		b[0x4] = 1
	}
	b[0x5] = byte(de.fileType)
	binary.LittleEndian.PutUint16(b[0x6:0x8], uint16(len(de.filename)))
	n := copy(b[dirEntryHeaderLength:dirEntryLength], de.filename)
	// clear whatever a previous, longer name left behind
	clear(b[dirEntryHeaderLength+n : dirEntryLength])
	return nil
}

// directoryBlock is one data block of a directory: a packed array of entries.
// Unused slots unmarshal as invalid entries.
type directoryBlock struct {
	entries []*directoryEntry
}

func entriesPerBlock(blockSize uint32) int {
	return int(blockSize) / dirEntryLength
}

func newDirectoryBlock(blockSize uint32) *directoryBlock {
	d := &directoryBlock{entries: make([]*directoryEntry, entriesPerBlock(blockSize))}
	for i := range d.entries {
		d.entries[i] = &directoryEntry{}
	}
	return d
}

func (d *directoryBlock) Size() int {
	return len(d.entries) * dirEntryLength
}

// firstFree returns the lowest slot not holding a valid entry, or -1
func (d *directoryBlock) firstFree() int {
	for i, e := range d.entries {
		if !e.valid {
			return i
		}
	}
	return -1
}

func (d *directoryBlock) validCount() int {
	var count int
	for _, e := range d.entries {
		if e.valid {
			count++
		}
	}
	return count
}

func (d *directoryBlock) MarshalTFS(b []byte) error {
	if len(b) < d.Size() {
		return fmt.Errorf("directory block of %d bytes cannot hold %d entries", len(b), len(d.entries))
	}
	for i, de := range d.entries {
		offset := i * dirEntryLength
		if err := de.MarshalTFS(b[offset : offset+dirEntryLength]); err != nil {
			return fmt.Errorf("failed to marshal directory entry %d: %w", i, err)
		}
	}
	return nil
}

func (d *directoryBlock) UnmarshalTFS(b []byte) error {
	count := len(b) / dirEntryLength
	d.entries = make([]*directoryEntry, 0, count)
	for i := 0; i < count; i++ {
		offset := i * dirEntryLength
		entry := &directoryEntry{}
		if err := entry.UnmarshalTFS(b[offset : offset+dirEntryLength]); err != nil {
			return fmt.Errorf("failed to parse directory entry %d: %w", i, err)
		}
		d.entries = append(d.entries, entry)
	}
	return nil
}

// validateName checks a name is storable in a directory entry. . and .. are
// reserved for the entries every directory starts with.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, maxNameLength)
	}
	for i := 0; i < len(name); i++ {
		if forbiddenNameChars.Contains(name[i]) {
			return fmt.Errorf("%w: %q contains forbidden byte 0x%02x", ErrInvalidName, name, name[i])
		}
	}
	return nil
}
