package tfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

const (
	inodeSize uint32 = 256
	rootInode uint32 = 0

	// directPointers is the number of data blocks an inode can reference
	directPointers = 16

	inodeValidOffset    = 0x04
	inodeKindOffset     = 0x05
	inodeLinksOffset    = 0x06
	inodeSizeOffset     = 0x08
	inodeModeOffset     = 0x10
	inodeUIDOffset      = 0x14
	inodeGIDOffset      = 0x18
	inodeAtimeOffset    = 0x20
	inodeMtimeOffset    = 0x28
	inodeCtimeOffset    = 0x30
	inodePointersOffset = 0x38
)

// fileKind is the type of object an inode describes
type fileKind uint8

const (
	kindUnknown   fileKind = 0x0
	kindFile      fileKind = 0x1
	kindDirectory fileKind = 0x2
)

func (k fileKind) String() string {
	switch k {
	case kindFile:
		return "file"
	case kindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// inode is a transient copy of one record of the inode table
type inode struct {
	number         uint32
	valid          bool
	kind           fileKind
	linkCount      uint16
	size           uint64
	mode           os.FileMode
	uid            uint32
	gid            uint32
	accessTime     time.Time
	modifyTime     time.Time
	changeTime     time.Time
	directPointers [directPointers]uint32
}

func (in *inode) isDir() bool {
	return in.kind == kindDirectory
}

// pointer returns the data-region index held by direct pointer slot i, and whether
// the slot is in use. 0 means unused, except in slot 0 of the root directory,
// which always references data block 0.
func (in *inode) pointer(i int) (uint32, bool) {
	p := in.directPointers[i]
	if p != 0 {
		return p, true
	}
	if in.number == rootInode && i == 0 && in.valid && in.isDir() {
		return 0, true
	}
	return 0, false
}

// blockCount how many direct pointers are in use
func (in *inode) blockCount() int {
	var count int
	for i := range in.directPointers {
		if _, ok := in.pointer(i); ok {
			count++
		}
	}
	return count
}

func (in *inode) toBytes() []byte {
	b := make([]byte, inodeSize)
	binary.LittleEndian.PutUint32(b[0x0:inodeValidOffset], in.number)
	if in.valid {
		b[inodeValidOffset] = 1
	}
	b[inodeKindOffset] = byte(in.kind)
	binary.LittleEndian.PutUint16(b[inodeLinksOffset:inodeSizeOffset], in.linkCount)
	binary.LittleEndian.PutUint64(b[inodeSizeOffset:inodeModeOffset], in.size)
	binary.LittleEndian.PutUint32(b[inodeModeOffset:inodeUIDOffset], uint32(in.mode.Perm()))
	binary.LittleEndian.PutUint32(b[inodeUIDOffset:inodeGIDOffset], in.uid)
	binary.LittleEndian.PutUint32(b[inodeGIDOffset:inodeGIDOffset+4], in.gid)
	binary.LittleEndian.PutUint64(b[inodeAtimeOffset:inodeMtimeOffset], uint64(timeToNanos(in.accessTime)))
	binary.LittleEndian.PutUint64(b[inodeMtimeOffset:inodeCtimeOffset], uint64(timeToNanos(in.modifyTime)))
	binary.LittleEndian.PutUint64(b[inodeCtimeOffset:inodePointersOffset], uint64(timeToNanos(in.changeTime)))
	for i, p := range in.directPointers {
		offset := inodePointersOffset + 4*i
		binary.LittleEndian.PutUint32(b[offset:offset+4], p)
	}
	return b
}

func inodeFromBytes(b []byte) (*inode, error) {
	var (
		in     inode
		offset int
		err    error
		valid  uint8
		kind   uint8
		mode   uint32
	)
	if offset, err = toUint32(b, 0x0, &in.number); err != nil {
		return nil, fmt.Errorf("failed to deserialize inode number: %w", err)
	}
	if offset, err = toUint8(b, offset, &valid); err != nil {
		return nil, fmt.Errorf("failed to deserialize valid flag: %w", err)
	}
	if offset, err = toUint8(b, offset, &kind); err != nil {
		return nil, fmt.Errorf("failed to deserialize kind: %w", err)
	}
	if offset, err = toUint16(b, offset, &in.linkCount); err != nil {
		return nil, fmt.Errorf("failed to deserialize link count: %w", err)
	}
	if offset, err = toUint64(b, offset, &in.size); err != nil {
		return nil, fmt.Errorf("failed to deserialize size: %w", err)
	}
	if offset, err = toUint32(b, offset, &mode); err != nil {
		return nil, fmt.Errorf("failed to deserialize mode: %w", err)
	}
	if offset, err = toUint32(b, offset, &in.uid); err != nil {
		return nil, fmt.Errorf("failed to deserialize uid: %w", err)
	}
	if _, err = toUint32(b, offset, &in.gid); err != nil {
		return nil, fmt.Errorf("failed to deserialize gid: %w", err)
	}
	if offset, err = toTime(b, inodeAtimeOffset, &in.accessTime); err != nil {
		return nil, fmt.Errorf("failed to deserialize access time: %w", err)
	}
	if offset, err = toTime(b, offset, &in.modifyTime); err != nil {
		return nil, fmt.Errorf("failed to deserialize modify time: %w", err)
	}
	if offset, err = toTime(b, offset, &in.changeTime); err != nil {
		return nil, fmt.Errorf("failed to deserialize change time: %w", err)
	}
	for i := range in.directPointers {
		if offset, err = toUint32(b, offset, &in.directPointers[i]); err != nil {
			return nil, fmt.Errorf("failed to deserialize direct pointer %d: %w", i, err)
		}
	}
	in.valid = valid == 1
	in.kind = fileKind(kind)
	in.mode = os.FileMode(mode).Perm()
	return &in, nil
}

// readInode reads a single inode from the table. The inode number is its slot in
// the table, so no scan is needed.
func (fs *FileSystem) readInode(ino uint32) (*inode, error) {
	sb := fs.superblock
	if ino >= sb.maxInodes {
		return nil, fmt.Errorf("%w: %d is beyond the %d inode table", ErrNoSuchInode, ino, sb.maxInodes)
	}
	block, offset := sb.inodeLocation(ino)
	b, err := fs.dev.ReadBlock(block)
	if err != nil {
		return nil, fmt.Errorf("failed to read inode %d from block %d: %w", ino, block, err)
	}
	in, err := inodeFromBytes(b[offset : offset+sb.inodeSize])
	if err != nil {
		return nil, fmt.Errorf("could not interpret inode %d: %w", ino, err)
	}
	if !in.valid {
		return nil, fmt.Errorf("%w: %d is not in use", ErrNoSuchInode, ino)
	}
	if in.number != ino {
		return nil, fmt.Errorf("inode table slot %d holds inode %d", ino, in.number)
	}
	return in, nil
}

// writeInode writes the full record back to its slot. It is up to the caller to
// set valid correctly.
func (fs *FileSystem) writeInode(ino uint32, in *inode) error {
	sb := fs.superblock
	if ino >= sb.maxInodes {
		return fmt.Errorf("%w: %d is beyond the %d inode table", ErrNoSuchInode, ino, sb.maxInodes)
	}
	in.number = ino
	block, offset := sb.inodeLocation(ino)
	b, err := fs.dev.ReadBlock(block)
	if err != nil {
		return fmt.Errorf("failed to read inode block %d for inode %d: %w", block, ino, err)
	}
	copy(b[offset:offset+sb.inodeSize], in.toBytes())
	if err = fs.dev.WriteBlock(block, b); err != nil {
		return fmt.Errorf("failed to write inode %d to block %d: %w", ino, block, err)
	}
	return nil
}

// newInode returns a fresh, valid inode of the given kind with timestamps set to now
func (fs *FileSystem) newInode(ino uint32, kind fileKind, perm os.FileMode, uid, gid uint32) *inode {
	now := fs.now()
	in := &inode{
		number:     ino,
		valid:      true,
		kind:       kind,
		mode:       perm.Perm(),
		uid:        uid,
		gid:        gid,
		accessTime: now,
		modifyTime: now,
		changeTime: now,
	}
	switch kind {
	case kindDirectory:
		in.linkCount = 2
	default:
		in.linkCount = 1
	}
	return in
}

// placeholderInode is what every unused table slot holds after format
func placeholderInode(ino uint32) *inode {
	return &inode{
		number: ino,
		mode:   0o666,
	}
}
