// Package blockdev provides block-addressed access to a backing store, either an
// image file, a raw block device or memory. Filesystems only ever issue whole-block
// reads and writes through the Device interface.
package blockdev

import (
	"errors"
	"fmt"
)

const (
	// DefaultBlockSize is the block size used when none is requested
	DefaultBlockSize uint32 = 4096
	// MinBlockSize is the smallest block size a device may be opened with
	MinBlockSize uint32 = 1024
	// MaxBlockSize is the largest block size a device may be opened with
	MaxBlockSize uint32 = 65536
)

// ErrIO is wrapped by every failure of the underlying storage
var ErrIO = errors.New("block device i/o error")

// Device provides access to a logical block-based disk
type Device interface {
	// ReadBlock reads a disk block by index. The returned slice is owned by the caller.
	ReadBlock(index uint32) ([]byte, error)

	// WriteBlock updates a disk block by index. b must be exactly BlockSize() bytes.
	WriteBlock(index uint32, b []byte) error

	// BlockSize reports the size of a single block in bytes
	BlockSize() uint32

	// Blocks reports how big the disk is, in blocks
	Blocks() uint32

	// Sync ensures data is persisted.
	Sync() error

	// Close releases any resources used by the device and makes it unusable.
	Close() error
}

// ValidBlockSize reports whether size is a power of two within [MinBlockSize, MaxBlockSize]
func ValidBlockSize(size uint32) bool {
	return size >= MinBlockSize && size <= MaxBlockSize && size&(size-1) == 0
}

func checkAccess(op string, index, blocks uint32, b []byte, blockSize uint32) error {
	if index >= blocks {
		return fmt.Errorf("%w: out-of-bounds %s at block %d of %d", ErrIO, op, index, blocks)
	}
	if b != nil && uint32(len(b)) != blockSize {
		return fmt.Errorf("%w: %s buffer is %d bytes, not block sized (%d)", ErrIO, op, len(b), blockSize)
	}
	return nil
}
