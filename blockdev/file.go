package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var _ Device = (*FileDevice)(nil)

// FileDevice is a Device backed by an image file or a raw block device
type FileDevice struct {
	file      *os.File
	fd        int
	blockSize uint32
	blocks    uint32
}

// CreateImage creates (or truncates) the image file at path, sized to hold
// blocks blocks of blockSize bytes, and returns it opened as a device.
func CreateImage(path string, blockSize, blocks uint32) (*FileDevice, error) {
	if !ValidBlockSize(blockSize) {
		return nil, fmt.Errorf("invalid block size %d, must be a power of two between %d and %d", blockSize, MinBlockSize, MaxBlockSize)
	}
	if blocks == 0 {
		return nil, fmt.Errorf("cannot create an image with zero blocks")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create image %s: %v", ErrIO, path, err)
	}
	if err = unix.Ftruncate(int(f.Fd()), int64(blocks)*int64(blockSize)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: could not size image %s: %v", ErrIO, path, err)
	}
	return NewFileDevice(f, blockSize, blocks), nil
}

// OpenImage opens an existing image file. The number of blocks is derived from
// the file size; a trailing partial block is ignored.
func OpenImage(path string, blockSize uint32) (*FileDevice, error) {
	if !ValidBlockSize(blockSize) {
		return nil, fmt.Errorf("invalid block size %d, must be a power of two between %d and %d", blockSize, MinBlockSize, MaxBlockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open image %s: %v", ErrIO, path, err)
	}
	var stat unix.Stat_t
	if err = unix.Fstat(int(f.Fd()), &stat); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: could not stat image %s: %v", ErrIO, path, err)
	}
	blocks := uint64(stat.Size) / uint64(blockSize)
	if blocks == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("image %s is smaller than a single %d byte block", path, blockSize)
	}
	if blocks > uint64(^uint32(0)) {
		blocks = uint64(^uint32(0))
	}
	return NewFileDevice(f, blockSize, uint32(blocks)), nil
}

// NewFileDevice wraps an already opened file or block device. The device takes
// ownership of f and closes it on Close.
func NewFileDevice(f *os.File, blockSize, blocks uint32) *FileDevice {
	return &FileDevice{
		file:      f,
		fd:        int(f.Fd()),
		blockSize: blockSize,
		blocks:    blocks,
	}
}

// Name returns the path the device was opened with
func (d *FileDevice) Name() string {
	return d.file.Name()
}

func (d *FileDevice) ReadBlock(index uint32) ([]byte, error) {
	if err := checkAccess("read", index, d.blocks, nil, d.blockSize); err != nil {
		return nil, err
	}
	b := make([]byte, d.blockSize)
	n, err := unix.Pread(d.fd, b, int64(index)*int64(d.blockSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read block %d: %v", ErrIO, index, err)
	}
	if n != len(b) {
		return nil, fmt.Errorf("%w: read %d bytes for block %d instead of %d", ErrIO, n, index, d.blockSize)
	}
	return b, nil
}

func (d *FileDevice) WriteBlock(index uint32, b []byte) error {
	if err := checkAccess("write", index, d.blocks, b, d.blockSize); err != nil {
		return err
	}
	n, err := unix.Pwrite(d.fd, b, int64(index)*int64(d.blockSize))
	if err != nil {
		return fmt.Errorf("%w: write block %d: %v", ErrIO, index, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d bytes for block %d instead of %d", ErrIO, n, index, d.blockSize)
	}
	return nil
}

func (d *FileDevice) BlockSize() uint32 { return d.blockSize }

func (d *FileDevice) Blocks() uint32 { return d.blocks }

func (d *FileDevice) Sync() error {
	// fsync only; F_FULLFSYNC on darwin is not issued
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	return nil
}
