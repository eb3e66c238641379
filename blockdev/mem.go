package blockdev

import (
	"fmt"
	"sync"
)

var _ Device = (*MemDevice)(nil)

// MemDevice is a Device held entirely in memory
type MemDevice struct {
	l         sync.RWMutex
	blockSize uint32
	blocks    [][]byte
	closed    bool
}

// NewMemDevice returns a zeroed in-memory device
func NewMemDevice(blockSize, blocks uint32) *MemDevice {
	d := &MemDevice{
		blockSize: blockSize,
		blocks:    make([][]byte, blocks),
	}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
	}
	return d
}

func (d *MemDevice) ReadBlock(index uint32) ([]byte, error) {
	d.l.RLock()
	defer d.l.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: read on closed device", ErrIO)
	}
	if err := checkAccess("read", index, uint32(len(d.blocks)), nil, d.blockSize); err != nil {
		return nil, err
	}
	b := make([]byte, d.blockSize)
	copy(b, d.blocks[index])
	return b, nil
}

func (d *MemDevice) WriteBlock(index uint32, b []byte) error {
	d.l.Lock()
	defer d.l.Unlock()
	if d.closed {
		return fmt.Errorf("%w: write on closed device", ErrIO)
	}
	if err := checkAccess("write", index, uint32(len(d.blocks)), b, d.blockSize); err != nil {
		return err
	}
	copy(d.blocks[index], b)
	return nil
}

func (d *MemDevice) BlockSize() uint32 { return d.blockSize }

// fixed at construction, read without the lock
func (d *MemDevice) Blocks() uint32 { return uint32(len(d.blocks)) }

func (d *MemDevice) Sync() error { return nil }

func (d *MemDevice) Close() error {
	d.l.Lock()
	defer d.l.Unlock()
	d.closed = true
	return nil
}
