package tfs

import (
	"fmt"
)

// readAt returns up to length bytes of in starting at offset. Reads stop at the
// file size; holes read as zeros.
func (fs *FileSystem) readAt(in *inode, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: negative offset %d or length %d", ErrInvalidParams, offset, length)
	}
	size := int64(in.size)
	if offset >= size || length == 0 {
		return []byte{}, nil
	}
	if int64(length) > size-offset {
		length = int(size - offset)
	}
	end := offset + int64(length)
	blockSize := int64(fs.superblock.blockSize)
	b := make([]byte, end-offset)

	for pos := offset; pos < end; {
		index := int(pos / blockSize)
		within := pos % blockSize
		count := min(blockSize-within, end-pos)
		if n, ok := in.pointer(index); ok {
			block, err := fs.dev.ReadBlock(fs.superblock.dataBlock(n))
			if err != nil {
				return nil, fmt.Errorf("could not read block %d of inode %d: %w", index, in.number, err)
			}
			copy(b[pos-offset:pos-offset+count], block[within:within+count])
		}
		pos += count
	}
	return b, nil
}

// writeAt writes data into in at offset, allocating whatever blocks the range
// needs. A write that would reach past the direct pointers fails before
// anything changes. Returns the number of bytes written.
func (fs *FileSystem) writeAt(in *inode, offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidParams, offset)
	}
	end := offset + int64(len(data))
	if uint64(end) > fs.superblock.maxFileSize() {
		return 0, fmt.Errorf("%w: writing %d bytes at %d to inode %d, limit is %d", ErrFileTooLarge, len(data), offset, in.number, fs.superblock.maxFileSize())
	}
	if len(data) == 0 {
		return 0, nil
	}
	blockSize := int64(fs.superblock.blockSize)
	first, last := int(offset/blockSize), int((end-1)/blockSize)

	// reserve every missing block before touching any content
	allocated := map[int]bool{}
	rollback := func() {
		for index := range allocated {
			_ = fs.freeDataBlock(in.directPointers[index])
			in.directPointers[index] = 0
		}
	}
	for index := first; index <= last; index++ {
		if _, ok := in.pointer(index); ok {
			continue
		}
		n, err := fs.allocateDataBlock()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("could not extend inode %d: %w", in.number, err)
		}
		in.directPointers[index] = n
		allocated[index] = true
	}

	for pos := offset; pos < end; {
		index := int(pos / blockSize)
		within := pos % blockSize
		count := min(blockSize-within, end-pos)
		n, _ := in.pointer(index)
		var (
			block []byte
			err   error
		)
		switch {
		case allocated[index]:
			block = make([]byte, blockSize)
		case within == 0 && count == blockSize:
			block = make([]byte, blockSize)
		default:
			if block, err = fs.dev.ReadBlock(fs.superblock.dataBlock(n)); err != nil {
				rollback()
				return 0, fmt.Errorf("could not read block %d of inode %d: %w", index, in.number, err)
			}
		}
		copy(block[within:within+count], data[pos-offset:pos-offset+count])
		if err = fs.dev.WriteBlock(fs.superblock.dataBlock(n), block); err != nil {
			rollback()
			return 0, fmt.Errorf("could not write block %d of inode %d: %w", index, in.number, err)
		}
		pos += count
	}

	if uint64(end) > in.size {
		in.size = uint64(end)
	}
	now := fs.now()
	in.modifyTime = now
	in.changeTime = now
	if err := fs.writeInode(in.number, in); err != nil {
		rollback()
		return 0, err
	}
	return len(data), nil
}

// truncate changes the size of in. Shrinking releases every block past the new
// end and zeroes the rest of the last one, so a later extension reads zeros.
func (fs *FileSystem) truncate(in *inode, size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidParams, size)
	}
	if uint64(size) > fs.superblock.maxFileSize() {
		return fmt.Errorf("%w: %d bytes for inode %d, limit is %d", ErrFileTooLarge, size, in.number, fs.superblock.maxFileSize())
	}
	blockSize := int64(fs.superblock.blockSize)
	var released []uint32
	if uint64(size) < in.size {
		keep := int(blocksRequired(uint64(size), fs.superblock.blockSize))
		for index := keep; index < len(in.directPointers); index++ {
			if n, ok := in.pointer(index); ok {
				released = append(released, n)
				in.directPointers[index] = 0
			}
		}
		if within := size % blockSize; within != 0 {
			if n, ok := in.pointer(int(size / blockSize)); ok {
				block, err := fs.dev.ReadBlock(fs.superblock.dataBlock(n))
				if err != nil {
					return fmt.Errorf("could not read last block of inode %d: %w", in.number, err)
				}
				clear(block[within:])
				if err = fs.dev.WriteBlock(fs.superblock.dataBlock(n), block); err != nil {
					return fmt.Errorf("could not write last block of inode %d: %w", in.number, err)
				}
			}
		}
	}
	in.size = uint64(size)
	now := fs.now()
	in.modifyTime = now
	in.changeTime = now
	if err := fs.writeInode(in.number, in); err != nil {
		return err
	}
	for _, n := range released {
		if err := fs.freeDataBlock(n); err != nil {
			return err
		}
	}
	return nil
}

// releaseBlocks frees every data block in references and clears its pointers
func (fs *FileSystem) releaseBlocks(in *inode) error {
	for index := range in.directPointers {
		n, ok := in.pointer(index)
		if !ok {
			continue
		}
		if err := fs.freeDataBlock(n); err != nil {
			return err
		}
		in.directPointers[index] = 0
	}
	return nil
}
