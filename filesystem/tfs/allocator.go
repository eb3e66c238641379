package tfs

import (
	"fmt"
)

// allocateInode takes the lowest free slot of the inode bitmap and persists the
// bitmap before returning. The returned number is the inode table slot.
func (fs *FileSystem) allocateInode() (uint32, error) {
	slot := fs.inodeBitmap.firstFree(0)
	if slot == -1 {
		return 0, ErrOutOfInodes
	}
	if err := fs.markAndPersist(fs.inodeBitmap, slot, fs.superblock.inodeBitmapBlock, true); err != nil {
		return 0, fmt.Errorf("could not allocate inode %d: %w", slot, err)
	}
	fs.log.Debugf("allocated inode %d", slot)
	return uint32(slot), nil
}

// allocateDataBlock takes the lowest free slot of the data bitmap. The returned
// index is relative to the data region; translate it with superblock.dataBlock.
func (fs *FileSystem) allocateDataBlock() (uint32, error) {
	slot := fs.dataBitmap.firstFree(0)
	if slot == -1 {
		return 0, ErrOutOfSpace
	}
	if err := fs.markAndPersist(fs.dataBitmap, slot, fs.superblock.dataBitmapBlock, true); err != nil {
		return 0, fmt.Errorf("could not allocate data block %d: %w", slot, err)
	}
	fs.log.Debugf("allocated data block %d", slot)
	return uint32(slot), nil
}

// freeInode clears the bit for ino. Freeing a free inode is a no-op.
func (fs *FileSystem) freeInode(ino uint32) error {
	if err := fs.markAndPersist(fs.inodeBitmap, int(ino), fs.superblock.inodeBitmapBlock, false); err != nil {
		return fmt.Errorf("could not free inode %d: %w", ino, err)
	}
	fs.log.Debugf("freed inode %d", ino)
	return nil
}

// freeDataBlock clears the bit for data-region index n. Freeing a free block is a no-op.
func (fs *FileSystem) freeDataBlock(n uint32) error {
	if err := fs.markAndPersist(fs.dataBitmap, int(n), fs.superblock.dataBitmapBlock, false); err != nil {
		return fmt.Errorf("could not free data block %d: %w", n, err)
	}
	fs.log.Debugf("freed data block %d", n)
	return nil
}

// markAndPersist sets or clears one bit and synchronously writes the whole bitmap
// block. When the write fails the bit is restored, so memory never diverges
// from disk.
func (fs *FileSystem) markAndPersist(bm *bitmap, slot int, block uint32, used bool) error {
	was, err := bm.isSet(slot)
	if err != nil {
		return err
	}
	if was == used {
		return nil
	}
	if used {
		err = bm.set(slot)
	} else {
		err = bm.clear(slot)
	}
	if err != nil {
		return err
	}
	if err = fs.dev.WriteBlock(block, bm.toBlock(fs.superblock.blockSize)); err != nil {
		if used {
			_ = bm.clear(slot)
		} else {
			_ = bm.set(slot)
		}
		return fmt.Errorf("could not write bitmap block %d: %w", block, err)
	}
	return nil
}

// loadBitmaps re-synchronizes the in-memory bitmaps from disk
func (fs *FileSystem) loadBitmaps() error {
	sb := fs.superblock
	b, err := fs.dev.ReadBlock(sb.inodeBitmapBlock)
	if err != nil {
		return fmt.Errorf("could not read inode bitmap: %w", err)
	}
	if fs.inodeBitmap, err = bitmapFromBytes(b, int(sb.maxInodes)); err != nil {
		return fmt.Errorf("could not interpret inode bitmap: %w", err)
	}
	if b, err = fs.dev.ReadBlock(sb.dataBitmapBlock); err != nil {
		return fmt.Errorf("could not read data bitmap: %w", err)
	}
	if fs.dataBitmap, err = bitmapFromBytes(b, int(sb.maxDataBlocks)); err != nil {
		return fmt.Errorf("could not interpret data bitmap: %w", err)
	}
	return nil
}

// freeCounts reports how many inodes and data blocks are unallocated
func (fs *FileSystem) freeCounts() (inodes, blocks int) {
	return fs.inodeBitmap.freeCount(), fs.dataBitmap.freeCount()
}
