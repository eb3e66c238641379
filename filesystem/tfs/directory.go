package tfs

import (
	"fmt"
)

// entryLocation pins a directory entry to the pointer slot, data-region index
// and array position it was read from
type entryLocation struct {
	slot  int
	block uint32
	index int
}

// readDirectoryBlock reads and parses the directory block at data-region index n
func (fs *FileSystem) readDirectoryBlock(n uint32) (*directoryBlock, error) {
	b, err := fs.dev.ReadBlock(fs.superblock.dataBlock(n))
	if err != nil {
		return nil, fmt.Errorf("could not read directory block %d: %w", n, err)
	}
	d := &directoryBlock{}
	if err = d.UnmarshalTFS(b); err != nil {
		return nil, fmt.Errorf("could not interpret directory block %d: %w", n, err)
	}
	return d, nil
}

func (fs *FileSystem) writeDirectoryBlock(n uint32, d *directoryBlock) error {
	b := make([]byte, fs.superblock.blockSize)
	if err := d.MarshalTFS(b); err != nil {
		return fmt.Errorf("failed to marshal directory block %d: %w", n, err)
	}
	if err := fs.dev.WriteBlock(fs.superblock.dataBlock(n), b); err != nil {
		return fmt.Errorf("could not write directory block %d: %w", n, err)
	}
	return nil
}

// findEntry scans dir's blocks in pointer order for a valid entry called name
func (fs *FileSystem) findEntry(dir *inode, name string) (*directoryEntry, *directoryBlock, entryLocation, error) {
	if !dir.isDir() {
		return nil, nil, entryLocation{}, fmt.Errorf("%w: inode %d", ErrNotADirectory, dir.number)
	}
	for slot := range dir.directPointers {
		n, ok := dir.pointer(slot)
		if !ok {
			continue
		}
		d, err := fs.readDirectoryBlock(n)
		if err != nil {
			return nil, nil, entryLocation{}, err
		}
		for i, e := range d.entries {
			if e.valid && e.filename == name {
				return e, d, entryLocation{slot: slot, block: n, index: i}, nil
			}
		}
	}
	return nil, nil, entryLocation{}, fmt.Errorf("%w: %q in directory inode %d", ErrNotFound, name, dir.number)
}

// find returns the valid entry called name in dir
func (fs *FileSystem) find(dir *inode, name string) (*directoryEntry, error) {
	e, _, _, err := fs.findEntry(dir, name)
	return e, err
}

// addEntry links child into dir under name. The entry goes into the lowest free
// slot across the existing blocks; a new block is allocated only when every
// existing one is full. The directory inode is persisted.
func (fs *FileSystem) addEntry(dir *inode, child uint32, kind fileKind, name string) error {
	_, err := fs.find(dir, name)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %q in directory inode %d", ErrAlreadyExists, name, dir.number)
	case !isNotFound(err):
		return err
	}
	entry := &directoryEntry{
		inode:    child,
		valid:    true,
		fileType: kind,
		filename: name,
	}

	freePointer := -1
	for slot := range dir.directPointers {
		n, ok := dir.pointer(slot)
		if !ok {
			if freePointer == -1 {
				freePointer = slot
			}
			continue
		}
		d, err := fs.readDirectoryBlock(n)
		if err != nil {
			return err
		}
		if i := d.firstFree(); i != -1 {
			d.entries[i] = entry
			if err = fs.writeDirectoryBlock(n, d); err != nil {
				return err
			}
			return fs.touchDirectory(dir)
		}
	}

	// every existing block is full
	if freePointer == -1 {
		return fmt.Errorf("%w: cannot add %q to directory inode %d", ErrDirectoryFull, name, dir.number)
	}
	n, err := fs.allocateDataBlock()
	if err != nil {
		return fmt.Errorf("could not grow directory inode %d: %w", dir.number, err)
	}
	d := newDirectoryBlock(fs.superblock.blockSize)
	d.entries[0] = entry
	if err = fs.writeDirectoryBlock(n, d); err != nil {
		_ = fs.freeDataBlock(n)
		return err
	}
	dir.directPointers[freePointer] = n
	dir.size = uint64(dir.blockCount()) * uint64(fs.superblock.blockSize)
	if err = fs.touchDirectory(dir); err != nil {
		dir.directPointers[freePointer] = 0
		_ = fs.freeDataBlock(n)
		return err
	}
	return nil
}

// removeEntry tombstones the entry called name. The block stays attached to the
// directory even if it no longer holds any valid entry; see compactDirectory.
func (fs *FileSystem) removeEntry(dir *inode, name string) error {
	e, d, loc, err := fs.findEntry(dir, name)
	if err != nil {
		return err
	}
	e.valid = false
	if err = fs.writeDirectoryBlock(loc.block, d); err != nil {
		return err
	}
	return fs.touchDirectory(dir)
}

// entries lists the valid entries of dir in pointer-array then entry-array order
func (fs *FileSystem) entries(dir *inode) ([]*directoryEntry, error) {
	if !dir.isDir() {
		return nil, fmt.Errorf("%w: inode %d", ErrNotADirectory, dir.number)
	}
	var list []*directoryEntry
	for slot := range dir.directPointers {
		n, ok := dir.pointer(slot)
		if !ok {
			continue
		}
		d, err := fs.readDirectoryBlock(n)
		if err != nil {
			return nil, err
		}
		for _, e := range d.entries {
			if e.valid {
				list = append(list, e)
			}
		}
	}
	return list, nil
}

// compactDirectory gives back every block of dir, other than the first, that no
// longer holds a valid entry. Returns how many blocks were released.
func (fs *FileSystem) compactDirectory(dir *inode) (int, error) {
	if !dir.isDir() {
		return 0, fmt.Errorf("%w: inode %d", ErrNotADirectory, dir.number)
	}
	var released []uint32
	for slot := 1; slot < len(dir.directPointers); slot++ {
		n, ok := dir.pointer(slot)
		if !ok {
			continue
		}
		d, err := fs.readDirectoryBlock(n)
		if err != nil {
			return 0, err
		}
		if d.validCount() > 0 {
			continue
		}
		dir.directPointers[slot] = 0
		released = append(released, n)
	}
	if len(released) == 0 {
		return 0, nil
	}
	dir.size = uint64(dir.blockCount()) * uint64(fs.superblock.blockSize)
	// drop the pointers first, so a failure leaks blocks rather than sharing them
	if err := fs.touchDirectory(dir); err != nil {
		return 0, err
	}
	for _, n := range released {
		if err := fs.freeDataBlock(n); err != nil {
			return 0, err
		}
	}
	return len(released), nil
}

// initDirectory writes the first block of a new directory, holding . and ..
func (fs *FileSystem) initDirectory(n, self, parent uint32) error {
	d := newDirectoryBlock(fs.superblock.blockSize)
	d.entries[0] = &directoryEntry{inode: self, valid: true, fileType: kindDirectory, filename: "."}
	d.entries[1] = &directoryEntry{inode: parent, valid: true, fileType: kindDirectory, filename: ".."}
	return fs.writeDirectoryBlock(n, d)
}

// touchDirectory updates the modification times of dir and persists it
func (fs *FileSystem) touchDirectory(dir *inode) error {
	now := fs.now()
	dir.modifyTime = now
	dir.changeTime = now
	return fs.writeInode(dir.number, dir)
}
