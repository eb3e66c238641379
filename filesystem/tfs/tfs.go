// Package tfs implements a tiny block-based hierarchical filesystem: one superblock,
// one bitmap block each for inodes and data blocks, a packed inode table and a data
// region. Files and directories address their content through 16 direct pointers.
package tfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tinyfs/go-tinyfs/blockdev"
	"github.com/tinyfs/go-tinyfs/filesystem"
)

type marshaler interface {
	Size() int
	MarshalTFS(b []byte) error
}

type unmarshaler interface {
	UnmarshalTFS([]byte) error
}

const (
	// DefaultMaxInodes is the inode table capacity used when Params does not set one
	DefaultMaxInodes uint32 = 1024
	// MaxNameLength is the longest name, in bytes, a directory entry can hold
	MaxNameLength = maxNameLength
	// MaxLabelLength is the longest volume label, in bytes
	MaxLabelLength = maxLabelLength
)

// Params are the options for formatting a new filesystem. Zero values select defaults.
type Params struct {
	// MaxInodes is the capacity of the inode table, root directory included
	MaxInodes uint32
	// MaxDataBlocks is the capacity of the data region. 0 means as many as fit the device.
	MaxDataBlocks uint32
	UUID          *uuid.UUID
	Label         string
	// UID and GID own the root directory
	UID    uint32
	GID    uint32
	Logger *logrus.Entry
}

// FileSystem implements the filesystem.FileSystem interface. It owns the superblock,
// the in-memory mirrors of both bitmaps and the device; every exported method holds
// a single lock for its whole duration.
type FileSystem struct {
	mu          sync.Mutex
	dev         blockdev.Device
	superblock  *superblock
	inodeBitmap *bitmap
	dataBitmap  *bitmap
	log         *logrus.Entry
	now         func() time.Time
	closed      bool
}

var _ filesystem.FileSystem = (*FileSystem)(nil)

// StatFS reports the capacity and usage of a filesystem
type StatFS struct {
	BlockSize      uint32
	Inodes         uint32
	FreeInodes     uint32
	DataBlocks     uint32
	FreeDataBlocks uint32
	MaxFileSize    uint64
	Created        time.Time
}

// DirEntry is one valid entry of a directory
type DirEntry struct {
	Name  string
	Inode uint32
	IsDir bool
}

func defaultLogger() *logrus.Entry {
	return logrus.StandardLogger().WithField("fs", "tfs")
}

// Create formats dev with a fresh tfs filesystem and returns it mounted.
//
// The layout is fixed: block 0 holds the superblock, blocks 1 and 2 the inode and
// data bitmaps, the inode table starts at block 3 and the data region follows it
// after one spare block. Inode 0 and data block 0 belong to the root directory.
//
// Create returns ErrInvalidParams when the requested capacities cannot fit on the
// device, or when either bitmap would need more than one block.
func Create(dev blockdev.Device, p *Params) (*FileSystem, error) {
	// be safe about the params pointer
	if p == nil {
		p = &Params{}
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", ErrInvalidParams)
	}
	blockSize := dev.BlockSize()
	if !blockdev.ValidBlockSize(blockSize) {
		return nil, fmt.Errorf("%w: unsupported block size %d", ErrInvalidParams, blockSize)
	}
	if len(p.Label) > maxLabelLength {
		return nil, fmt.Errorf("%w: label %q is longer than %d bytes", ErrInvalidParams, p.Label, maxLabelLength)
	}
	maxInodes := p.MaxInodes
	if maxInodes == 0 {
		maxInodes = DefaultMaxInodes
	}
	sb, err := newSuperblock(blockSize, dev.Blocks(), maxInodes, p.MaxDataBlocks)
	if err != nil {
		return nil, err
	}
	fsuuid := uuid.New()
	if p.UUID != nil {
		fsuuid = *p.UUID
	}
	sb.uuid = fsuuid
	sb.label = p.Label

	log := p.Logger
	if log == nil {
		log = defaultLogger()
	}
	fs := &FileSystem{
		dev:         dev,
		superblock:  sb,
		inodeBitmap: newBitmap(int(sb.maxInodes)),
		dataBitmap:  newBitmap(int(sb.maxDataBlocks)),
		log:         log,
		now:         time.Now,
	}
	sb.created = fs.now()
	if err := fs.format(p.UID, p.GID); err != nil {
		return nil, fmt.Errorf("could not format device: %w", err)
	}
	log.WithFields(logrus.Fields{
		"uuid":         sb.uuid.String(),
		"blockSize":    sb.blockSize,
		"inodes":       sb.maxInodes,
		"dataBlocks":   sb.maxDataBlocks,
		"dataRegion":   sb.dataRegionStart,
		"inodeBlocks":  sb.inodeTableBlocks(),
		"deviceBlocks": dev.Blocks(),
	}).Debug("formatted filesystem")
	return fs, nil
}

// format writes every metadata region and the root directory
func (fs *FileSystem) format(uid, gid uint32) error {
	sb := fs.superblock
	b, err := sb.toBytes()
	if err != nil {
		return err
	}
	if err = fs.dev.WriteBlock(superblockBlock, b); err != nil {
		return fmt.Errorf("could not write superblock: %w", err)
	}

	// root owns inode 0 and data block 0 from the start
	_ = fs.inodeBitmap.set(int(rootInode))
	_ = fs.dataBitmap.set(0)
	if err = fs.dev.WriteBlock(sb.inodeBitmapBlock, fs.inodeBitmap.toBlock(sb.blockSize)); err != nil {
		return fmt.Errorf("could not write inode bitmap: %w", err)
	}
	if err = fs.dev.WriteBlock(sb.dataBitmapBlock, fs.dataBitmap.toBlock(sb.blockSize)); err != nil {
		return fmt.Errorf("could not write data bitmap: %w", err)
	}

	// every slot of the table gets a placeholder, so stale data on the device is never read as an inode
	perBlock := sb.inodesPerBlock()
	for i := uint32(0); i < sb.inodeTableBlocks(); i++ {
		block := make([]byte, sb.blockSize)
		for slot := uint32(0); slot < perBlock; slot++ {
			ino := i*perBlock + slot
			if ino >= sb.maxInodes {
				break
			}
			offset := slot * sb.inodeSize
			copy(block[offset:offset+sb.inodeSize], placeholderInode(ino).toBytes())
		}
		if err = fs.dev.WriteBlock(sb.inodeTableStart+i, block); err != nil {
			return fmt.Errorf("could not write inode table block %d: %w", i, err)
		}
	}
	// the spare block between the table and the data region
	if err = fs.dev.WriteBlock(sb.dataRegionStart-1, make([]byte, sb.blockSize)); err != nil {
		return fmt.Errorf("could not clear reserved block: %w", err)
	}

	root := fs.newInode(rootInode, kindDirectory, 0o755, uid, gid)
	root.size = uint64(sb.blockSize)
	if err = fs.initDirectory(0, rootInode, rootInode); err != nil {
		return fmt.Errorf("could not write root directory: %w", err)
	}
	if err = fs.writeInode(rootInode, root); err != nil {
		return fmt.Errorf("could not write root inode: %w", err)
	}
	return fs.dev.Sync()
}

// Read mounts the tfs filesystem held by dev. It returns ErrNotFormatted when the
// device does not carry a valid superblock. A nil logger selects the standard logger.
func Read(dev blockdev.Device, logger *logrus.Entry) (*FileSystem, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: no device", ErrInvalidParams)
	}
	if logger == nil {
		logger = defaultLogger()
	}
	b, err := dev.ReadBlock(superblockBlock)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock: %w", err)
	}
	sb, err := superblockFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	if sb.blockSize != dev.BlockSize() {
		return nil, fmt.Errorf("filesystem block size %d does not match device block size %d", sb.blockSize, dev.BlockSize())
	}
	if sb.totalBlocks() > dev.Blocks() {
		return nil, fmt.Errorf("filesystem needs %d blocks, device only has %d", sb.totalBlocks(), dev.Blocks())
	}
	fs := &FileSystem{
		dev:        dev,
		superblock: sb,
		log:        logger,
		now:        time.Now,
	}
	// the bitmaps are whatever the device says, never assumed empty
	if err = fs.loadBitmaps(); err != nil {
		return nil, err
	}
	root, err := fs.readInode(rootInode)
	if err != nil || !root.isDir() {
		return nil, fmt.Errorf("%w: root directory is missing", ErrNotFormatted)
	}
	freeInodes, freeBlocks := fs.freeCounts()
	logger.WithFields(logrus.Fields{
		"uuid":       sb.uuid.String(),
		"label":      sb.label,
		"freeInodes": freeInodes,
		"freeBlocks": freeBlocks,
	}).Debug("mounted filesystem")
	return fs, nil
}

// Equal compare if two filesystems are equal
func (fs *FileSystem) Equal(a *FileSystem) bool {
	return fs.dev == a.dev && fs.superblock.equal(a.superblock)
}

// Type returns the type code for the filesystem. Always returns filesystem.TypeTFS
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeTFS
}

func (fs *FileSystem) lock() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Stat return os.FileInfo about a specific path. The root is named "/".
func (fs *FileSystem) Stat(p string) (os.FileInfo, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	return newFileInfo(baseName(p), in), nil
}

// List returns the valid entries of the directory at p, . and .. included, in
// on-disk order.
func (fs *FileSystem) List(p string) ([]DirEntry, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	return fs.list(p)
}

func (fs *FileSystem) list(p string) ([]DirEntry, error) {
	dir, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	if !dir.isDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, p)
	}
	entries, err := fs.entries(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", p, err)
	}
	list := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, DirEntry{
			Name:  e.filename,
			Inode: e.inode,
			IsDir: e.fileType == kindDirectory,
		})
	}
	return list, nil
}

// ReadDir return the contents of a given directory in a given filesystem.
//
// Returns a slice of os.FileInfo with all the entries in the directory except . and ..
//
// Will return an error if the directory does not exist or is a regular file and not a directory
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	entries, err := fs.list(p)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		in, err := fs.readInode(e.Inode)
		if err != nil {
			return nil, fmt.Errorf("could not read inode %d for %s: %w", e.Inode, e.Name, err)
		}
		infos = append(infos, newFileInfo(e.Name, in))
	}
	return infos, nil
}

// Mkdir makes a single directory at p. The parent must exist and p must not.
func (fs *FileSystem) Mkdir(p string, perm os.FileMode) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	_, err := fs.mkEntry(p, kindDirectory, perm)
	return err
}

// Create makes an empty regular file at p. The parent must exist and p must not.
func (fs *FileSystem) Create(p string, perm os.FileMode) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	_, err := fs.mkEntry(p, kindFile, perm)
	return err
}

// mkEntry allocates the inode for a new file or directory and links it into the
// parent. Any failure gives back what was allocated.
func (fs *FileSystem) mkEntry(p string, kind fileKind, perm os.FileMode) (*inode, error) {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return nil, err
	}
	if err = validateName(name); err != nil {
		return nil, err
	}
	if _, err = fs.find(parent, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, p)
	} else if !isNotFound(err) {
		return nil, err
	}

	ino, err := fs.allocateInode()
	if err != nil {
		return nil, fmt.Errorf("could not create %s: %w", p, err)
	}
	in := fs.newInode(ino, kind, perm, parent.uid, parent.gid)
	undo := func() {
		_ = fs.releaseBlocks(in)
		_ = fs.writeInode(ino, placeholderInode(ino))
		_ = fs.freeInode(ino)
	}

	if kind == kindDirectory {
		n, err := fs.allocateDataBlock()
		if err != nil {
			undo()
			return nil, fmt.Errorf("could not create %s: %w", p, err)
		}
		in.directPointers[0] = n
		in.size = uint64(fs.superblock.blockSize)
		if err = fs.initDirectory(n, ino, parent.number); err != nil {
			undo()
			return nil, err
		}
		// the new .. entry links back to the parent
		parent.linkCount++
	}
	if err = fs.writeInode(ino, in); err != nil {
		undo()
		return nil, err
	}
	if err = fs.addEntry(parent, ino, kind, name); err != nil {
		undo()
		return nil, fmt.Errorf("could not link %s: %w", p, err)
	}
	fs.log.Debugf("created %s %s as inode %d", kind, p, ino)
	return in, nil
}

// Remove removes the regular file at p, releasing its blocks and inode
func (fs *FileSystem) Remove(p string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	parent, name, in, err := fs.lookupChild(p)
	if err != nil {
		return err
	}
	if in.isDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	return fs.unlink(parent, name, in)
}

// Rmdir removes the empty directory at p. The root cannot be removed.
func (fs *FileSystem) Rmdir(p string) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	parent, name, in, err := fs.lookupChild(p)
	if err != nil {
		return err
	}
	if !in.isDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, p)
	}
	entries, err := fs.entries(in)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.filename != "." && e.filename != ".." {
			return fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, p)
		}
	}
	parent.linkCount--
	return fs.unlink(parent, name, in)
}

// lookupChild resolves p to its parent directory, its name there and its inode
func (fs *FileSystem) lookupChild(p string) (*inode, string, *inode, error) {
	parent, name, err := fs.resolveParent(p)
	if err != nil {
		return nil, "", nil, err
	}
	if err = validateName(name); err != nil {
		return nil, "", nil, err
	}
	entry, err := fs.find(parent, name)
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil, fmt.Errorf("%w: %s", ErrNoSuchPath, p)
		}
		return nil, "", nil, err
	}
	in, err := fs.readInode(entry.inode)
	if err != nil {
		return nil, "", nil, fmt.Errorf("could not read inode %d for %s: %w", entry.inode, p, err)
	}
	return parent, name, in, nil
}

// unlink tombstones the parent entry first, then gives back the blocks and the
// inode, so an interrupted removal leaks space instead of leaving a dangling entry
func (fs *FileSystem) unlink(parent *inode, name string, in *inode) error {
	if err := fs.removeEntry(parent, name); err != nil {
		return err
	}
	if err := fs.releaseBlocks(in); err != nil {
		return err
	}
	if err := fs.writeInode(in.number, placeholderInode(in.number)); err != nil {
		return err
	}
	if err := fs.freeInode(in.number); err != nil {
		return err
	}
	fs.log.Debugf("removed %s %s, inode %d", in.kind, name, in.number)
	return nil
}

// ReadBytes reads up to length bytes of the file at p starting at offset. Fewer
// bytes are returned when the file ends first.
func (fs *FileSystem) ReadBytes(p string, offset int64, length int) ([]byte, error) {
	if err := fs.lock(); err != nil {
		return nil, err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolveFile(p)
	if err != nil {
		return nil, err
	}
	return fs.readAt(in, offset, length)
}

// WriteBytes writes data into the file at p at offset, growing the file as needed.
// Writing past 16 blocks fails with ErrFileTooLarge and changes nothing.
func (fs *FileSystem) WriteBytes(p string, offset int64, data []byte) (int, error) {
	if err := fs.lock(); err != nil {
		return 0, err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolveFile(p)
	if err != nil {
		return 0, err
	}
	return fs.writeAt(in, offset, data)
}

// Truncate changes the size of the file at p
func (fs *FileSystem) Truncate(p string, size int64) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolveFile(p)
	if err != nil {
		return err
	}
	return fs.truncate(in, size)
}

func (fs *FileSystem) resolveFile(p string) (*inode, error) {
	in, err := fs.resolve(p)
	if err != nil {
		return nil, err
	}
	if in.isDir() {
		return nil, fmt.Errorf("%w: %s", ErrIsDirectory, p)
	}
	return in, nil
}

// Chmod changes the permission bits of p. Permissions are recorded, not enforced.
func (fs *FileSystem) Chmod(p string, mode os.FileMode) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolve(p)
	if err != nil {
		return err
	}
	in.mode = mode.Perm()
	in.changeTime = fs.now()
	return fs.writeInode(in.number, in)
}

// Chown changes the owner and group recorded for p
func (fs *FileSystem) Chown(p string, uid, gid uint32) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	in, err := fs.resolve(p)
	if err != nil {
		return err
	}
	in.uid, in.gid = uid, gid
	in.changeTime = fs.now()
	return fs.writeInode(in.number, in)
}

// Utimes sets the access and modification times of p. Times are stored with
// nanosecond precision and must fall between the years 1678 and 2262; a zero
// time.Time is kept as such.
func (fs *FileSystem) Utimes(p string, atime, mtime time.Time) error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	if !validTime(atime) || !validTime(mtime) {
		return fmt.Errorf("%w: times %s and %s cannot be stored", ErrInvalidParams, atime, mtime)
	}
	in, err := fs.resolve(p)
	if err != nil {
		return err
	}
	in.accessTime = atime
	in.modifyTime = mtime
	in.changeTime = fs.now()
	return fs.writeInode(in.number, in)
}

// Compact releases the data blocks of the directory at p that hold only removed
// entries. The first block is always kept. Returns the number of blocks released.
func (fs *FileSystem) Compact(p string) (int, error) {
	if err := fs.lock(); err != nil {
		return 0, err
	}
	defer fs.mu.Unlock()
	dir, err := fs.resolve(p)
	if err != nil {
		return 0, err
	}
	released, err := fs.compactDirectory(dir)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		fs.log.Debugf("compacted %s, released %d blocks", p, released)
	}
	return released, nil
}

// StatFS reports capacities and free counts
func (fs *FileSystem) StatFS() (StatFS, error) {
	if err := fs.lock(); err != nil {
		return StatFS{}, err
	}
	defer fs.mu.Unlock()
	sb := fs.superblock
	freeInodes, freeBlocks := fs.freeCounts()
	return StatFS{
		BlockSize:      sb.blockSize,
		Inodes:         sb.maxInodes,
		FreeInodes:     uint32(freeInodes),
		DataBlocks:     sb.maxDataBlocks,
		FreeDataBlocks: uint32(freeBlocks),
		MaxFileSize:    sb.maxFileSize(),
		Created:        sb.created,
	}, nil
}

// Label returns the volume label given at format time
func (fs *FileSystem) Label() string {
	return fs.superblock.label
}

// UUID returns the volume UUID
func (fs *FileSystem) UUID() uuid.UUID {
	return fs.superblock.uuid
}

// Close flushes and releases the device. Any later call fails with ErrClosed.
func (fs *FileSystem) Close() error {
	if err := fs.lock(); err != nil {
		return err
	}
	defer fs.mu.Unlock()
	fs.closed = true
	return errors.Join(fs.dev.Sync(), fs.dev.Close())
}

func baseName(p string) string {
	components := splitPath(p)
	if len(components) == 0 {
		return "/"
	}
	return path.Base(components[len(components)-1])
}
