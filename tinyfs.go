// Package tinyfs creates and opens tfs filesystems held in image files or on raw
// block devices.
//
// The filesystem itself lives in github.com/tinyfs/go-tinyfs/filesystem/tfs; this
// package takes care of the backing storage: sizing image files, querying block
// devices and tagging images with the volume UUID.
//
//	fs, err := tinyfs.Create("disk.img", 32*1024*1024, nil)
//	if err != nil {
//		return err
//	}
//	defer fs.Close()
//	if err := fs.Mkdir("/docs", 0o755); err != nil {
//		return err
//	}
package tinyfs

import (
	"errors"
	"fmt"
	"os"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"

	"github.com/tinyfs/go-tinyfs/blockdev"
	"github.com/tinyfs/go-tinyfs/filesystem/tfs"
)

const (
	// DefaultImageSize is the size of an image created without an explicit size
	DefaultImageSize int64 = 32 * 1024 * 1024
	// UUIDAttribute is the extended attribute holding the volume UUID of an image file
	UUIDAttribute = "user.tinyfs.uuid"
)

// geometry is what the kernel reports about a raw block device
type geometry struct {
	size           int64
	logicalSector  int
	physicalSector int
}

type openOpts struct {
	blockSize uint32
	logger    *logrus.Entry
	// create is set by WithCreateIfMissing
	create       bool
	createSize   int64
	createParams *tfs.Params
}

// OpenOpt configures Create and Open
type OpenOpt func(o *openOpts) error

// WithBlockSize sets the block size used when creating an image. Open reads the
// block size from the superblock and only falls back to this one for raw devices
// it cannot probe.
func WithBlockSize(size uint32) OpenOpt {
	return func(o *openOpts) error {
		if !blockdev.ValidBlockSize(size) {
			return fmt.Errorf("invalid block size %d, must be a power of two between %d and %d", size, blockdev.MinBlockSize, blockdev.MaxBlockSize)
		}
		o.blockSize = size
		return nil
	}
}

// WithLogger sets the logger handed to the filesystem
func WithLogger(l *logrus.Entry) OpenOpt {
	return func(o *openOpts) error {
		o.logger = l
		return nil
	}
}

// WithCreateIfMissing makes Open format a new image of size bytes with p when
// nothing exists at the path yet. An existing file is always mounted as it is,
// never reformatted.
func WithCreateIfMissing(size int64, p *tfs.Params) OpenOpt {
	return func(o *openOpts) error {
		o.create = true
		o.createSize = size
		o.createParams = p
		return nil
	}
}

func applyOpts(opts []OpenOpt) (*openOpts, error) {
	o := &openOpts{
		blockSize: blockdev.DefaultBlockSize,
		logger:    logrus.StandardLogger().WithField("fs", "tfs"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Create makes a new image file of size bytes at path and formats it. An existing
// file at path is overwritten. A size of 0 selects DefaultImageSize.
//
// The volume UUID is recorded in the UUIDAttribute extended attribute of the image
// when the host filesystem supports it.
func Create(path string, size int64, p *tfs.Params, opts ...OpenOpt) (*tfs.FileSystem, error) {
	o, err := applyOpts(opts)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("must pass device name")
	}
	if size == 0 {
		size = DefaultImageSize
	}
	if size < 0 || size%int64(o.blockSize) != 0 {
		return nil, fmt.Errorf("image size %d must be a positive multiple of the block size %d", size, o.blockSize)
	}
	blocks := size / int64(o.blockSize)
	if blocks > int64(^uint32(0)) {
		return nil, fmt.Errorf("image size %d needs more than %d blocks", size, ^uint32(0))
	}
	dev, err := blockdev.CreateImage(path, o.blockSize, uint32(blocks))
	if err != nil {
		return nil, err
	}
	params := tfs.Params{}
	if p != nil {
		params = *p
	}
	if params.Logger == nil {
		params.Logger = o.logger
	}
	fs, err := tfs.Create(dev, &params)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("could not create filesystem on %s: %w", path, err)
	}
	id := fs.UUID()
	if err := xattr.Set(path, UUIDAttribute, []byte(id.String())); err != nil {
		params.Logger.WithError(err).Warnf("could not tag %s with its volume uuid", path)
	}
	return fs, nil
}

// Open mounts the filesystem held by the image file or block device at path
func Open(path string, opts ...OpenOpt) (*tfs.FileSystem, error) {
	o, err := applyOpts(opts)
	if err != nil {
		return nil, err
	}
	if o.create && path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			o.logger.Infof("%s does not exist, creating it", path)
			return Create(path, o.createSize, o.createParams, opts...)
		}
	}
	dev, regular, err := openDevice(path, o)
	if err != nil {
		return nil, err
	}
	fs, err := tfs.Read(dev, o.logger)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("could not mount %s: %w", path, err)
	}
	if regular {
		checkUUIDTag(path, fs, o.logger)
	}
	return fs, nil
}

// OpenDevice opens the image file or block device at path for raw block access,
// with the block size of the filesystem it holds
func OpenDevice(path string, opts ...OpenOpt) (blockdev.Device, error) {
	o, err := applyOpts(opts)
	if err != nil {
		return nil, err
	}
	dev, _, err := openDevice(path, o)
	return dev, err
}

func openDevice(path string, o *openOpts) (dev blockdev.Device, regular bool, err error) {
	if path == "" {
		return nil, false, errors.New("must pass device name")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("could not get info for device %s: %w", path, err)
	}
	switch mode := info.Mode(); {
	case mode.IsRegular():
		dev, err = openImage(path, o)
		return dev, true, err
	case mode&os.ModeDevice != 0:
		dev, err = openBlockDevice(path, o)
		return dev, false, err
	default:
		return nil, false, fmt.Errorf("device %s is neither a block device nor a regular file", path)
	}
}

func openImage(path string, o *openOpts) (blockdev.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open image %s: %w", path, err)
	}
	blockSize, err := tfs.ProbeBlockSize(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("could not probe %s: %w", path, err)
	}
	o.logger.Debugf("%s is formatted with %d byte blocks", path, blockSize)
	dev, err := blockdev.OpenImage(path, blockSize)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func openBlockDevice(path string, o *openOpts) (blockdev.Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_EXCL, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s exclusively for writing: %w", path, err)
	}
	blockSize := o.blockSize
	if probed, err := tfs.ProbeBlockSize(f); err == nil {
		blockSize = probed
	}
	g, err := deviceGeometry(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not query block device %s: %w", path, err)
	}
	if g.logicalSector <= 0 || int(blockSize)%g.logicalSector != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("block size %d is not a multiple of the logical sector size %d of %s", blockSize, g.logicalSector, path)
	}
	o.logger.WithFields(logrus.Fields{
		"device":   path,
		"size":     g.size,
		"logical":  g.logicalSector,
		"physical": g.physicalSector,
	}).Debug("opened block device")
	blocks := g.size / int64(blockSize)
	if blocks > int64(^uint32(0)) {
		blocks = int64(^uint32(0))
	}
	return blockdev.NewFileDevice(f, blockSize, uint32(blocks)), nil
}

// checkUUIDTag compares the UUID recorded on the image file with the superblock.
// A missing tag is not an error: the image may have been copied by a tool that
// drops extended attributes.
func checkUUIDTag(path string, fs *tfs.FileSystem, log *logrus.Entry) {
	tag, err := xattr.Get(path, UUIDAttribute)
	if err != nil {
		log.WithError(err).Debugf("no volume uuid tag on %s", path)
		return
	}
	if id := fs.UUID(); string(tag) != id.String() {
		log.Warnf("%s is tagged with volume uuid %s but holds %s", path, tag, id)
	}
}
