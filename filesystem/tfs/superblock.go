package tfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"
)

const (
	superblockMagic   uint64 = 0x5C3A
	superblockVersion uint64 = 1

	// numeric fields are marshaled as consecutive little-endian uint64s
	superblockNumericFields  = 11
	superblockUUIDOffset     = superblockNumericFields * 8
	superblockLabelOffset    = superblockUUIDOffset + 16
	maxLabelLength           = 32
	superblockChecksumOffset = superblockLabelOffset + maxLabelLength
	superblockSize           = superblockChecksumOffset + 4

	superblockBlock      uint32 = 0
	inodeBitmapBlock     uint32 = 1
	dataBitmapBlock      uint32 = 2
	inodeTableStartBlock uint32 = 3
)

// superblock describes the region layout and capacities. It is written once at
// format time and read once at mount time.
type superblock struct {
	magic            uint64
	version          uint64
	blockSize        uint32
	maxInodes        uint32
	maxDataBlocks    uint32
	inodeBitmapBlock uint32
	dataBitmapBlock  uint32
	inodeTableStart  uint32
	dataRegionStart  uint32
	inodeSize        uint32
	created          time.Time
	uuid             uuid.UUID
	label            string
}

func (sb *superblock) equal(o *superblock) bool {
	if (sb == nil) != (o == nil) {
		return false
	}
	if sb == nil {
		return true
	}
	return sb.magic == o.magic &&
		sb.version == o.version &&
		sb.blockSize == o.blockSize &&
		sb.maxInodes == o.maxInodes &&
		sb.maxDataBlocks == o.maxDataBlocks &&
		sb.inodeBitmapBlock == o.inodeBitmapBlock &&
		sb.dataBitmapBlock == o.dataBitmapBlock &&
		sb.inodeTableStart == o.inodeTableStart &&
		sb.dataRegionStart == o.dataRegionStart &&
		sb.inodeSize == o.inodeSize &&
		sb.created.Equal(o.created) &&
		sb.uuid == o.uuid &&
		sb.label == o.label
}

// inodesPerBlock how many inode records are packed into one block of the table
func (sb *superblock) inodesPerBlock() uint32 {
	return sb.blockSize / sb.inodeSize
}

// inodeTableBlocks how many blocks the inode table occupies
func (sb *superblock) inodeTableBlocks() uint32 {
	return blocksRequired(uint64(sb.maxInodes)*uint64(sb.inodeSize), sb.blockSize)
}

// inodeLocation the absolute block and byte offset inside it holding inode ino
func (sb *superblock) inodeLocation(ino uint32) (block uint32, offset uint32) {
	perBlock := sb.inodesPerBlock()
	return sb.inodeTableStart + ino/perBlock, (ino % perBlock) * sb.inodeSize
}

// dataBlock translates a data-region index into an absolute device block
func (sb *superblock) dataBlock(index uint32) uint32 {
	return sb.dataRegionStart + index
}

// totalBlocks how many device blocks the filesystem spans
func (sb *superblock) totalBlocks() uint32 {
	return sb.dataRegionStart + sb.maxDataBlocks
}

func (sb *superblock) maxFileSize() uint64 {
	return uint64(directPointers) * uint64(sb.blockSize)
}

// toBytes marshals the superblock into a full block, checksum included
func (sb *superblock) toBytes() ([]byte, error) {
	if len(sb.label) > maxLabelLength {
		return nil, fmt.Errorf("volume label %q is longer than %d bytes", sb.label, maxLabelLength)
	}
	enc := marshal.NewEnc(uint64(sb.blockSize))
	enc.PutInt(sb.magic)
	enc.PutInt(sb.version)
	enc.PutInt(uint64(sb.blockSize))
	enc.PutInt(uint64(sb.maxInodes))
	enc.PutInt(uint64(sb.maxDataBlocks))
	enc.PutInt(uint64(sb.inodeBitmapBlock))
	enc.PutInt(uint64(sb.dataBitmapBlock))
	enc.PutInt(uint64(sb.inodeTableStart))
	enc.PutInt(uint64(sb.dataRegionStart))
	enc.PutInt(uint64(sb.inodeSize))
	enc.PutInt(uint64(timeToNanos(sb.created)))
	b := enc.Finish()

	copy(b[superblockUUIDOffset:superblockLabelOffset], sb.uuid[:])
	copy(b[superblockLabelOffset:superblockChecksumOffset], sb.label)
	binary.LittleEndian.PutUint32(b[superblockChecksumOffset:superblockSize], superblockChecksum(b[:superblockChecksumOffset]))
	return b, nil
}

// superblockFromBytes parses a superblock. Any mismatch of magic or checksum is
// reported as ErrNotFormatted.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("%w: superblock needs %d bytes, received %d", ErrNotFormatted, superblockSize, len(b))
	}
	dec := marshal.NewDec(b[:superblockUUIDOffset])
	magic := dec.GetInt()
	if magic != superblockMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%x", ErrNotFormatted, magic)
	}
	if sum, calc := binary.LittleEndian.Uint32(b[superblockChecksumOffset:superblockSize]), superblockChecksum(b[:superblockChecksumOffset]); sum != calc {
		return nil, fmt.Errorf("%w: superblock checksum mismatch, stored 0x%x, calculated 0x%x", ErrNotFormatted, sum, calc)
	}
	sb := &superblock{
		magic:            magic,
		version:          dec.GetInt(),
		blockSize:        uint32(dec.GetInt()),
		maxInodes:        uint32(dec.GetInt()),
		maxDataBlocks:    uint32(dec.GetInt()),
		inodeBitmapBlock: uint32(dec.GetInt()),
		dataBitmapBlock:  uint32(dec.GetInt()),
		inodeTableStart:  uint32(dec.GetInt()),
		dataRegionStart:  uint32(dec.GetInt()),
		inodeSize:        uint32(dec.GetInt()),
		created:          timeFromNanos(int64(dec.GetInt())),
	}
	if sb.version != superblockVersion {
		return nil, fmt.Errorf("unsupported tfs version %d", sb.version)
	}
	copy(sb.uuid[:], b[superblockUUIDOffset:superblockLabelOffset])
	sb.label = string(bytes.TrimRight(b[superblockLabelOffset:superblockChecksumOffset], "\x00"))
	return sb, nil
}

// newSuperblock computes the layout for a device of deviceBlocks blocks of blockSize bytes.
// A maxDataBlocks of 0 means as many as fit on the device, capped at one bitmap block.
func newSuperblock(blockSize, deviceBlocks, maxInodes, maxDataBlocks uint32) (*superblock, error) {
	bitsPerBlock := blockSize * 8
	switch {
	case blockSize < inodeSize || blockSize%inodeSize != 0:
		return nil, fmt.Errorf("%w: block size %d cannot hold %d byte inodes", ErrInvalidParams, blockSize, inodeSize)
	case maxInodes == 0:
		return nil, fmt.Errorf("%w: need at least one inode for the root directory", ErrInvalidParams)
	case maxInodes > bitsPerBlock:
		return nil, fmt.Errorf("%w: %d inodes do not fit a %d bit inode bitmap", ErrInvalidParams, maxInodes, bitsPerBlock)
	case maxDataBlocks > bitsPerBlock:
		return nil, fmt.Errorf("%w: %d data blocks do not fit a %d bit data bitmap", ErrInvalidParams, maxDataBlocks, bitsPerBlock)
	}

	sb := &superblock{
		magic:            superblockMagic,
		version:          superblockVersion,
		blockSize:        blockSize,
		maxInodes:        maxInodes,
		inodeBitmapBlock: inodeBitmapBlock,
		dataBitmapBlock:  dataBitmapBlock,
		inodeTableStart:  inodeTableStartBlock,
		inodeSize:        inodeSize,
	}
	// one spare block separates the inode table from the data region
	sb.dataRegionStart = sb.inodeTableStart + sb.inodeTableBlocks() + 1
	if deviceBlocks <= sb.dataRegionStart {
		return nil, fmt.Errorf("%w: device of %d blocks has no room for data after %d metadata blocks", ErrInvalidParams, deviceBlocks, sb.dataRegionStart)
	}
	available := deviceBlocks - sb.dataRegionStart
	if maxDataBlocks == 0 {
		maxDataBlocks = min(available, bitsPerBlock)
	}
	if maxDataBlocks > available {
		return nil, fmt.Errorf("%w: requested %d data blocks, device only has room for %d", ErrInvalidParams, maxDataBlocks, available)
	}
	sb.maxDataBlocks = maxDataBlocks
	return sb, nil
}

func blocksRequired(sizeInBytes uint64, bytesPerBlock uint32) uint32 {
	blocks := sizeInBytes / uint64(bytesPerBlock)
	if sizeInBytes%uint64(bytesPerBlock) > 0 {
		return uint32(blocks + 1)
	}
	return uint32(blocks)
}

// ProbeBlockSize reads the superblock at the start of r and returns the block size
// the filesystem was formatted with. It returns ErrNotFormatted when r does not
// start with a valid superblock.
func ProbeBlockSize(r io.ReaderAt) (uint32, error) {
	b := make([]byte, superblockSize)
	if _, err := r.ReadAt(b, 0); err != nil {
		return 0, fmt.Errorf("%w: could not read superblock: %v", ErrNotFormatted, err)
	}
	sb, err := superblockFromBytes(b)
	if err != nil {
		return 0, err
	}
	return sb.blockSize, nil
}
