package tfs

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tinyfs/go-tinyfs/blockdev"
)

const (
	testBlockSize     uint32 = 1024
	testMaxInodes     uint32 = 16
	testMaxDataBlocks uint32 = 64
	// superblock, two bitmaps, 4 inode table blocks and the spare block
	testDataRegionStart uint32 = 8
)

var testTime = time.Date(2024, time.March, 9, 12, 30, 0, 0, time.UTC)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// testCreate formats an in-memory device sized exactly for the requested capacities
func testCreate(t *testing.T, maxInodes, maxDataBlocks uint32) (*FileSystem, *blockdev.MemDevice) {
	t.Helper()
	tableBlocks := blocksRequired(uint64(maxInodes)*uint64(inodeSize), testBlockSize)
	dev := blockdev.NewMemDevice(testBlockSize, inodeTableStartBlock+tableBlocks+1+maxDataBlocks)
	fs, err := Create(dev, &Params{
		MaxInodes:     maxInodes,
		MaxDataBlocks: maxDataBlocks,
		Label:         "test",
		Logger:        testLogger(),
	})
	require.NoError(t, err)
	fs.now = func() time.Time { return testTime }
	return fs, dev
}

func testFileSystem(t *testing.T) (*FileSystem, *blockdev.MemDevice) {
	t.Helper()
	return testCreate(t, testMaxInodes, testMaxDataBlocks)
}

// failingDevice passes everything through to the wrapped device until failWrites
// or failReads is set
type failingDevice struct {
	blockdev.Device
	failWrites bool
	failReads  bool
}

func (d *failingDevice) ReadBlock(index uint32) ([]byte, error) {
	if d.failReads {
		return nil, fmt.Errorf("%w: injected read failure at block %d", blockdev.ErrIO, index)
	}
	return d.Device.ReadBlock(index)
}

func (d *failingDevice) WriteBlock(index uint32, b []byte) error {
	if d.failWrites {
		return fmt.Errorf("%w: injected write failure at block %d", blockdev.ErrIO, index)
	}
	return d.Device.WriteBlock(index, b)
}

// diskBitmaps reads both bitmaps straight from the device
func diskBitmaps(t *testing.T, fs *FileSystem) (inodes, blocks *bitmap) {
	t.Helper()
	b, err := fs.dev.ReadBlock(fs.superblock.inodeBitmapBlock)
	require.NoError(t, err)
	inodes, err = bitmapFromBytes(b, int(fs.superblock.maxInodes))
	require.NoError(t, err)
	b, err = fs.dev.ReadBlock(fs.superblock.dataBitmapBlock)
	require.NoError(t, err)
	blocks, err = bitmapFromBytes(b, int(fs.superblock.maxDataBlocks))
	require.NoError(t, err)
	return inodes, blocks
}

func mustResolve(t *testing.T, fs *FileSystem, p string) *inode {
	t.Helper()
	in, err := fs.resolve(p)
	require.NoError(t, err, p)
	return in
}
