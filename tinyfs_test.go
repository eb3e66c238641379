package tinyfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyfs/go-tinyfs/filesystem/tfs"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestCreateAndOpen(t *testing.T) {
	img := filepath.Join(t.TempDir(), "disk.img")
	fs, err := Create(img, 1024*1024, &tfs.Params{MaxInodes: 64, Label: "tiny"}, WithBlockSize(2048), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Mkdir("/etc", 0o755))
	require.NoError(t, fs.Create("/etc/motd", 0o644))
	_, err = fs.WriteBytes("/etc/motd", 0, []byte("welcome"))
	require.NoError(t, err)
	id := fs.UUID()
	require.NoError(t, fs.Close())

	info, err := os.Stat(img)
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), info.Size())
	if tag, err := xattr.Get(img, UUIDAttribute); err == nil {
		assert.Equal(t, id.String(), string(tag))
	}

	fs, err = Open(img, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer fs.Close()
	assert.Equal(t, id, fs.UUID())
	assert.Equal(t, "tiny", fs.Label())
	st, err := fs.StatFS()
	require.NoError(t, err)
	assert.Equal(t, uint32(2048), st.BlockSize, "block size is read from the superblock")
	b, err := fs.ReadBytes("/etc/motd", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(b))
}

func TestOpenNotFormatted(t *testing.T) {
	img := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(img, make([]byte, 64*1024), 0o644))
	_, err := Open(img, WithLogger(quietLogger()))
	assert.True(t, errors.Is(err, tfs.ErrNotFormatted), "got %v", err)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing.img"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = Open(dir)
	assert.Error(t, err, "directories are neither images nor devices")
	_, err = Open("")
	assert.Error(t, err)
}

func TestCreateErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(filepath.Join(dir, "odd.img"), 1000, nil, WithLogger(quietLogger()))
	assert.Error(t, err, "size not a multiple of the block size")
	_, err = Create(filepath.Join(dir, "bs.img"), 0, nil, WithBlockSize(3000))
	assert.Error(t, err)
	_, err = Create(filepath.Join(dir, "small.img"), 4*4096, nil, WithLogger(quietLogger()))
	assert.True(t, errors.Is(err, tfs.ErrInvalidParams), "got %v", err)
	_, err = Create("", 0, nil)
	assert.Error(t, err)
}

func TestOpenDevice(t *testing.T) {
	img := filepath.Join(t.TempDir(), "raw.img")
	fs, err := Create(img, 256*1024, &tfs.Params{MaxInodes: 16}, WithBlockSize(1024), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	dev, err := OpenDevice(img, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, uint32(1024), dev.BlockSize())
	assert.Equal(t, uint32(256), dev.Blocks())
	b, err := dev.ReadBlock(0)
	require.NoError(t, err)
	bs, err := tfs.ProbeBlockSize(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), bs)
}

func TestOpenCreateIfMissing(t *testing.T) {
	img := filepath.Join(t.TempDir(), "auto.img")
	opt := WithCreateIfMissing(256*1024, &tfs.Params{MaxInodes: 16, Label: "auto"})

	fs, err := Open(img, opt, WithBlockSize(1024), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "auto", fs.Label())
	require.NoError(t, fs.Create("/keep", 0o644))
	id := fs.UUID()
	require.NoError(t, fs.Close())

	// the second open mounts what the first one made
	fs, err = Open(img, opt, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer fs.Close()
	assert.Equal(t, id, fs.UUID())
	_, err = fs.Stat("/keep")
	assert.NoError(t, err)

	blank := filepath.Join(t.TempDir(), "blank.img")
	require.NoError(t, os.WriteFile(blank, make([]byte, 64*1024), 0o644))
	_, err = Open(blank, opt, WithLogger(quietLogger()))
	assert.True(t, errors.Is(err, tfs.ErrNotFormatted), "existing files are never formatted, got %v", err)
}
