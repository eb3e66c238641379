package tfs

import (
	"os"
	"time"
)

// FileInfo represents the information for an individual file
// it fulfills os.FileInfo interface
type FileInfo struct {
	modTime time.Time
	mode    os.FileMode
	name    string
	size    int64
	isDir   bool
	attr    *Attributes
}

// Attributes is the inode metadata behind a FileInfo, returned by Sys()
type Attributes struct {
	Inode      uint32
	Links      uint16
	UID        uint32
	GID        uint32
	Blocks     int
	AccessTime time.Time
	ChangeTime time.Time
}

func newFileInfo(name string, in *inode) *FileInfo {
	info := &FileInfo{
		modTime: in.modifyTime,
		mode:    in.mode.Perm(),
		name:    name,
		size:    int64(in.size),
		isDir:   in.isDir(),
		attr: &Attributes{
			Inode:      in.number,
			Links:      in.linkCount,
			UID:        in.uid,
			GID:        in.gid,
			Blocks:     in.blockCount(),
			AccessTime: in.accessTime,
			ChangeTime: in.changeTime,
		},
	}
	if info.isDir {
		info.mode |= os.ModeDir
	}
	return info
}

// IsDir abbreviation for Mode().IsDir()
func (fi *FileInfo) IsDir() bool {
	return fi.isDir
}

// ModTime modification time
func (fi *FileInfo) ModTime() time.Time {
	return fi.modTime
}

// Mode returns file mode
func (fi *FileInfo) Mode() os.FileMode {
	return fi.mode
}

// Name base name of the file
func (fi *FileInfo) Name() string {
	return fi.name
}

// Size length in bytes for regular files
func (fi *FileInfo) Size() int64 {
	return fi.size
}

// Sys returns the *Attributes of the underlying inode
func (fi *FileInfo) Sys() interface{} {
	return fi.attr
}
