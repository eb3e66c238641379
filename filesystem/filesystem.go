// Package filesystem provides interfaces and constants required for filesystem implementations.
// All interesting implementations are in subpackages, e.g. github.com/tinyfs/go-tinyfs/filesystem/tfs
package filesystem

import (
	"os"
)

// FileSystem is a reference to a single filesystem on a device
type FileSystem interface {
	// Type return the type of filesystem
	Type() Type
	// Mkdir make a directory
	Mkdir(pathname string, perm os.FileMode) error
	// ReadDir read the contents of a directory
	ReadDir(pathname string) ([]os.FileInfo, error)
	// Stat return information about a single path
	Stat(pathname string) (os.FileInfo, error)
	// Remove a file
	Remove(pathname string) error
	// Label get the label for the filesystem, or "" if none. Be careful to trim it, as it may contain
	// leading or following whitespace.
	Label() string
	// Close releases the underlying device
	Close() error
}

// Type represents the type of disk this is
type Type int

const (
	// TypeTFS is a tfs filesystem
	TypeTFS Type = iota
)

func (t Type) String() string {
	switch t {
	case TypeTFS:
		return "tfs"
	default:
		return "unknown"
	}
}
