package tfs

import (
	"errors"
	"fmt"
	"os"
)

// Errors returned by the filesystem. Callers should test for them with errors.Is,
// since they are usually wrapped with the path or inode involved.
//
// Failures of the underlying device wrap blockdev.ErrIO and are returned unchanged.
var (
	ErrNotFormatted      = errors.New("device does not hold a tfs filesystem")
	ErrOutOfInodes       = errors.New("no free inodes available")
	ErrOutOfSpace        = errors.New("no free data blocks available")
	ErrNoSuchInode       = errors.New("no such inode")
	ErrNoSuchPath        = fmt.Errorf("no such path: %w", os.ErrNotExist)
	ErrNotADirectory     = errors.New("not a directory")
	ErrAlreadyExists     = fmt.Errorf("entry already exists: %w", os.ErrExist)
	ErrNotFound          = fmt.Errorf("directory entry not found: %w", os.ErrNotExist)
	ErrDirectoryFull     = errors.New("directory has no free direct pointers")
	ErrFileTooLarge      = errors.New("file would exceed its direct block budget")
	ErrInvalidName       = errors.New("invalid file name")
	ErrInvalidParams     = errors.New("invalid filesystem parameters")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrIsDirectory       = errors.New("is a directory")
	ErrClosed            = errors.New("filesystem is closed")
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
