package tfs

import (
	"fmt"
	"strings"
)

// splitPath breaks p into its non-empty components. Repeated and trailing
// slashes are ignored; an empty result designates the starting directory.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	components := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// resolve walks p from the root directory and returns the inode it names
func (fs *FileSystem) resolve(p string) (*inode, error) {
	root, err := fs.readInode(rootInode)
	if err != nil {
		return nil, fmt.Errorf("could not read root directory: %w", err)
	}
	return fs.resolveFrom(root, splitPath(p))
}

// resolveFrom descends from start one component at a time. Every component but
// the last must name a directory. . and .. are ordinary entries, so they are
// followed like any other name.
func (fs *FileSystem) resolveFrom(start *inode, components []string) (*inode, error) {
	current := start
	for i, name := range components {
		if !current.isDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotADirectory, strings.Join(components[:i], "/"))
		}
		entry, err := fs.find(current, name)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrNoSuchPath, strings.Join(components[:i+1], "/"))
			}
			return nil, err
		}
		next, err := fs.readInode(entry.inode)
		if err != nil {
			return nil, fmt.Errorf("could not read inode %d for %s: %w", entry.inode, name, err)
		}
		current = next
	}
	return current, nil
}

// resolveParent returns the directory that holds the last component of p, and
// that component. The root itself has no parent.
func (fs *FileSystem) resolveParent(p string) (*inode, string, error) {
	components := splitPath(p)
	if len(components) == 0 {
		return nil, "", fmt.Errorf("%w: the root directory has no parent", ErrInvalidName)
	}
	last := len(components) - 1
	root, err := fs.readInode(rootInode)
	if err != nil {
		return nil, "", fmt.Errorf("could not read root directory: %w", err)
	}
	parent, err := fs.resolveFrom(root, components[:last])
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", fmt.Errorf("%w: %s", ErrNotADirectory, strings.Join(components[:last], "/"))
	}
	return parent, components[last], nil
}
