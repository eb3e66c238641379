//go:build !linux

package tinyfs

import (
	"errors"
	"os"
)

func deviceGeometry(f *os.File) (*geometry, error) {
	return nil, errors.New("raw block devices are only supported on linux")
}
