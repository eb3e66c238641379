package blockdev

import (
	"fmt"
	"os"
	"time"

	"github.com/djherbis/times"
)

// ImageInfo describes an image file on the host filesystem
type ImageInfo struct {
	Path     string
	Size     int64
	Modified time.Time
	Accessed time.Time
	// Changed and Born are zero when the host filesystem does not record them
	Changed time.Time
	Born    time.Time
}

// Stat returns size and timestamps of the image file at path
func Stat(path string) (*ImageInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not stat image %s: %w", path, err)
	}
	ts, err := times.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not read timestamps of image %s: %w", path, err)
	}
	info := &ImageInfo{
		Path:     path,
		Size:     fi.Size(),
		Modified: ts.ModTime(),
		Accessed: ts.AccessTime(),
	}
	if ts.HasChangeTime() {
		info.Changed = ts.ChangeTime()
	}
	if ts.HasBirthTime() {
		info.Born = ts.BirthTime()
	}
	return info, nil
}
