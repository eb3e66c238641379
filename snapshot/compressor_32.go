//go:build arm || 386

package snapshot

import (
	"errors"
)

// lzmaSupported reports whether this build can read and write lzma and xz chunks.
// The xz module does not build for 32 bit targets, so snapshots written with
// either compressor can only be restored by a 64 bit build.
const lzmaSupported = false

var errNot64Bit = errors.New("lzma and xz snapshots need a 64 bit build")

func (c *CompressorLzma) compress([]byte) ([]byte, error) {
	return nil, errNot64Bit
}

func (c *CompressorLzma) decompress([]byte, int) ([]byte, error) {
	return nil, errNot64Bit
}

func (c *CompressorXz) compress([]byte) ([]byte, error) {
	return nil, errNot64Bit
}

func (c *CompressorXz) decompress([]byte, int) ([]byte, error) {
	return nil, errNot64Bit
}
