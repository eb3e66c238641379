//go:build !arm && !386

package snapshot

import (
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// lzmaSupported reports whether this build can read and write lzma and xz chunks
const lzmaSupported = true

func (c *CompressorLzma) compress(chunk []byte) ([]byte, error) {
	return encodeChunk("lzma", chunk, func(w io.Writer) (io.WriteCloser, error) {
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return lw, nil
	})
}

func (c *CompressorLzma) decompress(payload []byte, size int) ([]byte, error) {
	return decodeChunk("lzma", payload, size, func(r io.Reader) (io.Reader, func(), error) {
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return lr, func() {}, nil
	})
}

// xz chunks are small, two workers are plenty
func (c *CompressorXz) compress(chunk []byte) ([]byte, error) {
	return encodeChunk("xz", chunk, func(w io.Writer) (io.WriteCloser, error) {
		xw, err := xz.NewWriterConfig(w, xz.WriterConfig{
			Workers: 2,
		})
		if err != nil {
			return nil, err
		}
		return xw, nil
	})
}

func (c *CompressorXz) decompress(payload []byte, size int) ([]byte, error) {
	return decodeChunk("xz", payload, size, func(r io.Reader) (io.Reader, func(), error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	})
}
