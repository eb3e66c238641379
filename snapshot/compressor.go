package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type compression uint16

const (
	compressionNone compression = 0
	compressionGzip compression = 1
	compressionLzma compression = 2
	compressionXz   compression = 3
	compressionLz4  compression = 4
	compressionZstd compression = 5
)

// Compressor defines a compressor. Each chunk of a snapshot is compressed on its
// own; decompress is told the size the chunk must expand to and never produces
// more than that.
type Compressor interface {
	compress(chunk []byte) ([]byte, error)
	decompress(payload []byte, size int) ([]byte, error)
	flavour() compression
}

var errChunkSize = errors.New("chunk does not expand to its block count")

// encodeChunk runs chunk through the stream compressor newWriter makes
func encodeChunk(name string, chunk []byte, newWriter func(io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	var b bytes.Buffer
	w, err := newWriter(&b)
	if err != nil {
		return nil, fmt.Errorf("error creating %s compressor: %v", name, err)
	}
	if _, err := w.Write(chunk); err != nil {
		return nil, fmt.Errorf("error compressing with %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("error compressing with %s: %w", name, err)
	}
	return b.Bytes(), nil
}

// decodeChunk expands payload through the stream decompressor open makes, reading
// exactly size bytes. done releases the decompressor.
func decodeChunk(name string, payload []byte, size int, open func(io.Reader) (r io.Reader, done func(), err error)) ([]byte, error) {
	r, done, err := open(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating %s decompressor: %v", name, err)
	}
	defer done()
	b, err := readChunk(r, size)
	if err != nil {
		return nil, fmt.Errorf("error decompressing %s: %w", name, err)
	}
	return b, nil
}

// readChunk reads exactly size bytes from r and checks that r ends there
func readChunk(r io.Reader, size int) ([]byte, error) {
	b := make([]byte, size)
	if n, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d bytes, expected %d", errChunkSize, n, size)
		}
		return nil, err
	}
	var extra [1]byte
	switch n, err := io.ReadFull(r, extra[:]); {
	case n > 0:
		return nil, fmt.Errorf("%w: more than %d bytes", errChunkSize, size)
	case !errors.Is(err, io.EOF):
		return nil, err
	}
	return b, nil
}

// CompressorNone stores chunks as they are
type CompressorNone struct{}

func (c *CompressorNone) compress(chunk []byte) ([]byte, error) {
	return chunk, nil
}
func (c *CompressorNone) decompress(payload []byte, size int) ([]byte, error) {
	if len(payload) != size {
		return nil, fmt.Errorf("%w: stored %d bytes, expected %d", errChunkSize, len(payload), size)
	}
	return payload, nil
}
func (c *CompressorNone) flavour() compression {
	return compressionNone
}

// CompressorGzip gzip compression
type CompressorGzip struct {
	CompressionLevel int
}

func (c *CompressorGzip) compress(chunk []byte) ([]byte, error) {
	level := c.CompressionLevel
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return encodeChunk("gzip", chunk, func(w io.Writer) (io.WriteCloser, error) {
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, err
		}
		return gw, nil
	})
}
func (c *CompressorGzip) decompress(payload []byte, size int) ([]byte, error) {
	return decodeChunk("gzip", payload, size, func(r io.Reader) (io.Reader, func(), error) {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { _ = gr.Close() }, nil
	})
}
func (c *CompressorGzip) flavour() compression {
	return compressionGzip
}

// CompressorLzma lzma compression
type CompressorLzma struct{}

func (c *CompressorLzma) flavour() compression {
	return compressionLzma
}

// CompressorXz xz compression
type CompressorXz struct{}

func (c *CompressorXz) flavour() compression {
	return compressionXz
}

// CompressorLz4 lz4 compression
type CompressorLz4 struct{}

func (c *CompressorLz4) compress(chunk []byte) ([]byte, error) {
	return encodeChunk("lz4", chunk, func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
}
func (c *CompressorLz4) decompress(payload []byte, size int) ([]byte, error) {
	return decodeChunk("lz4", payload, size, func(r io.Reader) (io.Reader, func(), error) {
		return lz4.NewReader(r), func() {}, nil
	})
}
func (c *CompressorLz4) flavour() compression {
	return compressionLz4
}

// CompressorZstd zstd compression
type CompressorZstd struct{}

func (c *CompressorZstd) compress(chunk []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating zstd compressor: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(chunk, make([]byte, 0, len(chunk)/2)), nil
}
func (c *CompressorZstd) decompress(payload []byte, size int) ([]byte, error) {
	return decodeChunk("zstd", payload, size, func(r io.Reader) (io.Reader, func(), error) {
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	})
}
func (c *CompressorZstd) flavour() compression {
	return compressionZstd
}

func newCompressor(flavour compression) (Compressor, error) {
	var c Compressor
	switch flavour {
	case compressionNone:
		c = &CompressorNone{}
	case compressionGzip:
		c = &CompressorGzip{}
	case compressionLzma:
		c = &CompressorLzma{}
	case compressionXz:
		c = &CompressorXz{}
	case compressionLz4:
		c = &CompressorLz4{}
	case compressionZstd:
		c = &CompressorZstd{}
	default:
		return nil, fmt.Errorf("unknown compression type: %d", flavour)
	}
	return c, nil
}

// CompressorByName returns the compressor called name: none, gzip, lzma, xz, lz4 or zstd
func CompressorByName(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return &CompressorNone{}, nil
	case "gzip", "gz":
		return &CompressorGzip{}, nil
	case "lzma", "xz":
		if !lzmaSupported {
			return nil, fmt.Errorf("compressor %q needs a 64 bit build", name)
		}
		if strings.EqualFold(name, "xz") {
			return &CompressorXz{}, nil
		}
		return &CompressorLzma{}, nil
	case "lz4":
		return &CompressorLz4{}, nil
	case "zstd", "zst":
		return &CompressorZstd{}, nil
	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}

func (c compression) String() string {
	switch c {
	case compressionNone:
		return "none"
	case compressionGzip:
		return "gzip"
	case compressionLzma:
		return "lzma"
	case compressionXz:
		return "xz"
	case compressionLz4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}
