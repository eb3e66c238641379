// Package snapshot streams the blocks of a device into a compact, compressed image
// and restores such an image onto another device. Runs of all-zero blocks are
// recorded without payload.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tinyfs/go-tinyfs/blockdev"
)

const (
	headerSize      = 32
	headerVersion   = 1
	chunkHeaderSize = 5

	// DefaultChunkBlocks is the number of blocks Write puts in each chunk
	DefaultChunkBlocks = 64

	// maxChunkBytes caps the uncompressed size of a chunk a snapshot may declare
	maxChunkBytes = 16 * 1024 * 1024

	chunkKindZero byte = 0
	chunkKindData byte = 1
)

// maxPayload is the largest compressed payload accepted for a chunk of size
// bytes; every compressor stays well within 1/16 plus a few headers of its input.
func maxPayload(size uint32) uint32 {
	return size + size/16 + 4096
}

var magic = [8]byte{'T', 'F', 'S', 'S', 'N', 'A', 'P', 0}

// ErrBadSnapshot is returned for streams that are not snapshots or are damaged
var ErrBadSnapshot = errors.New("invalid snapshot")

// Header describes the device a snapshot was taken from
type Header struct {
	BlockSize   uint32
	Blocks      uint32
	ChunkBlocks uint32
	compression compression
}

// Compression returns the name of the compressor the snapshot was written with
func (h *Header) Compression() string {
	return h.compression.String()
}

func (h *Header) toBytes() []byte {
	b := make([]byte, headerSize)
	copy(b[0:8], magic[:])
	binary.LittleEndian.PutUint16(b[8:10], headerVersion)
	binary.LittleEndian.PutUint16(b[10:12], uint16(h.compression))
	binary.LittleEndian.PutUint32(b[12:16], h.BlockSize)
	binary.LittleEndian.PutUint32(b[16:20], h.Blocks)
	binary.LittleEndian.PutUint32(b[20:24], h.ChunkBlocks)
	binary.LittleEndian.PutUint32(b[28:32], crc32.ChecksumIEEE(b[:28]))
	return b
}

func headerFromBytes(b []byte) (*Header, error) {
	if len(b) < headerSize {
		return nil, fmt.Errorf("%w: header is %d bytes, need %d", ErrBadSnapshot, len(b), headerSize)
	}
	if !bytes.Equal(b[0:8], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}
	if sum, calc := binary.LittleEndian.Uint32(b[28:32]), crc32.ChecksumIEEE(b[:28]); sum != calc {
		return nil, fmt.Errorf("%w: header checksum mismatch, stored 0x%x, calculated 0x%x", ErrBadSnapshot, sum, calc)
	}
	if version := binary.LittleEndian.Uint16(b[8:10]); version != headerVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, version)
	}
	h := &Header{
		compression: compression(binary.LittleEndian.Uint16(b[10:12])),
		BlockSize:   binary.LittleEndian.Uint32(b[12:16]),
		Blocks:      binary.LittleEndian.Uint32(b[16:20]),
		ChunkBlocks: binary.LittleEndian.Uint32(b[20:24]),
	}
	if h.ChunkBlocks == 0 || !blockdev.ValidBlockSize(h.BlockSize) || uint64(h.ChunkBlocks)*uint64(h.BlockSize) > maxChunkBytes {
		return nil, fmt.Errorf("%w: block size %d, %d blocks per chunk", ErrBadSnapshot, h.BlockSize, h.ChunkBlocks)
	}
	return h, nil
}

// Write streams every block of dev to w, DefaultChunkBlocks blocks at a time,
// each chunk compressed with c. A nil compressor stores chunks uncompressed.
func Write(w io.Writer, dev blockdev.Device, c Compressor) error {
	if c == nil {
		c = &CompressorNone{}
	}
	h := &Header{
		BlockSize:   dev.BlockSize(),
		Blocks:      dev.Blocks(),
		ChunkBlocks: DefaultChunkBlocks,
		compression: c.flavour(),
	}
	if _, err := w.Write(h.toBytes()); err != nil {
		return fmt.Errorf("could not write snapshot header: %w", err)
	}
	for start := uint32(0); start < h.Blocks; start += h.ChunkBlocks {
		count := min(h.ChunkBlocks, h.Blocks-start)
		chunk := make([]byte, 0, count*h.BlockSize)
		for i := start; i < start+count; i++ {
			b, err := dev.ReadBlock(i)
			if err != nil {
				return fmt.Errorf("could not read block %d: %w", i, err)
			}
			chunk = append(chunk, b...)
		}
		if err := writeChunk(w, c, chunk); err != nil {
			return fmt.Errorf("could not write chunk at block %d: %w", start, err)
		}
	}
	return nil
}

func writeChunk(w io.Writer, c Compressor, chunk []byte) error {
	hdr := make([]byte, chunkHeaderSize)
	if isZero(chunk) {
		hdr[0] = chunkKindZero
		_, err := w.Write(hdr)
		return err
	}
	payload, err := c.compress(chunk)
	if err != nil {
		return err
	}
	if len(payload) > int(maxPayload(uint32(len(chunk)))) {
		return fmt.Errorf("%s grew a %d byte chunk to %d bytes", c.flavour(), len(chunk), len(payload))
	}
	hdr[0] = chunkKindData
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(payload)))
	if _, err = w.Write(hdr); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadHeader reads and validates the header at the start of a snapshot stream
func ReadHeader(r io.Reader) (*Header, error) {
	b := make([]byte, headerSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: could not read header: %w", ErrBadSnapshot, err)
	}
	return headerFromBytes(b)
}

// Restore writes the chunks following h in r onto dev. dev must have the same
// block size and at least as many blocks as the snapshot.
func Restore(r io.Reader, h *Header, dev blockdev.Device) error {
	if dev.BlockSize() != h.BlockSize {
		return fmt.Errorf("snapshot block size %d does not match device block size %d", h.BlockSize, dev.BlockSize())
	}
	if dev.Blocks() < h.Blocks {
		return fmt.Errorf("snapshot has %d blocks, device only %d", h.Blocks, dev.Blocks())
	}
	c, err := newCompressor(h.compression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSnapshot, err)
	}
	zero := make([]byte, h.BlockSize)
	hdr := make([]byte, chunkHeaderSize)
	for start := uint32(0); start < h.Blocks; start += h.ChunkBlocks {
		count := min(h.ChunkBlocks, h.Blocks-start)
		if _, err := io.ReadFull(r, hdr); err != nil {
			return fmt.Errorf("%w: chunk at block %d: %w", ErrBadSnapshot, start, err)
		}
		var chunk []byte
		switch hdr[0] {
		case chunkKindZero:
		case chunkKindData:
			size := count * h.BlockSize
			length := binary.LittleEndian.Uint32(hdr[1:5])
			if length > maxPayload(size) {
				return fmt.Errorf("%w: chunk at block %d claims %d bytes for %d blocks", ErrBadSnapshot, start, length, count)
			}
			payload := make([]byte, length)
			if _, err := io.ReadFull(r, payload); err != nil {
				return fmt.Errorf("%w: chunk at block %d: %w", ErrBadSnapshot, start, err)
			}
			if chunk, err = c.decompress(payload, int(size)); err != nil {
				return fmt.Errorf("%w: chunk at block %d: %w", ErrBadSnapshot, start, err)
			}
		default:
			return fmt.Errorf("%w: unknown chunk kind %d at block %d", ErrBadSnapshot, hdr[0], start)
		}
		for i := uint32(0); i < count; i++ {
			b := zero
			if chunk != nil {
				b = chunk[i*h.BlockSize : (i+1)*h.BlockSize]
			}
			if err := dev.WriteBlock(start+i, b); err != nil {
				return fmt.Errorf("could not restore block %d: %w", start+i, err)
			}
		}
	}
	return dev.Sync()
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
