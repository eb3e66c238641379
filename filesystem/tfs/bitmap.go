package tfs

import "fmt"

// bitmap is the in-memory mirror of an on-disk allocation bitmap. Bit i lives in
// byte i/8 at position i%8; a set bit means the slot is in use.
type bitmap struct {
	bits []byte
	size int
}

func newBitmap(size int) *bitmap {
	return &bitmap{
		bits: make([]byte, (size+7)/8),
		size: size,
	}
}

// bitmapFromBytes builds a bitmap of size bits from the leading bytes of b
func bitmapFromBytes(b []byte, size int) (*bitmap, error) {
	bm := newBitmap(size)
	if len(b) < len(bm.bits) {
		return nil, fmt.Errorf("bitmap of %d bits needs %d bytes, received %d", size, len(bm.bits), len(b))
	}
	copy(bm.bits, b)
	return bm, nil
}

func (bm *bitmap) check(i int) error {
	if i < 0 || i >= bm.size {
		return fmt.Errorf("bit %d out of range for bitmap of %d bits", i, bm.size)
	}
	return nil
}

func (bm *bitmap) isSet(i int) (bool, error) {
	if err := bm.check(i); err != nil {
		return false, err
	}
	return bm.bits[i/8]&(1<<(i%8)) != 0, nil
}

func (bm *bitmap) set(i int) error {
	if err := bm.check(i); err != nil {
		return err
	}
	bm.bits[i/8] |= 1 << (i % 8)
	return nil
}

func (bm *bitmap) clear(i int) error {
	if err := bm.check(i); err != nil {
		return err
	}
	bm.bits[i/8] &^= 1 << (i % 8)
	return nil
}

// firstFree returns the lowest clear bit at or after start, or -1 if there is none
func (bm *bitmap) firstFree(start int) int {
	for i := start; i < bm.size; i++ {
		if bm.bits[i/8] == 0xff {
			// skip to the next byte
			i |= 7
			continue
		}
		if bm.bits[i/8]&(1<<(i%8)) == 0 {
			return i
		}
	}
	return -1
}

func (bm *bitmap) freeCount() int {
	var free int
	for i := 0; i < bm.size; i++ {
		if bm.bits[i/8]&(1<<(i%8)) == 0 {
			free++
		}
	}
	return free
}

// toBlock returns the bitmap padded with zeros to a whole block
func (bm *bitmap) toBlock(blockSize uint32) []byte {
	b := make([]byte, blockSize)
	copy(b, bm.bits)
	return b
}
