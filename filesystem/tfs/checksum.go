package tfs

import "hash/crc32"

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// superblockChecksum is a crc32c over every superblock byte before the checksum field
func superblockChecksum(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}
