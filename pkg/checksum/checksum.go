package checksum

import (
	"hash"
	"hash/crc32"
)

type CRC32IEEE struct {
	table *crc32.Table
}

func NewCRC32IEEE() *CRC32IEEE {
	return &CRC32IEEE{table: crc32.MakeTable(crc32.IEEE)}
}

func (c *CRC32IEEE) Calculate(data []byte) uint32 {
	return crc32.Checksum(data, c.table)
}

func (c *CRC32IEEE) Verify(data []byte, expected uint32) bool {
	checksum := crc32.Checksum(data, c.table)
	return checksum == expected
}

// NewHash returns an incremental hash using the same table, for payloads that are
// streamed rather than held in memory.
func (c *CRC32IEEE) NewHash() hash.Hash32 {
	return crc32.New(c.table)
}
