package storage

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/s2"

	"github.com/iamBelugaa/persistq/pkg/checksum"
	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
)

const (
	lengthFieldSize   = 4
	checksumFieldSize = 4
)

// Header is the fixed-size prefix written before every record payload.
type Header struct {
	Length   uint32 // Length is the number of stored payload bytes that follow the header.
	Checksum uint32 // Checksum is the CRC32 of the stored payload, zero when checksums are disabled.
}

// Codec encodes and decodes length-prefixed records.
//
// On disk a record is [length u32 LE][payload], or [length u32 LE][crc32 u32 LE][payload] when
// checksums are enabled. With s2 compression the stored payload is an s2 block and length counts
// the compressed bytes.
type Codec struct {
	checksums   bool
	compression options.Compression
	checksummer *checksum.CRC32IEEE
}

// NewCodec returns a codec for the given on-disk format.
func NewCodec(checksums bool, compression options.Compression) *Codec {
	return &Codec{checksums: checksums, compression: compression, checksummer: checksum.NewCRC32IEEE()}
}

// HeaderSize returns the number of bytes preceding each payload.
func (c *Codec) HeaderSize() int {
	if c.checksums {
		return lengthFieldSize + checksumFieldSize
	}
	return lengthFieldSize
}

// Compressed reports whether stored payloads must be decompressed before use.
func (c *Codec) Compressed() bool {
	return c.compression == options.CompressionS2
}

// Checksums reports whether records carry a CRC32.
func (c *Codec) Checksums() bool {
	return c.checksums
}

// Encode prepares data for storage and returns the encoded header and the stored payload.
// The returned payload aliases data when no compression is configured.
func (c *Codec) Encode(data []byte) ([]byte, []byte, error) {
	if uint64(len(data)) > options.MaxRecordSize {
		return nil, nil, errors.NewValidationError(
			nil, errors.ErrRecordPayloadTooLarge,
			fmt.Sprintf(
				"Record size %s exceeds maximum allowed size of %s",
				options.FormatBytes(uint64(len(data))), options.FormatBytes(options.MaxRecordSize),
			),
		).WithField("data").WithProvided(len(data)).WithExpected(options.MaxRecordSize)
	}

	stored := data
	if c.Compressed() && len(data) > 0 {
		if s2.MaxEncodedLen(len(data)) < 0 {
			return nil, nil, errors.NewValidationError(
				nil, errors.ErrRecordPayloadTooLarge, "Record too large to compress",
			).WithField("data").WithProvided(len(data))
		}

		stored = s2.Encode(nil, data)
		if uint64(len(stored)) > options.MaxRecordSize {
			return nil, nil, errors.NewValidationError(
				nil, errors.ErrRecordPayloadTooLarge, "Compressed record exceeds maximum allowed size",
			).WithField("data").WithProvided(len(stored)).WithExpected(options.MaxRecordSize)
		}
	}

	header := Header{Length: uint32(len(stored))}
	if c.checksums {
		header.Checksum = c.checksummer.Calculate(stored)
	}

	return c.EncodeHeader(header), stored, nil
}

// EncodeHeader serializes h in the codec's layout.
func (c *Codec) EncodeHeader(h Header) []byte {
	buf := make([]byte, c.HeaderSize())
	binary.LittleEndian.PutUint32(buf[:lengthFieldSize], h.Length)
	if c.checksums {
		binary.LittleEndian.PutUint32(buf[lengthFieldSize:], h.Checksum)
	}
	return buf
}

// DecodeHeader parses a header from the start of buf.
func (c *Codec) DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < c.HeaderSize() {
		return Header{}, errors.NewStorageError(
			nil, errors.ErrRecordOutOfBounds,
			fmt.Sprintf("Truncated record header: have %d bytes, need %d", len(buf), c.HeaderSize()),
		)
	}

	h := Header{Length: binary.LittleEndian.Uint32(buf[:lengthFieldSize])}
	if c.checksums {
		h.Checksum = binary.LittleEndian.Uint32(buf[lengthFieldSize:c.HeaderSize()])
	}
	return h, nil
}

// Decode verifies and decompresses a stored payload. The result aliases stored when
// no compression is configured.
func (c *Codec) Decode(h Header, stored []byte) ([]byte, error) {
	if uint32(len(stored)) != h.Length {
		return nil, errors.NewStorageError(
			nil, errors.ErrRecordOutOfBounds,
			fmt.Sprintf("Record payload is %d bytes, header says %d", len(stored), h.Length),
		)
	}

	if err := c.Verify(h, stored); err != nil {
		return nil, err
	}

	if !c.Compressed() || len(stored) == 0 {
		return stored, nil
	}

	decoded, err := s2.Decode(nil, stored)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrRecordDeserialization, "Failed to decompress record payload")
	}
	return decoded, nil
}

// Verify checks the stored payload against the header checksum. It is a no-op when
// checksums are disabled.
func (c *Codec) Verify(h Header, stored []byte) error {
	if !c.checksums {
		return nil
	}

	if !c.checksummer.Verify(stored, h.Checksum) {
		return errors.NewStorageError(
			nil, errors.ErrRecordChecksumMismatch,
			fmt.Sprintf("Record checksum mismatch: expected %#08x", h.Checksum),
		).WithDetail("expected", h.Checksum).WithDetail("actual", c.checksummer.Calculate(stored))
	}
	return nil
}

// NewReader streams an uncompressed stored payload from r. When checksums are enabled the
// returned reader fails with a checksum error at EOF if the payload does not match.
func (c *Codec) NewReader(h Header, r io.Reader) io.Reader {
	if !c.checksums {
		return r
	}
	return &verifyingReader{r: r, hash: c.checksummer.NewHash(), expected: h.Checksum}
}

type verifyingReader struct {
	r        io.Reader
	hash     hash.Hash32
	expected uint32
	err      error
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}

	n, err := v.r.Read(p)
	v.hash.Write(p[:n])

	if err == io.EOF && v.hash.Sum32() != v.expected {
		v.err = errors.NewStorageError(
			nil, errors.ErrRecordChecksumMismatch,
			fmt.Sprintf("Record checksum mismatch: expected %#08x", v.expected),
		).WithDetail("expected", v.expected).WithDetail("actual", v.hash.Sum32())
		return n, v.err
	}
	return n, err
}
