// Package manifest persists the metadata of a queue: its format settings, the head and tail
// positions and the list of live segments.
//
// The file is the magic "PQMF", a protobuf wire-format body and a CRC32 trailer over the body.
// It is replaced atomically by writing a temporary file, syncing it and renaming it into place.
package manifest

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/iamBelugaa/persistq/pkg/checksum"
	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
)

const (
	FileName     = "queue.meta"
	TempFileName = "queue.meta.tmp"
)

var magic = [4]byte{'P', 'Q', 'M', 'F'}

const trailerSize = 4

const (
	fieldVersion         protowire.Number = 1
	fieldMaxSegmentBytes protowire.Number = 2
	fieldSyncOnWrite     protowire.Number = 3
	fieldHead            protowire.Number = 4
	fieldTail            protowire.Number = 5
	fieldSegment         protowire.Number = 6
	fieldNextSeq         protowire.Number = 7
	fieldChecksums       protowire.Number = 8
	fieldCompression     protowire.Number = 9
	fieldPrefix          protowire.Number = 10
	fieldUpdatedAt       protowire.Number = 11
	fieldCreatedAt       protowire.Number = 12
)

const (
	fieldPositionSeq    protowire.Number = 1
	fieldPositionOffset protowire.Number = 2
)

const (
	fieldSegmentSeq    protowire.Number = 1
	fieldSegmentSize   protowire.Number = 2
	fieldSegmentSealed protowire.Number = 3
)

// Position addresses a byte offset within a segment.
type Position struct {
	Seq    uint64
	Offset int64
}

// Segment describes one live segment.
type Segment struct {
	Seq    uint64
	Size   int64
	Sealed bool
}

// Manifest is the persisted state of a queue.
type Manifest struct {
	Version         uint8
	MaxSegmentBytes uint64
	SyncOnWrite     bool
	Checksums       bool
	Compression     options.Compression
	Prefix          string
	Head            Position
	Tail            Position
	NextSeq         uint64
	Segments        []Segment
	CreatedAt       int64
	UpdatedAt       int64
}

// MarshalBinary encodes the manifest in its file format.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	b := append([]byte(nil), magic[:]...)

	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Version))
	b = protowire.AppendTag(b, fieldMaxSegmentBytes, protowire.VarintType)
	b = protowire.AppendVarint(b, m.MaxSegmentBytes)
	b = protowire.AppendTag(b, fieldSyncOnWrite, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.SyncOnWrite))
	b = protowire.AppendTag(b, fieldHead, protowire.BytesType)
	b = protowire.AppendBytes(b, appendPosition(nil, m.Head))
	b = protowire.AppendTag(b, fieldTail, protowire.BytesType)
	b = protowire.AppendBytes(b, appendPosition(nil, m.Tail))

	for _, seg := range m.Segments {
		b = protowire.AppendTag(b, fieldSegment, protowire.BytesType)
		b = protowire.AppendBytes(b, appendSegment(nil, seg))
	}

	b = protowire.AppendTag(b, fieldNextSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, m.NextSeq)
	b = protowire.AppendTag(b, fieldChecksums, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.Checksums))
	b = protowire.AppendTag(b, fieldCompression, protowire.BytesType)
	b = protowire.AppendString(b, string(m.Compression))
	b = protowire.AppendTag(b, fieldPrefix, protowire.BytesType)
	b = protowire.AppendString(b, m.Prefix)
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.UpdatedAt))
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CreatedAt))

	crc := checksum.NewCRC32IEEE().Calculate(b[len(magic):])
	return binary.LittleEndian.AppendUint32(b, crc), nil
}

func appendPosition(b []byte, p Position) []byte {
	b = protowire.AppendTag(b, fieldPositionSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Seq)
	b = protowire.AppendTag(b, fieldPositionOffset, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(p.Offset))
}

func appendSegment(b []byte, s Segment) []byte {
	b = protowire.AppendTag(b, fieldSegmentSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Seq)
	b = protowire.AppendTag(b, fieldSegmentSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Size))
	b = protowire.AppendTag(b, fieldSegmentSealed, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(s.Sealed))
}

// UnmarshalBinary decodes a manifest file. Any framing, checksum or decoding failure is
// reported as corruption. Unknown fields are skipped.
func (m *Manifest) UnmarshalBinary(data []byte) error {
	if len(data) < len(magic)+trailerSize || [4]byte(data[:len(magic)]) != magic {
		return corrupt(nil, "Manifest has an invalid header")
	}

	body := data[len(magic) : len(data)-trailerSize]
	expected := binary.LittleEndian.Uint32(data[len(data)-trailerSize:])
	if !checksum.NewCRC32IEEE().Verify(body, expected) {
		return corrupt(nil, "Manifest checksum mismatch")
	}

	*m = Manifest{}
	return consumeFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldHead && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePosition(v)
			m.Head = p
			return n, err

		case num == fieldTail && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePosition(v)
			m.Tail = p
			return n, err

		case num == fieldSegment && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			s, err := decodeSegment(v)
			m.Segments = append(m.Segments, s)
			return n, err

		case (num == fieldCompression || num == fieldPrefix) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if num == fieldCompression {
				m.Compression = options.Compression(v)
			} else {
				m.Prefix = v
			}
			return n, nil

		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case fieldVersion:
				if v > uint64(options.MaxSchemaVersion) {
					return n, corrupt(nil, fmt.Sprintf("Manifest version %d out of range", v))
				}
				m.Version = uint8(v)
			case fieldMaxSegmentBytes:
				m.MaxSegmentBytes = v
			case fieldSyncOnWrite:
				m.SyncOnWrite = protowire.DecodeBool(v)
			case fieldNextSeq:
				m.NextSeq = v
			case fieldChecksums:
				m.Checksums = protowire.DecodeBool(v)
			case fieldUpdatedAt:
				m.UpdatedAt = int64(v)
			case fieldCreatedAt:
				m.CreatedAt = int64(v)
			}
			return n, nil
		}

		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func decodePosition(b []byte) (Position, error) {
	var p Position
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeVarint(b)
		switch num {
		case fieldPositionSeq:
			p.Seq = v
		case fieldPositionOffset:
			p.Offset = int64(v)
		}
		return n, nil
	})
	return p, err
}

func decodeSegment(b []byte) (Segment, error) {
	var s Segment
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeVarint(b)
		switch num {
		case fieldSegmentSeq:
			s.Seq = v
		case fieldSegmentSize:
			s.Size = int64(v)
		case fieldSegmentSealed:
			s.Sealed = protowire.DecodeBool(v)
		}
		return n, nil
	})
	return s, err
}

// consumeFields walks a wire-format message, handing each field value to fn. fn returns the
// number of bytes it consumed, or a negative protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt(protowire.ParseError(n), "Malformed manifest field tag")
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return corrupt(protowire.ParseError(n), fmt.Sprintf("Malformed manifest field %d", num))
		}
		b = b[n:]
	}
	return nil
}

// Validate checks that the manifest describes a consistent queue.
func (m *Manifest) Validate() error {
	if m.Version < options.MinSchemaVersion || m.Version > options.CurrentSchemaVersion {
		return errors.NewStorageError(
			nil, errors.ErrManifestUnsupportedVersion,
			fmt.Sprintf(
				"Manifest version %d is not supported (supported: %d-%d)",
				m.Version, options.MinSchemaVersion, options.CurrentSchemaVersion,
			),
		).WithDetail("version", m.Version)
	}

	if len(m.Segments) == 0 {
		return inconsistent("Manifest lists no segments", m.Head)
	}

	first, last := m.Segments[0], m.Segments[len(m.Segments)-1]

	if m.Head.Seq != first.Seq {
		return inconsistent(fmt.Sprintf("Head segment %d is not the oldest live segment %d", m.Head.Seq, first.Seq), m.Head)
	}

	if m.Tail.Seq != last.Seq || m.Tail.Offset != last.Size {
		return inconsistent(
			fmt.Sprintf("Tail %d:%d does not match last segment %d of size %d", m.Tail.Seq, m.Tail.Offset, last.Seq, last.Size),
			m.Tail,
		)
	}

	if m.Head.Offset < 0 || m.Head.Offset > first.Size {
		return inconsistent(
			fmt.Sprintf("Head offset %d outside segment %d of size %d", m.Head.Offset, first.Seq, first.Size), m.Head,
		)
	}

	switch m.Compression {
	case options.CompressionNone, options.CompressionS2:
	default:
		return corrupt(nil, fmt.Sprintf("Manifest names unknown compression %q", m.Compression))
	}

	if m.Prefix == "" {
		return corrupt(nil, "Manifest has no segment prefix")
	}
	return nil
}

func corrupt(err error, msg string) *errors.StorageError {
	return errors.NewStorageError(err, errors.ErrManifestCorrupt, msg).WithFileName(FileName)
}

func inconsistent(msg string, at Position) *errors.StorageError {
	return errors.NewStorageError(nil, errors.ErrQueueInconsistent, msg).
		WithFileName(FileName).
		WithSegmentID(at.Seq).
		WithOffset(at.Offset)
}
