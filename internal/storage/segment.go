package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/seginfo"
)

// Segment is one append-only file of a queue.
//
// Writes go through a buffered writer. size counts every appended byte, flushed counts the
// bytes handed to the OS (and therefore readable through other descriptors), synced counts
// the bytes known to be on stable storage.
type Segment struct {
	seq    uint64
	path   string
	name   string
	sealed bool
	size   int64
	synced int64
	file   *os.File
	writer *bufio.Writer
	log    *zap.SugaredLogger

	// Set once an append fails part way. The writer may hold a partial record, so the
	// segment refuses further writes and reports only the bytes flushed before the failure.
	failed        error
	failedFlushed int64
}

// CreateSegment creates a new, empty segment file. It fails if the file already exists.
func CreateSegment(dir, prefix string, seq uint64, bufferSize int, log *zap.SugaredLogger) (*Segment, error) {
	name := seginfo.GenerateName(seq, prefix)
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		se := errors.ClassifyFileOpenError(err, path, name).WithSegmentID(seq)
		if se.Code() == errors.ErrSegmentOpenFailed {
			se.WithCode(errors.ErrSegmentCreateFailed)
		}
		return nil, se
	}

	log.Infow("Segment created", "segmentID", seq, "path", path)
	return &Segment{
		seq:    seq,
		path:   path,
		name:   name,
		file:   file,
		writer: bufio.NewWriterSize(file, bufferSize),
		log:    log,
	}, nil
}

// OpenSegment reopens an existing segment whose persisted size is size.
//
// A sealed segment must be exactly size bytes long and is opened without a write handle.
// The tail segment may be longer than size when writes after the last metadata sync reached
// the disk; those bytes are truncated so that the file matches the persisted tail.
func OpenSegment(
	dir, prefix string, seq uint64, size int64, sealed bool, bufferSize int, log *zap.SugaredLogger,
) (*Segment, error) {
	name := seginfo.GenerateName(seq, prefix)
	path := filepath.Join(dir, name)

	seg := &Segment{seq: seq, path: path, name: name, size: size, synced: size, sealed: sealed, log: log}

	if sealed {
		stat, err := os.Stat(path)
		if err != nil {
			return nil, errors.ClassifyFileOpenError(err, path, name).WithSegmentID(seq)
		}

		if stat.Size() != size {
			return nil, errors.NewStorageError(
				nil, errors.ErrSegmentSizeMismatch,
				fmt.Sprintf("Sealed segment %s is %d bytes, metadata records %d", name, stat.Size(), size),
			).WithSegmentID(seq).WithPath(path).WithFileName(name).WithOffset(size)
		}
		return seg, nil
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, path, name).WithSegmentID(seq)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to stat tail segment").
			WithSegmentID(seq).WithPath(path)
	}

	switch {
	case stat.Size() < size:
		file.Close()
		return nil, errors.NewStorageError(
			nil, errors.ErrSegmentSizeMismatch,
			fmt.Sprintf("Tail segment %s is %d bytes, shorter than persisted tail offset %d", name, stat.Size(), size),
		).WithSegmentID(seq).WithPath(path).WithFileName(name).WithOffset(size)

	case stat.Size() > size:
		log.Warnw(
			"Truncating tail segment to persisted tail offset",
			"segmentID", seq, "fileSize", stat.Size(), "tailOffset", size,
		)

		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, errors.ClassifyWriteError(err, errors.ErrIOWriteFailed, "Failed to truncate tail segment").
				WithSegmentID(seq).WithPath(path).WithOffset(size)
		}

		if err := file.Sync(); err != nil {
			file.Close()
			return nil, errors.ClassifyWriteError(err, errors.ErrIOSyncFailed, "Failed to sync truncated tail segment").
				WithSegmentID(seq).WithPath(path)
		}
	}

	seg.file = file
	seg.writer = bufio.NewWriterSize(file, bufferSize)
	return seg, nil
}

func (s *Segment) Seq() uint64  { return s.seq }
func (s *Segment) Path() string { return s.path }
func (s *Segment) Size() int64  { return s.size }
func (s *Segment) Sealed() bool { return s.sealed }

// Flushed returns the offset up to which data is visible to readers of the file.
func (s *Segment) Flushed() int64 {
	switch {
	case s.failed != nil:
		return s.failedFlushed
	case s.writer == nil:
		return s.size
	}
	return s.size - int64(s.writer.Buffered())
}

// Buffered returns the number of appended bytes not yet handed to the OS.
func (s *Segment) Buffered() int {
	if s.writer == nil && s.failed == nil {
		return 0
	}
	return int(s.size - s.Flushed())
}

// Failed returns the error that made the segment unwritable, or nil.
func (s *Segment) Failed() error {
	return s.failed
}

// Dirty reports whether the segment holds bytes that are not yet on stable storage.
func (s *Segment) Dirty() bool {
	return s.synced < s.size
}

// Append writes one encoded record and returns the offset it starts at.
func (s *Segment) Append(header, payload []byte) (int64, error) {
	if s.sealed || s.writer == nil {
		return 0, errors.NewSegmentError(
			nil, errors.ErrSegmentSealed, fmt.Sprintf("Cannot append to sealed segment %s", s.name), s.seq, s.path,
		)
	}

	if s.failed != nil {
		return 0, s.unwritableError()
	}

	offset := s.size
	flushed := s.Flushed()

	if _, err := s.writer.Write(header); err != nil {
		s.poison(err, flushed)
		return 0, errors.ClassifyWriteError(err, errors.ErrRecordHeaderWriteFailed, "Failed to write record header").
			WithSegmentID(s.seq).WithFileName(s.name).WithOffset(offset)
	}

	if _, err := s.writer.Write(payload); err != nil {
		s.poison(err, flushed)
		return 0, errors.ClassifyWriteError(err, errors.ErrRecordPayloadWriteFailed, "Failed to write record payload").
			WithSegmentID(s.seq).WithFileName(s.name).WithOffset(offset).WithDetail("payloadLength", len(payload))
	}

	s.size += int64(len(header) + len(payload))
	return offset, nil
}

// poison marks the segment unwritable after a failed append. flushed is the visible offset
// from before the append started.
func (s *Segment) poison(err error, flushed int64) {
	s.failed = err
	s.failedFlushed = flushed

	s.log.Errorw(
		"Segment unwritable after failed append, refusing further writes",
		"segmentID", s.seq, "flushed", flushed, "size", s.size, "error", err,
	)
}

func (s *Segment) unwritableError() *errors.StorageError {
	return errors.NewSegmentError(
		s.failed, errors.ErrSegmentUnwritable,
		fmt.Sprintf("Segment %s is unwritable after a failed append", s.name), s.seq, s.path,
	).WithOffset(s.failedFlushed)
}

// Flush hands buffered bytes to the OS without forcing them to disk.
func (s *Segment) Flush() error {
	if s.failed != nil {
		return s.unwritableError()
	}

	if s.writer == nil || s.writer.Buffered() == 0 {
		return nil
	}

	if err := s.writer.Flush(); err != nil {
		return errors.ClassifyWriteError(err, errors.ErrIOWriteFailed, "Failed to flush segment buffer").
			WithSegmentID(s.seq).WithFileName(s.name).WithOffset(s.size)
	}
	return nil
}

// Sync flushes and fsyncs the segment. A sealed segment releases its write handle once synced.
func (s *Segment) Sync() error {
	if err := s.Flush(); err != nil {
		return err
	}

	if s.file != nil && s.Dirty() {
		if err := s.file.Sync(); err != nil {
			return errors.ClassifyWriteError(err, errors.ErrIOSyncFailed, "Failed to sync segment").
				WithSegmentID(s.seq).WithFileName(s.name)
		}
		s.synced = s.size
	}

	if s.sealed {
		return s.closeWriter()
	}
	return nil
}

// Seal flushes the segment and marks it closed for appends. The write handle stays open
// until the next Sync so the sealed bytes can still be made durable.
func (s *Segment) Seal() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.sealed = true
	s.log.Infow("Segment sealed", "segmentID", s.seq, "size", s.size)
	return nil
}

// Close flushes buffered bytes and releases the write handle. It does not fsync.
func (s *Segment) Close() error {
	if err := s.Flush(); err != nil {
		s.closeWriter()
		return err
	}
	return s.closeWriter()
}

// Remove releases the write handle, if any, and deletes the file.
func (s *Segment) Remove() error {
	closeErr := s.closeWriter()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.NewSegmentError(
			err, errors.ErrIODeleteFailed, fmt.Sprintf("Failed to delete segment %s", s.name), s.seq, s.path,
		)
	}

	s.log.Infow("Segment removed", "segmentID", s.seq, "path", s.path)
	return closeErr
}

func (s *Segment) closeWriter() error {
	if s.file == nil {
		return nil
	}

	file := s.file
	s.file = nil
	s.writer = nil

	if err := file.Close(); err != nil {
		return errors.NewSegmentError(err, errors.ErrIOCloseFailed, "Failed to close segment file", s.seq, s.path)
	}
	return nil
}
