package errors

import (
	"fmt"
	"path/filepath"
)

// StorageError reports a failure touching a file of the queue: a segment, the manifest or the
// queue directory itself.
type StorageError struct {
	*baseError
	segmentID  uint64
	hasSegment bool
	offset     int64
	fileName   string
	path       string
}

// NewStorageError creates a new storage-specific error with the provided context.
func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

// NewSegmentError creates a storage error already scoped to segment seq stored at path.
func NewSegmentError(err error, code ErrorCode, msg string, seq uint64, path string) *StorageError {
	return NewStorageError(err, code, msg).WithSegmentID(seq).WithPath(path)
}

// Error returns the message followed by the segment position when one is known.
func (se *StorageError) Error() string {
	if !se.hasSegment {
		return se.baseError.Error()
	}
	return fmt.Sprintf("%s (segment %d, offset %d)", se.baseError.Error(), se.segmentID, se.offset)
}

func (se *StorageError) WithMessage(msg string) *StorageError {
	se.baseError.WithMessage(msg)
	return se
}

func (se *StorageError) WithCode(code ErrorCode) *StorageError {
	se.baseError.WithCode(code)
	return se
}

func (se *StorageError) WithDetail(key string, value any) *StorageError {
	se.baseError.WithDetail(key, value)
	return se
}

// WithSegmentID scopes the error to a segment sequence number.
func (se *StorageError) WithSegmentID(seq uint64) *StorageError {
	se.segmentID = seq
	se.hasSegment = true
	return se
}

// WithOffset records the byte position within the segment.
func (se *StorageError) WithOffset(offset int64) *StorageError {
	se.offset = offset
	return se
}

func (se *StorageError) WithFileName(fileName string) *StorageError {
	se.fileName = fileName
	return se
}

// WithPath records the file involved. The file name is derived from it unless set already.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	if se.fileName == "" && path != "" {
		se.fileName = filepath.Base(path)
	}
	return se
}

// Segment returns the segment sequence number, and false when the error is not about a segment.
func (se *StorageError) Segment() (uint64, bool) {
	return se.segmentID, se.hasSegment
}

func (se *StorageError) SegmentID() uint64 {
	return se.segmentID
}

func (se *StorageError) Offset() int64 {
	return se.offset
}

func (se *StorageError) FileName() string {
	return se.fileName
}

func (se *StorageError) Path() string {
	return se.path
}
