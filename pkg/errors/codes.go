package errors

type ErrorCode string

const (
	ErrIOGeneral      ErrorCode = "IO_GENERAL"
	ErrIOReadFailed   ErrorCode = "IO_READ_FAILED"
	ErrIOSyncFailed   ErrorCode = "IO_SYNC_FAILED"
	ErrIOSeekFailed   ErrorCode = "IO_SEEK_FAILED"
	ErrIOWriteFailed  ErrorCode = "IO_WRITE_FAILED"
	ErrIOCloseFailed  ErrorCode = "IO_CLOSE_FAILED"
	ErrIODeleteFailed ErrorCode = "IO_DELETE_FAILED"
	ErrIOPermission   ErrorCode = "IO_PERMISSION"
	ErrIODiskFull     ErrorCode = "IO_DISK_FULL"

	ErrSystemInternal     ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemInvalidInput ErrorCode = "SYSTEM_INVALID_INPUT"

	ErrSegmentOpenFailed   ErrorCode = "SEGMENT_OPEN_FAILED"
	ErrSegmentCreateFailed ErrorCode = "SEGMENT_CREATE_FAILED"
	ErrSegmentMissing      ErrorCode = "SEGMENT_MISSING"
	ErrSegmentSizeMismatch ErrorCode = "SEGMENT_SIZE_MISMATCH"
	ErrSegmentSealed       ErrorCode = "SEGMENT_SEALED"
	ErrSegmentMapFailed    ErrorCode = "SEGMENT_MAP_FAILED"
	ErrSegmentUnwritable   ErrorCode = "SEGMENT_UNWRITABLE"

	ErrManifestMissing            ErrorCode = "MANIFEST_MISSING"
	ErrManifestCorrupt            ErrorCode = "MANIFEST_CORRUPT"
	ErrManifestUnsupportedVersion ErrorCode = "MANIFEST_UNSUPPORTED_VERSION"
	ErrManifestWriteFailed        ErrorCode = "MANIFEST_WRITE_FAILED"

	ErrQueueExists        ErrorCode = "QUEUE_EXISTS"
	ErrQueueNotFound      ErrorCode = "QUEUE_NOT_FOUND"
	ErrQueueClosed        ErrorCode = "QUEUE_CLOSED"
	ErrQueueLocked        ErrorCode = "QUEUE_LOCKED"
	ErrQueueInconsistent  ErrorCode = "QUEUE_INCONSISTENT"
	ErrQueueDestroyFailed ErrorCode = "QUEUE_DESTROY_FAILED"

	ErrCursorReleased ErrorCode = "CURSOR_RELEASED"

	ErrRecordHeaderReadFailed   ErrorCode = "RECORD_HEADER_READ_FAILED"
	ErrRecordHeaderWriteFailed  ErrorCode = "RECORD_HEADER_WRITE_FAILED"
	ErrRecordSerialization      ErrorCode = "RECORD_SERIALIZATION"
	ErrRecordDeserialization    ErrorCode = "RECORD_DESERIALIZATION"
	ErrRecordChecksumMismatch   ErrorCode = "RECORD_CHECKSUM_MISMATCH"
	ErrRecordPayloadTooLarge    ErrorCode = "RECORD_PAYLOAD_TOO_LARGE"
	ErrRecordPayloadReadFailed  ErrorCode = "RECORD_PAYLOAD_READ_FAILED"
	ErrRecordPayloadWriteFailed ErrorCode = "RECORD_PAYLOAD_WRITE_FAILED"
	ErrRecordOutOfBounds        ErrorCode = "RECORD_OUT_OF_BOUNDS"

	ErrValidationInvalidData ErrorCode = "VALIDATION_INVALID_DATA"
	ErrValidationRequired    ErrorCode = "VALIDATION_REQUIRED"
	ErrValidationOutOfRange  ErrorCode = "VALIDATION_OUT_OF_RANGE"
)

// codeKinds places every code in the queue error taxonomy.
var codeKinds = map[ErrorCode]Kind{
	ErrIOGeneral:      IOError,
	ErrIOReadFailed:   IOError,
	ErrIOSyncFailed:   IOError,
	ErrIOSeekFailed:   IOError,
	ErrIOWriteFailed:  IOError,
	ErrIOCloseFailed:  IOError,
	ErrIODeleteFailed: IOError,
	ErrIOPermission:   IOError,
	ErrIODiskFull:     IOError,

	ErrSystemInternal:     IOError,
	ErrSystemInvalidInput: Invalid,

	ErrSegmentOpenFailed:   IOError,
	ErrSegmentCreateFailed: IOError,
	ErrSegmentMissing:      CorruptState,
	ErrSegmentSizeMismatch: CorruptState,
	ErrSegmentSealed:       InvalidState,
	ErrSegmentMapFailed:    IOError,
	ErrSegmentUnwritable:   IOError,

	ErrManifestMissing:            NotFound,
	ErrManifestCorrupt:            CorruptState,
	ErrManifestUnsupportedVersion: CorruptState,
	ErrManifestWriteFailed:        IOError,

	ErrQueueExists:        AlreadyExists,
	ErrQueueNotFound:      NotFound,
	ErrQueueClosed:        InvalidState,
	ErrQueueLocked:        InvalidState,
	ErrQueueInconsistent:  CorruptState,
	ErrQueueDestroyFailed: IOError,

	ErrCursorReleased: InvalidState,

	ErrRecordHeaderReadFailed:   IOError,
	ErrRecordHeaderWriteFailed:  IOError,
	ErrRecordSerialization:      Invalid,
	ErrRecordDeserialization:    CorruptState,
	ErrRecordChecksumMismatch:   CorruptState,
	ErrRecordPayloadTooLarge:    Invalid,
	ErrRecordPayloadReadFailed:  IOError,
	ErrRecordPayloadWriteFailed: IOError,
	ErrRecordOutOfBounds:        CorruptState,

	ErrValidationInvalidData: Invalid,
	ErrValidationRequired:    Invalid,
	ErrValidationOutOfRange:  Invalid,
}

// Kind returns the taxonomy bucket of the code. Unknown codes are reported as IOError.
func (c ErrorCode) Kind() Kind {
	if kind, ok := codeKinds[c]; ok {
		return kind
	}
	return IOError
}
