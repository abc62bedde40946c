package errors

import (
	stdErrors "errors"
)

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func AsQueueError(err error) (*QueueError, bool) {
	var qe *QueueError
	if stdErrors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// KindOf returns the taxonomy bucket of err, or "" when err is nil or carries no code.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, kind := range []Kind{AlreadyExists, NotFound, CorruptState, InvalidState, Invalid, IOError} {
		if stdErrors.Is(err, kind) {
			return kind
		}
	}
	return ""
}
