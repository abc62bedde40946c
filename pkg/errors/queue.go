package errors

// QueueError provides specialized error handling for queue lifecycle and cursor operations.
type QueueError struct {
	*baseError
	queue     string
	operation string
	segmentID uint64
	offset    int64
}

// NewQueueError creates a new queue-specific error with the provided context.
func NewQueueError(err error, code ErrorCode, msg string) *QueueError {
	return &QueueError{
		baseError: NewBaseError(err, code, msg),
	}
}

// WithMessage updates the error message.
func (qe *QueueError) WithMessage(msg string) *QueueError {
	qe.baseError.WithMessage(msg)
	return qe
}

// WithCode sets the error code.
func (qe *QueueError) WithCode(code ErrorCode) *QueueError {
	qe.baseError.WithCode(code)
	return qe
}

// WithDetail adds contextual information.
func (qe *QueueError) WithDetail(key string, value any) *QueueError {
	qe.baseError.WithDetail(key, value)
	return qe
}

// WithQueue records which queue directory the error belongs to.
func (qe *QueueError) WithQueue(queue string) *QueueError {
	qe.queue = queue
	return qe
}

// WithPosition captures the segment and offset the operation was working on.
func (qe *QueueError) WithPosition(segmentID uint64, offset int64) *QueueError {
	qe.segmentID = segmentID
	qe.offset = offset
	return qe
}

// WithOperation records what queue operation was being performed.
func (qe *QueueError) WithOperation(operation string) *QueueError {
	qe.operation = operation
	return qe
}

// Queue returns the queue directory associated with the error.
func (qe *QueueError) Queue() string {
	return qe.queue
}

// SegmentID returns the segment identifier associated with the error.
func (qe *QueueError) SegmentID() uint64 {
	return qe.segmentID
}

// Offset returns the segment offset associated with the error.
func (qe *QueueError) Offset() int64 {
	return qe.offset
}

// Operation returns the name of the operation that was being performed.
func (qe *QueueError) Operation() string {
	return qe.operation
}
