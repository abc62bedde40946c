package engine

import (
	"context"
	"fmt"

	"github.com/iamBelugaa/persistq/internal/storage"
	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
)

// Records up to this size are copied out of the segment when popped. Larger records on
// unmapped segments are read on demand through the cursor.
const eagerReadLimit = 1 << 20

// Pop removes the oldest record and returns a cursor over it. ok is false when the queue is
// empty, which is not an error.
//
// Records still sitting in the write buffer are not visible to the reader. When the reader
// reaches them, Pop performs one full sync to make them visible and retries before reporting
// the queue empty.
func (e *Engine) Pop(ctx context.Context) (*Cursor, bool, error) {
	if e.closed.Load() {
		return nil, false, e.closedError("pop")
	}

	synced := false
	for {
		seg := e.segments.Head()

		if e.head.Offset < seg.Flushed() {
			cursor, visible, err := e.readRecord(seg)
			if err != nil {
				return nil, false, err
			}
			if visible {
				return cursor, true, nil
			}
		} else if seg.Sealed() {
			if err := e.advanceHead(); err != nil {
				return nil, false, err
			}
			continue
		}

		if synced || seg.Buffered() == 0 {
			break
		}

		e.log.Debugw("Reader caught up with write buffer, syncing", "segmentID", seg.Seq(), "buffered", seg.Buffered())
		if err := e.sync(options.SyncFull); err != nil {
			return nil, false, err
		}
		synced = true
	}

	e.metrics.EmptyPops.Inc()
	return nil, false, nil
}

// readRecord reads the record at the head of seg. visible is false when the record has not been
// completely flushed yet.
func (e *Engine) readRecord(seg *storage.Segment) (*Cursor, bool, error) {
	pos := e.head
	flushed := seg.Flushed()
	headerSize := int64(e.codec.HeaderSize())

	if pos.Offset+headerSize > flushed {
		return nil, false, e.tornRecord(seg, pos, pos.Offset+headerSize, "record header")
	}

	handle, err := e.pool.Acquire(seg.Seq(), seg.Sealed(), seg.Size())
	if err != nil {
		return nil, false, err
	}

	headerBuf := make([]byte, headerSize)
	if _, err := handle.ReadAt(headerBuf, pos.Offset); err != nil {
		handle.Release()
		return nil, false, err
	}

	header, err := e.codec.DecodeHeader(headerBuf)
	if err != nil {
		handle.Release()
		return nil, false, err
	}

	payloadOffset := pos.Offset + headerSize
	end := payloadOffset + int64(header.Length)
	if end > flushed {
		handle.Release()
		return nil, false, e.tornRecord(seg, pos, end, fmt.Sprintf("record payload of %d bytes", header.Length))
	}

	cursor, err := e.newCursor(handle, header, pos, payloadOffset)
	if err != nil {
		return nil, false, errors.NewQueueError(err, errors.ErrRecordPayloadReadFailed, "Failed to read record").
			WithQueue(e.dir).WithOperation("pop").WithPosition(pos.Seq, pos.Offset).
			WithCode(codeOf(err, errors.ErrRecordPayloadReadFailed))
	}

	e.head.Offset = end
	if seg.Sealed() && e.head.Offset == seg.Size() {
		if err := e.advanceHead(); err != nil {
			cursor.Release()
			return nil, false, err
		}
	}

	e.metrics.RecordsPopped.Inc()
	e.metrics.BytesPopped.Add(float64(cursor.Len()))

	e.log.Debugw("Record popped", "segmentID", pos.Seq, "offset", pos.Offset, "length", cursor.Len())
	return cursor, true, nil
}

// tornRecord reports a record at pos whose bytes up to end are not all flushed. Appends are
// whole records, so a record that still ends within the segment's logical size is only partly
// buffered and not visible yet. One that ends past it has a damaged length prefix.
func (e *Engine) tornRecord(seg *storage.Segment, pos Position, end int64, what string) error {
	if end <= seg.Size() {
		return nil
	}

	e.log.Errorw(
		"Record extends past end of segment",
		"segmentID", seg.Seq(), "offset", pos.Offset, "recordEnd", end, "segmentSize", seg.Size(),
	)
	return errors.NewQueueError(
		nil, errors.ErrRecordOutOfBounds,
		fmt.Sprintf("Segment %d of %d bytes ends inside %s at offset %d", seg.Seq(), seg.Size(), what, pos.Offset),
	).WithQueue(e.dir).WithOperation("pop").WithPosition(pos.Seq, pos.Offset)
}

// advanceHead retires the drained head segment and moves the reader to the start of the next.
func (e *Engine) advanceHead() error {
	drained := e.segments.Head()

	next, ok := e.segments.Next(drained.Seq())
	if !ok {
		return errors.NewQueueError(
			nil, errors.ErrQueueInconsistent, fmt.Sprintf("Sealed segment %d has no successor", drained.Seq()),
		).WithQueue(e.dir).WithPosition(e.head.Seq, e.head.Offset)
	}

	if err := e.segments.MarkDrained(drained.Seq()); err != nil {
		return err
	}

	e.head = Position{Seq: next.Seq(), Offset: 0}
	e.metrics.LiveSegments.Set(float64(e.segments.Len()))

	e.log.Debugw("Head advanced to next segment", "drainedSegmentID", drained.Seq(), "segmentID", next.Seq())
	return nil
}

// codeOf returns the code carried by err, or fallback when err has none.
func codeOf(err error, fallback errors.ErrorCode) errors.ErrorCode {
	if se, ok := errors.AsStorageError(err); ok {
		return se.Code()
	}
	if qe, ok := errors.AsQueueError(err); ok {
		return qe.Code()
	}
	return fallback
}
