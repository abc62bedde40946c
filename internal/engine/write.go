package engine

import (
	"context"

	"github.com/iamBelugaa/persistq/pkg/options"
)

// Write appends data as one record and returns len(data).
//
// The record goes to the tail segment's buffer. When it does not fit under the rollover size
// the tail is sealed first and the record starts a new segment; a record larger than the
// rollover size gets a segment to itself. Unless the queue syncs on every write, the record
// becomes durable with the next Sync.
func (e *Engine) Write(ctx context.Context, data []byte) (int, error) {
	if e.closed.Load() {
		return 0, e.closedError("write")
	}

	header, stored, err := e.codec.Encode(data)
	if err != nil {
		return 0, err
	}

	recordLen := int64(len(header) + len(stored))
	if e.segments.NeedsRollover(recordLen) {
		if err := e.rollover(); err != nil {
			return 0, err
		}
	}

	tail := e.segments.Tail()
	offset, err := tail.Append(header, stored)
	if err != nil {
		e.log.Errorw("Failed to append record", "segmentID", tail.Seq(), "error", err)
		return 0, err
	}

	e.metrics.RecordsWritten.Inc()
	e.metrics.BytesWritten.Add(float64(len(data)))

	e.log.Debugw(
		"Record written",
		"segmentID", tail.Seq(),
		"offset", offset,
		"length", len(data),
		"storedLength", len(stored),
	)

	if e.options.SyncOnWrite {
		if err := e.sync(options.SyncFull); err != nil {
			return 0, err
		}
	}

	return len(data), nil
}

// rollover seals the tail and starts a new segment. A reader parked at the end of the old
// tail moves straight to the new one.
func (e *Engine) rollover() error {
	prev := e.segments.Tail()

	seg, err := e.segments.Rollover()
	if err != nil {
		return err
	}

	e.metrics.SegmentsCreated.Inc()
	e.metrics.LiveSegments.Set(float64(e.segments.Len()))

	if e.head.Seq == prev.Seq() && e.head.Offset == prev.Size() {
		if err := e.advanceHead(); err != nil {
			return err
		}
	}

	e.log.Debugw("Tail segment rolled over", "previousSegmentID", prev.Seq(), "segmentID", seg.Seq())
	return nil
}
