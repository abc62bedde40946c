package engine

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/iamBelugaa/persistq/internal/storage"
	"github.com/iamBelugaa/persistq/internal/storage/segmentpool"
	"github.com/iamBelugaa/persistq/pkg/errors"
)

// Cursor gives access to one popped record until it is released.
//
// The payload is either a private copy, a read-only view of a memory-mapped segment, or, for
// large records, read from the segment on demand. Slices returned by Bytes must not be used
// after Release. A cursor is independent of its queue: popping more records, syncing or even
// closing the queue does not invalidate it.
type Cursor struct {
	queue     string
	pos       Position
	length    int
	data      []byte
	header    storage.Header
	codec     *storage.Codec
	section   *io.SectionReader
	handle    *segmentpool.SegmentHandle
	released  atomic.Bool
	onRelease func()
}

func (e *Engine) newCursor(
	handle *segmentpool.SegmentHandle, header storage.Header, pos Position, payloadOffset int64,
) (*Cursor, error) {
	n := int(header.Length)
	c := &Cursor{queue: e.dir, pos: pos, length: n, header: header, codec: e.codec, onRelease: e.cursorReleased}

	switch {
	case e.codec.Compressed():
		stored, err := readStored(handle, payloadOffset, n)
		handle.Release()
		if err != nil {
			return nil, err
		}

		data, err := e.codec.Decode(header, stored)
		if err != nil {
			return nil, err
		}
		c.data, c.length = data, len(data)

	case handle.Mapped():
		view, ok := handle.View(payloadOffset, n)
		if !ok {
			return e.copyCursor(c, handle, payloadOffset)
		}

		if err := e.codec.Verify(header, view); err != nil {
			handle.Release()
			return nil, err
		}
		c.data, c.handle = view, handle

	case n <= eagerReadLimit:
		return e.copyCursor(c, handle, payloadOffset)

	default:
		c.handle = handle
		c.section = io.NewSectionReader(handle, payloadOffset, int64(n))
	}

	e.cursorAcquired()
	return c, nil
}

func (e *Engine) copyCursor(c *Cursor, handle *segmentpool.SegmentHandle, payloadOffset int64) (*Cursor, error) {
	stored, err := readStored(handle, payloadOffset, c.length)
	handle.Release()
	if err != nil {
		return nil, err
	}

	if err := e.codec.Verify(c.header, stored); err != nil {
		return nil, err
	}

	c.data = stored
	e.cursorAcquired()
	return c, nil
}

func readStored(handle *segmentpool.SegmentHandle, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}

	if _, err := handle.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

func (e *Engine) cursorAcquired() {
	e.cursors.Add(1)
	e.metrics.OutstandingCursors.Inc()
}

func (e *Engine) cursorReleased() {
	e.cursors.Add(-1)
	e.metrics.OutstandingCursors.Dec()
}

// Len returns the payload length in bytes.
func (c *Cursor) Len() int {
	return c.length
}

// Position returns where the record was stored.
func (c *Cursor) Position() Position {
	return c.pos
}

// Bytes returns the payload. Records read on demand are loaded fully on the first call.
func (c *Cursor) Bytes() ([]byte, error) {
	if c.released.Load() {
		return nil, c.releasedError("bytes")
	}

	if c.data == nil && c.section != nil {
		buf := make([]byte, c.length)
		if _, err := c.section.ReadAt(buf, 0); err != nil {
			return nil, err
		}

		if err := c.codec.Verify(c.header, buf); err != nil {
			return nil, err
		}
		c.data = buf
	}
	return c.data, nil
}

// Reader streams the payload. For records read on demand the checksum, when enabled, is
// verified as the reader reaches EOF.
func (c *Cursor) Reader() (io.Reader, error) {
	if c.released.Load() {
		return nil, c.releasedError("reader")
	}

	if c.data == nil && c.section != nil {
		return c.codec.NewReader(c.header, io.NewSectionReader(c.section, 0, int64(c.length))), nil
	}
	return bytes.NewReader(c.data), nil
}

// Release frees the payload. It must be called exactly once; a second call fails with
// InvalidState.
func (c *Cursor) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return c.releasedError("release")
	}

	var err error
	if c.handle != nil {
		err = c.handle.Release()
		c.handle = nil
	}

	c.data = nil
	c.section = nil
	c.onRelease()
	return err
}

func (c *Cursor) releasedError(operation string) error {
	return errors.NewQueueError(nil, errors.ErrCursorReleased, "Cursor has already been released").
		WithQueue(c.queue).WithOperation(operation).WithPosition(c.pos.Seq, c.pos.Offset)
}
