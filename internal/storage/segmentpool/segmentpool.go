// Package segmentpool caches read-only handles to segment files. Handles are reference counted
// so that a segment can be evicted or the pool closed while cursors still read from it; the
// descriptor and any memory mapping are released when the last reference goes away.
package segmentpool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/seginfo"
)

// New creates a segment pool for the segment files in dir.
func New(dir, prefix string, mmapReads bool, maxIdleTime time.Duration, log *zap.SugaredLogger) *SegmentPool {
	if maxIdleTime <= 0 {
		maxIdleTime = time.Minute * 30
	}

	log.Infow("Initializing segment pool", "maxIdleTime", maxIdleTime, "mmapReads", mmapReads)
	return &SegmentPool{
		log:         log,
		dir:         dir,
		prefix:      prefix,
		mmapReads:   mmapReads,
		maxIdleTime: maxIdleTime,
		handles:     make(map[uint64]*SegmentHandle),
	}
}

// Acquire returns a pinned handle to segment seq. Sealed segments of known size are memory
// mapped when the pool is configured for it. The caller must Release the handle.
func (sp *SegmentPool) Acquire(seq uint64, sealed bool, size int64) (*SegmentHandle, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if handle, exists := sp.handles[seq]; exists {
		// A segment sealed since it was opened is mapped once no reader holds it.
		if sealed && handle.data == nil && handle.refs == 0 {
			sp.tryMap(handle, size)
		}

		handle.refs++
		handle.lastUsed = time.Now().Unix()

		sp.log.Debugw("Segment pool hit", "segmentID", seq, "refs", handle.refs)
		return handle, nil
	}

	fileName := seginfo.GenerateName(seq, sp.prefix)
	filePath := filepath.Join(sp.dir, fileName)

	file, err := os.OpenFile(filePath, os.O_RDONLY, 0644)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, filePath, fileName).WithSegmentID(seq)
	}

	handle := &SegmentHandle{seq: seq, refs: 1, file: file, pool: sp, lastUsed: time.Now().Unix()}
	if sealed {
		sp.tryMap(handle, size)
	}
	sp.handles[seq] = handle

	sp.log.Debugw(
		"Segment file opened and cached",
		"segmentID", seq, "fileName", fileName, "mapped", handle.data != nil, "poolSize", len(sp.handles),
	)
	return handle, nil
}

// tryMap maps a sealed segment. Failures fall back to ReadAt.
func (sp *SegmentPool) tryMap(handle *SegmentHandle, size int64) {
	if !sp.mmapReads || size <= 0 {
		return
	}

	data, err := mapFile(handle.file, size)
	if err != nil {
		sp.log.Debugw("Segment mapping unavailable, using file reads", "segmentID", handle.seq, "error", err)
		return
	}
	handle.data = data
}

// Evict drops segment seq from the pool, typically because it was reclaimed. Outstanding
// references keep the handle usable until they are released.
func (sp *SegmentPool) Evict(seq uint64) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	handle, exists := sp.handles[seq]
	if !exists {
		return nil
	}

	delete(sp.handles, seq)
	handle.evicted = true

	if handle.refs > 0 {
		sp.log.Debugw("Segment evicted while pinned, deferring close", "segmentID", seq, "refs", handle.refs)
		return nil
	}
	return handle.close()
}

// CleanupIdleHandles closes unpinned handles that haven't been used recently.
func (sp *SegmentPool) CleanupIdleHandles() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	var cleanedCount int
	var closeErrors error
	currentTime := time.Now().Unix()
	maxIdle := int64(sp.maxIdleTime.Seconds())

	for seq, handle := range sp.handles {
		if handle.refs > 0 || currentTime-handle.lastUsed <= maxIdle {
			continue
		}

		if err := handle.close(); err != nil {
			closeErrors = multierr.Append(closeErrors, err)
			sp.log.Errorw("Failed to close idle segment file", "segmentID", seq, "error", err)
		}

		delete(sp.handles, seq)
		cleanedCount++
	}

	sp.log.Debugw(
		"Idle handle cleanup completed",
		"cleanedCount", cleanedCount,
		"maxIdleTime", sp.maxIdleTime,
		"closeErrors", len(multierr.Errors(closeErrors)),
		"remainingCount", len(sp.handles),
	)

	return cleanedCount
}

// Len returns the number of cached handles.
func (sp *SegmentPool) Len() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.handles)
}

// Close closes every unpinned handle. Pinned handles are closed when their last reference
// is released.
func (sp *SegmentPool) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	var closeErrors error
	handleCount := len(sp.handles)
	pinned := 0

	for seq, handle := range sp.handles {
		handle.evicted = true
		if handle.refs > 0 {
			pinned++
			continue
		}

		if err := handle.close(); err != nil {
			closeErrors = multierr.Append(closeErrors, err)
			sp.log.Errorw("Failed to close segment file during shutdown", "segmentID", seq, "error", err)
		}
	}

	clear(sp.handles)
	if closeErrors != nil {
		return errors.NewStorageError(
			closeErrors, errors.ErrIOCloseFailed,
			fmt.Sprintf(
				"Failed to close %d out of %d segment handles during shutdown",
				len(multierr.Errors(closeErrors)), handleCount,
			),
		).WithPath(sp.dir)
	}

	sp.log.Infow("Segment pool closed", "handlesCleared", handleCount, "pinned", pinned)
	return nil
}

func (sp *SegmentPool) release(handle *SegmentHandle) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if handle.refs == 0 {
		return nil
	}

	handle.refs--
	handle.lastUsed = time.Now().Unix()

	if handle.refs == 0 && handle.evicted {
		return handle.close()
	}
	return nil
}

// Seq returns the segment sequence number of the handle.
func (h *SegmentHandle) Seq() uint64 {
	return h.seq
}

// Mapped reports whether the handle serves reads from a memory mapping.
func (h *SegmentHandle) Mapped() bool {
	return h.data != nil
}

// View returns n bytes at off directly from the mapping, without copying. The slice stays
// valid until the handle is released.
func (h *SegmentHandle) View(off int64, n int) ([]byte, bool) {
	if h.data == nil || off < 0 || off+int64(n) > int64(len(h.data)) {
		return nil, false
	}
	return h.data[off : off+int64(n) : off+int64(n)], true
}

// ReadAt implements io.ReaderAt over the segment file.
func (h *SegmentHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.data != nil && off >= 0 && off+int64(len(p)) <= int64(len(h.data)) {
		return copy(p, h.data[off:]), nil
	}

	n, err := h.file.ReadAt(p, off)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return n, errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to read segment").
			WithSegmentID(h.seq).WithOffset(off).WithFileName(h.file.Name())
	}
	return n, nil
}

// Release unpins the handle.
func (h *SegmentHandle) Release() error {
	return h.pool.release(h)
}

func (h *SegmentHandle) close() error {
	var err error
	if h.data != nil {
		err = multierr.Append(err, unmapFile(h.data))
		h.data = nil
	}

	if h.file != nil {
		err = multierr.Append(err, h.file.Close())
		h.file = nil
	}
	return err
}
