// Package engine provides the storage engine behind one open queue: it coordinates the segment
// directory, the read-side segment pool, the manifest and the queue metrics.
//
// An Engine is not safe for concurrent use; callers serialize Write, Pop, Sync, Close and
// Destroy. Cursors may be released from any goroutine.
package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/internal/manifest"
	"github.com/iamBelugaa/persistq/internal/metrics"
	"github.com/iamBelugaa/persistq/internal/storage"
	"github.com/iamBelugaa/persistq/internal/storage/segmentpool"
	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/filesys"
	"github.com/iamBelugaa/persistq/pkg/options"
	"github.com/iamBelugaa/persistq/pkg/seginfo"
)

// Position addresses a record by segment sequence number and byte offset.
type Position = manifest.Position

// Idle read handles are closed by full syncs after this long.
const poolMaxIdleTime = 5 * time.Minute

// Engine represents one open queue and coordinates all of its subsystems.
type Engine struct {
	closed    atomic.Bool
	cursors   atomic.Int64
	dir       string
	head      Position
	createdAt int64
	options   *options.Options
	codec     *storage.Codec
	segments  *storage.Directory
	pool      *segmentpool.SegmentPool
	metrics   *metrics.Metrics
	lock      *filesys.Lock
	log       *zap.SugaredLogger
}

// Create initializes a new queue in opts.QueueDir(). The directory may be missing or empty;
// a directory that already holds a manifest or segment files is rejected with AlreadyExists.
func Create(ctx context.Context, log *zap.SugaredLogger, opts *options.Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	dir := opts.QueueDir()
	log = log.With("queue", opts.Name)

	log.Infow(
		"Creating queue",
		"path", dir,
		"maxSegmentSize", opts.SegmentOptions.Size,
		"syncOnWrite", opts.SyncOnWrite,
		"checksums", opts.Checksums,
		"compression", opts.Compression,
	)

	if err := filesys.CreateDir(dir, 0755, true); err != nil {
		if stdErrors.Is(err, filesys.ErrIsNotDir) {
			return nil, errors.NewQueueError(err, errors.ErrQueueExists, "Queue path exists and is not a directory").
				WithQueue(dir).WithOperation("create")
		}
		return nil, errors.ClassifyDirectoryCreationError(err, dir)
	}

	// Checked before locking so that creating a queue another handle has open reports
	// AlreadyExists rather than a lock conflict.
	exists, err := manifest.Exists(dir)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, queueExistsError(dir)
	}

	lock, err := acquireLock(dir, opts, "create")
	if err != nil {
		return nil, err
	}

	if err := ensureFresh(dir, opts.SegmentOptions.Prefix, log); err != nil {
		lock.Release()
		return nil, err
	}

	segments, err := storage.CreateDirectory(storageConfig(dir, opts), log)
	if err != nil {
		lock.Release()
		return nil, err
	}

	e := newEngine(dir, opts, segments, lock, log)
	e.createdAt = time.Now().UnixNano()

	if err := e.saveManifest(); err != nil {
		destroyErr := segments.Destroy()
		return nil, multierr.Combine(err, destroyErr, manifest.Remove(dir), lock.Release())
	}

	if err := e.metrics.Register(opts.Registerer); err != nil {
		closeErr := e.release()
		return nil, multierr.Append(
			errors.NewQueueError(err, errors.ErrSystemInternal, "Failed to register queue metrics").WithQueue(dir),
			closeErr,
		)
	}

	e.metrics.SegmentsCreated.Inc()
	e.metrics.LiveSegments.Set(float64(segments.Len()))

	log.Infow("Queue created", "path", dir, "headSegmentID", e.head.Seq)
	return e, nil
}

// Open loads an existing queue from opts.QueueDir().
//
// The record format (checksums, compression) and segment prefix are fixed when the queue is
// created and are taken from the manifest; the rollover size and sync-on-write flag come from
// opts.
func Open(ctx context.Context, log *zap.SugaredLogger, opts *options.Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	dir := opts.QueueDir()
	log = log.With("queue", opts.Name)
	log.Infow("Opening queue", "path", dir)

	stat, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewQueueError(err, errors.ErrQueueNotFound, "Queue directory does not exist").
				WithQueue(dir).WithOperation("open")
		}
		return nil, errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to stat queue directory").WithPath(dir)
	}

	if !stat.IsDir() {
		return nil, errors.NewQueueError(filesys.ErrIsNotDir, errors.ErrQueueNotFound, "Queue path is not a directory").
			WithQueue(dir).WithOperation("open")
	}

	lock, err := acquireLock(dir, opts, "open")
	if err != nil {
		return nil, err
	}

	m, err := manifest.Load(dir, log)
	if err != nil {
		lock.Release()
		if errors.KindOf(err) == errors.NotFound {
			return nil, missingManifestError(dir, opts.SegmentOptions.Prefix, err)
		}
		return nil, err
	}

	if m.MaxSegmentBytes != opts.SegmentOptions.Size {
		log.Infow("Segment size changed since last open", "previous", m.MaxSegmentBytes, "current", opts.SegmentOptions.Size)
	}

	opts.Checksums = m.Checksums
	opts.Compression = m.Compression
	opts.SegmentOptions.Prefix = m.Prefix

	states := make([]storage.SegmentState, 0, len(m.Segments))
	for _, seg := range m.Segments {
		states = append(states, storage.SegmentState{Seq: seg.Seq, Size: seg.Size, Sealed: seg.Sealed})
	}

	segments, err := storage.LoadDirectory(storageConfig(dir, opts), states, m.NextSeq, log)
	if err != nil {
		lock.Release()
		return nil, err
	}

	e := newEngine(dir, opts, segments, lock, log)
	e.head = m.Head
	e.createdAt = m.CreatedAt

	if err := e.metrics.Register(opts.Registerer); err != nil {
		closeErr := e.release()
		return nil, multierr.Append(
			errors.NewQueueError(err, errors.ErrSystemInternal, "Failed to register queue metrics").WithQueue(dir),
			closeErr,
		)
	}
	e.metrics.LiveSegments.Set(float64(segments.Len()))

	log.Infow(
		"Queue opened",
		"path", dir,
		"headSegmentID", e.head.Seq,
		"headOffset", e.head.Offset,
		"tailSegmentID", m.Tail.Seq,
		"tailOffset", m.Tail.Offset,
		"segments", segments.Len(),
	)
	return e, nil
}

func newEngine(
	dir string, opts *options.Options, segments *storage.Directory, lock *filesys.Lock, log *zap.SugaredLogger,
) *Engine {
	return &Engine{
		dir:      dir,
		log:      log,
		lock:     lock,
		options:  opts,
		segments: segments,
		codec:    storage.NewCodec(opts.Checksums, opts.Compression),
		pool:     segmentpool.New(dir, opts.SegmentOptions.Prefix, opts.MmapReads, poolMaxIdleTime, log),
		metrics:  metrics.New(opts.Name),
	}
}

func storageConfig(dir string, opts *options.Options) storage.Config {
	return storage.Config{
		Dir:             dir,
		Prefix:          opts.SegmentOptions.Prefix,
		MaxSegmentBytes: opts.SegmentOptions.Size,
		WriteBufferSize: opts.SegmentOptions.WriteBufferSize,
	}
}

func acquireLock(dir string, opts *options.Options, operation string) (*filesys.Lock, error) {
	if !opts.LockDirectory {
		return nil, nil
	}

	lock, err := filesys.LockDir(dir)
	if err != nil {
		if stdErrors.Is(err, filesys.ErrLockHeld) {
			return nil, errors.NewQueueError(err, errors.ErrQueueLocked, "Queue is already open by another handle").
				WithQueue(dir).WithOperation(operation)
		}
		return nil, errors.NewStorageError(err, errors.ErrIOGeneral, "Failed to lock queue directory").WithPath(dir)
	}
	return lock, nil
}

// ensureFresh rejects a directory that already holds a queue. A lone empty segment 0 without
// a manifest is what a create interrupted before its first manifest save leaves behind; it is
// removed and the create proceeds.
func ensureFresh(dir, prefix string, log *zap.SugaredLogger) error {
	exists, err := manifest.Exists(dir)
	if err != nil {
		return err
	}
	if exists {
		return queueExistsError(dir)
	}

	segments, err := seginfo.ListSegments(dir, prefix)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to list segment files").WithPath(dir)
	}

	if len(segments) == 1 && segments[0] == 0 {
		path := filepath.Join(dir, seginfo.GenerateName(0, prefix))

		stat, err := os.Stat(path)
		if err != nil {
			return errors.ClassifyFileOpenError(err, path, filepath.Base(path)).WithSegmentID(0)
		}

		if stat.Size() == 0 {
			log.Warnw("Removing segment left by an interrupted create", "path", path)
			if err := os.Remove(path); err != nil {
				return errors.NewStorageError(err, errors.ErrIODeleteFailed, "Failed to remove leftover segment").
					WithSegmentID(0).WithPath(path)
			}
			return nil
		}
	}

	if len(segments) > 0 {
		return queueExistsError(dir)
	}
	return nil
}

// missingManifestError reports a queue directory without a manifest. Without segment files
// there is no queue and cause is returned; with them, the metadata that orders them is lost.
func missingManifestError(dir, prefix string, cause error) error {
	segments, err := seginfo.ListSegments(dir, prefix)
	if err != nil {
		return multierr.Append(cause, err)
	}

	if len(segments) == 0 {
		return cause
	}

	return errors.NewQueueError(
		nil, errors.ErrManifestCorrupt,
		fmt.Sprintf("Queue manifest missing but %d segment files present", len(segments)),
	).WithQueue(dir).WithOperation("open").WithDetail("segments", segments)
}

func queueExistsError(dir string) error {
	return errors.NewQueueError(nil, errors.ErrQueueExists, "Queue already exists").
		WithQueue(dir).WithOperation("create")
}

// Dir returns the queue directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Name returns the logical queue name.
func (e *Engine) Name() string {
	return e.options.Name
}

// Close flushes buffered writes, persists the head and tail, reclaims drained segments and
// releases every file handle and the directory lock. Calling Close twice fails with
// InvalidState. Cursors still outstanding stay readable until released.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return e.closedError("close")
	}

	e.log.Infow("Closing queue", "path", e.dir)
	if n := e.cursors.Load(); n > 0 {
		e.log.Warnw("Closing queue with outstanding cursors", "outstandingCursors", n)
	}

	var err error
	if syncErr := e.sync(options.SyncFull); syncErr != nil {
		e.log.Errorw("Failed to sync queue during close", "error", syncErr)
		err = multierr.Append(err, syncErr)
	}

	err = multierr.Append(err, e.release())
	if err != nil {
		return err
	}

	e.log.Infow("Queue closed", "path", e.dir)
	return nil
}

// Destroy closes the queue and deletes every segment file, the manifest and the queue
// directory. Every deletion is attempted even after a failure; failures are reported together.
func (e *Engine) Destroy() error {
	if !e.closed.CompareAndSwap(false, true) {
		return e.closedError("destroy")
	}

	e.log.Infow("Destroying queue", "path", e.dir, "outstandingCursors", e.cursors.Load())

	var err error
	err = multierr.Append(err, e.pool.Close())
	err = multierr.Append(err, e.segments.Destroy())
	err = multierr.Append(err, manifest.Remove(e.dir))
	e.metrics.Unregister()
	err = multierr.Append(err, e.lock.Release())

	if rmErr := os.RemoveAll(e.dir); rmErr != nil {
		err = multierr.Append(err, errors.NewStorageError(
			rmErr, errors.ErrIODeleteFailed, "Failed to remove queue directory",
		).WithPath(e.dir))
	}

	if err != nil {
		e.log.Errorw("Queue destroy incomplete", "path", e.dir, "errors", len(multierr.Errors(err)))
		return errors.NewQueueError(err, errors.ErrQueueDestroyFailed, fmt.Sprintf("Failed to destroy queue %s", e.dir)).
			WithQueue(e.dir).WithOperation("destroy")
	}

	e.log.Infow("Queue destroyed", "path", e.dir)
	return nil
}

// release closes every handle without syncing.
func (e *Engine) release() error {
	var err error
	err = multierr.Append(err, e.segments.Close())
	err = multierr.Append(err, e.pool.Close())
	e.metrics.Unregister()
	err = multierr.Append(err, e.lock.Release())
	return err
}

func (e *Engine) closedError(operation string) error {
	return errors.NewQueueError(nil, errors.ErrQueueClosed, "Queue handle is closed").
		WithQueue(e.dir).WithOperation(operation)
}
