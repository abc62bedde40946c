package engine

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/iamBelugaa/persistq/internal/manifest"
	"github.com/iamBelugaa/persistq/pkg/options"
)

// Sync makes buffered writes durable.
//
// SyncData flushes the tail buffer and fsyncs every segment holding unsynced bytes. SyncFull
// additionally replaces the manifest with the current head and tail, then deletes segments
// the reader has fully consumed; a segment is never deleted before a manifest naming a later
// head is on disk.
func (e *Engine) Sync(ctx context.Context, mode options.SyncMode) error {
	if e.closed.Load() {
		return e.closedError("sync")
	}
	return e.sync(mode)
}

func (e *Engine) sync(mode options.SyncMode) error {
	started := time.Now()

	if err := e.segments.Sync(); err != nil {
		e.log.Errorw("Failed to sync segments", "mode", mode, "error", err)
		return err
	}

	if mode == options.SyncFull {
		if err := e.saveManifest(); err != nil {
			e.log.Errorw("Failed to persist manifest", "error", err)
			return err
		}

		if err := e.reclaim(); err != nil {
			return err
		}
		e.pool.CleanupIdleHandles()
	}

	e.metrics.ObserveSync(mode.String(), started)
	e.log.Debugw(
		"Queue synced",
		"mode", mode,
		"headSegmentID", e.head.Seq,
		"headOffset", e.head.Offset,
		"tailSegmentID", e.segments.Tail().Seq(),
		"tailOffset", e.segments.Tail().Size(),
		"duration", time.Since(started),
	)
	return nil
}

// reclaim deletes drained segments older than the persisted head.
func (e *Engine) reclaim() error {
	removed, err := e.segments.Reclaim(e.head.Seq)

	for _, seq := range removed {
		err = multierr.Append(err, e.pool.Evict(seq))
	}
	e.metrics.SegmentsReclaimed.Add(float64(len(removed)))

	if err != nil {
		e.log.Errorw("Failed to reclaim drained segments", "error", err)
	}
	return err
}

func (e *Engine) saveManifest() error {
	states := e.segments.States()
	segments := make([]manifest.Segment, 0, len(states))
	for _, st := range states {
		segments = append(segments, manifest.Segment{Seq: st.Seq, Size: st.Size, Sealed: st.Sealed})
	}

	tail := e.segments.Tail()
	m := &manifest.Manifest{
		Version:         options.CurrentSchemaVersion,
		MaxSegmentBytes: e.options.SegmentOptions.Size,
		SyncOnWrite:     e.options.SyncOnWrite,
		Checksums:       e.options.Checksums,
		Compression:     e.options.Compression,
		Prefix:          e.options.SegmentOptions.Prefix,
		Head:            e.head,
		Tail:            Position{Seq: tail.Seq(), Offset: tail.Size()},
		NextSeq:         e.segments.NextSeq(),
		Segments:        segments,
		CreatedAt:       e.createdAt,
		UpdatedAt:       time.Now().UnixNano(),
	}

	return manifest.Save(e.dir, m)
}
