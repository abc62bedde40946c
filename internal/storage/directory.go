// Package storage provides the on-disk layout of a queue: the record codec, the append-only
// segment files and the directory that allocates, seals and reclaims them.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/seginfo"
)

// Config describes where and how a queue's segments are stored.
type Config struct {
	Dir             string
	Prefix          string
	MaxSegmentBytes uint64
	WriteBufferSize int
}

// SegmentState is the persisted description of one live segment.
type SegmentState struct {
	Seq    uint64
	Size   int64
	Sealed bool
}

// Directory tracks the ordered set of live segments of one queue.
//
// All segments but the last are sealed. Sequence numbers grow monotonically and are never
// reused, including across reclamation. Segments the reader has moved past are parked in a
// reclamation list and only deleted once the caller confirms that metadata naming a later
// head is durable.
type Directory struct {
	cfg      Config
	nextSeq  uint64
	segments []*Segment
	drained  []*Segment
	log      *zap.SugaredLogger
}

// CreateDirectory initializes an empty queue with segment 0 as its tail.
func CreateDirectory(cfg Config, log *zap.SugaredLogger) (*Directory, error) {
	seg, err := CreateSegment(cfg.Dir, cfg.Prefix, 0, cfg.WriteBufferSize, log)
	if err != nil {
		return nil, err
	}

	return &Directory{cfg: cfg, nextSeq: 1, segments: []*Segment{seg}, log: log}, nil
}

// LoadDirectory reopens the segments listed in states.
//
// Segment files outside the persisted range are leftovers of an interrupted reclamation or of
// a rollover that never reached a metadata sync, and are removed. Any other disagreement
// between states and the files on disk is reported as corruption.
func LoadDirectory(cfg Config, states []SegmentState, nextSeq uint64, log *zap.SugaredLogger) (*Directory, error) {
	if err := validateStates(states, nextSeq); err != nil {
		return nil, err.WithPath(cfg.Dir)
	}

	d := &Directory{cfg: cfg, nextSeq: nextSeq, log: log}
	if err := d.removeOrphans(states); err != nil {
		return nil, err
	}

	for i, st := range states {
		seg, err := OpenSegment(cfg.Dir, cfg.Prefix, st.Seq, st.Size, st.Sealed, cfg.WriteBufferSize, log)
		if err != nil {
			closeErr := d.Close()
			return nil, multierr.Append(err, closeErr)
		}

		d.segments = append(d.segments, seg)
		log.Debugw("Segment loaded", "segmentID", st.Seq, "size", st.Size, "sealed", st.Sealed, "index", i)
	}

	log.Infow(
		"Segment directory loaded",
		"path", cfg.Dir,
		"segments", len(d.segments),
		"headSegmentID", d.segments[0].Seq(),
		"tailSegmentID", d.Tail().Seq(),
		"nextSeq", d.nextSeq,
	)
	return d, nil
}

func validateStates(states []SegmentState, nextSeq uint64) *errors.StorageError {
	inconsistent := func(msg string, seq uint64) *errors.StorageError {
		return errors.NewStorageError(nil, errors.ErrQueueInconsistent, msg).WithSegmentID(seq)
	}

	if len(states) == 0 {
		return inconsistent("Metadata lists no segments", 0)
	}

	for i, st := range states {
		if st.Size < 0 {
			return inconsistent(fmt.Sprintf("Segment %d has negative size %d", st.Seq, st.Size), st.Seq)
		}

		if i > 0 && st.Seq <= states[i-1].Seq {
			return inconsistent(fmt.Sprintf("Segment %d listed out of order", st.Seq), st.Seq)
		}

		last := i == len(states)-1
		if last && st.Sealed {
			return inconsistent(fmt.Sprintf("Tail segment %d is marked sealed", st.Seq), st.Seq)
		}
		if !last && !st.Sealed {
			return inconsistent(fmt.Sprintf("Non-tail segment %d is not sealed", st.Seq), st.Seq)
		}
	}

	if tail := states[len(states)-1].Seq; nextSeq <= tail {
		return inconsistent(fmt.Sprintf("Next sequence %d does not follow tail segment %d", nextSeq, tail), tail)
	}
	return nil
}

func (d *Directory) removeOrphans(states []SegmentState) error {
	onDisk, err := seginfo.ListSegments(d.cfg.Dir, d.cfg.Prefix)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to list segment files").WithPath(d.cfg.Dir)
	}

	known := make(map[uint64]struct{}, len(states))
	for _, st := range states {
		known[st.Seq] = struct{}{}
	}

	first, last := states[0].Seq, states[len(states)-1].Seq
	for _, seq := range onDisk {
		if _, ok := known[seq]; ok {
			continue
		}

		if seq > first && seq < last {
			return errors.NewStorageError(
				nil, errors.ErrQueueInconsistent,
				fmt.Sprintf("Segment %d exists on disk but is missing from metadata", seq),
			).WithSegmentID(seq).WithPath(d.cfg.Dir)
		}

		path := filepath.Join(d.cfg.Dir, seginfo.GenerateName(seq, d.cfg.Prefix))
		d.log.Warnw("Removing orphaned segment file", "segmentID", seq, "path", path)

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewStorageError(err, errors.ErrIODeleteFailed, "Failed to remove orphaned segment").
				WithSegmentID(seq).WithPath(path)
		}

		if seq >= d.nextSeq {
			d.nextSeq = seq + 1
		}
	}
	return nil
}

// Head returns the oldest live segment.
func (d *Directory) Head() *Segment {
	return d.segments[0]
}

// Tail returns the segment currently accepting appends.
func (d *Directory) Tail() *Segment {
	return d.segments[len(d.segments)-1]
}

// Segment looks up a live segment by sequence number.
func (d *Directory) Segment(seq uint64) (*Segment, bool) {
	i, found := slices.BinarySearchFunc(d.segments, seq, func(s *Segment, target uint64) int {
		switch {
		case s.Seq() < target:
			return -1
		case s.Seq() > target:
			return 1
		}
		return 0
	})
	if !found {
		return nil, false
	}
	return d.segments[i], true
}

// Next returns the first live segment after seq.
func (d *Directory) Next(seq uint64) (*Segment, bool) {
	for _, seg := range d.segments {
		if seg.Seq() > seq {
			return seg, true
		}
	}
	return nil, false
}

// Len returns the number of live segments.
func (d *Directory) Len() int {
	return len(d.segments)
}

// NextSeq returns the sequence number the next rollover will use.
func (d *Directory) NextSeq() uint64 {
	return d.nextSeq
}

// PendingReclaim returns the number of drained segments waiting for deletion.
func (d *Directory) PendingReclaim() int {
	return len(d.drained)
}

// NeedsRollover reports whether a record of recordLen bytes must go to a fresh segment.
// An empty tail always accepts the record, however large.
func (d *Directory) NeedsRollover(recordLen int64) bool {
	tail := d.Tail()
	return tail.Size() > 0 && uint64(tail.Size())+uint64(recordLen) > d.cfg.MaxSegmentBytes
}

// Rollover seals the tail and appends a new, empty tail segment.
func (d *Directory) Rollover() (*Segment, error) {
	prev := d.Tail()

	seg, err := CreateSegment(d.cfg.Dir, d.cfg.Prefix, d.nextSeq, d.cfg.WriteBufferSize, d.log)
	if err != nil {
		return nil, err
	}

	if err := prev.Seal(); err != nil {
		return nil, multierr.Append(err, seg.Remove())
	}

	d.nextSeq++
	d.segments = append(d.segments, seg)

	d.log.Infow("Segment rollover", "sealedSegmentID", prev.Seq(), "sealedSize", prev.Size(), "newSegmentID", seg.Seq())
	return seg, nil
}

// MarkDrained retires the head segment after the reader has consumed all of it. The file
// stays on disk until Reclaim.
func (d *Directory) MarkDrained(seq uint64) error {
	head := d.Head()
	if head.Seq() != seq || !head.Sealed() || len(d.segments) < 2 {
		return errors.NewStorageError(
			nil, errors.ErrSegmentSealed, fmt.Sprintf("Segment %d is not a sealed head segment", seq),
		).WithSegmentID(seq)
	}

	d.segments = d.segments[1:]
	d.drained = append(d.drained, head)

	d.log.Debugw("Segment drained", "segmentID", seq, "pendingReclaim", len(d.drained))
	return nil
}

// Reclaim deletes drained segments older than headSeq and returns their sequence numbers.
// Segments that fail to delete stay queued for the next call.
func (d *Directory) Reclaim(headSeq uint64) ([]uint64, error) {
	var err error
	var removed []uint64
	remaining := d.drained[:0]

	for _, seg := range d.drained {
		if seg.Seq() >= headSeq {
			remaining = append(remaining, seg)
			continue
		}

		if removeErr := seg.Remove(); removeErr != nil {
			err = multierr.Append(err, removeErr)
			remaining = append(remaining, seg)
			continue
		}
		removed = append(removed, seg.Seq())
	}

	clear(d.drained[len(remaining):])
	d.drained = remaining

	if len(removed) > 0 {
		d.log.Infow("Reclaimed drained segments", "segmentIDs", removed, "liveSegments", len(d.segments))
	}
	return removed, err
}

// Flush hands the tail's buffered bytes to the OS.
func (d *Directory) Flush() error {
	return d.Tail().Flush()
}

// Sync makes every live segment durable.
func (d *Directory) Sync() error {
	for _, seg := range d.segments {
		if err := seg.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// States describes the live segments for persisting.
func (d *Directory) States() []SegmentState {
	states := make([]SegmentState, 0, len(d.segments))
	for _, seg := range d.segments {
		states = append(states, SegmentState{Seq: seg.Seq(), Size: seg.Size(), Sealed: seg.Sealed()})
	}
	return states
}

// Close flushes and releases every write handle. Files are kept.
func (d *Directory) Close() error {
	var err error
	for _, seg := range d.drained {
		err = multierr.Append(err, seg.closeWriter())
	}
	for _, seg := range d.segments {
		err = multierr.Append(err, seg.Close())
	}
	return err
}

// Destroy releases every handle and deletes all segment files of the queue, including files
// the directory does not track. Every deletion is attempted; all failures are reported.
func (d *Directory) Destroy() error {
	err := d.Close()

	for _, seg := range append(slices.Clone(d.drained), d.segments...) {
		err = multierr.Append(err, seg.Remove())
	}
	d.drained, d.segments = nil, nil

	leftovers, listErr := seginfo.ListSegments(d.cfg.Dir, d.cfg.Prefix)
	if listErr != nil {
		return multierr.Append(err, listErr)
	}

	for _, seq := range leftovers {
		path := filepath.Join(d.cfg.Dir, seginfo.GenerateName(seq, d.cfg.Prefix))
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			err = multierr.Append(err, errors.NewStorageError(
				removeErr, errors.ErrIODeleteFailed, "Failed to delete segment file",
			).WithSegmentID(seq).WithPath(path))
		}
	}
	return err
}
