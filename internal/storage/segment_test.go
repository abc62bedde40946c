package storage

import (
	"errors"
	"os"
	"testing"

	"go.uber.org/zap/zaptest"

	pqerrors "github.com/iamBelugaa/persistq/pkg/errors"
)

func TestSegmentAppendFlushSync(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()

	seg, err := CreateSegment(dir, "segment", 0, 512, log)
	if err != nil {
		t.Fatal(err)
	}
	defer seg.Close()

	off, err := seg.Append([]byte{3, 0, 0, 0}, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if off != 0 || seg.Size() != 7 {
		t.Fatalf("Expected record at 0 and size 7, got %d and %d", off, seg.Size())
	}

	if seg.Flushed() != 0 || seg.Buffered() != 7 {
		t.Fatalf("Expected 7 buffered bytes, got flushed=%d buffered=%d", seg.Flushed(), seg.Buffered())
	}

	if err := seg.Sync(); err != nil {
		t.Fatal(err)
	}
	if seg.Flushed() != 7 || seg.Dirty() {
		t.Fatalf("Expected segment to be flushed and clean, got flushed=%d dirty=%v", seg.Flushed(), seg.Dirty())
	}

	stat, err := os.Stat(seg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size() != 7 {
		t.Errorf("Expected 7 bytes on disk, got %d", stat.Size())
	}
}

func TestSegmentSealRejectsAppends(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	seg, err := CreateSegment(t.TempDir(), "segment", 4, 512, log)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := seg.Append([]byte{1, 0, 0, 0}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := seg.Seal(); err != nil {
		t.Fatal(err)
	}

	if _, err := seg.Append([]byte{1, 0, 0, 0}, []byte("y")); !errors.Is(err, pqerrors.InvalidState) {
		t.Errorf("Expected InvalidState appending to sealed segment, got %v", err)
	}

	if err := seg.Sync(); err != nil {
		t.Fatal(err)
	}
	if seg.file != nil {
		t.Error("Expected sealed segment to drop its write handle after sync")
	}
}

func TestCreateSegmentExisting(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()

	seg, err := CreateSegment(dir, "segment", 1, 512, log)
	if err != nil {
		t.Fatal(err)
	}
	seg.Close()

	if _, err := CreateSegment(dir, "segment", 1, 512, log); err == nil {
		t.Error("Expected creating an existing segment to fail")
	}
}

func TestOpenSegmentRecovery(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	newSegmentWith := func(t *testing.T, payload string) string {
		dir := t.TempDir()
		seg, err := CreateSegment(dir, "segment", 0, 512, log)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := seg.Append(nil, []byte(payload)); err != nil {
			t.Fatal(err)
		}
		if err := seg.Close(); err != nil {
			t.Fatal(err)
		}
		return dir
	}

	t.Run("tail longer than persisted offset is truncated", func(t *testing.T) {
		dir := newSegmentWith(t, "0123456789")

		seg, err := OpenSegment(dir, "segment", 0, 4, false, 512, log)
		if err != nil {
			t.Fatal(err)
		}
		defer seg.Close()

		stat, err := os.Stat(seg.Path())
		if err != nil {
			t.Fatal(err)
		}
		if stat.Size() != 4 || seg.Size() != 4 {
			t.Errorf("Expected truncation to 4 bytes, got file=%d segment=%d", stat.Size(), seg.Size())
		}
	})

	t.Run("tail shorter than persisted offset is corrupt", func(t *testing.T) {
		dir := newSegmentWith(t, "01")

		if _, err := OpenSegment(dir, "segment", 0, 10, false, 512, log); !errors.Is(err, pqerrors.CorruptState) {
			t.Errorf("Expected CorruptState, got %v", err)
		}
	})

	t.Run("sealed size mismatch is corrupt", func(t *testing.T) {
		dir := newSegmentWith(t, "0123")

		if _, err := OpenSegment(dir, "segment", 0, 3, true, 512, log); !errors.Is(err, pqerrors.CorruptState) {
			t.Errorf("Expected CorruptState, got %v", err)
		}
	})

	t.Run("missing file is corrupt", func(t *testing.T) {
		if _, err := OpenSegment(t.TempDir(), "segment", 9, 0, false, 512, log); !errors.Is(err, pqerrors.CorruptState) {
			t.Errorf("Expected CorruptState, got %v", err)
		}
	})
}

func TestSegmentUnwritableAfterFailedAppend(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	seg, err := CreateSegment(t.TempDir(), "segment", 0, 512, log)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := seg.Append([]byte{3, 0, 0, 0}, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := seg.Sync(); err != nil {
		t.Fatal(err)
	}

	// The header fits the buffer; the payload forces a flush onto the closed descriptor.
	if err := seg.file.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = seg.Append([]byte{0xe8, 0x03, 0, 0}, make([]byte, 1000))
	if se, ok := pqerrors.AsStorageError(err); !ok || se.Code() != pqerrors.ErrRecordPayloadWriteFailed {
		t.Fatalf("Expected payload write failure, got %v", err)
	}

	if seg.Size() != 7 || seg.Flushed() != 7 || seg.Buffered() != 0 {
		t.Errorf(
			"Expected size, flushed and buffered of 7/7/0, got %d/%d/%d", seg.Size(), seg.Flushed(), seg.Buffered(),
		)
	}
	if seg.Failed() == nil {
		t.Error("Expected segment to record the failure")
	}

	_, err = seg.Append([]byte{1, 0, 0, 0}, []byte("x"))
	if se, ok := pqerrors.AsStorageError(err); !ok || se.Code() != pqerrors.ErrSegmentUnwritable {
		t.Errorf("Expected unwritable segment error, got %v", err)
	}
	if !errors.Is(err, pqerrors.IOError) {
		t.Errorf("Expected IOError, got %v", err)
	}

	if err := seg.Flush(); !errors.Is(err, pqerrors.IOError) {
		t.Errorf("Expected flush to fail with IOError, got %v", err)
	}
}
