package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	pqerrors "github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/seginfo"
)

func testConfig(t *testing.T) Config {
	return Config{Dir: t.TempDir(), Prefix: "segment", MaxSegmentBytes: 16, WriteBufferSize: 512}
}

func appendRecord(t *testing.T, d *Directory, payload string) {
	t.Helper()

	codec := NewCodec(false, "none")
	header, stored, err := codec.Encode([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}

	if d.NeedsRollover(int64(len(header) + len(stored))) {
		if _, err := d.Rollover(); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := d.Tail().Append(header, stored); err != nil {
		t.Fatal(err)
	}
}

func TestDirectoryRollover(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	d, err := CreateDirectory(cfg, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	appendRecord(t, d, "12345678") // 12 bytes, fits.
	appendRecord(t, d, "abcdefgh") // would reach 24 > 16, rolls over.
	appendRecord(t, d, "0123456789abcdefghijklmnop")

	if d.Len() != 3 {
		t.Fatalf("Expected 3 segments, got %d", d.Len())
	}

	want := []SegmentState{{Seq: 0, Size: 12, Sealed: true}, {Seq: 1, Size: 12, Sealed: true}, {Seq: 2, Size: 30}}
	if got := d.States(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if d.NextSeq() != 3 {
		t.Errorf("Expected next sequence 3, got %d", d.NextSeq())
	}

	if seg, ok := d.Next(0); !ok || seg.Seq() != 1 {
		t.Errorf("Expected segment 1 after 0, got %v", seg)
	}
	if _, ok := d.Segment(7); ok {
		t.Error("Expected segment 7 to be unknown")
	}
}

func TestDirectoryReclaimWaitsForHead(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	d, err := CreateDirectory(cfg, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	appendRecord(t, d, "12345678")
	appendRecord(t, d, "abcdefgh")

	if err := d.MarkDrained(1); err == nil {
		t.Fatal("Expected MarkDrained on a non-head segment to fail")
	}
	if err := d.MarkDrained(0); err != nil {
		t.Fatal(err)
	}

	removed, err := d.Reclaim(0)
	if err != nil || len(removed) != 0 {
		t.Fatalf("Expected nothing reclaimed before head passes, got %v (%v)", removed, err)
	}

	path := filepath.Join(cfg.Dir, seginfo.GenerateName(0, cfg.Prefix))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected drained segment to stay on disk until reclaimed: %v", err)
	}

	removed, err = d.Reclaim(1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(removed, []uint64{0}) {
		t.Errorf("Expected segment 0 reclaimed, got %v", removed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be deleted, got %v", path, err)
	}
}

func TestLoadDirectory(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	cfg := testConfig(t)

	d, err := CreateDirectory(cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	appendRecord(t, d, "12345678")
	appendRecord(t, d, "abcdefgh")
	if err := d.Sync(); err != nil {
		t.Fatal(err)
	}
	states := d.States()
	next := d.NextSeq()

	// A rollover that never made it into metadata leaves a file past the tail.
	appendRecord(t, d, "0123456789abcdef")
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadDirectory(cfg, states, next, log)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()

	if !reflect.DeepEqual(loaded.States(), states) {
		t.Errorf("Expected %+v, got %+v", states, loaded.States())
	}

	onDisk, err := seginfo.ListSegments(cfg.Dir, cfg.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(onDisk, []uint64{0, 1}) {
		t.Errorf("Expected orphan segment to be removed, got %v", onDisk)
	}
	if loaded.NextSeq() <= 2 {
		t.Errorf("Expected sequence 2 to never be reused, next is %d", loaded.NextSeq())
	}
}

func TestLoadDirectoryRejectsInconsistentStates(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	cases := map[string]struct {
		states []SegmentState
		next   uint64
	}{
		"no segments":        {nil, 1},
		"sealed tail":        {[]SegmentState{{Seq: 0, Sealed: true}}, 1},
		"unsealed middle":    {[]SegmentState{{Seq: 0}, {Seq: 1}}, 2},
		"out of order":       {[]SegmentState{{Seq: 3, Sealed: true}, {Seq: 1}}, 4},
		"stale next seq":     {[]SegmentState{{Seq: 5}}, 5},
		"missing segment":    {[]SegmentState{{Seq: 0}}, 1},
		"negative tail size": {[]SegmentState{{Seq: 0, Size: -1}}, 1},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadDirectory(testConfig(t), tc.states, tc.next, log)
			if !errors.Is(err, pqerrors.CorruptState) {
				t.Errorf("Expected CorruptState, got %v", err)
			}
		})
	}
}

func TestDirectoryDestroy(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)

	d, err := CreateDirectory(cfg, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatal(err)
	}
	appendRecord(t, d, "12345678")
	appendRecord(t, d, "abcdefgh")

	if err := os.WriteFile(filepath.Join(cfg.Dir, seginfo.GenerateName(42, cfg.Prefix)), nil, 0644); err != nil {
		t.Fatal(err)
	}

	if err := d.Destroy(); err != nil {
		t.Fatal(err)
	}

	onDisk, err := seginfo.ListSegments(cfg.Dir, cfg.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 0 {
		t.Errorf("Expected every segment file removed, found %v", onDisk)
	}
}
