package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	pqerrors "github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/options"
)

func sampleManifest() *Manifest {
	return &Manifest{
		Version:         options.CurrentSchemaVersion,
		MaxSegmentBytes: 1 << 20,
		SyncOnWrite:     true,
		Checksums:       true,
		Compression:     options.CompressionS2,
		Prefix:          "segment",
		Head:            Position{Seq: 3, Offset: 17},
		Tail:            Position{Seq: 5, Offset: 40},
		NextSeq:         6,
		Segments: []Segment{
			{Seq: 3, Size: 1 << 20, Sealed: true},
			{Seq: 4, Size: 1 << 20, Sealed: true},
			{Seq: 5, Size: 40},
		},
		CreatedAt: 1700000000000000000,
		UpdatedAt: 1700000000000000001,
	}
}

func TestManifestBinaryRoundTrip(t *testing.T) {
	t.Parallel()
	want := sampleManifest()

	data, err := want.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	var got Manifest
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(&got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestManifestRejectsDamage(t *testing.T) {
	t.Parallel()

	data, err := sampleManifest().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)/2] ^= 0x40

	cases := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte("XXXX"), data[4:]...),
		"bit flip":  flipped,
		"truncated": data[:len(data)-3],
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m Manifest
			if err := m.UnmarshalBinary(raw); !errors.Is(err, pqerrors.CorruptState) {
				t.Errorf("Expected CorruptState, got %v", err)
			}
		})
	}
}

func TestManifestValidate(t *testing.T) {
	t.Parallel()

	if err := sampleManifest().Validate(); err != nil {
		t.Fatalf("Expected sample manifest to be valid, got %v", err)
	}

	cases := map[string]func(m *Manifest){
		"future version":  func(m *Manifest) { m.Version = options.CurrentSchemaVersion + 1 },
		"no segments":     func(m *Manifest) { m.Segments = nil },
		"head not oldest": func(m *Manifest) { m.Head.Seq = 4 },
		"tail mismatch":   func(m *Manifest) { m.Tail.Offset = 41 },
		"head past end":   func(m *Manifest) { m.Head.Offset = 1<<20 + 1 },
		"unknown codec":   func(m *Manifest) { m.Compression = "zip" },
		"missing prefix":  func(m *Manifest) { m.Prefix = "" },
		"tail not last":   func(m *Manifest) { m.Tail.Seq = 4 },
		"negative head":   func(m *Manifest) { m.Head.Offset = -1 },
		"zero version":    func(m *Manifest) { m.Version = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := sampleManifest()
			mutate(m)
			if err := m.Validate(); !errors.Is(err, pqerrors.CorruptState) {
				t.Errorf("Expected CorruptState, got %v", err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()

	if _, err := Load(dir, log); !errors.Is(err, pqerrors.NotFound) {
		t.Fatalf("Expected NotFound for empty directory, got %v", err)
	}

	ok, err := Exists(dir)
	if err != nil || ok {
		t.Fatalf("Expected no manifest, got %v (%v)", ok, err)
	}

	want := sampleManifest()
	if err := Save(dir, want); err != nil {
		t.Fatal(err)
	}

	got, err := Load(dir, log)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	if _, err := os.Stat(filepath.Join(dir, TempFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no temporary file after save, got %v", err)
	}

	if err := Remove(dir); err != nil {
		t.Fatal(err)
	}
	if ok, _ := Exists(dir); ok {
		t.Error("Expected manifest to be removed")
	}
}

func TestLoadRecoversInterruptedSave(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	t.Run("temporary file alone is promoted", func(t *testing.T) {
		dir := t.TempDir()
		data, err := sampleManifest().MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, TempFileName), data, 0644); err != nil {
			t.Fatal(err)
		}

		m, err := Load(dir, log)
		if err != nil {
			t.Fatal(err)
		}
		if m.NextSeq != 6 {
			t.Errorf("Expected promoted manifest, got %+v", m)
		}
		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("Expected temporary file renamed into place: %v", err)
		}
	})

	t.Run("torn temporary file beside a live manifest is discarded", func(t *testing.T) {
		dir := t.TempDir()
		want := sampleManifest()
		if err := Save(dir, want); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, TempFileName), []byte("PQMF\x01"), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := Load(dir, log)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected live manifest, got %+v", got)
		}
		if _, err := os.Stat(filepath.Join(dir, TempFileName)); !os.IsNotExist(err) {
			t.Errorf("Expected temporary file removed, got %v", err)
		}
	})

	t.Run("torn temporary file alone is corrupt", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, TempFileName), []byte("PQ"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(dir, log); !errors.Is(err, pqerrors.CorruptState) {
			t.Errorf("Expected CorruptState, got %v", err)
		}
	})
}
