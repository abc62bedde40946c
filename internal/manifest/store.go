package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/persistq/pkg/errors"
	"github.com/iamBelugaa/persistq/pkg/filesys"
)

// Save atomically replaces the manifest in dir: the encoded manifest is written to a
// temporary file, synced, renamed over the live file, and the directory entry is synced.
func Save(dir string, m *Manifest) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return errors.NewStorageError(err, errors.ErrRecordSerialization, "Failed to encode manifest")
	}

	tmpPath := filepath.Join(dir, TempFileName)
	path := filepath.Join(dir, FileName)

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.ClassifyFileOpenError(err, tmpPath, TempFileName).WithCode(errors.ErrManifestWriteFailed)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return writeFailed(err, "Failed to write manifest", tmpPath)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return writeFailed(err, "Failed to sync manifest", tmpPath)
	}

	if err := file.Close(); err != nil {
		return writeFailed(err, "Failed to close manifest", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return writeFailed(err, "Failed to replace manifest", path)
	}

	if err := filesys.SyncDir(dir); err != nil {
		return writeFailed(err, "Failed to sync queue directory", dir)
	}
	return nil
}

func writeFailed(err error, msg, path string) *errors.StorageError {
	return errors.ClassifyWriteError(err, errors.ErrManifestWriteFailed, msg).WithPath(path)
}

// Load reads and validates the manifest in dir.
//
// A missing manifest is reported as NotFound unless a complete temporary file is present, in
// which case the first Save was interrupted before its rename and the temporary file is
// promoted. A temporary file next to a live manifest belongs to a Save that never completed
// and is discarded.
func Load(dir string, log *zap.SugaredLogger) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	tmpPath := filepath.Join(dir, TempFileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if rmErr := os.Remove(tmpPath); rmErr == nil {
			log.Warnw("Discarded partially written manifest", "path", tmpPath)
		}

	case os.IsNotExist(err):
		data, err = os.ReadFile(tmpPath)
		if os.IsNotExist(err) {
			return nil, errors.NewStorageError(nil, errors.ErrManifestMissing, "Queue manifest not found").
				WithPath(path).WithFileName(FileName)
		}
		if err != nil {
			return nil, errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to read manifest").WithPath(tmpPath)
		}

		var m Manifest
		if err := m.UnmarshalBinary(data); err != nil {
			return nil, err
		}

		if err := os.Rename(tmpPath, path); err != nil {
			return nil, writeFailed(err, "Failed to promote manifest", path)
		}
		if err := filesys.SyncDir(dir); err != nil {
			return nil, writeFailed(err, "Failed to sync queue directory", dir)
		}
		log.Warnw("Promoted manifest from interrupted save", "path", path)

	default:
		return nil, errors.NewStorageError(err, errors.ErrIOReadFailed, "Failed to read manifest").WithPath(path)
	}

	m := &Manifest{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Exists reports whether dir holds a manifest or a temporary manifest.
func Exists(dir string) (bool, error) {
	for _, name := range []string{FileName, TempFileName} {
		ok, err := filesys.Exists(filepath.Join(dir, name))
		if err != nil {
			return false, errors.NewStorageError(err, errors.ErrIOReadFailed, fmt.Sprintf("Failed to stat %s", name)).
				WithPath(dir)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes the manifest files in dir.
func Remove(dir string) error {
	var err error
	for _, name := range []string{FileName, TempFileName} {
		path := filepath.Join(dir, name)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, errors.NewStorageError(rmErr, errors.ErrIODeleteFailed, "Failed to delete manifest").
				WithPath(path))
		}
	}
	return err
}
