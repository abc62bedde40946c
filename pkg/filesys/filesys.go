package filesys

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// LockFileName is the name of the file LockDir locks inside a directory.
const LockFileName = "LOCK"

var (
	ErrIsNotDir = errors.New("path isn't a directory")
	ErrLockHeld = errors.New("directory is locked by another handle")
)

func CreateDir(dirPath string, permission os.FileMode, force bool) error {
	stat, err := os.Stat(dirPath)
	if !force && !os.IsNotExist(err) {
		return err
	}

	if stat != nil && !stat.IsDir() {
		return ErrIsNotDir
	}

	if err := os.MkdirAll(dirPath, permission); err != nil {
		return err
	}

	return os.Chmod(dirPath, 0755)
}

func ReadDir(dirName string) ([]string, error) {
	files, err := filepath.Glob(dirName)
	return files, err
}

// SyncDir fsyncs a directory so that entries created, renamed or removed inside it are durable.
func SyncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return err
	}

	if err := dir.Sync(); err != nil {
		dir.Close()
		return err
	}
	return dir.Close()
}

// IsEmptyDir reports whether dirPath has no entries. A missing directory counts as empty.
func IsEmptyDir(dirPath string) (bool, error) {
	dir, err := os.Open(dirPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	defer dir.Close()

	stat, err := dir.Stat()
	if err != nil {
		return false, err
	}
	if !stat.IsDir() {
		return false, ErrIsNotDir
	}

	_, err = dir.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// Exists reports whether path exists. Errors other than "not exist" are returned as is.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
