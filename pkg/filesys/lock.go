package filesys

import (
	"os"
	"path/filepath"
)

// Lock is an advisory, exclusive lock on a directory, held through a LOCK file inside it.
type Lock struct {
	path string
	file *os.File
}

// LockDir acquires the lock on dirPath without blocking. ErrLockHeld is returned
// when another handle, in this process or another one, already holds it.
func LockDir(dirPath string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	if err := lockFile(file); err != nil {
		file.Close()
		return nil, err
	}

	return &Lock{path: path, file: file}, nil
}

// Path returns the location of the LOCK file.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The LOCK file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
