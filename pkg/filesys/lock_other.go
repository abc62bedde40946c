//go:build !unix

package filesys

import (
	"os"
	"sync"
)

// Without flock the lock only excludes handles within the same process.
var (
	heldMu sync.Mutex
	held   = map[string]struct{}{}
)

func lockFile(file *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()

	if _, ok := held[file.Name()]; ok {
		return ErrLockHeld
	}
	held[file.Name()] = struct{}{}
	return nil
}

func unlockFile(file *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()

	delete(held, file.Name())
	return nil
}
