package btree

import (
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// sidecarLock wraps an exclusive advisory lock on a file's sidecar lock
// file. The lock file is created on first mutation and is never truncated
// or removed, matching the format's "never renamed or deleted" contract.
type sidecarLock struct {
	fl *flock.Flock
}

// sidecarPath returns "<dir>/.<stem>.lock" for a BTreeStore data file path.
func sidecarPath(dataPath string) string {
	dir := filepath.Dir(dataPath)
	base := filepath.Base(dataPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "."+stem+".lock")
}

// acquireLock makes a single non-blocking attempt to take the exclusive
// sidecar lock, returning ErrLockBusy if another holder already has it.
func acquireLock(dataPath string) (*sidecarLock, error) {
	fl := flock.New(sidecarPath(dataPath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return &sidecarLock{fl: fl}, nil
}

func (l *sidecarLock) release() error {
	return l.fl.Unlock()
}

// isLockFile reports whether name looks like a BTreeStore sidecar lock
// file (a dot-prefixed name ending in ".lock").
func isLockFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".lock")
}
