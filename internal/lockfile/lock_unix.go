//go:build unix

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// Lock blocks until an exclusive lock on f is held.
func Lock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// Unlock releases the lock on f.
func Unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
