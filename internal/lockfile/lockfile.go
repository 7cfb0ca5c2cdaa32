// Package lockfile serializes writers of a shared file across processes
// with advisory locks.
package lockfile

import (
	"fmt"
	"os"
)

// AppendLocked appends data to path under an exclusive lock, creating the
// file if needed.
func AppendLocked(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G302 G304 - caller-owned log file
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := Lock(f); err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer func() { _ = Unlock(f) }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
