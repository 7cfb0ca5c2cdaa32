//go:build !unix && !windows

package lockfile

import "os"

// Lock is a no-op on platforms without file locking.
func Lock(*os.File) error { return nil }

// Unlock is a no-op on platforms without file locking.
func Unlock(*os.File) error { return nil }
