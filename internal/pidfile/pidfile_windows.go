//go:build windows

package pidfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// the first byte stands in for the whole file
func lockFile(file *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(file.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		return fmt.Errorf("failed to lock PID file: %w", err)
	}
	return nil
}

func unlockFile(file *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(file.Fd()), 0, 1, 0, ol)
}
