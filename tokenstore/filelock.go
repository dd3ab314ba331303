package tokenstore

import (
	"fmt"
	"os"
	"time"
)

const (
	lockMaxRetries = 50
	lockRetryDelay = 100 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

// fileLock is an exclusive lock held through a sibling ".lock" file.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock locks filePath across processes. A lock file older than
// lockStaleAfter is assumed abandoned and removed.
func acquireFileLock(filePath string) (*fileLock, error) {
	lockPath := filePath + ".lock"

	for range lockMaxRetries {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID helps when debugging a stuck lock.
			fmt.Fprintf(lockFile, "%d", os.Getpid())
			return &fileLock{lockFile: lockFile, lockPath: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(lockMaxRetries)*lockRetryDelay,
	)
}

func (fl *fileLock) release() error {
	if fl.lockFile != nil {
		fl.lockFile.Close()
	}
	return os.Remove(fl.lockPath)
}
