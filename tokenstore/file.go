package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// fileRecord is one profile's entry in the token file.
type fileRecord struct {
	Credentials
	Profile   string    `json:"profile"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileMap is the on-disk layout. Several backends (profiles) share one file.
type fileMap struct {
	Tokens map[string]*fileRecord `json:"tokens"` // key = profile
}

// FileBackend persists credentials in a JSON file, keyed by profile
// (normally the server URL).
type FileBackend struct {
	path    string
	profile string
}

func NewFileBackend(path, profile string) *FileBackend {
	return &FileBackend{path: path, profile: profile}
}

// Path returns the token file location.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Load(_ context.Context) (Credentials, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, err
	}

	var m fileMap
	if err := json.Unmarshal(data, &m); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse token file: %w", err)
	}

	rec, ok := m.Tokens[f.profile]
	if !ok || rec == nil {
		return Credentials{}, ErrNotFound
	}
	return rec.Credentials, nil
}

// Save merges creds into the file, preserving other profiles.
func (f *FileBackend) Save(_ context.Context, creds Credentials) error {
	return f.update(func(m *fileMap) {
		m.Tokens[f.profile] = &fileRecord{
			Credentials: creds,
			Profile:     f.profile,
			UpdatedAt:   time.Now().UTC(),
		}
	})
}

func (f *FileBackend) Delete(_ context.Context) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return f.update(func(m *fileMap) {
		delete(m.Tokens, f.profile)
	})
}

// update applies mutate to the current file content under the file lock and
// writes the result atomically.
func (f *FileBackend) update(mutate func(m *fileMap)) (err error) {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	var m fileMap
	if existing, readErr := os.ReadFile(f.path); readErr == nil {
		// A corrupt file is replaced rather than blocking every later write.
		_ = json.Unmarshal(existing, &m)
	}
	if m.Tokens == nil {
		m.Tokens = make(map[string]*fileRecord)
	}

	mutate(&m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
