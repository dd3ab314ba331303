package tokenstore

import (
	"context"
	"sync"
)

// MemoryBackend keeps credentials in process memory. Two stores opened on
// the same MemoryBackend behave like two runs sharing a token file.
type MemoryBackend struct {
	mu    sync.Mutex
	creds *Credentials
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(_ context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return Credentials{}, ErrNotFound
	}
	return *m.creds, nil
}

func (m *MemoryBackend) Save(_ context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}
