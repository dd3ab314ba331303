// Package tokenstore holds the access/refresh token pair for one blog
// backend and mirrors it into durable storage so a restart does not force a
// new login.
package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by a Backend when no credentials are persisted.
var ErrNotFound = errors.New("no persisted credentials")

// persistTimeout bounds every backend call made by the store.
const persistTimeout = 5 * time.Second

// Credentials is the token pair. An empty string means the token is absent.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticated reports whether an access token is present.
func (c Credentials) Authenticated() bool {
	return c.AccessToken != ""
}

// Backend is durable storage for a single profile's credentials.
type Backend interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Delete(ctx context.Context) error
}

// Store is the single source of truth for the current credentials.
type Store struct {
	mu      sync.RWMutex
	creds   Credentials
	backend Backend
	logger  *zap.Logger

	// OnPersistError, if set, is called when the backend rejects a write.
	// The in-memory value has already been updated at that point.
	OnPersistError func(err error)
}

// Open creates a Store seeded from backend. Load failures are logged and
// leave the store empty.
func Open(ctx context.Context, backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == nil {
		backend = NewMemoryBackend()
	}
	s := &Store{backend: backend, logger: logger}

	loadCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	creds, err := backend.Load(loadCtx)
	switch {
	case err == nil:
		s.creds = creds
		logger.Debug("tokenstore.loaded", zap.Bool("authenticated", creds.Authenticated()))
	case errors.Is(err, ErrNotFound):
		logger.Debug("tokenstore.empty")
	default:
		logger.Warn("tokenstore.load_failed", zap.Error(err))
	}
	return s
}

// Get returns the current credentials.
func (s *Store) Get() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Set replaces every non-empty field of creds and persists the result.
func (s *Store) Set(ctx context.Context, creds Credentials) {
	s.mu.Lock()
	if creds.AccessToken != "" {
		s.creds.AccessToken = creds.AccessToken
	}
	if creds.RefreshToken != "" {
		s.creds.RefreshToken = creds.RefreshToken
	}
	snapshot := s.creds
	s.mu.Unlock()

	s.persist(ctx, func(ctx context.Context) error {
		return s.backend.Save(ctx, snapshot)
	})
}

// Clear drops both tokens and removes the persisted record.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()

	s.persist(ctx, s.backend.Delete)
}

func (s *Store) persist(ctx context.Context, op func(context.Context) error) {
	// Detached from the caller's cancellation: a cancelled request must not
	// leave disk and memory disagreeing.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := op(opCtx); err != nil {
		s.logger.Warn("tokenstore.persist_failed", zap.Error(err))
		if s.OnPersistError != nil {
			s.OnPersistError(err)
		}
	}
}
