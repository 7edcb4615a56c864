package memory

import (
	"context"
	"sync"

	"csfdsync/internal/models"
)

// StateStore is the in-memory counterpart of the Redis state store.
type StateStore struct {
	mu       sync.Mutex
	walker   map[string]models.WalkerState
	settings map[string]models.SyncSettings
}

func NewStateStore() *StateStore {
	return &StateStore{
		walker:   map[string]models.WalkerState{},
		settings: map[string]models.SyncSettings{},
	}
}

func (s *StateStore) SaveWalkerState(ctx context.Context, state *models.WalkerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walker[state.UserSlug] = *state
	return nil
}

func (s *StateStore) LoadWalkerState(ctx context.Context, userSlug string) (*models.WalkerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.walker[userSlug]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *StateStore) ClearWalkerState(ctx context.Context, userSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.walker, userSlug)
	return nil
}

func (s *StateStore) SaveSyncSettings(ctx context.Context, userSlug string, settings *models.SyncSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[userSlug] = *settings
	return nil
}

func (s *StateStore) LoadSyncSettings(ctx context.Context, userSlug string) (*models.SyncSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings[userSlug]
	return &settings, nil
}
