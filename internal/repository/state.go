package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"csfdsync/internal/models"
)

const (
	walkerStatePrefix  = "walker:state:"
	syncSettingsPrefix = "sync:settings:"
)

// StateStore persists the small string-keyed blobs that live next to the
// rating records: resumable walker progress and the cloud-sync settings.
type StateStore interface {
	SaveWalkerState(ctx context.Context, state *models.WalkerState) error
	LoadWalkerState(ctx context.Context, userSlug string) (*models.WalkerState, error)
	ClearWalkerState(ctx context.Context, userSlug string) error
	SaveSyncSettings(ctx context.Context, userSlug string, settings *models.SyncSettings) error
	LoadSyncSettings(ctx context.Context, userSlug string) (*models.SyncSettings, error)
}

// RedisStateStore keeps the blobs in Redis as JSON values, one key per user.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func (s *RedisStateStore) SaveWalkerState(ctx context.Context, state *models.WalkerState) error {
	return s.save(ctx, walkerStatePrefix+state.UserSlug, state)
}

// LoadWalkerState returns nil without error when no walk is in progress.
func (s *RedisStateStore) LoadWalkerState(ctx context.Context, userSlug string) (*models.WalkerState, error) {
	var state models.WalkerState
	found, err := s.load(ctx, walkerStatePrefix+userSlug, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

func (s *RedisStateStore) ClearWalkerState(ctx context.Context, userSlug string) error {
	if err := s.rdb.Del(ctx, walkerStatePrefix+userSlug).Err(); err != nil {
		return storageErr("clear walker state", err)
	}
	return nil
}

func (s *RedisStateStore) SaveSyncSettings(ctx context.Context, userSlug string, settings *models.SyncSettings) error {
	return s.save(ctx, syncSettingsPrefix+userSlug, settings)
}

// LoadSyncSettings returns zero-valued settings when none were saved yet.
func (s *RedisStateStore) LoadSyncSettings(ctx context.Context, userSlug string) (*models.SyncSettings, error) {
	var settings models.SyncSettings
	if _, err := s.load(ctx, syncSettingsPrefix+userSlug, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *RedisStateStore) save(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return storageErr("save "+key, err)
	}
	return nil
}

func (s *RedisStateStore) load(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, storageErr("load "+key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}
