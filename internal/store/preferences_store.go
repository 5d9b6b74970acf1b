package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/offline-wallet/internal/models"
)

type PreferencesStore struct {
	rdb  *redis.Client
	keys keyspace
}

func NewPreferencesStore(rdb *redis.Client, prefix string) *PreferencesStore {
	return &PreferencesStore{rdb: rdb, keys: newKeyspace(prefix)}
}

// Get returns the saved preferences, or the defaults when nothing is saved
func (s *PreferencesStore) Get(ctx context.Context) (models.NotificationPreferences, error) {
	raw, err := s.rdb.Get(ctx, s.keys.preferences()).Bytes()
	if err == redis.Nil {
		return models.DefaultNotificationPreferences(), nil
	}
	if err != nil {
		return models.DefaultNotificationPreferences(), fmt.Errorf("failed to read notification preferences: %w", err)
	}

	prefs := models.DefaultNotificationPreferences()
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return models.DefaultNotificationPreferences(), fmt.Errorf("corrupt notification preferences: %w", err)
	}
	return prefs, nil
}

func (s *PreferencesStore) Save(ctx context.Context, prefs models.NotificationPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keys.preferences(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save notification preferences: %w", err)
	}
	return nil
}
