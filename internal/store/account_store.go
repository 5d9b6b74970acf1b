package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/offline-wallet/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountStore keeps saved accounts in a hash keyed by public key, plus the
// currently active account.
type AccountStore struct {
	rdb  *redis.Client
	keys keyspace
}

func NewAccountStore(rdb *redis.Client, prefix string) *AccountStore {
	return &AccountStore{rdb: rdb, keys: newKeyspace(prefix)}
}

// List returns saved accounts, oldest first
func (s *AccountStore) List(ctx context.Context) ([]models.Account, error) {
	values, err := s.rdb.HGetAll(ctx, s.keys.accounts()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}

	accounts := make([]models.Account, 0, len(values))
	for pk, raw := range values {
		var acct models.Account
		if err := json.Unmarshal([]byte(raw), &acct); err != nil {
			log.WithError(err).WithField("public_key", pk).Warn("skipping corrupt account record")
			continue
		}
		accounts = append(accounts, acct)
	}

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].AddedAt != accounts[j].AddedAt {
			return accounts[i].AddedAt < accounts[j].AddedAt
		}
		return accounts[i].PublicKey < accounts[j].PublicKey
	})
	return accounts, nil
}

func (s *AccountStore) Get(ctx context.Context, publicKey string) (*models.Account, error) {
	raw, err := s.rdb.HGet(ctx, s.keys.accounts(), publicKey).Result()
	if err == redis.Nil {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account %s: %w", publicKey, err)
	}

	var acct models.Account
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		return nil, fmt.Errorf("corrupt account %s: %w", publicKey, err)
	}
	return &acct, nil
}

// Save inserts or replaces an account
func (s *AccountStore) Save(ctx context.Context, acct models.Account) error {
	acct.IsActive = false
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.keys.accounts(), acct.PublicKey, data).Err(); err != nil {
		return fmt.Errorf("failed to save account %s: %w", acct.PublicKey, err)
	}
	return nil
}

// Delete removes an account and reports whether it existed
func (s *AccountStore) Delete(ctx context.Context, publicKey string) (bool, error) {
	n, err := s.rdb.HDel(ctx, s.keys.accounts(), publicKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete account %s: %w", publicKey, err)
	}
	return n > 0, nil
}

// Active returns the active account, or nil when none is set
func (s *AccountStore) Active(ctx context.Context) (*models.Account, error) {
	raw, err := s.rdb.Get(ctx, s.keys.activeAccount()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active account: %w", err)
	}

	var acct models.Account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("corrupt active account: %w", err)
	}
	acct.IsActive = true
	return &acct, nil
}

func (s *AccountStore) SetActive(ctx context.Context, acct models.Account) error {
	acct.IsActive = true
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keys.activeAccount(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set active account: %w", err)
	}
	return nil
}

func (s *AccountStore) ClearActive(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.keys.activeAccount()).Err(); err != nil {
		return fmt.Errorf("failed to clear active account: %w", err)
	}
	return nil
}
