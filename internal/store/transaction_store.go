package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound    = errors.New("transaction not found")
	ErrDuplicateID = errors.New("transaction id already exists")
)

// optimistic transactions give up after this many WATCH conflicts
const maxWatchRetries = 10

// errNoChange aborts a WATCH callback without writing
var errNoChange = errors.New("no change")

var log = logrus.WithField("component", "store")

// TransactionStore persists queued payments in Redis. Each record is its own
// key so concurrent mutations of different records never touch each other.
type TransactionStore struct {
	rdb  *redis.Client
	keys keyspace
	now  func() time.Time
}

func NewTransactionStore(rdb *redis.Client, prefix string) *TransactionStore {
	return &TransactionStore{
		rdb:  rdb,
		keys: newKeyspace(prefix),
		now:  time.Now,
	}
}

// Append adds a new record at the end of the queue
func (s *TransactionStore) Append(ctx context.Context, tx *models.PendingTransaction) error {
	if tx == nil || tx.ID == "" {
		return errors.New("transaction id required")
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to serialize transaction %s: %w", tx.ID, err)
	}

	key := s.keys.record(tx.ID)
	err = s.watch(ctx, key, func(rtx *redis.Tx) error {
		exists, err := rtx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicateID
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.RPush(ctx, s.keys.index(), tx.ID)
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, tx.ID)
		}
		return fmt.Errorf("failed to append transaction %s: %w", tx.ID, err)
	}

	log.WithField("tx_id", tx.ID).Debug("transaction appended")
	return nil
}

// ListAll returns every record in insertion order. It never fails: a storage
// error yields an empty list and a corrupt record is skipped.
func (s *TransactionStore) ListAll(ctx context.Context) []models.PendingTransaction {
	ids, err := s.rdb.LRange(ctx, s.keys.index(), 0, -1).Result()
	if err != nil {
		log.WithError(err).Error("failed to read transaction index")
		return []models.PendingTransaction{}
	}
	if len(ids) == 0 {
		return []models.PendingTransaction{}
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.record(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		log.WithError(err).Error("failed to read transactions")
		return []models.PendingTransaction{}
	}

	out := make([]models.PendingTransaction, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a record
			continue
		}
		var tx models.PendingTransaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			log.WithError(err).WithField("tx_id", ids[i]).Error("skipping corrupt transaction record")
			continue
		}
		out = append(out, tx)
	}
	return out
}

// Get returns a single record
func (s *TransactionStore) Get(ctx context.Context, id string) (*models.PendingTransaction, error) {
	data, err := s.rdb.Get(ctx, s.keys.record(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", id, err)
	}

	var tx models.PendingTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("corrupt transaction %s: %w", id, err)
	}
	return &tx, nil
}

// UpdateStatus applies a status transition. Unknown ids and completed records
// are left alone without error.
func (s *TransactionStore) UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate) error {
	_, _, err := s.Transition(ctx, id, upd)
	return err
}

// Transition is UpdateStatus that also reports the prior status and whether
// the update was written.
func (s *TransactionStore) Transition(ctx context.Context, id string, upd models.StatusUpdate) (models.TransactionStatus, bool, error) {
	if !upd.Status.Valid() {
		return "", false, fmt.Errorf("invalid status %q", upd.Status)
	}

	var from models.TransactionStatus
	applied, err := s.mutate(ctx, id, func(tx *models.PendingTransaction) bool {
		if tx.Status == models.StatusCompleted {
			return false
		}
		from = tx.Status
		tx.Status = upd.Status
		tx.LedgerReference = ""
		tx.ErrorDetail = ""

		switch upd.Status {
		case models.StatusCompleted:
			tx.LedgerReference = upd.LedgerReference
			completedAt := s.now().UnixMilli()
			tx.CompletedAt = &completedAt
		case models.StatusFailed:
			tx.ErrorDetail = upd.ErrorDetail
		}
		return true
	})
	if err != nil {
		return "", false, err
	}
	return from, applied, nil
}

// RecordSubmission remembers a signed envelope before it is sent, so a later
// sweep can ask the ledger whether it landed.
func (s *TransactionStore) RecordSubmission(ctx context.Context, id string, sub models.Submission) error {
	applied, err := s.mutate(ctx, id, func(tx *models.PendingTransaction) bool {
		if tx.Status == models.StatusCompleted {
			return false
		}
		tx.Attempts++
		if !sub.ValidUntil.IsZero() {
			if tx.SubmissionExpiry == nil {
				tx.SubmissionExpiry = make(map[string]int64)
			}
			tx.SubmissionExpiry[sub.Hash] = sub.ValidUntil.UnixMilli()
		}
		for _, h := range tx.SubmissionHashes {
			if h == sub.Hash {
				return true
			}
		}
		tx.SubmissionHashes = append(tx.SubmissionHashes, sub.Hash)
		return true
	})
	if err != nil {
		return err
	}
	if !applied {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
	}
	return nil
}

// DropSubmissions forgets envelopes that can never land. Completed records
// keep their hashes.
func (s *TransactionStore) DropSubmissions(ctx context.Context, id string, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		drop[h] = struct{}{}
	}

	_, err := s.mutate(ctx, id, func(tx *models.PendingTransaction) bool {
		if tx.Status == models.StatusCompleted {
			return false
		}
		kept := tx.SubmissionHashes[:0]
		for _, h := range tx.SubmissionHashes {
			if _, gone := drop[h]; gone {
				delete(tx.SubmissionExpiry, h)
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) == len(tx.SubmissionHashes) {
			return false
		}
		tx.SubmissionHashes = kept
		if len(tx.SubmissionHashes) == 0 {
			tx.SubmissionHashes = nil
			tx.SubmissionExpiry = nil
		}
		return true
	})
	return err
}

// mutate reads a record, lets fn edit it, and writes it back inside a
// WATCH/MULTI block. It reports whether a write happened.
func (s *TransactionStore) mutate(ctx context.Context, id string, fn func(*models.PendingTransaction) bool) (bool, error) {
	key := s.keys.record(id)
	err := s.watch(ctx, key, func(rtx *redis.Tx) error {
		data, err := rtx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errNoChange
		}
		if err != nil {
			return err
		}

		var tx models.PendingTransaction
		if err := json.Unmarshal(data, &tx); err != nil {
			return fmt.Errorf("corrupt transaction %s: %w", id, err)
		}
		if !fn(&tx) {
			return errNoChange
		}

		out, err := json.Marshal(&tx)
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	})

	switch {
	case errors.Is(err, errNoChange):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return true, nil
}

func (s *TransactionStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%s: %w after %d attempts", key, redis.TxFailedErr, maxWatchRetries)
}
