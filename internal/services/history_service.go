package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ruralpay/offline-wallet/internal/models"
)

// HistoryService appends every status change of a queued payment to
// payment_states. Rows are never updated.
type HistoryService struct {
	db *sql.DB
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) Record(ctx context.Context, t models.StateTransition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_states (transaction_id, from_status, to_status, ledger_reference, detail, trigger, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.TransactionID, string(t.FromStatus), string(t.ToStatus), t.LedgerReference, t.Detail, t.Trigger, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record state transition: %w", err)
	}
	return nil
}

// List returns the transitions of one record, oldest first
func (s *HistoryService) List(ctx context.Context, transactionID string) ([]models.StateTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, from_status, to_status, ledger_reference, detail, trigger, created_at
		FROM payment_states
		WHERE transaction_id = $1
		ORDER BY created_at, id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := []models.StateTransition{}
	for rows.Next() {
		var t models.StateTransition
		var from, to string
		if err := rows.Scan(&t.ID, &t.TransactionID, &from, &to, &t.LedgerReference, &t.Detail, &t.Trigger, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.FromStatus = models.TransactionStatus(from)
		t.ToStatus = models.TransactionStatus(to)
		history = append(history, t)
	}
	return history, rows.Err()
}
