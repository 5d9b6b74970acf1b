package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHistoryService(db)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("inserts transition", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO payment_states").
			WithArgs("tx_1", "pending", "completed", "hash", "", "retry", at).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.Record(context.Background(), models.StateTransition{
			TransactionID:   "tx_1",
			FromStatus:      models.StatusPending,
			ToStatus:        models.StatusCompleted,
			LedgerReference: "hash",
			Trigger:         "retry",
			CreatedAt:       at,
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO payment_states").
			WillReturnError(errors.New("connection lost"))

		err := service.Record(context.Background(), models.StateTransition{TransactionID: "tx_1", ToStatus: models.StatusFailed, CreatedAt: at})
		assert.ErrorContains(t, err, "connection lost")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryService_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewHistoryService(db)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{"id", "transaction_id", "from_status", "to_status", "ledger_reference", "detail", "trigger", "created_at"}

	t.Run("returns rows in order", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, transaction_id, from_status, to_status, ledger_reference, detail, trigger, created_at FROM payment_states WHERE transaction_id = \\$1").
			WithArgs("tx_1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(1, "tx_1", "", "pending", "", "", "enqueue", at).
				AddRow(2, "tx_1", "pending", "failed", "", "timeout", "periodic", at.Add(time.Minute)))

		history, err := service.List(context.Background(), "tx_1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, models.StatusPending, history[0].ToStatus)
		assert.Equal(t, models.StatusFailed, history[1].ToStatus)
		assert.Equal(t, "timeout", history[1].Detail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM payment_states").
			WithArgs("tx_none").
			WillReturnRows(sqlmock.NewRows(columns))

		history, err := service.List(context.Background(), "tx_none")
		require.NoError(t, err)
		assert.NotNil(t, history)
		assert.Empty(t, history)
	})

	t.Run("query error", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM payment_states").
			WillReturnError(errors.New("relation does not exist"))

		_, err := service.List(context.Background(), "tx_1")
		assert.Error(t, err)
	})
}
