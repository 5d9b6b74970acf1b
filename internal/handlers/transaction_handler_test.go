package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testAddress = keypair.MustRandom().Address()

type staticTransactions []models.PendingTransaction

func (s staticTransactions) ListAll(context.Context) []models.PendingTransaction { return s }

func newTestTransactionHandler(q *MockQueue, history HistoryLister, ledger LedgerLookup) *TransactionHandler {
	export := services.NewExportService(staticTransactions{{ID: "tx_1", Destination: testAddress, Amount: "1", Status: models.StatusPending}}, time.UTC)
	return NewTransactionHandler(q, export, history, ledger)
}

func TestCreateTransaction(t *testing.T) {
	t.Run("queues intent", func(t *testing.T) {
		q := new(MockQueue)
		h := newTestTransactionHandler(q, nil, nil)

		q.On("Enqueue", mock.Anything, models.PaymentIntent{Destination: testAddress, Amount: "5", Memo: "lunch", SourceFormat: "manual"}).
			Return(&models.PendingTransaction{ID: "tx_new", Destination: testAddress, Amount: "5", Status: models.StatusPending}, nil)

		rec := serve(h.Routes, http.MethodPost, "/transactions", `{"destination":"`+testAddress+`","amount":"5","memo":"lunch"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var tx models.PendingTransaction
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
		assert.Equal(t, "tx_new", tx.ID)
		q.AssertExpectations(t)
	})

	t.Run("bad bodies", func(t *testing.T) {
		q := new(MockQueue)
		h := newTestTransactionHandler(q, nil, nil)

		tests := []struct {
			name string
			body string
			want string
		}{
			{"malformed", `{"destination":`, "Invalid request body"},
			{"unknown field", `{"destination":"` + testAddress + `","amount":"1","fee":"1"}`, "Invalid request body"},
			{"two objects", `{"destination":"` + testAddress + `","amount":"1"}{}`, "single JSON object"},
			{"invalid address", `{"destination":"GABC","amount":"1"}`, "Validation failed"},
			{"eight decimals", `{"destination":"` + testAddress + `","amount":"1.00000001"}`, "Validation failed"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := serve(h.Routes, http.MethodPost, "/transactions", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), tt.want)
			})
		}
		q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("memo over 28 bytes", func(t *testing.T) {
		q := new(MockQueue)
		h := newTestTransactionHandler(q, nil, nil)
		q.On("Enqueue", mock.Anything, mock.Anything).Return(nil, services.ErrMemoTooLong)

		rec := serve(h.Routes, http.MethodPost, "/transactions", `{"destination":"`+testAddress+`","amount":"1","memo":"`+strings.Repeat("é", 15)+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		q := new(MockQueue)
		h := newTestTransactionHandler(q, nil, nil)
		q.On("Enqueue", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))

		rec := serve(h.Routes, http.MethodPost, "/transactions", `{"destination":"`+testAddress+`","amount":"1"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "redis down")
	})
}

func TestListTransactions(t *testing.T) {
	q := new(MockQueue)
	h := newTestTransactionHandler(q, nil, nil)
	q.On("List", mock.Anything).Return([]models.PendingTransaction{
		{ID: "a", Status: models.StatusPending},
		{ID: "b", Status: models.StatusCompleted},
		{ID: "c", Status: models.StatusPending},
	})

	rec := serve(h.Routes, http.MethodGet, "/transactions?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Transactions []models.PendingTransaction `json:"transactions"`
		Count        int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "c", body.Transactions[1].ID)

	rec = serve(h.Routes, http.MethodGet, "/transactions?status=lost", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndRetryTransaction(t *testing.T) {
	q := new(MockQueue)
	h := newTestTransactionHandler(q, nil, nil)

	q.On("Get", mock.Anything, "tx_missing").Return(nil, services.ErrNotFound)
	q.On("Get", mock.Anything, "tx_1").Return(&models.PendingTransaction{ID: "tx_1", Status: models.StatusCompleted, LedgerReference: "abc"}, nil)
	q.On("Retry", mock.Anything, "tx_1").Return(services.Report{Trigger: services.TriggerRetry, Processed: 1, Completed: 1}, nil)
	q.On("Retry", mock.Anything, "tx_done").Return(services.Report{}, services.ErrAlreadyCompleted)
	q.On("Retry", mock.Anything, "tx_busy").Return(services.Report{}, services.ErrInFlight)
	q.On("Retry", mock.Anything, "tx_off").Return(services.Report{}, services.ErrOffline)

	assert.Equal(t, http.StatusNotFound, serve(h.Routes, http.MethodGet, "/transactions/tx_missing", "").Code)
	assert.Equal(t, http.StatusOK, serve(h.Routes, http.MethodGet, "/transactions/tx_1", "").Code)

	rec := serve(h.Routes, http.MethodPost, "/transactions/tx_1/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed":1`)
	assert.Contains(t, rec.Body.String(), `"txHash":"abc"`)

	assert.Equal(t, http.StatusConflict, serve(h.Routes, http.MethodPost, "/transactions/tx_done/retry", "").Code)
	assert.Equal(t, http.StatusConflict, serve(h.Routes, http.MethodPost, "/transactions/tx_busy/retry", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h.Routes, http.MethodPost, "/transactions/tx_off/retry", "").Code)
}

func TestProcessPendingEndpoint(t *testing.T) {
	q := new(MockQueue)
	h := newTestTransactionHandler(q, nil, nil)
	q.On("ProcessPending", mock.Anything, services.TriggerUser).
		Return(services.Report{Trigger: services.TriggerUser, Skipped: true, SkipReason: services.SkipInProgress}, nil)

	rec := serve(h.Routes, http.MethodPost, "/transactions/process", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report services.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Skipped)
	assert.Equal(t, services.SkipInProgress, report.SkipReason)
}

func TestExportTransactions(t *testing.T) {
	h := newTestTransactionHandler(new(MockQueue), nil, nil)

	rec := serve(h.Routes, http.MethodGet, "/transactions/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="stellar-transactions-`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Transaction ID,Date,"))

	rec = serve(h.Routes, http.MethodGet, "/transactions/export?format=json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".json")

	rec = serve(h.Routes, http.MethodGet, "/transactions/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetHistory(t *testing.T) {
	q := new(MockQueue)
	q.On("Get", mock.Anything, "tx_1").Return(&models.PendingTransaction{ID: "tx_1"}, nil)

	rec := serve(newTestTransactionHandler(q, nil, nil).Routes, http.MethodGet, "/transactions/tx_1/history", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	history := historyFunc(func(_ context.Context, id string) ([]models.StateTransition, error) {
		return []models.StateTransition{{TransactionID: id, ToStatus: models.StatusPending, Trigger: "enqueue"}}, nil
	})
	rec = serve(newTestTransactionHandler(q, history, nil).Routes, http.MethodGet, "/transactions/tx_1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"to_status":"pending"`)
}

func TestVerifyTransaction(t *testing.T) {
	q := new(MockQueue)
	q.On("Get", mock.Anything, "tx_done").Return(&models.PendingTransaction{ID: "tx_done", LedgerReference: "landed"}, nil)
	q.On("Get", mock.Anything, "tx_new").Return(&models.PendingTransaction{ID: "tx_new"}, nil)
	q.On("Get", mock.Anything, "tx_sent").Return(&models.PendingTransaction{ID: "tx_sent", SubmissionHashes: []string{"old", "broken"}}, nil)

	ledger := lookupFunc(func(_ context.Context, hash string) (bool, bool, error) {
		if hash == "broken" {
			return false, false, errors.New("timeout")
		}
		return hash == "landed", hash == "landed", nil
	})
	h := newTestTransactionHandler(q, nil, ledger)

	rec := serve(h.Routes, http.MethodGet, "/transactions/tx_done/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"verified":true`)

	assert.Equal(t, http.StatusConflict, serve(h.Routes, http.MethodGet, "/transactions/tx_new/verify", "").Code)
	assert.Equal(t, http.StatusBadGateway, serve(h.Routes, http.MethodGet, "/transactions/tx_sent/verify", "").Code)
}
