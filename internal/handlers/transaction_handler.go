package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
)

// PaymentQueue is the part of the queue service the API drives
type PaymentQueue interface {
	Enqueue(ctx context.Context, intent models.PaymentIntent) (*models.PendingTransaction, error)
	List(ctx context.Context) []models.PendingTransaction
	Get(ctx context.Context, id string) (*models.PendingTransaction, error)
	Retry(ctx context.Context, id string) (services.Report, error)
	ProcessPending(ctx context.Context, trigger services.Trigger) (services.Report, error)
}

type Exporter interface {
	Export(ctx context.Context, format services.ExportFormat) (*services.Export, error)
}

type HistoryLister interface {
	List(ctx context.Context, transactionID string) ([]models.StateTransition, error)
}

type LedgerLookup interface {
	Lookup(ctx context.Context, hash string) (found, successful bool, err error)
}

type TransactionHandler struct {
	queue     PaymentQueue
	export    Exporter
	history   HistoryLister
	ledger    LedgerLookup
	validator *services.ValidationHelper
}

// NewTransactionHandler wires the transaction routes. history may be nil when
// no database is configured.
func NewTransactionHandler(queue PaymentQueue, export Exporter, history HistoryLister, ledger LedgerLookup) *TransactionHandler {
	return &TransactionHandler{
		queue:     queue,
		export:    export,
		history:   history,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

func (h *TransactionHandler) Routes(r chi.Router) {
	r.Post("/transactions", h.CreateTransaction)
	r.Get("/transactions", h.ListTransactions)
	r.Post("/transactions/process", h.ProcessPending)
	r.Get("/transactions/export", h.ExportTransactions)
	r.Get("/transactions/{id}", h.GetTransaction)
	r.Post("/transactions/{id}/retry", h.RetryTransaction)
	r.Get("/transactions/{id}/history", h.GetHistory)
	r.Get("/transactions/{id}/verify", h.VerifyTransaction)
}

// CreateTransaction queues a manually entered payment
// @Summary Queue payment
// @Description Store a payment intent for submission when connectivity allows
// @Tags Transactions
// @Accept json
// @Produce json
// @Param request body models.PaymentIntent true "Payment intent"
// @Success 201 {object} models.PendingTransaction
// @Failure 400 {object} services.ErrorResponse
// @Router /transactions [post]
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var intent models.PaymentIntent
	if !decodeBody(w, r, h.validator, &intent) {
		return
	}
	if intent.SourceFormat == "" {
		intent.SourceFormat = "manual"
	}

	tx, err := h.queue.Enqueue(r.Context(), intent)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions returns every queued record, optionally filtered by status
// @Summary List transactions
// @Tags Transactions
// @Produce json
// @Param status query string false "pending, completed or failed"
// @Success 200 {object} object{transactions=[]models.PendingTransaction,count=int}
// @Router /transactions [get]
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs := h.queue.List(r.Context())

	if status := models.TransactionStatus(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			services.SendErrorResponse(w, "Unknown status filter", http.StatusBadRequest, nil)
			return
		}
		filtered := make([]models.PendingTransaction, 0, len(txs))
		for _, tx := range txs {
			if tx.Status == status {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetTransaction
// @Summary Get transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.PendingTransaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{id} [get]
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// RetryTransaction submits one pending or failed record now
// @Summary Retry transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} object{report=services.Report,transaction=models.PendingTransaction}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /transactions/{id}/retry [post]
func (h *TransactionHandler) RetryTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.queue.Retry(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	tx, err := h.queue.Get(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":      report,
		"transaction": tx,
	})
}

// ProcessPending runs a sweep on request
// @Summary Process queue
// @Tags Transactions
// @Produce json
// @Success 200 {object} services.Report
// @Router /transactions/process [post]
func (h *TransactionHandler) ProcessPending(w http.ResponseWriter, r *http.Request) {
	report, err := h.queue.ProcessPending(r.Context(), services.TriggerUser)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ExportTransactions downloads the queue as CSV or JSON
// @Summary Export transactions
// @Tags Transactions
// @Produce text/csv,application/json
// @Param format query string false "csv (default) or json"
// @Success 200 {file} file
// @Router /transactions/export [get]
func (h *TransactionHandler) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	format, err := services.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	out, err := h.export.Export(r.Context(), format)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Body)))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Body)
}

// GetHistory
// @Summary Transaction status history
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} object{history=[]models.StateTransition}
// @Failure 501 {object} services.ErrorResponse
// @Router /transactions/{id}/history [get]
func (h *TransactionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		services.SendErrorResponse(w, "Transition history is not enabled", http.StatusNotImplemented, nil)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.queue.Get(r.Context(), id); err != nil {
		sendServiceError(w, err)
		return
	}

	history, err := h.history.List(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// VerifyTransaction checks a completed record against the ledger
// @Summary Verify transaction
// @Tags Transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} object{verified=bool,found=bool,successful=bool,txHash=string}
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{id}/verify [get]
func (h *TransactionHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	hash := tx.LedgerReference
	if hash == "" && len(tx.SubmissionHashes) > 0 {
		hash = tx.SubmissionHashes[len(tx.SubmissionHashes)-1]
	}
	if hash == "" {
		services.SendErrorResponse(w, "Transaction has not been submitted", http.StatusConflict, nil)
		return
	}

	found, successful, err := h.ledger.Lookup(r.Context(), hash)
	if err != nil {
		log.WithError(err).WithField("tx_id", tx.ID).Warn("ledger lookup failed")
		services.SendErrorResponse(w, "Ledger unavailable", http.StatusBadGateway, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":   found && successful,
		"found":      found,
		"successful": successful,
		"txHash":     hash,
	})
}
