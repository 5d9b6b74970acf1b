package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
)

type AccountManager interface {
	List(ctx context.Context) ([]models.Account, error)
	Add(ctx context.Context, req services.AddAccountRequest) (*models.Account, error)
	Rename(ctx context.Context, publicKey string, req services.RenameAccountRequest) (*models.Account, error)
	Remove(ctx context.Context, publicKey string) error
	SetActive(ctx context.Context, publicKey string) (*models.Account, error)
	Active(ctx context.Context) (*models.Account, error)
	Balance(ctx context.Context, publicKey string) (string, error)
}

type AccountHandler struct {
	accounts  AccountManager
	validator *services.ValidationHelper
}

func NewAccountHandler(accounts AccountManager) *AccountHandler {
	return &AccountHandler{accounts: accounts, validator: services.NewValidationHelper()}
}

func (h *AccountHandler) Routes(r chi.Router) {
	r.Get("/accounts", h.ListAccounts)
	r.Post("/accounts", h.AddAccount)
	r.Get("/accounts/active", h.GetActive)
	r.Put("/accounts/active", h.SetActive)
	r.Put("/accounts/{publicKey}", h.RenameAccount)
	r.Delete("/accounts/{publicKey}", h.RemoveAccount)
	r.Get("/accounts/{publicKey}/balance", h.GetBalance)
}

// ListAccounts
// @Summary List saved accounts
// @Tags Accounts
// @Produce json
// @Success 200 {object} object{accounts=[]models.Account}
// @Router /accounts [get]
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// AddAccount saves an account, optionally with its secret seed
// @Summary Add account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body services.AddAccountRequest true "Account"
// @Success 201 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *AccountHandler) AddAccount(w http.ResponseWriter, r *http.Request) {
	var req services.AddAccountRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	acct, err := h.accounts.Add(r.Context(), req)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// RenameAccount
// @Summary Rename account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param publicKey path string true "Account public key"
// @Param request body services.RenameAccountRequest true "New name"
// @Success 200 {object} models.Account
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{publicKey} [put]
func (h *AccountHandler) RenameAccount(w http.ResponseWriter, r *http.Request) {
	var req services.RenameAccountRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	acct, err := h.accounts.Rename(r.Context(), chi.URLParam(r, "publicKey"), req)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// RemoveAccount deletes the account and any stored credential
// @Summary Remove account
// @Tags Accounts
// @Param publicKey path string true "Account public key"
// @Success 204
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{publicKey} [delete]
func (h *AccountHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Remove(r.Context(), chi.URLParam(r, "publicKey")); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetActive
// @Summary Active account
// @Tags Accounts
// @Produce json
// @Success 200 {object} object{account=models.Account}
// @Router /accounts/active [get]
func (h *AccountHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Active(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct})
}

// SetActive selects the account that pays when a record names no source
// @Summary Select active account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body object{publicKey=string} true "Account public key"
// @Success 200 {object} models.Account
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/active [put]
func (h *AccountHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"publicKey" validate:"required,stellar_address"`
	}
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	acct, err := h.accounts.SetActive(r.Context(), req.PublicKey)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetBalance
// @Summary Native balance
// @Tags Accounts
// @Produce json
// @Param publicKey path string true "Account public key"
// @Success 200 {object} object{publicKey=string,balance=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /accounts/{publicKey}/balance [get]
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	publicKey := chi.URLParam(r, "publicKey")

	balance, err := h.accounts.Balance(r.Context(), publicKey)
	if err != nil {
		if isLookupError(err) {
			sendServiceError(w, err)
			return
		}
		log.WithError(err).WithField("public_key", publicKey).Warn("balance lookup failed")
		services.SendErrorResponse(w, "Ledger unavailable", http.StatusBadGateway, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"publicKey": publicKey,
		"balance":   balance,
	})
}
