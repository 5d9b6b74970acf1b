package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/services"
	"github.com/stretchr/testify/mock"
)

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, intent models.PaymentIntent) (*models.PendingTransaction, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingTransaction), args.Error(1)
}

func (m *MockQueue) List(ctx context.Context) []models.PendingTransaction {
	args := m.Called(ctx)
	return args.Get(0).([]models.PendingTransaction)
}

func (m *MockQueue) Get(ctx context.Context, id string) (*models.PendingTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PendingTransaction), args.Error(1)
}

func (m *MockQueue) Retry(ctx context.Context, id string) (services.Report, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(services.Report), args.Error(1)
}

func (m *MockQueue) ProcessPending(ctx context.Context, trigger services.Trigger) (services.Report, error) {
	args := m.Called(ctx, trigger)
	return args.Get(0).(services.Report), args.Error(1)
}

type MockAccounts struct {
	mock.Mock
}

func (m *MockAccounts) List(ctx context.Context) ([]models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Account), args.Error(1)
}

func (m *MockAccounts) Add(ctx context.Context, req services.AddAccountRequest) (*models.Account, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccounts) Rename(ctx context.Context, publicKey string, req services.RenameAccountRequest) (*models.Account, error) {
	args := m.Called(ctx, publicKey, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccounts) Remove(ctx context.Context, publicKey string) error {
	return m.Called(ctx, publicKey).Error(0)
}

func (m *MockAccounts) SetActive(ctx context.Context, publicKey string) (*models.Account, error) {
	args := m.Called(ctx, publicKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccounts) Active(ctx context.Context) (*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccounts) Balance(ctx context.Context, publicKey string) (string, error) {
	args := m.Called(ctx, publicKey)
	return args.String(0), args.Error(1)
}

type lookupFunc func(ctx context.Context, hash string) (bool, bool, error)

func (f lookupFunc) Lookup(ctx context.Context, hash string) (bool, bool, error) { return f(ctx, hash) }

type historyFunc func(ctx context.Context, id string) ([]models.StateTransition, error)

func (f historyFunc) List(ctx context.Context, id string) ([]models.StateTransition, error) {
	return f(ctx, id)
}

// serve runs one request through a chi router with the given routes mounted
func serve(routes func(chi.Router), method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	routes(r)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
