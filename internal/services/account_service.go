package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/store"
	"github.com/sirupsen/logrus"
)

var (
	ErrAccountNotFound = store.ErrAccountNotFound
	ErrAccountExists   = errors.New("account already added")
)

// AddAccountRequest is the body of an add-account call. Seed is optional; when
// present it is kept in the keystore and never returned.
type AddAccountRequest struct {
	PublicKey string `json:"publicKey" validate:"required,stellar_address"`
	Name      string `json:"name,omitempty" validate:"max=64"`
	Seed      string `json:"secretKey,omitempty"`
}

type RenameAccountRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// CredentialStore keeps signing seeds for saved accounts
type CredentialStore interface {
	Store(publicKey, seed string) error
	Remove(publicKey string) error
	Has(publicKey string) bool
}

type AccountRepository interface {
	List(ctx context.Context) ([]models.Account, error)
	Get(ctx context.Context, publicKey string) (*models.Account, error)
	Save(ctx context.Context, acct models.Account) error
	Delete(ctx context.Context, publicKey string) (bool, error)
	Active(ctx context.Context) (*models.Account, error)
	SetActive(ctx context.Context, acct models.Account) error
	ClearActive(ctx context.Context) error
}

type BalanceSource interface {
	NativeBalance(ctx context.Context, publicKey string) (string, error)
}

var accountLog = logrus.WithField("component", "accounts")

// AccountService manages saved accounts and which one pays by default
type AccountService struct {
	accounts  AccountRepository
	creds     CredentialStore
	balances  BalanceSource
	validator *ValidationHelper
	now       func() time.Time
}

func NewAccountService(accounts AccountRepository, creds CredentialStore, balances BalanceSource) *AccountService {
	return &AccountService{
		accounts:  accounts,
		creds:     creds,
		balances:  balances,
		validator: NewValidationHelper(),
		now:       time.Now,
	}
}

func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.accounts.Active(ctx)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		accounts[i].IsActive = active != nil && active.PublicKey == accounts[i].PublicKey
		accounts[i].HasStoredKey = s.creds.Has(accounts[i].PublicKey)
	}
	return accounts, nil
}

// Add saves a new account. The first account saved becomes the active one.
func (s *AccountService) Add(ctx context.Context, req AddAccountRequest) (*models.Account, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}

	if _, err := s.accounts.Get(ctx, req.PublicKey); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, err
	}

	acct := models.Account{
		PublicKey: req.PublicKey,
		Name:      req.Name,
		AddedAt:   s.now().UnixMilli(),
	}
	if req.Seed != "" {
		if err := s.creds.Store(req.PublicKey, req.Seed); err != nil {
			return nil, err
		}
		acct.HasStoredKey = true
	}

	if err := s.accounts.Save(ctx, acct); err != nil {
		return nil, err
	}

	active, err := s.accounts.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active == nil {
		if err := s.accounts.SetActive(ctx, acct); err != nil {
			return nil, err
		}
		acct.IsActive = true
	}

	accountLog.WithFields(logrus.Fields{"public_key": acct.PublicKey, "stored_key": acct.HasStoredKey}).Info("account added")
	return &acct, nil
}

func (s *AccountService) Rename(ctx context.Context, publicKey string, req RenameAccountRequest) (*models.Account, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}

	acct, err := s.accounts.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	acct.Name = req.Name
	if err := s.accounts.Save(ctx, *acct); err != nil {
		return nil, err
	}

	active, err := s.accounts.Active(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil && active.PublicKey == publicKey {
		if err := s.accounts.SetActive(ctx, *acct); err != nil {
			return nil, err
		}
		acct.IsActive = true
	}
	return acct, nil
}

// Remove deletes the account, its stored credential and, when it was the
// active account, the active selection.
func (s *AccountService) Remove(ctx context.Context, publicKey string) error {
	existed, err := s.accounts.Delete(ctx, publicKey)
	if err != nil {
		return err
	}
	if !existed {
		return ErrAccountNotFound
	}

	active, err := s.accounts.Active(ctx)
	if err != nil {
		return err
	}
	if active != nil && active.PublicKey == publicKey {
		if err := s.accounts.ClearActive(ctx); err != nil {
			return err
		}
	}

	if err := s.creds.Remove(publicKey); err != nil {
		return fmt.Errorf("account removed but credential was not: %w", err)
	}

	accountLog.WithField("public_key", publicKey).Info("account removed")
	return nil
}

func (s *AccountService) SetActive(ctx context.Context, publicKey string) (*models.Account, error) {
	acct, err := s.accounts.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	acct.HasStoredKey = s.creds.Has(publicKey)
	if err := s.accounts.SetActive(ctx, *acct); err != nil {
		return nil, err
	}
	acct.IsActive = true
	return acct, nil
}

// Active returns nil when no account is selected
func (s *AccountService) Active(ctx context.Context) (*models.Account, error) {
	acct, err := s.accounts.Active(ctx)
	if err != nil || acct == nil {
		return acct, err
	}
	acct.HasStoredKey = s.creds.Has(acct.PublicKey)
	return acct, nil
}

func (s *AccountService) Balance(ctx context.Context, publicKey string) (string, error) {
	if _, err := s.accounts.Get(ctx, publicKey); err != nil {
		return "", err
	}
	return s.balances.NativeBalance(ctx, publicKey)
}
