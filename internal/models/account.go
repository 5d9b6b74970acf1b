package models

import "time"

// Account is a saved Stellar account
type Account struct {
	PublicKey    string `json:"publicKey" validate:"required,stellar_address"`
	Name         string `json:"name,omitempty" validate:"max=64"`
	IsActive     bool   `json:"isActive,omitempty"`
	HasStoredKey bool   `json:"hasStoredKey,omitempty"`
	AddedAt      int64  `json:"addedAt,omitempty"` // epoch milliseconds, keeps list order stable
}

// NotificationPreferences controls which events reach the user
type NotificationPreferences struct {
	TransactionSuccess  bool   `json:"transactionSuccess"`
	TransactionFailed   bool   `json:"transactionFailed"`
	NetworkStatusChange bool   `json:"networkStatusChange"`
	LowBalance          bool   `json:"lowBalance"`
	BalanceThreshold    string `json:"balanceThreshold" validate:"required,stellar_balance"`
}

// DefaultNotificationPreferences mirrors what a fresh install starts with.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{
		TransactionSuccess:  true,
		TransactionFailed:   true,
		NetworkStatusChange: true,
		LowBalance:          false,
		BalanceThreshold:    "10",
	}
}

// StateTransition is one row of a record's status history
type StateTransition struct {
	ID              int64             `json:"id" db:"id"`
	TransactionID   string            `json:"transaction_id" db:"transaction_id"`
	FromStatus      TransactionStatus `json:"from_status" db:"from_status"`
	ToStatus        TransactionStatus `json:"to_status" db:"to_status"`
	LedgerReference string            `json:"ledger_reference,omitempty" db:"ledger_reference"`
	Detail          string            `json:"detail,omitempty" db:"detail"`
	Trigger         string            `json:"trigger" db:"trigger"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}
