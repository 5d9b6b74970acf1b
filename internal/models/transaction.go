package models

import (
	"time"
)

// TransactionStatus is the lifecycle state of a queued payment
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Retryable reports whether a record in this state is picked up by a sweep.
func (s TransactionStatus) Retryable() bool {
	return s == StatusPending || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PendingTransaction is a locally queued payment intent
type PendingTransaction struct {
	ID               string            `json:"id"`
	Source           string            `json:"source,omitempty"`
	Destination      string            `json:"destination"`
	Amount           string            `json:"amount"` // decimal string, never parsed to float
	Memo             string            `json:"memo,omitempty"`
	Timestamp        int64             `json:"timestamp"` // epoch milliseconds
	Status           TransactionStatus `json:"status"`
	LedgerReference  string            `json:"txHash,omitempty"`
	ErrorDetail      string            `json:"errorMessage,omitempty"`
	CompletedAt      *int64            `json:"completedAt,omitempty"`
	SourceFormat     string            `json:"qrFormat,omitempty"`
	RawPayload       string            `json:"rawData,omitempty"`
	Attempts         int               `json:"attempts,omitempty"`
	SubmissionHashes []string          `json:"submissionHashes,omitempty"`
	// epoch milliseconds after which the envelope with that hash can no longer land
	SubmissionExpiry map[string]int64 `json:"submissionExpiry,omitempty"`
}

// Submission describes a signed envelope about to be sent to the ledger
type Submission struct {
	Hash       string
	Sequence   int64
	ValidUntil time.Time
}

// Expired reports whether the envelope with hash can no longer be applied at
// now. Hashes recorded without a time bound count as expired.
func (t *PendingTransaction) Expired(hash string, now time.Time) bool {
	until, ok := t.SubmissionExpiry[hash]
	return !ok || now.UnixMilli() > until
}

// CreatedAt returns the creation timestamp as a time.Time
func (t *PendingTransaction) CreatedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// StatusUpdate carries the fields applied by a status transition.
type StatusUpdate struct {
	Status          TransactionStatus
	LedgerReference string
	ErrorDetail     string
}

// PaymentIntent is what a capture flow (manual form or QR scan) hands to the queue.
type PaymentIntent struct {
	Source       string `json:"source,omitempty" validate:"omitempty,stellar_address"`
	Destination  string `json:"destination" validate:"required,stellar_address"`
	Amount       string `json:"amount" validate:"required,stellar_amount"`
	Memo         string `json:"memo,omitempty" validate:"max=28"`
	SourceFormat string `json:"qrFormat,omitempty" validate:"omitempty,oneof=plain uri json unknown manual"`
	RawPayload   string `json:"rawData,omitempty" validate:"max=4096"`
}

// ParsedIntent is the normalized result of decoding a scanned payload
type ParsedIntent struct {
	Destination string   `json:"destination"`
	Amount      string   `json:"amount,omitempty"`
	Memo        string   `json:"memo,omitempty"`
	Network     string   `json:"network,omitempty"`
	Format      QRFormat `json:"format"`
	RawData     string   `json:"rawData"`
	IsValid     bool     `json:"isValid"`
}

// QRFormat records how a scanned payload was recognized
type QRFormat string

const (
	FormatPlain   QRFormat = "plain"
	FormatURI     QRFormat = "uri"
	FormatJSON    QRFormat = "json"
	FormatUnknown QRFormat = "unknown"
)

// NetworkStatus is the current connectivity snapshot; it is never persisted.
type NetworkStatus struct {
	IsOnline    bool  `json:"isOnline"`
	LastChecked int64 `json:"lastChecked"`
}
