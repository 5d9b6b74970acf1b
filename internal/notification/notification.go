package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindTransactionCompleted Kind = "transaction_completed"
	KindTransactionFailed    Kind = "transaction_failed"
	KindSweepSummary         Kind = "sweep_summary"
	KindStorageError         Kind = "storage_error"
	KindNetworkStatus        Kind = "network_status"
	KindLowBalance           Kind = "low_balance"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one user-facing message
type Notification struct {
	Kind          Kind           `json:"kind"`
	Level         Level          `json:"level"`
	Title         string         `json:"title"`
	Message       string         `json:"message"`
	TransactionID string         `json:"transactionId,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	At            time.Time      `json:"at"`
}

// Sink delivers notifications somewhere the user will see them
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// PreferencesSource supplies the user's notification switches
type PreferencesSource interface {
	Get(ctx context.Context) (models.NotificationPreferences, error)
}

var log = logrus.WithField("component", "notification")

// Dispatcher filters notifications by preference and fans them out to sinks.
// Delivery failures are logged and never reach the caller.
type Dispatcher struct {
	prefs PreferencesSource
	sinks []Sink
	now   func() time.Time
}

func NewDispatcher(prefs PreferencesSource, sinks ...Sink) *Dispatcher {
	return &Dispatcher{prefs: prefs, sinks: sinks, now: time.Now}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if d == nil {
		return
	}

	prefs := models.DefaultNotificationPreferences()
	if d.prefs != nil {
		p, err := d.prefs.Get(ctx)
		if err != nil {
			log.WithError(err).Warn("using default notification preferences")
		} else {
			prefs = p
		}
	}

	if !Allowed(prefs, n.Kind) {
		return
	}
	if n.At.IsZero() {
		n.At = d.now()
	}

	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			log.WithError(err).WithField("kind", n.Kind).Warn("notification delivery failed")
		}
	}
}

// Allowed reports whether prefs let a notification of this kind through
func Allowed(prefs models.NotificationPreferences, kind Kind) bool {
	switch kind {
	case KindTransactionCompleted:
		return prefs.TransactionSuccess
	case KindTransactionFailed:
		return prefs.TransactionFailed
	case KindSweepSummary:
		return prefs.TransactionSuccess || prefs.TransactionFailed
	case KindNetworkStatus:
		return prefs.NetworkStatusChange
	case KindLowBalance:
		return prefs.LowBalance
	case KindStorageError:
		return true
	}
	return true
}

// CheckBalance sends a low balance warning when the balance is under the
// user's threshold.
func (d *Dispatcher) CheckBalance(ctx context.Context, publicKey, balance string) {
	if d == nil || d.prefs == nil {
		return
	}
	prefs, err := d.prefs.Get(ctx)
	if err != nil || !prefs.LowBalance {
		return
	}

	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return
	}
	threshold, err := decimal.NewFromString(prefs.BalanceThreshold)
	if err != nil {
		return
	}
	if bal.LessThan(threshold) {
		d.Notify(ctx, LowBalance(publicKey, bal, threshold))
	}
}

func TransactionCompleted(tx *models.PendingTransaction) Notification {
	return Notification{
		Kind:          KindTransactionCompleted,
		Level:         LevelSuccess,
		Title:         "Transaction processed successfully",
		Message:       fmt.Sprintf("Sent %s XLM to %s", tx.Amount, tx.Destination),
		TransactionID: tx.ID,
		Data:          map[string]any{"txHash": tx.LedgerReference},
	}
}

func TransactionFailed(tx *models.PendingTransaction, detail string) Notification {
	return Notification{
		Kind:          KindTransactionFailed,
		Level:         LevelError,
		Title:         "Failed to process transaction",
		Message:       detail,
		TransactionID: tx.ID,
	}
}

func SweepSummary(processed, failed int) Notification {
	level := LevelSuccess
	if failed > 0 {
		level = LevelWarning
	}
	return Notification{
		Kind:    KindSweepSummary,
		Level:   level,
		Title:   "Pending transactions processed",
		Message: fmt.Sprintf("Processed %d transactions, %d failed", processed, failed),
		Data:    map[string]any{"processed": processed, "failed": failed},
	}
}

func StorageError(err error) Notification {
	return Notification{
		Kind:    KindStorageError,
		Level:   LevelError,
		Title:   "Failed to save transaction",
		Message: err.Error(),
	}
}

func NetworkStatus(online bool) Notification {
	if online {
		return Notification{Kind: KindNetworkStatus, Level: LevelSuccess, Title: "Network connection restored", Message: "Pending transactions will be processed"}
	}
	return Notification{Kind: KindNetworkStatus, Level: LevelWarning, Title: "Network connection lost", Message: "Payments will be queued until you are back online"}
}

func LowBalance(publicKey string, balance, threshold decimal.Decimal) Notification {
	return Notification{
		Kind:    KindLowBalance,
		Level:   LevelWarning,
		Title:   "Low balance alert",
		Message: fmt.Sprintf("Your balance (%s XLM) is below the threshold (%s XLM)", balance.String(), threshold.String()),
		Data:    map[string]any{"publicKey": publicKey},
	}
}
