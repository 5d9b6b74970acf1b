package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPrefs struct {
	prefs models.NotificationPreferences
	err   error
}

func (s staticPrefs) Get(context.Context) (models.NotificationPreferences, error) {
	return s.prefs, s.err
}

type recordingSink struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (r *recordingSink) Deliver(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingSink) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.got))
	for i, n := range r.got {
		out[i] = n.Kind
	}
	return out
}

func TestDispatcher_FiltersByPreference(t *testing.T) {
	prefs := models.NotificationPreferences{
		TransactionSuccess:  false,
		TransactionFailed:   true,
		NetworkStatusChange: false,
		LowBalance:          false,
		BalanceThreshold:    "10",
	}
	sink := &recordingSink{}
	d := NewDispatcher(staticPrefs{prefs: prefs}, sink)
	ctx := context.Background()
	tx := &models.PendingTransaction{ID: "tx_1", Amount: "5", Destination: "GDEST"}

	d.Notify(ctx, TransactionCompleted(tx))
	d.Notify(ctx, TransactionFailed(tx, "Bad sequence number. Try again."))
	d.Notify(ctx, NetworkStatus(true))
	d.Notify(ctx, SweepSummary(3, 1))
	d.Notify(ctx, StorageError(errors.New("disk full")))

	assert.Equal(t, []Kind{KindTransactionFailed, KindSweepSummary, KindStorageError}, sink.kinds())
}

func TestDispatcher_StorageErrorAlwaysDelivered(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(staticPrefs{prefs: models.NotificationPreferences{}}, sink)

	d.Notify(context.Background(), StorageError(errors.New("quota exceeded")))
	d.Notify(context.Background(), SweepSummary(1, 0))

	assert.Equal(t, []Kind{KindStorageError}, sink.kinds())
}

func TestDispatcher_PreferenceErrorFallsBackToDefaults(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(staticPrefs{err: errors.New("redis down")}, sink)

	d.Notify(context.Background(), NetworkStatus(false))
	assert.Equal(t, []Kind{KindNetworkStatus}, sink.kinds())
}

func TestDispatcher_SinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{err: errors.New("boom")}
	ok := &recordingSink{}
	d := NewDispatcher(nil, failing, ok)

	d.Notify(context.Background(), SweepSummary(2, 0))
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1)
	assert.False(t, ok.got[0].At.IsZero())
}

func TestDispatcher_NilIsNoop(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.Notify(context.Background(), SweepSummary(1, 1))
		d.CheckBalance(context.Background(), "G", "1")
	})
}

func TestDispatcher_CheckBalance(t *testing.T) {
	prefs := models.DefaultNotificationPreferences()
	prefs.LowBalance = true
	prefs.BalanceThreshold = "10"

	tests := []struct {
		name    string
		prefs   models.NotificationPreferences
		balance string
		want    int
	}{
		{"below threshold", prefs, "9.9999999", 1},
		{"at threshold", prefs, "10.0000000", 0},
		{"above threshold", prefs, "250", 0},
		{"unparseable balance", prefs, "n/a", 0},
		{"disabled", models.DefaultNotificationPreferences(), "1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			d := NewDispatcher(staticPrefs{prefs: tt.prefs}, sink)
			d.CheckBalance(context.Background(), "GABC", tt.balance)
			require.Len(t, sink.got, tt.want)
			if tt.want > 0 {
				assert.Equal(t, KindLowBalance, sink.got[0].Kind)
				assert.Contains(t, sink.got[0].Message, "below the threshold (10 XLM)")
			}
		})
	}
}

func TestSweepSummaryMessage(t *testing.T) {
	n := SweepSummary(4, 2)
	assert.Equal(t, "Processed 4 transactions, 2 failed", n.Message)
	assert.Equal(t, LevelWarning, n.Level)
	assert.Equal(t, LevelSuccess, SweepSummary(4, 0).Level)
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogSink(logger)

	require.NoError(t, sink.Deliver(context.Background(), Notification{
		Kind: KindTransactionFailed, Level: LevelError, Title: "Failed", Message: "tx_bad_auth", TransactionID: "tx_9",
	}))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "tx_bad_auth", entry.Message)
	assert.Equal(t, "tx_9", entry.Data["tx_id"])
}

func TestWebhookSink(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second)
	require.NoError(t, sink.Deliver(context.Background(), SweepSummary(1, 0)))
	assert.Equal(t, KindSweepSummary, received.Kind)
	assert.Equal(t, "Processed 1 transactions, 0 failed", received.Message)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSink(srv.URL, time.Second).Deliver(context.Background(), SweepSummary(1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
