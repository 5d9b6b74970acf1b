package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/offline-wallet/internal/ledger"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/ruralpay/offline-wallet/internal/network"
	"github.com/ruralpay/offline-wallet/internal/notification"
	"github.com/stretchr/testify/mock"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, p ledger.Payment) ledger.Result {
	args := m.Called(ctx, p)
	res := args.Get(0).(ledger.Result)
	if res.Success && res.Envelope.Hash == "" {
		res.Envelope = models.Submission{Hash: res.LedgerReference}
	}
	if res.Envelope.Hash != "" && p.OnSigned != nil {
		if err := p.OnSigned(res.Envelope); err != nil {
			return ledger.Result{Class: ledger.Transient, Detail: err.Error()}
		}
	}
	return res
}

func (m *MockSubmitter) Lookup(ctx context.Context, hash string) (bool, bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *MockSubmitter) NativeBalance(ctx context.Context, publicKey string) (string, error) {
	args := m.Called(ctx, publicKey)
	return args.String(0), args.Error(1)
}

// recordingNotifier keeps every notification it is handed
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []notification.Notification
	balances map[string]string
}

func (r *recordingNotifier) Notify(_ context.Context, n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) CheckBalance(_ context.Context, publicKey, balance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.balances == nil {
		r.balances = make(map[string]string)
	}
	r.balances[publicKey] = balance
}

func (r *recordingNotifier) kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Kind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

// fakeNetwork is a switchable connectivity source
type fakeNetwork struct {
	mu     sync.Mutex
	online bool
	subs   []chan network.Event
}

func (f *fakeNetwork) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeNetwork) Subscribe() (<-chan network.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan network.Event, 4)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeNetwork) set(online bool) {
	f.mu.Lock()
	was := f.online
	f.online = online
	subs := append([]chan network.Event(nil), f.subs...)
	f.mu.Unlock()

	for _, ch := range subs {
		ch <- network.Event{Online: online, WasOnline: was, At: time.Now()}
	}
}

type memoryHistory struct {
	mu   sync.Mutex
	rows []models.StateTransition
}

func (h *memoryHistory) Record(_ context.Context, t models.StateTransition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, t)
	return nil
}

// recordingTimer fires immediately and keeps the delays it was asked for
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *recordingTimer) recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}
