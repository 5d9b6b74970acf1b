package network

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "network")

// Probe reports nil when its check of connectivity passes
type Probe func(ctx context.Context) error

// TCPProbe dials the host of rawURL
func TCPProbe(rawURL string) (Probe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid probe url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return err
		}
		return conn.Close()
	}, nil
}

// Pinger is anything that can confirm the ledger API answers
type Pinger interface {
	Ping(ctx context.Context) error
}

func ReachabilityProbe(p Pinger) Probe {
	return p.Ping
}

// Event is published when the debounced online state changes
type Event struct {
	Online    bool
	WasOnline bool
	Initial   bool
	At        time.Time
}

// Monitor polls its probes and keeps a debounced online/offline state
type Monitor struct {
	probes   []Probe
	interval time.Duration
	window   time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	status      models.NetworkStatus
	observed    bool
	pending     bool
	pendingVal  bool
	pendingFrom time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewMonitor(cfg config.NetworkConfig, probes ...Probe) *Monitor {
	return &Monitor{
		probes:   probes,
		interval: cfg.PollInterval,
		window:   cfg.StabilityWindow,
		timeout:  cfg.ProbeTimeout,
		now:      time.Now,
		subs:     make(map[int]chan Event),
	}
}

// Status is the current debounced snapshot
func (m *Monitor) Status() models.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsOnline is shorthand for Status().IsOnline
func (m *Monitor) IsOnline() bool {
	return m.Status().IsOnline
}

// Subscribe returns a channel of state changes and a func that ends the
// subscription. Slow subscribers miss events rather than block the monitor.
func (m *Monitor) Subscribe() (<-chan Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Event, 4)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

func (m *Monitor) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			log.Warn("network event dropped for slow subscriber")
		}
	}
}

// Check runs every probe once and feeds the result to the debouncer
func (m *Monitor) Check(ctx context.Context) models.NetworkStatus {
	online := m.probe(ctx)
	if ev, changed := m.observe(online, m.now()); changed {
		log.WithFields(logrus.Fields{"online": ev.Online, "initial": ev.Initial}).Info("network status changed")
		m.publish(ev)
	}
	return m.Status()
}

func (m *Monitor) probe(ctx context.Context) bool {
	if len(m.probes) == 0 {
		return false
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	for _, p := range m.probes {
		if err := p(ctx); err != nil {
			log.WithError(err).Debug("probe failed")
			return false
		}
	}
	return true
}

// observe applies one raw observation. The state flips only after the new
// value has been seen continuously for the stability window.
func (m *Monitor) observe(online bool, at time.Time) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.LastChecked = at.UnixMilli()

	if !m.observed {
		m.observed = true
		m.status.IsOnline = online
		return Event{Online: online, Initial: true, At: at}, true
	}

	if online == m.status.IsOnline {
		m.pending = false
		return Event{}, false
	}

	if !m.pending || m.pendingVal != online {
		m.pending = true
		m.pendingVal = online
		m.pendingFrom = at
	}
	if at.Sub(m.pendingFrom) < m.window {
		return Event{}, false
	}

	m.pending = false
	was := m.status.IsOnline
	m.status.IsOnline = online
	return Event{Online: online, WasOnline: was, At: at}, true
}

func (m *Monitor) hasPending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// Run polls until ctx is cancelled. A pending flip is re-checked once the
// stability window elapses instead of waiting for the next poll.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var recheck <-chan time.Time
	check := func() {
		m.Check(ctx)
		recheck = nil
		if m.hasPending() && m.window > 0 {
			recheck = time.After(m.window)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		case <-recheck:
			check()
		}
	}
}
