package network

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ruralpay/offline-wallet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func switchProbe(up *atomic.Bool) Probe {
	return func(context.Context) error {
		if up.Load() {
			return nil
		}
		return errors.New("unreachable")
	}
}

func newTestMonitor(probes ...Probe) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	m := NewMonitor(config.NetworkConfig{
		PollInterval:    5 * time.Second,
		StabilityWindow: 2 * time.Second,
		ProbeTimeout:    time.Second,
	}, probes...)
	m.now = clock.now
	return m, clock
}

func TestMonitor_FirstObservationAppliesDirectly(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	m, clock := newTestMonitor(switchProbe(&up))

	assert.False(t, m.Status().IsOnline)
	assert.Zero(t, m.Status().LastChecked)

	ch, cancel := m.Subscribe()
	defer cancel()

	status := m.Check(context.Background())
	assert.True(t, status.IsOnline)
	assert.Equal(t, clock.t.UnixMilli(), status.LastChecked)

	ev := <-ch
	assert.True(t, ev.Online)
	assert.True(t, ev.Initial)
}

func TestMonitor_Debounce(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	m, clock := newTestMonitor(switchProbe(&up))
	ctx := context.Background()

	m.Check(ctx)
	ch, cancel := m.Subscribe()
	defer cancel()

	// a blip shorter than the window is ignored
	up.Store(false)
	clock.advance(time.Second)
	assert.True(t, m.Check(ctx).IsOnline)
	up.Store(true)
	clock.advance(time.Second)
	assert.True(t, m.Check(ctx).IsOnline)
	assert.Empty(t, ch)

	// a sustained change flips once the window has elapsed
	up.Store(false)
	clock.advance(time.Second)
	assert.True(t, m.Check(ctx).IsOnline)
	assert.True(t, m.hasPending())
	clock.advance(2 * time.Second)
	assert.False(t, m.Check(ctx).IsOnline)

	ev := <-ch
	assert.False(t, ev.Online)
	assert.True(t, ev.WasOnline)
	assert.False(t, ev.Initial)

	// recovery is debounced the same way
	up.Store(true)
	clock.advance(time.Second)
	assert.False(t, m.Check(ctx).IsOnline)
	clock.advance(2 * time.Second)
	assert.True(t, m.Check(ctx).IsOnline)

	ev = <-ch
	assert.True(t, ev.Online)
	assert.False(t, ev.WasOnline)
}

func TestMonitor_AllProbesMustPass(t *testing.T) {
	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("dns failure") }

	m, _ := newTestMonitor(pass, fail)
	assert.False(t, m.Check(context.Background()).IsOnline)

	m, _ = newTestMonitor(pass, pass)
	assert.True(t, m.Check(context.Background()).IsOnline)

	m, _ = newTestMonitor()
	assert.False(t, m.Check(context.Background()).IsOnline)
}

func TestMonitor_UnsubscribeClosesChannel(t *testing.T) {
	m, _ := newTestMonitor(func(context.Context) error { return nil })
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, func() { m.Check(context.Background()) })
}

func TestMonitor_SlowSubscriberDoesNotBlock(t *testing.T) {
	var up atomic.Bool
	m, clock := newTestMonitor(switchProbe(&up))
	_, cancel := m.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			up.Store(!up.Load())
			m.Check(context.Background())
			clock.advance(3 * time.Second)
			m.Check(context.Background())
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor blocked on a full subscriber")
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestMonitor(func(context.Context) error { return nil })
	m.now = time.Now
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case ev := <-ch:
		assert.True(t, ev.Online)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	probe, err := TCPProbe("http://" + ln.Addr().String())
	require.NoError(t, err)
	assert.NoError(t, probe(context.Background()))

	addr := ln.Addr().String()
	ln.Close()
	probe, err = TCPProbe("http://" + addr)
	require.NoError(t, err)
	assert.Error(t, probe(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReachabilityProbe(t *testing.T) {
	probe := ReachabilityProbe(pingerFunc(func(context.Context) error { return errors.New("503") }))
	assert.Error(t, probe(context.Background()))
}
