package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanwatch-bot/internal/locales"
	"chanwatch-bot/pkg/retry"
)

func TestMain(m *testing.M) {
	locales.Init("en")
	os.Exit(m.Run())
}

type fakeSource struct {
	mu       sync.Mutex
	channels []chan telego.Update
	opens    int
	openErr  error
}

func (s *fakeSource) Open(context.Context) (<-chan telego.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	ch := make(chan telego.Update, 8)
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSource) current() chan telego.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[len(s.channels)-1]
}

type fakeHealth struct {
	mu      sync.Mutex
	calls   int
	okUntil int // calls after this index fail; 0 means always ok
}

func (h *fakeHealth) GetMe(context.Context) (*telego.User, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.okUntil > 0 && h.calls > h.okUntil {
		return nil, errors.New("api unreachable")
	}
	return &telego.User{ID: 1, IsBot: true, Username: "chanwatch_bot"}, nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) NotifyAlert(_ context.Context, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, message)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type updateRecorder struct {
	mu  sync.Mutex
	ids []int
}

func (r *updateRecorder) handle(_ context.Context, update telego.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, update.UpdateID)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func quickPolicy(sleeps *[]time.Duration) retry.Policy {
	return retry.Policy{
		Attempts:  3,
		BaseDelay: 2 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		},
	}
}

func newSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	if opts.RecycleInterval == 0 {
		opts.RecycleInterval = time.Hour
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestSupervisor_DispatchesUpdates(t *testing.T) {
	source := &fakeSource{}
	rec := &updateRecorder{}
	s := newSupervisor(t, Options{
		Source:  source,
		Health:  &fakeHealth{},
		Handler: rec.handle,
		Policy:  quickPolicy(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, source.openCount())

	source.current() <- telego.Update{UpdateID: 101}
	source.current() <- telego.Update{UpdateID: 102}
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_EnsureConnected(t *testing.T) {
	source := &fakeSource{}
	health := &fakeHealth{}
	s := newSupervisor(t, Options{
		Source:  source,
		Health:  health,
		Handler: func(context.Context, telego.Update) {},
		Policy:  quickPolicy(nil),
	})

	assert.False(t, s.EnsureConnected(context.Background()), "not connected yet")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.True(t, s.EnsureConnected(context.Background()))

	// Probe failures mean the connection cannot be trusted even while
	// the session is still open.
	health.mu.Lock()
	health.okUntil = health.calls
	health.mu.Unlock()
	assert.False(t, s.EnsureConnected(context.Background()))

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_ReconnectsWhenStreamCloses(t *testing.T) {
	source := &fakeSource{}
	rec := &updateRecorder{}
	s := newSupervisor(t, Options{
		Source:  source,
		Health:  &fakeHealth{},
		Handler: rec.handle,
		Policy:  quickPolicy(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return source.openCount() == 1 }, time.Second, 5*time.Millisecond)
	close(source.current())

	// A fresh polling session replaces the dead one.
	require.Eventually(t, func() bool {
		return source.openCount() == 2 && s.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	source.current() <- telego.Update{UpdateID: 7}
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_GivesUpAndAlertsAfterRetryBudget(t *testing.T) {
	var sleeps []time.Duration
	source := &fakeSource{openErr: errors.New("polling refused")}
	alerts := &fakeAlerter{}
	s := newSupervisor(t, Options{
		Source:  source,
		Health:  &fakeHealth{},
		Handler: func(context.Context, telego.Update) {},
		Alerts:  alerts,
		Policy:  quickPolicy(&sleeps),
	})

	err := s.Run(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateError, s.State())
	assert.Equal(t, 3, source.openCount())
	// Backoff doubled between attempts.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
	assert.Equal(t, 1, alerts.count())
}

func TestSupervisor_HeartbeatFailureForcesReconnect(t *testing.T) {
	source := &fakeSource{}
	// First call is the connect probe; every later call (heartbeats and
	// reconnect probes) fails.
	health := &fakeHealth{okUntil: 1}
	alerts := &fakeAlerter{}
	s := newSupervisor(t, Options{
		Source:            source,
		Health:            health,
		Handler:           func(context.Context, telego.Update) {},
		Alerts:            alerts,
		Policy:            quickPolicy(nil),
		HeartbeatInterval: 15 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	// Two failed heartbeats end the session; the reconnect probes then
	// exhaust the budget and the supervisor gives up loudly.
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not give up")
	}
	assert.Equal(t, 1, alerts.count())
	assert.Equal(t, 1, source.openCount())
}

func TestSupervisor_RecycleReopensSession(t *testing.T) {
	source := &fakeSource{}
	s := newSupervisor(t, Options{
		Source:          source,
		Health:          &fakeHealth{},
		Handler:         func(context.Context, telego.Update) {},
		Policy:          quickPolicy(nil),
		RecycleInterval: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return source.openCount() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_PanicInHandlerDoesNotKillLoop(t *testing.T) {
	source := &fakeSource{}
	rec := &updateRecorder{}
	s := newSupervisor(t, Options{
		Source: source,
		Health: &fakeHealth{},
		Handler: func(ctx context.Context, update telego.Update) {
			if update.UpdateID == 1 {
				panic("boom")
			}
			rec.handle(ctx, update)
		},
		Policy: quickPolicy(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return source.openCount() == 1 }, time.Second, 5*time.Millisecond)
	source.current() <- telego.Update{UpdateID: 1}
	source.current() <- telego.Update{UpdateID: 2}

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSupervisor_PersistsMonitoringState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	source := &fakeSource{}
	s := newSupervisor(t, Options{
		Source:    source,
		Health:    &fakeHealth{},
		Handler:   func(context.Context, telego.Update) {},
		Policy:    quickPolicy(nil),
		StateFile: NewStateFile(path, 24*time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		state, err := NewStateFile(path, 0).Load()
		return err == nil && state.IsMonitoring
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	state, err := NewStateFile(path, 0).Load()
	require.NoError(t, err)
	assert.False(t, state.IsMonitoring)
}
