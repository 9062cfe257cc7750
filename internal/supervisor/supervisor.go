// Package supervisor owns the connection lifecycle: opening the update
// stream, heartbeating it, reconnecting with backoff and alerting the
// owner when Telegram stays unreachable.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"chanwatch-bot/internal/locales"
	"chanwatch-bot/pkg/retry"
)

// ConnState is the supervisor's view of the Telegram connection.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateError        ConnState = "error"
)

const (
	// DefaultHeartbeatInterval is how often the connection is probed.
	DefaultHeartbeatInterval = 5 * time.Minute
	// DefaultRecycleInterval bounds the lifetime of one polling session;
	// the stream is re-opened when it elapses.
	DefaultRecycleInterval = 2 * time.Hour

	// Two consecutive heartbeat failures force a reconnect.
	heartbeatFailureLimit = 2

	heartbeatTimeout = 15 * time.Second
)

// HealthChecker probes the connection. Satisfied by telego.Bot.
type HealthChecker interface {
	GetMe(ctx context.Context) (*telego.User, error)
}

// Alerter pushes operational alerts to the owner.
type Alerter interface {
	NotifyAlert(ctx context.Context, message string) error
}

// UpdateHandler consumes one update. Called on a dedicated goroutine
// per update.
type UpdateHandler func(ctx context.Context, update telego.Update)

// Options configures a Supervisor.
type Options struct {
	Source    UpdateSource
	Health    HealthChecker
	Handler   UpdateHandler
	Alerts    Alerter
	StateFile *StateFile
	// Policy drives reconnect attempts.
	Policy            retry.Policy
	HeartbeatInterval time.Duration
	RecycleInterval   time.Duration
	Lang              string
}

type sessionEnd int

const (
	endShutdown sessionEnd = iota
	endDisconnected
	endRecycle
)

// Supervisor runs the receive loop and keeps it connected.
type Supervisor struct {
	source    UpdateSource
	health    HealthChecker
	handler   UpdateHandler
	alerts    Alerter
	stateFile *StateFile
	policy    retry.Policy
	heartbeat time.Duration
	recycle   time.Duration
	localizer *i18n.Localizer

	mu         sync.Mutex
	state      ConnState
	pollCancel context.CancelFunc
}

// New validates opts and creates the supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("supervisor: update source is required")
	}
	if opts.Health == nil {
		return nil, fmt.Errorf("supervisor: health checker is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("supervisor: update handler is required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.RecycleInterval <= 0 {
		opts.RecycleInterval = DefaultRecycleInterval
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}
	return &Supervisor{
		source:    opts.Source,
		health:    opts.Health,
		handler:   opts.Handler,
		alerts:    opts.Alerts,
		stateFile: opts.StateFile,
		policy:    opts.Policy,
		heartbeat: opts.HeartbeatInterval,
		recycle:   opts.RecycleInterval,
		localizer: locales.NewLocalizer(opts.Lang),
		state:     StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EnsureConnected reports whether the connection is believed live right
// now by issuing a fresh probe. Callers must not cache the answer.
func (s *Supervisor) EnsureConnected(ctx context.Context) bool {
	if s.State() != StateConnected {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()
	_, err := s.health.GetMe(probeCtx)
	return err == nil
}

func (s *Supervisor) setState(state ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state {
		log.Printf("[Supervisor] Connection state: %s -> %s", s.state, state)
		s.state = state
	}
}

// Run blocks until ctx is cancelled or the connection cannot be
// recovered within the retry budget.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.stateFile != nil {
		if prev, err := s.stateFile.Load(); err != nil {
			log.Printf("[Supervisor] State file load failed: %v", err)
		} else if prev.IsMonitoring {
			log.Printf("[Supervisor] Resuming monitoring, previous session started %v", prev.StartTime)
		}
		start := time.Now().UTC()
		if err := s.stateFile.Save(true, &start); err != nil {
			log.Printf("[Supervisor] State file save failed: %v", err)
		}
		defer func() {
			if err := s.stateFile.Save(false, nil); err != nil {
				log.Printf("[Supervisor] State file save failed: %v", err)
			}
		}()
	}

	for {
		updates, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setState(StateError)
			s.alertConnectionLost(err)
			return err
		}

		switch s.runSession(ctx, updates) {
		case endShutdown:
			s.setState(StateDisconnected)
			return nil
		case endDisconnected:
			log.Printf("[Supervisor] Update stream lost, reconnecting")
			s.setState(StateDisconnected)
		case endRecycle:
			log.Printf("[Supervisor] Recycling polling session")
			s.setState(StateDisconnected)
		}
	}
}

// connect opens the update stream under the reconnect policy. Each
// attempt probes GetMe first so a dead network fails fast.
func (s *Supervisor) connect(ctx context.Context) (<-chan telego.Update, error) {
	var updates <-chan telego.Update

	err := s.policy.Do(ctx, "connect", func(ctx context.Context) error {
		s.setState(StateConnecting)

		probeCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
		_, err := s.health.GetMe(probeCtx)
		cancel()
		if err != nil {
			return err
		}

		pollCtx, pollCancel := context.WithCancel(ctx)
		ch, err := s.source.Open(pollCtx)
		if err != nil {
			pollCancel()
			return err
		}

		s.mu.Lock()
		s.pollCancel = pollCancel
		s.mu.Unlock()
		updates = ch
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.setState(StateConnected)
	return updates, nil
}

// runSession consumes updates until the stream ends, the heartbeat gives
// up, the recycle interval elapses, or ctx is cancelled.
func (s *Supervisor) runSession(ctx context.Context, updates <-chan telego.Update) sessionEnd {
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	recycle := time.NewTimer(s.recycle)
	defer recycle.Stop()

	hbFailures := 0
	for {
		select {
		case <-ctx.Done():
			s.stopPolling()
			return endShutdown

		case update, ok := <-updates:
			if !ok {
				s.stopPolling()
				return endDisconnected
			}
			go s.handleUpdate(ctx, update)

		case <-heartbeat.C:
			probeCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			_, err := s.health.GetMe(probeCtx)
			cancel()
			if err == nil {
				hbFailures = 0
				continue
			}
			hbFailures++
			log.Printf("[Supervisor] Heartbeat failed (%d/%d): %v", hbFailures, heartbeatFailureLimit, err)
			if hbFailures >= heartbeatFailureLimit {
				s.stopPolling()
				return endDisconnected
			}

		case <-recycle.C:
			s.stopPolling()
			return endRecycle
		}
	}
}

// handleUpdate isolates one update: a panic in a handler is reported
// and the receive loop keeps running.
func (s *Supervisor) handleUpdate(ctx context.Context, update telego.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Supervisor] Panic while handling update %d: %v", update.UpdateID, r)
			sentry.CurrentHub().Recover(r)
			sentry.Flush(2 * time.Second)
		}
	}()
	s.handler(ctx, update)
}

func (s *Supervisor) stopPolling() {
	s.mu.Lock()
	cancel := s.pollCancel
	s.pollCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) alertConnectionLost(err error) {
	log.Printf("[Supervisor] Giving up on reconnect: %v", err)
	sentry.CaptureException(err)
	if s.alerts == nil {
		return
	}

	msg := locales.GetMessage(s.localizer, "MsgConnectionLost", map[string]interface{}{
		"Attempts": s.policy.Attempts,
	})
	alertCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if alertErr := s.alerts.NotifyAlert(alertCtx, msg); alertErr != nil {
		log.Printf("[Supervisor] Alert delivery failed: %v", alertErr)
	}
}
