// Package mediagroups buffers album messages until the group is complete.
// Telegram delivers album members as separate updates with a shared
// MediaGroupID and no terminator, so completion is inferred by debounce:
// the group drains a fixed delay after its most recent member arrived.
package mediagroups

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
)

const (
	// DefaultDrainDelay is the debounce window restarted by every member.
	DefaultDrainDelay = 3 * time.Second
	// DefaultMaxGroupSize limits the number of messages stored per group.
	// Telegram albums cap at 10 items.
	DefaultMaxGroupSize = 10
)

// DrainFunc consumes a completed group. Messages arrive sorted by
// ascending MessageID.
type DrainFunc func(ctx context.Context, groupID string, messages []telego.Message) error

type groupState struct {
	messages []telego.Message
	timer    *time.Timer
}

// Manager collects album members and drains each group once its debounce
// window elapses without a new member.
type Manager struct {
	mu      sync.Mutex
	groups  map[string]*groupState
	delay   time.Duration
	maxSize int
}

// NewManager creates a manager with the given debounce delay and group
// size cap. Non-positive arguments fall back to the defaults.
func NewManager(delay time.Duration, maxSize int) *Manager {
	if delay <= 0 {
		delay = DefaultDrainDelay
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxGroupSize
	}
	return &Manager{
		groups:  make(map[string]*groupState),
		delay:   delay,
		maxSize: maxSize,
	}
}

// Add buffers one album member and (re)arms the group's drain timer.
// Messages without a MediaGroupID are ignored. When the timer fires,
// drain is called once with every buffered member of the group.
func (m *Manager) Add(message telego.Message, drain DrainFunc) {
	groupID := message.MediaGroupID
	if groupID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.groups[groupID]
	if !ok {
		state = &groupState{messages: make([]telego.Message, 0, m.maxSize)}
		m.groups[groupID] = state
	}

	duplicate := false
	for _, msg := range state.messages {
		if msg.MessageID == message.MessageID {
			duplicate = true
			break
		}
	}

	switch {
	case duplicate:
		// Redelivered member, keep the buffer as is but still push the
		// deadline out.
	case len(state.messages) >= m.maxSize:
		log.Printf("[MediaGroups Group:%s] Size cap (%d) reached, message %d dropped", groupID, m.maxSize, message.MessageID)
	default:
		state.messages = append(state.messages, message)
		sort.Slice(state.messages, func(i, j int) bool {
			return state.messages[i].MessageID < state.messages[j].MessageID
		})
		log.Printf("[MediaGroups Group:%s] Buffered message %d, total %d", groupID, message.MessageID, len(state.messages))
	}

	// Every member restarts the debounce window, so the group drains
	// only after the album has been quiet for the full delay.
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(m.delay, func() {
		m.fire(groupID, drain)
	})
}

func (m *Manager) fire(groupID string, drain DrainFunc) {
	messages := m.take(groupID)
	if len(messages) == 0 {
		return
	}

	log.Printf("[MediaGroups Group:%s] Draining %d message(s)", groupID, len(messages))
	if err := drain(context.Background(), groupID, messages); err != nil {
		log.Printf("[MediaGroups Group:%s] Drain failed: %v", groupID, err)
		sentry.CaptureException(err)
	}
}

// take removes the group and returns its buffered messages.
func (m *Manager) take(groupID string) []telego.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.groups[groupID]
	if !ok {
		return nil
	}
	delete(m.groups, groupID)
	if state.timer != nil {
		state.timer.Stop()
	}

	out := make([]telego.Message, len(state.messages))
	copy(out, state.messages)
	return out
}

// Pending returns the number of groups currently buffering.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

// Shutdown stops all armed timers. Buffered groups are discarded.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	stopped := 0
	for groupID, state := range m.groups {
		if state.timer != nil && state.timer.Stop() {
			stopped++
		}
		delete(m.groups, groupID)
	}
	log.Printf("[MediaGroups] Shutdown complete, stopped %d timer(s)", stopped)
}
