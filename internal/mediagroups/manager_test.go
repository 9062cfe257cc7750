package mediagroups

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type drainRecorder struct {
	mu     sync.Mutex
	drains [][]telego.Message
}

func (r *drainRecorder) drain(_ context.Context, _ string, messages []telego.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drains = append(r.drains, messages)
	return nil
}

func (r *drainRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drains)
}

func albumMessage(groupID string, messageID int) telego.Message {
	return telego.Message{
		MessageID:    messageID,
		MediaGroupID: groupID,
		Chat:         telego.Chat{ID: -100111, Type: telego.ChatTypeChannel},
	}
}

func TestManager_DrainsOnceAfterLastMember(t *testing.T) {
	m := NewManager(150*time.Millisecond, 10)
	rec := &drainRecorder{}

	// Members arrive spaced closer than the debounce delay, out of order.
	m.Add(albumMessage("g1", 12), rec.drain)
	time.Sleep(60 * time.Millisecond)
	m.Add(albumMessage("g1", 10), rec.drain)
	time.Sleep(60 * time.Millisecond)
	m.Add(albumMessage("g1", 11), rec.drain)

	// The window restarted on each member, so nothing drained yet.
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 1, m.Pending())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.drains, 1)
	got := rec.drains[0]
	require.Len(t, got, 3)
	assert.Equal(t, 10, got[0].MessageID)
	assert.Equal(t, 11, got[1].MessageID)
	assert.Equal(t, 12, got[2].MessageID)
	assert.Equal(t, 0, m.Pending())
}

func TestManager_DuplicateMembersAreIgnored(t *testing.T) {
	m := NewManager(80*time.Millisecond, 10)
	rec := &drainRecorder{}

	m.Add(albumMessage("g1", 5), rec.drain)
	m.Add(albumMessage("g1", 5), rec.drain)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.drains[0], 1)
}

func TestManager_EnforcesSizeCap(t *testing.T) {
	m := NewManager(80*time.Millisecond, 2)
	rec := &drainRecorder{}

	m.Add(albumMessage("g1", 1), rec.drain)
	m.Add(albumMessage("g1", 2), rec.drain)
	m.Add(albumMessage("g1", 3), rec.drain)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.drains[0], 2)
}

func TestManager_SeparateGroupsDrainIndependently(t *testing.T) {
	m := NewManager(80*time.Millisecond, 10)
	rec := &drainRecorder{}

	m.Add(albumMessage("g1", 1), rec.drain)
	m.Add(albumMessage("g2", 2), rec.drain)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestManager_IgnoresNonAlbumMessages(t *testing.T) {
	m := NewManager(50*time.Millisecond, 10)
	rec := &drainRecorder{}

	m.Add(telego.Message{MessageID: 1}, rec.drain)

	assert.Equal(t, 0, m.Pending())
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestManager_ShutdownStopsTimers(t *testing.T) {
	m := NewManager(50*time.Millisecond, 10)
	rec := &drainRecorder{}

	m.Add(albumMessage("g1", 1), rec.drain)
	m.Shutdown()

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, m.Pending())
}
