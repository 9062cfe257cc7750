// Package monitor implements the ingestion pipeline for channel posts:
// filtering, media-group buffering, download orchestration and handoff
// to the notifier.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
)

// ActiveChannelSource yields the set of channels enabled for monitoring.
type ActiveChannelSource interface {
	ListActiveChannelIDs(ctx context.Context) (map[int64]struct{}, error)
}

// DuplicateChecker answers whether a source message was already captured.
type DuplicateChecker interface {
	Exists(ctx context.Context, channelID, messageID int64) (bool, error)
}

// ActivityFilter decides whether an incoming channel post enters the
// pipeline. The active-channel set is cached with a TTL so the common
// path costs no registry query; duplicate checks always hit the store.
// Any failure along the way rejects the message: a stale post can be
// re-fetched, a wrongly admitted one cannot be un-published.
type ActivityFilter struct {
	channels ActiveChannelSource
	posts    DuplicateChecker
	cacheTTL time.Duration
	maxAge   time.Duration
	now      func() time.Time

	mu          sync.Mutex
	active      map[int64]struct{}
	refreshedAt time.Time
}

// NewActivityFilter creates the filter. cacheTTL bounds the staleness of
// the active-channel cache; maxAge rejects posts older than the window.
func NewActivityFilter(channels ActiveChannelSource, posts DuplicateChecker, cacheTTL, maxAge time.Duration) *ActivityFilter {
	return &ActivityFilter{
		channels: channels,
		posts:    posts,
		cacheTTL: cacheTTL,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// WithNow overrides the clock. Used by tests.
func (f *ActivityFilter) WithNow(now func() time.Time) *ActivityFilter {
	f.now = now
	return f
}

// ShouldProcess runs the admission checks in order; the first failing
// check rejects the message. Cheap checks run before the store lookup.
func (f *ActivityFilter) ShouldProcess(ctx context.Context, msg telego.Message) bool {
	if !isContentPost(msg) {
		return false
	}

	active, err := f.activeChannels(ctx)
	if err != nil {
		log.Printf("[Filter] Active channel lookup failed, rejecting message %d: %v", msg.MessageID, err)
		sentry.CaptureException(err)
		return false
	}
	if _, ok := active[msg.Chat.ID]; !ok {
		return false
	}

	if f.maxAge > 0 {
		if msg.Date == 0 {
			return false
		}
		sent := time.Unix(msg.Date, 0)
		if f.now().Sub(sent) > f.maxAge {
			log.Printf("[Filter Channel:%d] Message %d older than %v, skipped", msg.Chat.ID, msg.MessageID, f.maxAge)
			return false
		}
	}

	exists, err := f.posts.Exists(ctx, msg.Chat.ID, int64(msg.MessageID))
	if err != nil {
		log.Printf("[Filter Channel:%d] Duplicate check failed, rejecting message %d: %v", msg.Chat.ID, msg.MessageID, err)
		sentry.CaptureException(err)
		return false
	}
	return !exists
}

// isContentPost screens out everything that is not a channel post with
// text or supported media.
func isContentPost(msg telego.Message) bool {
	if msg.Chat.Type != telego.ChatTypeChannel {
		return false
	}
	if msg.PinnedMessage != nil || len(msg.NewChatPhoto) > 0 || msg.NewChatTitle != "" || msg.DeleteChatPhoto {
		return false
	}
	return msg.Text != "" || msg.Caption != "" || len(msg.Photo) > 0 || msg.Video != nil
}

// activeChannels serves the cached set, refreshing it once the TTL has
// elapsed. A refresh failure is returned to the caller; the previous
// cache is not silently reused.
func (f *ActivityFilter) activeChannels(ctx context.Context) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != nil && f.now().Sub(f.refreshedAt) < f.cacheTTL {
		return f.active, nil
	}

	active, err := f.channels.ListActiveChannelIDs(ctx)
	if err != nil {
		return nil, err
	}
	f.active = active
	f.refreshedAt = f.now()
	return active, nil
}
