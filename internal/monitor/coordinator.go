package monitor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"

	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/media"
	"chanwatch-bot/internal/mediagroups"
	"chanwatch-bot/pkg/retry"
)

// Notifier delivers moderation prompts and operational alerts to the
// owner chat. Implementations live in internal/notifier.
type Notifier interface {
	NotifyNewPost(ctx context.Context, post *models.Post) error
	NotifyNewAlbum(ctx context.Context, post *models.Post) error
	NotifyAlert(ctx context.Context, message string) error
}

// Downloader fetches one attachment to local storage.
type Downloader interface {
	Download(ctx context.Context, ref media.Ref, postID uint, suffix string) (*models.MediaItem, error)
}

// Filter decides whether a post enters the pipeline.
type Filter interface {
	ShouldProcess(ctx context.Context, msg telego.Message) bool
}

// CoordinatorDeps bundles the coordinator's collaborators.
type CoordinatorDeps struct {
	Filter     Filter
	Groups     *mediagroups.Manager
	Downloader Downloader
	Posts      database.PostRepository
	Channels   database.ChannelRepository
	Notifier   Notifier
}

// Coordinator drives a channel post through filter, persistence, media
// download and notification. Each post is isolated: a failure inside one
// event is logged and never tears down the pipeline.
type Coordinator struct {
	filter     Filter
	groups     *mediagroups.Manager
	downloader Downloader
	posts      database.PostRepository
	channels   database.ChannelRepository
	notifier   Notifier

	// Rate-limit pause shared across all in-flight events.
	pauseMu     sync.Mutex
	pausedUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewCoordinator validates deps and creates the coordinator.
func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Filter == nil {
		return nil, fmt.Errorf("coordinator: filter is required")
	}
	if deps.Groups == nil {
		return nil, fmt.Errorf("coordinator: media group manager is required")
	}
	if deps.Downloader == nil {
		return nil, fmt.Errorf("coordinator: downloader is required")
	}
	if deps.Posts == nil || deps.Channels == nil {
		return nil, fmt.Errorf("coordinator: repositories are required")
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("coordinator: notifier is required")
	}
	return &Coordinator{
		filter:     deps.Filter,
		groups:     deps.Groups,
		downloader: deps.Downloader,
		posts:      deps.Posts,
		channels:   deps.Channels,
		notifier:   deps.Notifier,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}, nil
}

// HandleChannelPost is the entry point for channel_post updates. Album
// members are parked in the group buffer; everything else flows through
// the pipeline immediately.
func (c *Coordinator) HandleChannelPost(ctx context.Context, msg telego.Message) {
	c.waitIfPaused(ctx)

	if !c.filter.ShouldProcess(ctx, msg) {
		return
	}

	if msg.MediaGroupID != "" {
		c.groups.Add(msg, c.processGroup)
		return
	}
	c.processSingle(ctx, msg)
}

func (c *Coordinator) processSingle(ctx context.Context, msg telego.Message) {
	post, err := c.posts.InsertIfAbsent(ctx, c.buildPost(msg))
	if err != nil {
		c.reportError(msg.Chat.ID, err)
		return
	}
	if post == nil {
		log.Printf("[Coordinator Channel:%d] Message %d already captured, skipped", msg.Chat.ID, msg.MessageID)
		return
	}

	if ref := media.RefFromMessage(msg); ref != nil {
		c.downloadAndAttach(ctx, post.ID, *ref, 0, "")
	}

	c.finish(ctx, post.ID, msg.Chat.ID, int64(msg.MessageID))
}

// processGroup handles a drained media group. The first buffered message
// supplies the post's text, link and idempotency key; remaining members
// contribute media only.
func (c *Coordinator) processGroup(ctx context.Context, groupID string, messages []telego.Message) error {
	c.waitIfPaused(ctx)
	if len(messages) == 0 {
		return nil
	}
	first := messages[0]

	post, err := c.posts.InsertIfAbsent(ctx, c.buildGroupPost(messages))
	if err != nil {
		c.reportError(first.Chat.ID, err)
		return err
	}
	if post == nil {
		log.Printf("[Coordinator Group:%s] Group already captured, skipped", groupID)
		return nil
	}

	for i, member := range messages {
		ref := media.RefFromMessage(member)
		if ref == nil {
			continue
		}
		suffix := fmt.Sprintf("_group_%d", i+1)
		c.downloadAndAttach(ctx, post.ID, *ref, i, suffix)
	}

	// Members arrive sorted, so the last one carries the group's
	// highest message ID and sets the watermark.
	c.finish(ctx, post.ID, first.Chat.ID, int64(messages[len(messages)-1].MessageID))
	return nil
}

// downloadAndAttach fetches one attachment and records it on the post.
// A failed item is skipped so the post survives with partial media.
func (c *Coordinator) downloadAndAttach(ctx context.Context, postID uint, ref media.Ref, position int, suffix string) {
	item, err := c.downloader.Download(ctx, ref, postID, suffix)
	if err != nil {
		if wait, ok := retry.RetryAfter(err); ok {
			c.pause(wait)
		}
		return
	}
	item.Position = position
	if err := c.posts.AppendMediaItem(ctx, postID, *item); err != nil {
		c.reportError(0, err)
	}
}

// finish advances bookkeeping and notifies the owner. Every step is
// best effort; a notification failure must not undo a captured post.
func (c *Coordinator) finish(ctx context.Context, postID uint, channelID, messageID int64) {
	if err := c.channels.AdvanceWatermark(ctx, channelID, messageID); err != nil {
		c.reportError(channelID, err)
	}
	if err := c.channels.IncrementProcessed(ctx, channelID); err != nil {
		c.reportError(channelID, err)
	}

	post, err := c.posts.GetByID(ctx, postID)
	if err != nil {
		c.reportError(channelID, err)
		return
	}

	if post.IsAlbum() {
		err = c.notifier.NotifyNewAlbum(ctx, post)
	} else {
		err = c.notifier.NotifyNewPost(ctx, post)
	}
	if err != nil {
		if wait, ok := retry.RetryAfter(err); ok {
			c.pause(wait)
		}
		log.Printf("[Coordinator Channel:%d] Notification for post %d failed: %v", channelID, post.ID, err)
		sentry.CaptureException(err)
	}
}

func (c *Coordinator) buildPost(msg telego.Message) *models.Post {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return &models.Post{
		ChannelID:      msg.Chat.ID,
		MessageID:      int64(msg.MessageID),
		OriginalText:   text,
		Status:         models.StatusPending,
		SourceLink:     sourceLink(msg.Chat, msg.MessageID),
		ExtractedLinks: MarshalLinks(ExtractLinks(msg)),
	}
}

// buildGroupPost derives the post from a drained group: key and link
// come from the first member, text and links from whichever member
// carries a caption.
func (c *Coordinator) buildGroupPost(messages []telego.Message) *models.Post {
	first := messages[0]
	post := c.buildPost(first)
	if post.OriginalText == "" {
		for _, member := range messages[1:] {
			if member.Caption != "" {
				post.OriginalText = member.Caption
				post.ExtractedLinks = MarshalLinks(ExtractLinks(member))
				break
			}
		}
	}
	return post
}

// sourceLink builds a t.me permalink. Private channels have no username;
// their links use the /c/ form with the -100 prefix stripped.
func sourceLink(chat telego.Chat, messageID int) string {
	if chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.Username, messageID)
	}
	internal := strings.TrimPrefix(strconv.FormatInt(chat.ID, 10), "-100")
	return fmt.Sprintf("https://t.me/c/%s/%d", internal, messageID)
}

// pause opens the shared flood gate: all events entering the pipeline
// wait until the server-requested window has passed.
func (c *Coordinator) pause(wait time.Duration) {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()

	until := c.now().Add(wait)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
		log.Printf("[Coordinator] Rate limited, pausing pipeline for %v", wait)
	}
}

func (c *Coordinator) waitIfPaused(ctx context.Context) {
	c.pauseMu.Lock()
	remaining := c.pausedUntil.Sub(c.now())
	c.pauseMu.Unlock()

	if remaining > 0 {
		c.sleep(ctx, remaining)
	}
}

// PausedUntil exposes the flood gate deadline for tests and diagnostics.
func (c *Coordinator) PausedUntil() time.Time {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.pausedUntil
}

func (c *Coordinator) reportError(channelID int64, err error) {
	log.Printf("[Coordinator Channel:%d] %v", channelID, err)
	sentry.CaptureException(err)
}
