// Package publisher pushes approved posts to the target channel.
package publisher

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/ratelimit"

	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/pkg/telegoapi"
	"chanwatch-bot/pkg/utils"
)

const (
	captionLimit = 1024
	messageLimit = 4096

	// Telegram caps bots at ~20 messages/minute to the same chat.
	publishesPerMinute = 20
)

// ConnectionProbe reports whether the Telegram connection is believed
// live right now. Satisfied by supervisor.Supervisor.
type ConnectionProbe interface {
	EnsureConnected(ctx context.Context) bool
}

// Publisher sends approved posts to the configured channel and records
// the outcome on the post.
type Publisher struct {
	bot       telegoapi.BotAPI
	posts     database.PostRepository
	channelID int64
	limiter   ratelimit.Limiter
	probe     ConnectionProbe
}

// NewPublisher creates the publisher for the given target channel.
func NewPublisher(bot telegoapi.BotAPI, posts database.PostRepository, channelID int64) *Publisher {
	return &Publisher{
		bot:       bot,
		posts:     posts,
		channelID: channelID,
		limiter:   ratelimit.New(publishesPerMinute, ratelimit.Per(time.Minute)),
	}
}

// WithProbe makes Publish check the connection before sending. The
// supervisor is built after the publisher, so this is wired separately.
func (p *Publisher) WithProbe(probe ConnectionProbe) *Publisher {
	p.probe = probe
	return p
}

// Publish sends the post to the target channel. On success the post
// moves to StatusPosted, on failure to StatusFailed. A dead connection
// aborts before sending and leaves the status untouched, so the post
// can be retried once the supervisor reconnects.
func (p *Publisher) Publish(ctx context.Context, post *models.Post) error {
	if p.probe != nil && !p.probe.EnsureConnected(ctx) {
		return fmt.Errorf("connection is down, post %d not published", post.ID)
	}
	p.limiter.Take()

	err := p.send(ctx, post)
	if err != nil {
		if statusErr := p.posts.UpdateStatus(ctx, post.ID, models.StatusFailed); statusErr != nil {
			log.Printf("[Publisher Post:%d] Failed to mark post failed: %v", post.ID, statusErr)
		}
		return fmt.Errorf("failed to publish post %d: %w", post.ID, err)
	}

	if err := p.posts.UpdateStatus(ctx, post.ID, models.StatusPosted); err != nil {
		return fmt.Errorf("post %d published but status update failed: %w", post.ID, err)
	}
	log.Printf("[Publisher Post:%d] Published to channel %d", post.ID, p.channelID)
	return nil
}

func (p *Publisher) send(ctx context.Context, post *models.Post) error {
	if post.IsAlbum() {
		if err := p.sendAlbum(ctx, post); err == nil {
			return nil
		} else {
			log.Printf("[Publisher Post:%d] Album send failed, trying first item only: %v", post.ID, err)
		}
	}

	if first := post.FirstMedia(); first != nil {
		if err := p.sendSingleMedia(ctx, first, utils.Truncate(utils.Escape(post.Text()), captionLimit)); err == nil {
			return nil
		} else {
			log.Printf("[Publisher Post:%d] Media send failed, falling back to text: %v", post.ID, err)
		}
	}

	text := utils.Truncate(utils.Escape(post.Text()), messageLimit)
	if text == "" {
		return fmt.Errorf("post has neither sendable media nor text")
	}
	_, err := p.bot.SendMessage(ctx, tu.Message(tu.ID(p.channelID), text).WithParseMode(telego.ModeHTML))
	return err
}

func (p *Publisher) sendSingleMedia(ctx context.Context, item *models.MediaItem, caption string) error {
	file, err := os.Open(item.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	switch item.Type {
	case models.MediaTypeVideo:
		_, err = p.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID:    tu.ID(p.channelID),
			Video:     tu.File(file),
			Caption:   caption,
			ParseMode: telego.ModeHTML,
		})
	default:
		_, err = p.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:    tu.ID(p.channelID),
			Photo:     tu.File(file),
			Caption:   caption,
			ParseMode: telego.ModeHTML,
		})
	}
	return err
}

func (p *Publisher) sendAlbum(ctx context.Context, post *models.Post) error {
	var (
		group   []telego.InputMedia
		closers []*os.File
	)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	caption := utils.Truncate(utils.Escape(post.Text()), captionLimit)
	for _, item := range post.MediaItems {
		file, err := os.Open(item.Path)
		if err != nil {
			return fmt.Errorf("failed to open album item %s: %w", item.Path, err)
		}
		closers = append(closers, file)

		switch item.Type {
		case models.MediaTypeVideo:
			media := tu.MediaVideo(tu.File(file))
			if len(group) == 0 {
				media = media.WithCaption(caption).WithParseMode(telego.ModeHTML)
			}
			group = append(group, media)
		default:
			media := tu.MediaPhoto(tu.File(file))
			if len(group) == 0 {
				media = media.WithCaption(caption).WithParseMode(telego.ModeHTML)
			}
			group = append(group, media)
		}
	}

	_, err := p.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
		ChatID: tu.ID(p.channelID),
		Media:  group,
	})
	return err
}
