// Package notifier delivers moderation prompts and operational alerts
// to the owner chat.
package notifier

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/ratelimit"

	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/locales"
	"chanwatch-bot/pkg/telegoapi"
	"chanwatch-bot/pkg/utils"
)

// Callback data prefixes for the moderation keyboard.
const (
	CallbackApprove = "mod_approve"
	CallbackReject  = "mod_reject"
	CallbackRestyle = "mod_restyle"
)

const (
	captionLimit = 1024
	messageLimit = 4096

	// Telegram allows ~30 messages/second to different chats; staying
	// well under it keeps the owner chat itself out of flood control.
	sendsPerSecond = 15
)

// ApproveData builds the callback payload for the approve button.
func ApproveData(postID uint) string { return fmt.Sprintf("%s:%d", CallbackApprove, postID) }

// RejectData builds the callback payload for the reject button.
func RejectData(postID uint) string { return fmt.Sprintf("%s:%d", CallbackReject, postID) }

// RestyleData builds the callback payload for the restyle button.
func RestyleData(postID uint) string { return fmt.Sprintf("%s:%d", CallbackRestyle, postID) }

// ParseCallback splits a moderation callback payload into its action
// prefix and post ID. ok is false for foreign payloads.
func ParseCallback(data string) (action string, postID uint, ok bool) {
	action, idStr, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	switch action {
	case CallbackApprove, CallbackReject, CallbackRestyle:
	default:
		return "", 0, false
	}
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return action, uint(id), true
}

// TelegramNotifier sends moderation previews to the owner chat.
type TelegramNotifier struct {
	bot         telegoapi.BotAPI
	channels    database.ChannelRepository
	ownerChatID int64
	localizer   *i18n.Localizer
	limiter     ratelimit.Limiter
}

// NewTelegramNotifier creates the notifier. lang selects the catalog for
// owner-facing text.
func NewTelegramNotifier(bot telegoapi.BotAPI, channels database.ChannelRepository, ownerChatID int64, lang string) *TelegramNotifier {
	return &TelegramNotifier{
		bot:         bot,
		channels:    channels,
		ownerChatID: ownerChatID,
		localizer:   locales.NewLocalizer(lang),
		limiter:     ratelimit.New(sendsPerSecond),
	}
}

// NotifyNewPost sends a single post preview with the moderation
// keyboard. Media posts are sent as a photo or video upload; if the file
// cannot be attached the preview degrades to plain text.
func (n *TelegramNotifier) NotifyNewPost(ctx context.Context, post *models.Post) error {
	keyboard := n.moderationKeyboard(post.ID)
	caption := utils.Truncate(n.formatPost(ctx, post), captionLimit)

	if first := post.FirstMedia(); first != nil {
		if err := n.sendMediaPreview(ctx, first, caption, keyboard); err == nil {
			return nil
		} else {
			log.Printf("[Notifier Post:%d] Media preview failed, falling back to text: %v", post.ID, err)
		}
	}

	n.limiter.Take()
	_, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.ownerChatID), utils.Truncate(n.formatPost(ctx, post), messageLimit)).
		WithParseMode(telego.ModeHTML).
		WithReplyMarkup(keyboard))
	if err != nil {
		return fmt.Errorf("failed to send post notification: %w", err)
	}
	return nil
}

// NotifyNewAlbum sends the album as a media group followed by a control
// message carrying the keyboard, since media groups cannot hold reply
// markup themselves.
func (n *TelegramNotifier) NotifyNewAlbum(ctx context.Context, post *models.Post) error {
	group, closers := n.buildInputMedia(ctx, post)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	// With fewer than two attachable items this is not an album anymore.
	if len(group) < 2 {
		return n.NotifyNewPost(ctx, post)
	}

	n.limiter.Take()
	if _, err := n.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
		ChatID: tu.ID(n.ownerChatID),
		Media:  group,
	}); err != nil {
		return fmt.Errorf("failed to send album preview: %w", err)
	}

	control := locales.GetMessage(n.localizer, "MsgAlbumControl", map[string]interface{}{
		"PostID": post.ID,
		"Count":  len(post.MediaItems),
	})
	n.limiter.Take()
	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.ownerChatID), control).
		WithReplyMarkup(n.moderationKeyboard(post.ID))); err != nil {
		return fmt.Errorf("failed to send album control message: %w", err)
	}
	return nil
}

// NotifyAlert sends an operational alert to the owner chat.
func (n *TelegramNotifier) NotifyAlert(ctx context.Context, message string) error {
	text := locales.GetMessage(n.localizer, "MsgAlert", map[string]interface{}{"Message": message})
	n.limiter.Take()
	_, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.ownerChatID), "⚠️ "+text))
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) sendMediaPreview(ctx context.Context, item *models.MediaItem, caption string, keyboard *telego.InlineKeyboardMarkup) error {
	file, err := os.Open(item.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	n.limiter.Take()
	switch item.Type {
	case models.MediaTypeVideo:
		_, err = n.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID:      tu.ID(n.ownerChatID),
			Video:       tu.File(file),
			Caption:     caption,
			ParseMode:   telego.ModeHTML,
			ReplyMarkup: keyboard,
		})
	default:
		_, err = n.bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID:      tu.ID(n.ownerChatID),
			Photo:       tu.File(file),
			Caption:     caption,
			ParseMode:   telego.ModeHTML,
			ReplyMarkup: keyboard,
		})
	}
	return err
}

// buildInputMedia opens the album files and assembles the media group.
// Unreadable files are skipped. The caption rides on the first item.
func (n *TelegramNotifier) buildInputMedia(ctx context.Context, post *models.Post) ([]telego.InputMedia, []*os.File) {
	var (
		group   []telego.InputMedia
		closers []*os.File
	)
	caption := utils.Truncate(n.formatPost(ctx, post), captionLimit)

	for _, item := range post.MediaItems {
		file, err := os.Open(item.Path)
		if err != nil {
			log.Printf("[Notifier Post:%d] Skipping unreadable media %s: %v", post.ID, item.Path, err)
			continue
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
	return group, closers
}

func (n *TelegramNotifier) formatPost(ctx context.Context, post *models.Post) string {
	title := strconv.FormatInt(post.ChannelID, 10)
	if ch, err := n.channels.GetByChannelID(ctx, post.ChannelID); err == nil && ch.Title != "" {
		title = ch.Title
	}

	var b strings.Builder
	headerID := "MsgNewPostHeader"
	data := map[string]interface{}{
		"ChannelTitle": utils.Escape(title),
		"PostID":       post.ID,
	}
	if post.IsAlbum() {
		headerID = "MsgNewAlbumHeader"
		data["Count"] = len(post.MediaItems)
	}
	b.WriteString(utils.Bold(locales.GetMessage(n.localizer, headerID, data)))

	if text := post.Text(); text != "" {
		b.WriteString("\n\n")
		b.WriteString(utils.Escape(text))
	}
	if post.Sentiment != "" {
		b.WriteString("\n\n")
		b.WriteString(utils.Italic(locales.GetMessage(n.localizer, "MsgRelevanceLine", map[string]interface{}{
			"Score":     fmt.Sprintf("%.2f", post.RelevanceScore),
			"Sentiment": post.Sentiment,
		})))
	}
	if post.SourceLink != "" {
		b.WriteString("\n\n")
		b.WriteString(locales.GetMessage(n.localizer, "MsgSourceLine", map[string]interface{}{
			"Link": utils.Link(post.SourceLink, post.SourceLink),
		}))
	}
	return b.String()
}

func (n *TelegramNotifier) moderationKeyboard(postID uint) *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(locales.GetMessage(n.localizer, "BtnApprove", nil)).WithCallbackData(ApproveData(postID)),
			tu.InlineKeyboardButton(locales.GetMessage(n.localizer, "BtnReject", nil)).WithCallbackData(RejectData(postID)),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(locales.GetMessage(n.localizer, "BtnRestyle", nil)).WithCallbackData(RestyleData(postID)),
		),
	)
}
