// Package moderation handles the owner's decisions on captured posts:
// approve, reject, or restyle via the inline keyboard.
package moderation

import (
	"context"
	"log"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"chanwatch-bot/internal/analysis"
	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/locales"
	"chanwatch-bot/internal/notifier"
	"chanwatch-bot/pkg/telegoapi"
)

// Publisher sends an approved post to the target channel.
type Publisher interface {
	Publish(ctx context.Context, post *models.Post) error
}

// PostNotifier re-sends the moderation preview after a restyle.
type PostNotifier interface {
	NotifyNewPost(ctx context.Context, post *models.Post) error
}

// Analyzer produces the restyled text for a post.
type Analyzer interface {
	CanRewrite() bool
	Analyze(ctx context.Context, text string) (*analysis.Result, error)
}

// Handler processes moderation callback queries. Only the configured
// owner may act; everyone else gets a refusal toast.
type Handler struct {
	bot       telegoapi.BotAPI
	posts     database.PostRepository
	channels  database.ChannelRepository
	publisher Publisher
	analyzer  Analyzer
	previews  PostNotifier
	ownerID   int64
	localizer *i18n.Localizer
}

// NewHandler creates the moderation handler.
func NewHandler(
	bot telegoapi.BotAPI,
	posts database.PostRepository,
	channels database.ChannelRepository,
	publisher Publisher,
	analyzer Analyzer,
	previews PostNotifier,
	ownerID int64,
	lang string,
) *Handler {
	return &Handler{
		bot:       bot,
		posts:     posts,
		channels:  channels,
		publisher: publisher,
		analyzer:  analyzer,
		previews:  previews,
		ownerID:   ownerID,
		localizer: locales.NewLocalizer(lang),
	}
}

// HandleCallbackQuery processes one callback update. It returns false
// when the payload does not belong to the moderation keyboard, so other
// handlers can claim it.
func (h *Handler) HandleCallbackQuery(ctx context.Context, query telego.CallbackQuery) bool {
	action, postID, ok := notifier.ParseCallback(query.Data)
	if !ok {
		return false
	}

	if query.From.ID != h.ownerID {
		log.Printf("[Moderation] User %d tried to moderate post %d, denied", query.From.ID, postID)
		h.answer(ctx, query.ID, h.message("MsgCallbackNotOwner", nil), true)
		return true
	}

	post, err := h.posts.GetByID(ctx, postID)
	if err != nil {
		log.Printf("[Moderation Post:%d] Lookup failed: %v", postID, err)
		h.answer(ctx, query.ID, h.message("MsgCallbackPostMissing", nil), true)
		return true
	}

	switch action {
	case notifier.CallbackApprove:
		h.approve(ctx, query.ID, post)
	case notifier.CallbackReject:
		h.reject(ctx, query.ID, post)
	case notifier.CallbackRestyle:
		h.restyle(ctx, query.ID, post)
	}
	return true
}

// approve records the decision first, then hands the post to the
// publisher which advances it to posted or failed.
func (h *Handler) approve(ctx context.Context, queryID string, post *models.Post) {
	if err := h.posts.UpdateStatus(ctx, post.ID, models.StatusApproved); err != nil {
		log.Printf("[Moderation Post:%d] Approve failed: %v", post.ID, err)
		sentry.CaptureException(err)
		return
	}
	post.Status = models.StatusApproved

	if err := h.publisher.Publish(ctx, post); err != nil {
		log.Printf("[Moderation Post:%d] Publish failed: %v", post.ID, err)
		sentry.CaptureException(err)
		h.answer(ctx, queryID, h.message("MsgCallbackPublishFailed", map[string]interface{}{
			"PostID": post.ID,
			"Error":  err.Error(),
		}), true)
		return
	}

	if err := h.channels.IncrementApproved(ctx, post.ChannelID); err != nil {
		log.Printf("[Moderation Post:%d] Approved counter update failed: %v", post.ID, err)
	}
	h.answer(ctx, queryID, h.message("MsgCallbackApproved", map[string]interface{}{"PostID": post.ID}), false)
}

func (h *Handler) reject(ctx context.Context, queryID string, post *models.Post) {
	if err := h.posts.UpdateStatus(ctx, post.ID, models.StatusRejected); err != nil {
		log.Printf("[Moderation Post:%d] Reject failed: %v", post.ID, err)
		sentry.CaptureException(err)
		return
	}
	if err := h.channels.IncrementRejected(ctx, post.ChannelID); err != nil {
		log.Printf("[Moderation Post:%d] Rejected counter update failed: %v", post.ID, err)
	}
	h.answer(ctx, queryID, h.message("MsgCallbackRejected", map[string]interface{}{"PostID": post.ID}), false)
}

// restyle rewrites the text, stores the result and re-sends the preview
// so the owner decides on what would actually be published.
func (h *Handler) restyle(ctx context.Context, queryID string, post *models.Post) {
	if h.analyzer == nil || !h.analyzer.CanRewrite() {
		h.answer(ctx, queryID, h.message("MsgRestyleUnavailable", nil), true)
		return
	}

	result, err := h.analyzer.Analyze(ctx, post.OriginalText)
	if err != nil {
		log.Printf("[Moderation Post:%d] Restyle failed: %v", post.ID, err)
		sentry.CaptureException(err)
		h.answer(ctx, queryID, h.message("MsgRestyleUnavailable", nil), true)
		return
	}

	if err := h.posts.SetGenerated(ctx, post.ID, result.Rewritten, result.Relevance, result.Sentiment, result.Details); err != nil {
		log.Printf("[Moderation Post:%d] Failed to store rewrite: %v", post.ID, err)
		sentry.CaptureException(err)
		return
	}

	updated, err := h.posts.GetByID(ctx, post.ID)
	if err == nil {
		if err := h.previews.NotifyNewPost(ctx, updated); err != nil {
			log.Printf("[Moderation Post:%d] Preview re-send failed: %v", post.ID, err)
		}
	}
	h.answer(ctx, queryID, h.message("MsgCallbackRestyled", map[string]interface{}{"PostID": post.ID}), false)
}

func (h *Handler) answer(ctx context.Context, queryID, text string, alert bool) {
	err := h.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		log.Printf("[Moderation] Failed to answer callback %s: %v", queryID, err)
	}
}

func (h *Handler) message(id string, data map[string]interface{}) string {
	return locales.GetMessage(h.localizer, id, data)
}
