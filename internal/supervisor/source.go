package supervisor

import (
	"context"

	"github.com/mymmrac/telego"
)

// UpdateSource opens a stream of updates. The returned channel closes
// when the underlying transport dies or ctx is cancelled.
type UpdateSource interface {
	Open(ctx context.Context) (<-chan telego.Update, error)
}

// LongPollingSource streams updates via Bot API long polling.
type LongPollingSource struct {
	bot *telego.Bot
}

// NewLongPollingSource wraps a telego bot.
func NewLongPollingSource(bot *telego.Bot) *LongPollingSource {
	return &LongPollingSource{bot: bot}
}

// Open starts long polling scoped to ctx. Only the update kinds the
// pipeline consumes are requested.
func (s *LongPollingSource) Open(ctx context.Context) (<-chan telego.Update, error) {
	return s.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			telego.MessageUpdates,
			telego.ChannelPostUpdates,
			telego.CallbackQueryUpdates,
		},
	})
}
