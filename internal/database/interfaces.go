package database

import (
	"context"
	"errors"

	"chanwatch-bot/internal/database/models"
)

// ErrPostNotFound is returned when a post lookup by ID finds nothing.
var ErrPostNotFound = errors.New("post not found")

// ErrChannelNotFound is returned when a channel lookup finds nothing.
var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository defines operations on the monitored channel registry.
type ChannelRepository interface {
	// Upsert creates the channel or refreshes its metadata if a record
	// with the same ChannelID already exists.
	Upsert(ctx context.Context, channel *models.Channel) error
	// GetByChannelID returns the channel with the given Telegram chat ID.
	GetByChannelID(ctx context.Context, channelID int64) (*models.Channel, error)
	// ListActiveChannelIDs returns the set of chat IDs currently enabled
	// for monitoring.
	ListActiveChannelIDs(ctx context.Context) (map[int64]struct{}, error)
	// SetActive toggles monitoring for a channel.
	SetActive(ctx context.Context, channelID int64, active bool) error
	// AdvanceWatermark raises LastMessageID to messageID if it is higher
	// than the stored value. Out-of-order calls never move it backwards.
	AdvanceWatermark(ctx context.Context, channelID, messageID int64) error
	// IncrementProcessed bumps the processed-post counter.
	IncrementProcessed(ctx context.Context, channelID int64) error
	// IncrementApproved bumps the approved-post counter.
	IncrementApproved(ctx context.Context, channelID int64) error
	// IncrementRejected bumps the rejected-post counter.
	IncrementRejected(ctx context.Context, channelID int64) error
}

// PostRepository defines operations on captured posts.
type PostRepository interface {
	// InsertIfAbsent stores the post unless one with the same
	// (ChannelID, MessageID) already exists. It returns the stored post,
	// or nil when a duplicate suppressed the insert.
	InsertIfAbsent(ctx context.Context, post *models.Post) (*models.Post, error)
	// Exists reports whether a post with the given source pair is stored.
	Exists(ctx context.Context, channelID, messageID int64) (bool, error)
	// GetByID returns the post or ErrPostNotFound.
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	// AppendMediaItem adds one downloaded attachment to the post. Items
	// with an already-present path are ignored; the list stays sorted by
	// Position.
	AppendMediaItem(ctx context.Context, postID uint, item models.MediaItem) error
	// UpdateStatus moves the post to a new moderation status.
	UpdateStatus(ctx context.Context, postID uint, status models.PostStatus) error
	// SetGenerated stores the analysis outcome for the post.
	SetGenerated(ctx context.Context, postID uint, text string, relevance float64, sentiment, analysis string) error
	// ListByStatus returns up to limit posts in the given status, oldest
	// first.
	ListByStatus(ctx context.Context, status models.PostStatus, limit int) ([]models.Post, error)
}
