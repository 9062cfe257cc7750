package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chanwatch-bot/internal/database/models"
)

// GormChannelRepository implements ChannelRepository on gorm/SQLite.
type GormChannelRepository struct {
	db *gorm.DB
}

// NewGormChannelRepository creates the repository.
func NewGormChannelRepository(db *gorm.DB) *GormChannelRepository {
	return &GormChannelRepository{db: db}
}

func (r *GormChannelRepository) Upsert(ctx context.Context, channel *models.Channel) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "username", "is_active", "updated_at"}),
	}).Create(channel).Error
	if err != nil {
		return fmt.Errorf("failed to upsert channel %d: %w", channel.ChannelID, err)
	}
	return nil
}

func (r *GormChannelRepository) GetByChannelID(ctx context.Context, channelID int64) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %d: %w", channelID, err)
	}
	return &channel, nil
}

func (r *GormChannelRepository) ListActiveChannelIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("is_active = ?", true).
		Pluck("channel_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active channels: %w", err)
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *GormChannelRepository) SetActive(ctx context.Context, channelID int64, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("channel_id = ?", channelID).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to set channel %d active=%t: %w", channelID, active, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// AdvanceWatermark uses a conditional update so concurrent or reordered
// deliveries can never lower the stored watermark.
func (r *GormChannelRepository) AdvanceWatermark(ctx context.Context, channelID, messageID int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("channel_id = ? AND last_message_id < ?", channelID, messageID).
		Update("last_message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("failed to advance watermark for channel %d: %w", channelID, err)
	}
	return nil
}

func (r *GormChannelRepository) IncrementProcessed(ctx context.Context, channelID int64) error {
	return r.increment(ctx, channelID, "posts_processed")
}

func (r *GormChannelRepository) IncrementApproved(ctx context.Context, channelID int64) error {
	return r.increment(ctx, channelID, "posts_approved")
}

func (r *GormChannelRepository) IncrementRejected(ctx context.Context, channelID int64) error {
	return r.increment(ctx, channelID, "posts_rejected")
}

func (r *GormChannelRepository) increment(ctx context.Context, channelID int64, column string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("channel_id = ?", channelID).
		Update(column, gorm.Expr(column+" + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment %s for channel %d: %w", column, channelID, err)
	}
	return nil
}
