package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"chanwatch-bot/internal/database/models"
)

// GormPostRepository implements PostRepository on gorm/SQLite.
type GormPostRepository struct {
	db *gorm.DB
}

// NewGormPostRepository creates the repository.
func NewGormPostRepository(db *gorm.DB) *GormPostRepository {
	return &GormPostRepository{db: db}
}

// InsertIfAbsent checks and inserts inside one transaction so the same
// message delivered twice produces exactly one row. The unique index on
// (channel_id, message_id) backstops any race the check misses.
func (r *GormPostRepository) InsertIfAbsent(ctx context.Context, post *models.Post) (*models.Post, error) {
	var stored *models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Post{}).
			Where("channel_id = ? AND message_id = ?", post.ChannelID, post.MessageID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check for existing post: %w", err)
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		stored = post
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to insert post %d/%d: %w", post.ChannelID, post.MessageID, err)
	}
	return stored, nil
}

func (r *GormPostRepository) Exists(ctx context.Context, channelID, messageID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("channel_id = ? AND message_id = ?", channelID, messageID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check post existence: %w", err)
	}
	return count > 0, nil
}

func (r *GormPostRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).First(&post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load post %d: %w", id, err)
	}
	return &post, nil
}

// AppendMediaItem runs read-modify-write in a transaction. Re-appending
// an item with a path that is already attached is a no-op, which makes
// retried downloads safe.
func (r *GormPostRepository) AppendMediaItem(ctx context.Context, postID uint, item models.MediaItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return fmt.Errorf("failed to load post %d: %w", postID, err)
		}

		for _, existing := range post.MediaItems {
			if existing.Path == item.Path {
				return nil
			}
		}

		items := append(post.MediaItems, item)
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Position < items[j].Position
		})

		if err := tx.Model(&post).Update("media_items", models.MediaItems(items)).Error; err != nil {
			return fmt.Errorf("failed to store media items for post %d: %w", postID, err)
		}
		return nil
	})
}

func (r *GormPostRepository) UpdateStatus(ctx context.Context, postID uint, status models.PostStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", postID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of post %d: %w", postID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *GormPostRepository) SetGenerated(ctx context.Context, postID uint, text string, relevance float64, sentiment, analysis string) error {
	res := r.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ?", postID).
		Updates(map[string]interface{}{
			"generated_text":  text,
			"relevance_score": relevance,
			"sentiment":       sentiment,
			"analysis":        analysis,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to store analysis for post %d: %w", postID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *GormPostRepository) ListByStatus(ctx context.Context, status models.PostStatus, limit int) ([]models.Post, error) {
	var posts []models.Post
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("failed to list posts with status %s: %w", status, err)
	}
	return posts, nil
}

// SQLite reports duplicate rows with this message; gorm does not expose
// a typed error for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
