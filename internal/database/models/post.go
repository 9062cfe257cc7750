package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PostStatus tracks a post through the moderation pipeline.
type PostStatus string

const (
	StatusPending   PostStatus = "pending"
	StatusApproved  PostStatus = "approved"
	StatusRejected  PostStatus = "rejected"
	StatusScheduled PostStatus = "scheduled"
	StatusPosted    PostStatus = "posted"
	StatusFailed    PostStatus = "failed"
)

// MediaType distinguishes the supported attachment kinds.
type MediaType string

const (
	MediaTypePhoto MediaType = "photo"
	MediaTypeVideo MediaType = "video"
)

// MediaItem describes one downloaded attachment of a post. Path and
// ThumbnailPath are local filesystem paths under the media root.
type MediaItem struct {
	Type          MediaType `json:"type"`
	Path          string    `json:"path"`
	Position      int       `json:"position"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	Duration      int       `json:"duration,omitempty"`
	FileSize      int64     `json:"file_size,omitempty"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
}

// MediaItems is stored as a JSON text column.
type MediaItems []MediaItem

// Value implements driver.Valuer.
func (m MediaItems) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal media items: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *MediaItems) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported media items column type %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}

// Post is a captured channel message awaiting moderation. The pair
// (ChannelID, MessageID) is the idempotency key for ingestion; for media
// groups MessageID is the ID of the first buffered message.
type Post struct {
	ID             uint       `gorm:"primaryKey"`
	ChannelID      int64      `gorm:"not null;uniqueIndex:idx_posts_channel_message,priority:1"`
	MessageID      int64      `gorm:"not null;uniqueIndex:idx_posts_channel_message,priority:2"`
	OriginalText   string     `gorm:"type:text"`
	GeneratedText  string     `gorm:"type:text"`
	MediaItems     MediaItems `gorm:"type:text"`
	Status         PostStatus `gorm:"size:32;default:'pending';index"`
	RelevanceScore float64    `gorm:"default:0"`
	Sentiment      string     `gorm:"size:32"`
	Analysis       string     `gorm:"type:text"`
	SourceLink     string     `gorm:"size:512"`
	ExtractedLinks string     `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName overrides the default gorm table name.
func (Post) TableName() string {
	return "posts"
}

// Text returns the text that should be published: the rewritten variant
// when one exists, the original otherwise.
func (p *Post) Text() string {
	if p.GeneratedText != "" {
		return p.GeneratedText
	}
	return p.OriginalText
}

// IsAlbum reports whether the post carries more than one media item.
func (p *Post) IsAlbum() bool {
	return len(p.MediaItems) >= 2
}

// FirstMedia returns the first attachment or nil for text-only posts.
func (p *Post) FirstMedia() *MediaItem {
	if len(p.MediaItems) == 0 {
		return nil
	}
	return &p.MediaItems[0]
}
