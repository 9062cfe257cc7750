package models

import "time"

// Channel is a monitored source channel. ChannelID is the raw Telegram
// chat ID, negative with the -100 prefix for channels.
type Channel struct {
	ID             uint   `gorm:"primaryKey"`
	ChannelID      int64  `gorm:"uniqueIndex;not null"`
	Title          string `gorm:"size:255"`
	Username       string `gorm:"size:255;index"`
	IsActive       bool   `gorm:"default:true;index"`
	LastMessageID  int64  `gorm:"default:0"`
	PostsProcessed int64  `gorm:"default:0"`
	PostsApproved  int64  `gorm:"default:0"`
	PostsRejected  int64  `gorm:"default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName overrides the default gorm table name.
func (Channel) TableName() string {
	return "channels"
}
