package models

import "time"

// Kind 区分消息类型，image 类型的消息 text 为空。
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 同时作为表结构和 new_message / history 的线上格式。
type Message struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	ChatID    string    `gorm:"index:idx_msg_chat_ts,priority:1;size:128;not null" json:"chat_id"`
	Author    string    `gorm:"index;size:64;not null" json:"user"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Timestamp time.Time `gorm:"column:sent_at;index:idx_msg_chat_ts,priority:2;not null" json:"timestamp"`
	Kind      Kind      `gorm:"size:16;not null;default:text" json:"type"`
	ImageData string    `gorm:"type:text" json:"image_data,omitempty"`
}

// Reaction 的 (message_id, username, emoji) 组合唯一。
type Reaction struct {
	ID        int64  `gorm:"primaryKey"`
	MessageID int64  `gorm:"uniqueIndex:idx_reaction_unique,priority:1;not null"`
	Username  string `gorm:"uniqueIndex:idx_reaction_unique,priority:2;size:64;not null"`
	Emoji     string `gorm:"uniqueIndex:idx_reaction_unique,priority:3;size:64;not null"`
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
