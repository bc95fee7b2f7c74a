package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"

	"gorm.io/gorm"
)

// MessageStore is the gorm-backed append-only message log.
type MessageStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{db: db, now: time.Now}
}

// Append persists a message and returns it with the assigned id and UTC timestamp.
func (s *MessageStore) Append(ctx context.Context, roomID, author, text string, kind models.Kind, image string) (models.Message, error) {
	msg := models.Message{
		ChatID:    roomID,
		Author:    author,
		Text:      text,
		Timestamp: s.now().UTC(),
		Kind:      kind,
		ImageData: image,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// List returns every message of roomID ordered by timestamp, then id.
func (s *MessageStore) List(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("chat_id = ?", roomID).Order("sent_at asc, id asc").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Page returns up to limit messages of roomID, oldest first. With beforeID > 0
// only messages older than it are returned.
func (s *MessageStore) Page(ctx context.Context, roomID string, limit int, beforeID int64) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Where("chat_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MessageStore) Get(ctx context.Context, id int64) (models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, models.ErrNotFound
		}
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}
