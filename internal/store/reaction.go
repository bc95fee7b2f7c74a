package store

import (
	"context"
	"fmt"

	"chatrelay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionStore keeps the (message, user, emoji) set.
type ReactionStore struct {
	db *gorm.DB
}

func NewReactionStore(db *gorm.DB) *ReactionStore {
	return &ReactionStore{db: db}
}

// Add inserts the triple; it reports false when it already exists.
func (s *ReactionStore) Add(ctx context.Context, messageID int64, user, emoji string) (bool, error) {
	r := models.Reaction{MessageID: messageID, Username: user, Emoji: emoji}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&r)
	if res.Error != nil {
		return false, fmt.Errorf("add reaction: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Remove deletes the triple; it reports false when nothing matched.
func (s *ReactionStore) Remove(ctx context.Context, messageID int64, user, emoji string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("message_id = ? AND username = ? AND emoji = ?", messageID, user, emoji).
		Delete(&models.Reaction{})
	if res.Error != nil {
		return false, fmt.Errorf("remove reaction: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

type reactionRow struct {
	MessageID int64
	Emoji     string
	Username  string
}

// GroupByMessage returns message id -> emoji -> users for every reacted
// message in roomID. Users are listed in the order they reacted.
func (s *ReactionStore) GroupByMessage(ctx context.Context, roomID string) (map[int64]map[string][]string, error) {
	var rows []reactionRow
	err := s.db.WithContext(ctx).
		Model(&models.Reaction{}).
		Select("reactions.message_id, reactions.emoji, reactions.username").
		Joins("JOIN messages ON messages.id = reactions.message_id").
		Where("messages.chat_id = ?", roomID).
		Order("reactions.id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("group reactions: %w", err)
	}
	out := make(map[int64]map[string][]string)
	for _, r := range rows {
		byEmoji, ok := out[r.MessageID]
		if !ok {
			byEmoji = make(map[string][]string)
			out[r.MessageID] = byEmoji
		}
		byEmoji[r.Emoji] = append(byEmoji[r.Emoji], r.Username)
	}
	return out, nil
}
