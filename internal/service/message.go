package service

import (
	"context"

	"chatrelay/internal/models"
)

// MessagePager 是消息日志的分页读取接口。
type MessagePager interface {
	Page(ctx context.Context, roomID string, limit int, beforeID int64) ([]models.Message, error)
}

type ReactionGrouper interface {
	GroupByMessage(ctx context.Context, roomID string) (map[int64]map[string][]string, error)
}

// MessageService 封装历史消息查询，供 REST 接口使用。
type MessageService struct {
	messages  MessagePager
	reactions ReactionGrouper
}

func NewMessageService(messages MessagePager, reactions ReactionGrouper) *MessageService {
	return &MessageService{messages: messages, reactions: reactions}
}

// MessageDTO 在线上消息格式之外附带该消息的表情回应。
type MessageDTO struct {
	models.Message
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// ListByRoom 分页查询指定房间的消息，按 id 升序返回。
func (s *MessageService) ListByRoom(ctx context.Context, roomID string, limit int, beforeID int64) ([]MessageDTO, error) {
	msgs, err := s.messages.Page(ctx, roomID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	grouped, err := s.reactions.GroupByMessage(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{Message: m, Reactions: grouped[m.ID]})
	}
	return out, nil
}
