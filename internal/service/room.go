package service

import (
	"context"

	"chatrelay/internal/models"
	"chatrelay/internal/ws"

	"gorm.io/gorm"
)

// RoomService 汇总房间信息：历史里出现过的房间加上 Hub 中的实时在线情况。
type RoomService struct {
	db  *gorm.DB
	hub *ws.Hub
}

func NewRoomService(db *gorm.DB, hub *ws.Hub) *RoomService {
	return &RoomService{db: db, hub: hub}
}

type RoomDTO struct {
	ID       string `json:"chat_id"`
	Messages int64  `json:"messages"`
	Online   int    `json:"online"`
}

type PresenceDTO struct {
	ID     string   `json:"chat_id"`
	Users  []string `json:"users"`
	Typing []string `json:"typing_users"`
}

type roomRow struct {
	ChatID string
	Total  int64
}

// List 返回有历史消息的房间，附带在线人数，按房间 id 排序。
func (s *RoomService) List(ctx context.Context, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rows []roomRow
	err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("chat_id, count(*) as total").
		Group("chat_id").
		Order("chat_id asc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, RoomDTO{ID: r.ChatID, Messages: r.Total, Online: s.hub.Online(r.ChatID)})
	}
	return out, nil
}

// Presence 返回房间当前成员与正在输入的用户。房间不存在时返回空列表。
func (s *RoomService) Presence(roomID string) PresenceDTO {
	return PresenceDTO{ID: roomID, Users: s.hub.Members(roomID), Typing: s.hub.Typing(roomID)}
}
