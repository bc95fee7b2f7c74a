package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Authenticator 把 join 声明的身份解析为已注册用户。
// 表示“用户无效”的失败会包装 models.ErrUnauthorized。
type Authenticator interface {
	ResolveAndVerify(ctx context.Context, identity, token string) (string, error)
}

type MessageStore interface {
	Append(ctx context.Context, roomID, author, text string, kind models.Kind, image string) (models.Message, error)
	List(ctx context.Context, roomID string) ([]models.Message, error)
	Get(ctx context.Context, id int64) (models.Message, error)
}

// ReactionStore 对重复添加与删除不存在的反应返回 false，而不是错误。
type ReactionStore interface {
	Add(ctx context.Context, messageID int64, user, emoji string) (bool, error)
	Remove(ctx context.Context, messageID int64, user, emoji string) (bool, error)
	GroupByMessage(ctx context.Context, roomID string) (map[int64]map[string][]string, error)
}

// Handler 按会话状态分发入站事件。
type Handler struct {
	hub       *Hub
	auth      Authenticator
	messages  MessageStore
	reactions ReactionStore
}

func NewHandler(hub *Hub, auth Authenticator, messages MessageStore, reactions ReactionStore) *Handler {
	return &Handler{hub: hub, auth: auth, messages: messages, reactions: reactions}
}

// Handle 处理 s 的一帧入站数据。格式错误或与当前会话状态不符的帧直接丢弃。
func (h *Handler) Handle(ctx context.Context, s *Session, data []byte) {
	ev, err := DecodeEvent(data)
	if err != nil {
		log.Debug().Err(err).Str("conn", s.conn.ID()).Msg("drop frame")
		return
	}
	metrics.WsEventsTotal.WithLabelValues(ev.eventName()).Inc()
	h.reconcile(s)

	switch e := ev.(type) {
	case JoinEvent:
		h.join(ctx, s, e)
	case SwitchChatEvent:
		h.switchChat(ctx, s, e)
	case SendMessageEvent:
		if strings.TrimSpace(e.Text) == "" {
			return
		}
		h.post(ctx, s, e.Text, models.KindText, "")
	case SendImageEvent:
		if e.ImageData == "" {
			return
		}
		h.post(ctx, s, "", models.KindImage, e.ImageData)
	case AddReactionEvent:
		h.react(ctx, s, e.MessageID, e.Emoji, true)
	case RemoveReactionEvent:
		h.react(ctx, s, e.MessageID, e.Emoji, false)
	case TypingEvent:
		if s.State() == StateInRoom {
			h.hub.SetTyping(s.room, s.user, e.Active)
		}
	}
}

// Disconnect 执行 s 的离开清理，只有第一次调用生效。
func (h *Handler) Disconnect(s *Session) {
	s.once.Do(func() {
		if s.State() == StateInRoom {
			h.hub.Leave(s.room, s.user, s.conn)
		}
		s.room = ""
	})
}

// reconcile 让会话与 Hub 保持一致：同一用户在别的连接上加入房间后，
// 本会话不再拥有成员身份，退回 IDLE。
func (h *Handler) reconcile(s *Session) {
	if s.State() != StateInRoom || h.hub.IsMember(s.room, s.user, s.conn) {
		return
	}
	log.Info().Str("conn", s.conn.ID()).Str("user", s.user).Str("room", s.room).Msg("session displaced by another connection")
	s.room = ""
}

func (h *Handler) join(ctx context.Context, s *Session, e JoinEvent) {
	if s.State() != StateUnbound {
		return
	}
	token := e.Token
	if token == "" {
		token = s.token
	}
	user, err := h.auth.ResolveAndVerify(ctx, strings.TrimSpace(e.User), token)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			log.Info().Str("conn", s.conn.ID()).Str("identity", e.User).Msg("join rejected")
			h.sendTo(s, EventError, ErrorPayload{Message: "user not registered"})
			return
		}
		log.Error().Err(err).Str("conn", s.conn.ID()).Msg("resolve user")
		h.sendTo(s, EventError, ErrorPayload{Message: "join failed"})
		return
	}
	s.user = user
	log.Debug().Str("conn", s.conn.ID()).Str("user", user).Msg("session bound")
}

func (h *Handler) switchChat(ctx context.Context, s *Session, e SwitchChatEvent) {
	roomID := strings.TrimSpace(e.ChatID)
	if s.State() == StateUnbound || roomID == "" {
		return
	}
	if s.room != "" {
		h.hub.Leave(s.room, s.user, s.conn)
	}
	h.hub.Join(roomID, s.user, s.conn)
	s.room = roomID

	var (
		msgs    []models.Message
		grouped map[int64]map[string][]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		msgs, err = h.messages.List(gctx, roomID)
		return err
	})
	g.Go(func() error {
		var err error
		grouped, err = h.reactions.GroupByMessage(gctx, roomID)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Str("room", roomID).Str("user", s.user).Msg("load history")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.sendTo(s, EventHistory, HistoryPayload{ChatID: roomID, Messages: msgs})

	ids := make([]int64, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.sendTo(s, EventReactionsUpdate, ReactionsUpdatePayload{ChatID: roomID, MessageID: id, Reactions: grouped[id]})
	}
}

func (h *Handler) post(ctx context.Context, s *Session, text string, kind models.Kind, image string) {
	if s.State() != StateInRoom {
		return
	}
	msg, err := h.messages.Append(ctx, s.room, s.user, text, kind, image)
	if err != nil {
		log.Error().Err(err).Str("room", s.room).Str("user", s.user).Msg("append message")
		return
	}
	metrics.WsMessagesTotal.WithLabelValues(string(kind)).Inc()
	if err := h.hub.Broadcast(s.room, Envelope{Type: EventNewMessage, Payload: msg}); err != nil {
		log.Error().Err(err).Int64("message_id", msg.ID).Msg("broadcast message")
	}
}

func (h *Handler) react(ctx context.Context, s *Session, messageID int64, emoji string, add bool) {
	emoji = strings.TrimSpace(emoji)
	if s.State() != StateInRoom || messageID <= 0 || emoji == "" {
		return
	}
	msg, err := h.messages.Get(ctx, messageID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error().Err(err).Int64("message_id", messageID).Msg("lookup message")
		}
		return
	}
	if msg.ChatID != s.room {
		return
	}

	var (
		changed bool
		evType  = EventReactionAdded
	)
	if add {
		changed, err = h.reactions.Add(ctx, messageID, s.user, emoji)
	} else {
		evType = EventReactionRemoved
		changed, err = h.reactions.Remove(ctx, messageID, s.user, emoji)
	}
	if err != nil {
		log.Error().Err(err).Int64("message_id", messageID).Str("user", s.user).Msg(evType)
		return
	}
	if !changed {
		return
	}
	payload := ReactionPayload{ChatID: s.room, MessageID: messageID, User: s.user, Emoji: emoji}
	if err := h.hub.Broadcast(s.room, Envelope{Type: evType, Payload: payload}); err != nil {
		log.Error().Err(err).Int64("message_id", messageID).Msg("broadcast reaction")
	}
}

// sendTo 只向 s 发送一帧。
func (h *Handler) sendTo(s *Session, eventType string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("marshal frame")
		return
	}
	if err := s.conn.Send(data); err != nil {
		log.Debug().Err(err).Str("conn", s.conn.ID()).Str("type", eventType).Msg("send to session")
	}
}
