package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatrelay/internal/models"
)

// Inbound event names.
const (
	EventJoin           = "join"
	EventSwitchChat     = "switch_chat"
	EventSendMessage    = "send_message"
	EventSendImage      = "send_image"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
)

// Outbound event names.
const (
	EventHistory         = "history"
	EventNewMessage      = "new_message"
	EventUserList        = "user_list"
	EventTypingUpdate    = "typing_update"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventReactionsUpdate = "reactions_update"
	EventError           = "error"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// Event is the closed set of inbound events a session can receive.
type Event interface {
	eventName() string
}

type JoinEvent struct {
	User  string `json:"user"`
	Token string `json:"token"`
}

type SwitchChatEvent struct {
	ChatID string `json:"chat_id"`
}

type SendMessageEvent struct {
	Text string `json:"text"`
}

type SendImageEvent struct {
	ImageData string `json:"image_data"`
}

type AddReactionEvent struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type RemoveReactionEvent struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type TypingEvent struct {
	Active bool
}

func (JoinEvent) eventName() string           { return EventJoin }
func (SwitchChatEvent) eventName() string     { return EventSwitchChat }
func (SendMessageEvent) eventName() string    { return EventSendMessage }
func (SendImageEvent) eventName() string      { return EventSendImage }
func (AddReactionEvent) eventName() string    { return EventAddReaction }
func (RemoveReactionEvent) eventName() string { return EventRemoveReaction }

func (e TypingEvent) eventName() string {
	if e.Active {
		return EventTypingStart
	}
	return EventTypingStop
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent parses a `{type, payload}` frame into its event type.
func DecodeEvent(data []byte) (Event, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	var (
		ev  Event
		err error
	)
	switch f.Type {
	case EventJoin:
		var e JoinEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventSwitchChat:
		var e SwitchChatEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventSendMessage:
		var e SendMessageEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventSendImage:
		var e SendImageEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventAddReaction:
		var e AddReactionEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventRemoveReaction:
		var e RemoveReactionEvent
		err = decodePayload(f.Payload, &e)
		ev = e
	case EventTypingStart:
		ev = TypingEvent{Active: true}
	case EventTypingStop:
		ev = TypingEvent{Active: false}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Type, err)
	}
	return ev, nil
}

func decodePayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Envelope is the outbound frame shape.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type Presence struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

type UserListPayload struct {
	ChatID string     `json:"chat_id"`
	Users  []Presence `json:"users"`
}

type TypingPayload struct {
	ChatID      string   `json:"chat_id"`
	TypingUsers []string `json:"typing_users"`
}

type HistoryPayload struct {
	ChatID   string           `json:"chat_id"`
	Messages []models.Message `json:"messages"`
}

type ReactionPayload struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	User      string `json:"user"`
	Emoji     string `json:"emoji"`
}

type ReactionsUpdatePayload struct {
	ChatID    string              `json:"chat_id"`
	MessageID int64               `json:"message_id"`
	Reactions map[string][]string `json:"reactions"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
