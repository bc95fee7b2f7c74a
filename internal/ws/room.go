package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// room 保存单个房间的成员、连接与正在输入的用户。
// 所有字段由 mu 保护；members 的值始终是 conns 的子集，typing 始终是 members 键的子集。
type room struct {
	id      string
	mu      sync.Mutex
	members map[string]Connection // user -> conn
	conns   map[string]Connection // conn id -> conn
	typing  map[string]struct{}
}

func newRoom(id string) *room {
	return &room{
		id:      id,
		members: make(map[string]Connection),
		conns:   make(map[string]Connection),
		typing:  make(map[string]struct{}),
	}
}

func (r *room) userListLocked() UserListPayload {
	users := make([]Presence, 0, len(r.members))
	for u := range r.members {
		users = append(users, Presence{Username: u, Status: "online"})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return UserListPayload{ChatID: r.id, Users: users}
}

func (r *room) typingLocked() TypingPayload {
	users := make([]string, 0, len(r.typing))
	for u := range r.typing {
		users = append(users, u)
	}
	sort.Strings(users)
	return TypingPayload{ChatID: r.id, TypingUsers: users}
}

// deliverLocked 向房间内每个连接投递一次，返回投递失败的连接。
func (r *room) deliverLocked(data []byte) []Connection {
	metrics.WsBroadcastsTotal.Inc()
	var failed []Connection
	for _, c := range r.conns {
		if err := c.Send(data); err != nil {
			log.Debug().Err(err).Str("room", r.id).Str("conn", c.ID()).Msg("deliver failed")
			failed = append(failed, c)
		}
	}
	return failed
}

func (r *room) publishLocked(eventType string, payload interface{}) []Connection {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("room", r.id).Str("type", eventType).Msg("marshal snapshot")
		return nil
	}
	return r.deliverLocked(data)
}

func (r *room) publishTypingLocked() []Connection {
	return r.publishLocked(EventTypingUpdate, r.typingLocked())
}

// publishPresenceLocked 先发 user_list 再发 typing_update。
func (r *room) publishPresenceLocked() []Connection {
	failed := r.publishLocked(EventUserList, r.userListLocked())
	return append(failed, r.publishTypingLocked()...)
}

// detachLocked 把连接从房间中摘除，返回因此失去成员身份的用户。
func (r *room) detachLocked(c Connection) []string {
	if _, ok := r.conns[c.ID()]; !ok {
		return nil
	}
	delete(r.conns, c.ID())
	var users []string
	for u, m := range r.members {
		if m.ID() == c.ID() {
			delete(r.members, u)
			delete(r.typing, u)
			users = append(users, u)
		}
	}
	return users
}
