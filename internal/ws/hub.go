package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Connection 是 Hub 眼中的一个客户端连接。
// Send 不得阻塞，对端无法继续接收时返回错误。
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type membership struct {
	room string
	conn Connection
}

// Hub 管理全部房间的成员关系并负责房间内广播。
//
// 锁顺序：membersMu -> roomsMu -> room.mu。加入、离开与回收连接持有 membersMu，
// 以保证同一用户在全局只有一个活跃连接；广播与输入状态只需要房间锁。
type Hub struct {
	membersMu sync.Mutex
	presence  map[string]membership // user -> current room/conn

	roomsMu sync.RWMutex
	rooms   map[string]*room

	// 所有已接入的连接，包括尚未进入房间的；只在停服时使用，不与其他锁嵌套。
	liveMu sync.Mutex
	live   map[string]Connection
}

func NewHub() *Hub {
	return &Hub{
		presence: make(map[string]membership),
		rooms:    make(map[string]*room),
		live:     make(map[string]Connection),
	}
}

// Attach 登记一个新接入的连接，CloseAll 会关闭它。
func (h *Hub) Attach(conn Connection) {
	h.liveMu.Lock()
	h.live[conn.ID()] = conn
	h.liveMu.Unlock()
}

// Detach 在连接结束后注销。
func (h *Hub) Detach(conn Connection) {
	h.liveMu.Lock()
	delete(h.live, conn.ID())
	h.liveMu.Unlock()
}

func (h *Hub) getRoom(roomID string) *room {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.rooms[roomID]
}

// getOrCreateRoom 若房间未初始化则懒加载。
func (h *Hub) getOrCreateRoom(roomID string) *room {
	if r := h.getRoom(roomID); r != nil {
		return r
	}
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	r := h.rooms[roomID]
	if r == nil {
		r = newRoom(roomID)
		h.rooms[roomID] = r
	}
	return r
}

func (h *Hub) allRooms() []*room {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	out := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	return out
}

// Join 把 conn 登记为 user 在 roomID 中的连接。用户若已在其他房间，
// 先从原房间移除，保证每个用户在整个 Hub 中至多一个活跃连接。
func (h *Hub) Join(roomID, user string, conn Connection) {
	h.membersMu.Lock()
	var failed []Connection
	if prev, ok := h.presence[user]; ok && prev.room != roomID {
		failed = append(failed, h.leaveLocked(prev.room, user, prev.conn)...)
	}

	r := h.getOrCreateRoom(roomID)
	r.mu.Lock()
	if old, ok := r.members[user]; ok && old.ID() != conn.ID() {
		delete(r.conns, old.ID())
	}
	r.conns[conn.ID()] = conn
	r.members[user] = conn
	failed = append(failed, r.publishPresenceLocked()...)
	online := len(r.members)
	r.mu.Unlock()

	h.presence[user] = membership{room: roomID, conn: conn}
	h.membersMu.Unlock()

	log.Debug().Str("room", roomID).Str("user", user).Str("conn", conn.ID()).Int("online", online).Msg("join")
	h.reap(failed)
}

// Leave 把 conn 从 roomID 摘除。只有成员关系仍指向 conn 时才删除，
// 快速切换后迟到的 Leave 不会误伤新连接。
func (h *Hub) Leave(roomID, user string, conn Connection) {
	h.membersMu.Lock()
	failed := h.leaveLocked(roomID, user, conn)
	h.membersMu.Unlock()

	log.Debug().Str("room", roomID).Str("user", user).Str("conn", conn.ID()).Msg("leave")
	h.reap(failed)
}

func (h *Hub) leaveLocked(roomID, user string, conn Connection) []Connection {
	r := h.getRoom(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	delete(r.conns, conn.ID())
	if m, ok := r.members[user]; ok && m.ID() == conn.ID() {
		delete(r.members, user)
		delete(r.typing, user)
	}
	failed := r.publishPresenceLocked()
	r.mu.Unlock()

	if p, ok := h.presence[user]; ok && p.room == roomID && p.conn.ID() == conn.ID() {
		delete(h.presence, user)
	}
	return failed
}

// Broadcast 只序列化一次 v，投递给 roomID 内的每个连接。
// 投递失败的连接会从所有房间回收。
func (h *Hub) Broadcast(roomID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r := h.getRoom(roomID)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	failed := r.deliverLocked(data)
	r.mu.Unlock()

	h.reap(failed)
	return nil
}

// SetTyping 更新 user 在 roomID 的输入状态并广播新集合，非成员调用无效果。
func (h *Hub) SetTyping(roomID, user string, typing bool) {
	r := h.getRoom(roomID)
	if r == nil {
		return
	}
	r.mu.Lock()
	if _, ok := r.members[user]; !ok {
		r.mu.Unlock()
		return
	}
	if typing {
		r.typing[user] = struct{}{}
	} else {
		delete(r.typing, user)
	}
	failed := r.publishTypingLocked()
	r.mu.Unlock()

	h.reap(failed)
}

// reap 关闭失效连接并从其所在的每个房间移除。
// 回收时发出的在线列表可能再暴露出新的失效连接，一并处理。
func (h *Hub) reap(failed []Connection) {
	seen := make(map[string]struct{})
	for len(failed) > 0 {
		c := failed[0]
		failed = failed[1:]
		if _, ok := seen[c.ID()]; ok {
			continue
		}
		seen[c.ID()] = struct{}{}
		_ = c.Close()
		metrics.WsReapedTotal.Inc()

		h.membersMu.Lock()
		for _, r := range h.allRooms() {
			r.mu.Lock()
			users := r.detachLocked(c)
			if users == nil {
				r.mu.Unlock()
				continue
			}
			failed = append(failed, r.publishPresenceLocked()...)
			r.mu.Unlock()

			for _, u := range users {
				if p, ok := h.presence[u]; ok && p.room == r.id && p.conn.ID() == c.ID() {
					delete(h.presence, u)
				}
			}
			log.Info().Str("room", r.id).Str("conn", c.ID()).Strs("users", users).Msg("reaped dead connection")
		}
		h.membersMu.Unlock()
	}
}

// Online 返回 roomID 的在线人数。
func (h *Hub) Online(roomID string) int {
	r := h.getRoom(roomID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members 返回 roomID 的成员名，已排序。
func (h *Hub) Members(roomID string) []string {
	r := h.getRoom(roomID)
	if r == nil {
		return []string{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Typing 返回 roomID 中正在输入的用户，已排序。
func (h *Hub) Typing(roomID string) []string {
	r := h.getRoom(roomID)
	if r == nil {
		return []string{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typingLocked().TypingUsers
}

// IsMember 判断 conn 是否仍是 user 在 roomID 中的活跃连接。
// 同一用户从另一连接加入后，旧连接不再是成员。
func (h *Hub) IsMember(roomID, user string, conn Connection) bool {
	r := h.getRoom(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[user]
	return ok && m.ID() == conn.ID()
}

// RoomOf 返回 user 当前所在的房间。
func (h *Hub) RoomOf(user string) (string, bool) {
	h.membersMu.Lock()
	defer h.membersMu.Unlock()
	p, ok := h.presence[user]
	return p.room, ok
}

func (h *Hub) Stats() (rooms, clients int) {
	all := h.allRooms()
	for _, r := range all {
		r.mu.Lock()
		clients += len(r.conns)
		r.mu.Unlock()
	}
	return len(all), clients
}

// CloseAll 关闭所有连接（无论是否在房间中），用于停服。
func (h *Hub) CloseAll() {
	conns := make(map[string]Connection)
	h.liveMu.Lock()
	for id, c := range h.live {
		conns[id] = c
	}
	h.liveMu.Unlock()
	for _, r := range h.allRooms() {
		r.mu.Lock()
		for id, c := range r.conns {
			conns[id] = c
		}
		r.mu.Unlock()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	log.Info().Int("connections", len(conns)).Msg("hub closed")
}
