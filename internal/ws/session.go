package ws

import "sync"

type State int

const (
	StateUnbound State = iota
	StateIdle
	StateInRoom
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInRoom:
		return "in_room"
	default:
		return "unbound"
	}
}

// Session is the per-connection state machine. It is owned by the
// connection's read goroutine and is not safe for concurrent use.
type Session struct {
	conn Connection
	user string
	room string

	// token from the upgrade request, used when join carries none.
	token string
	once  sync.Once
}

func NewSession(conn Connection) *Session {
	return &Session{conn: conn}
}

func (s *Session) State() State {
	switch {
	case s.user == "":
		return StateUnbound
	case s.room == "":
		return StateIdle
	default:
		return StateInRoom
	}
}

func (s *Session) User() string     { return s.user }
func (s *Session) Room() string     { return s.room }
func (s *Session) Conn() Connection { return s.conn }
