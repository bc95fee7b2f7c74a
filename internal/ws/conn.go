package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a gorilla websocket to Connection. Writes go through a
// buffered queue drained by writePump; a full queue counts as a dead peer.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	cfg  config.WSConfig

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn, cfg config.WSConfig) *Conn {
	cfg = withDefaults(cfg)
	return &Conn{id: id, ws: ws, send: make(chan []byte, cfg.SendBuffer), cfg: cfg}
}

func withDefaults(cfg config.WSConfig) config.WSConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4 << 20
	}
	if cfg.PingIntervalSec <= 0 {
		cfg.PingIntervalSec = 30
	}
	if cfg.PongWaitSec <= 0 {
		cfg.PongWaitSec = 60
	}
	if cfg.WriteWaitSec <= 0 {
		cfg.WriteWaitSec = 10
	}
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 20
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 40
	}
	return cfg
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// Serve upgrades the request and runs the connection until it closes.
func Serve(h *Handler, cfg config.WSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		wc := newConn(uuid.NewString(), conn, cfg)
		sess := NewSession(wc)
		sess.token = token

		h.hub.Attach(wc)
		defer h.hub.Detach(wc)
		metrics.WsConnections.Inc()
		defer metrics.WsConnections.Dec()
		log.Debug().Str("conn", wc.id).Str("remote", c.ClientIP()).Msg("ws connected")

		go wc.writePump()
		wc.readPump(c.Request.Context(), h, sess)
		log.Debug().Str("conn", wc.id).Msg("ws disconnected")
	}
}

func (c *Conn) readPump(ctx context.Context, h *Handler, sess *Session) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.Disconnect(sess)
		_ = c.Close()
		_ = c.ws.Close()
	}()

	pongWait := time.Duration(c.cfg.PongWaitSec) * time.Second
	limiter := rate.NewLimiter(rate.Limit(c.cfg.EventsPerSecond), c.cfg.EventBurst)

	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("read")
			}
			return
		}
		if !limiter.Allow() {
			log.Debug().Str("conn", c.id).Msg("rate limited frame dropped")
			continue
		}
		h.Handle(ctx, sess, data)
	}
}

func (c *Conn) writePump() {
	writeWait := time.Duration(c.cfg.WriteWaitSec) * time.Second
	ticker := time.NewTicker(time.Duration(c.cfg.PingIntervalSec) * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
