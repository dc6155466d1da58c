package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/app/orch"
	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const sendBuffer = 64

// Settings tunes the relay. Zero values fall back to sane defaults.
type Settings struct {
	ReadLimit         int64
	PingPeriod        time.Duration
	HistoryOnJoin     int
	AssistantTimeout  time.Duration
	ChatLimit         int
	ChatInterval      time.Duration
	AssistantLimit    int
	AssistantInterval time.Duration
}

func (s *Settings) defaults() {
	if s.ReadLimit <= 0 {
		s.ReadLimit = 32 << 10
	}
	if s.PingPeriod <= 0 {
		s.PingPeriod = 54 * time.Second
	}
	if s.HistoryOnJoin <= 0 {
		s.HistoryOnJoin = 50
	}
	if s.AssistantTimeout <= 0 {
		s.AssistantTimeout = 30 * time.Second
	}
}

// SignalWSController runs the per-connection protocol. Each connection's
// events are handled sequentially on its own read loop; assistant calls run
// on the controller's base context so a disconnect does not cancel them.
type SignalWSController struct {
	Orch      *orch.Orchestrator
	Assistant core.Assistant
	ChatLimit *RoomRateLimiter
	AskLimit  *RoomRateLimiter

	base     context.Context
	settings Settings
	now      func() time.Time
}

func NewSignalWSController(base context.Context, o *orch.Orchestrator, assistant core.Assistant, s Settings) *SignalWSController {
	s.defaults()
	return &SignalWSController{
		Orch:      o,
		Assistant: assistant,
		ChatLimit: NewRoomRateLimiter(s.ChatLimit, s.ChatInterval),
		AskLimit:  NewRoomRateLimiter(s.AssistantLimit, s.AssistantInterval),
		base:      base,
		settings:  s,
		now:       time.Now,
	}
}

// peer is the protocol state of one connection. Only its read loop touches
// it.
type peer struct {
	sid       core.SessionID
	conn      core.SignalConnection
	userAgent string

	token    domain.Token
	name     string
	lastSeen time.Time
}

// WsSignalConn implements core.SignalConnection over a websocket. Writes go
// through a bounded buffer drained by writePump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendBuffer),
	}
	ctx, cancel := context.WithCancel(ctl.base)
	ctl.Orch.Registry.BindSignal(sid, conn, func() {
		cancel()
		conn.Close()
	})

	p := &peer{sid: sid, conn: conn, userAgent: c.Request.UserAgent()}
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, p, conn)
}
