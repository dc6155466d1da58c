package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.settings.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, p *peer, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump closing")
		ctl.disconnect(p)
		cancel()
		c.Close()
	}()

	pongWait := ctl.settings.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handle(ctx, p, data)
		}
	}
}

// handle dispatches one inbound event. Everything but join-room, whoami and
// leave-room is ignored until the connection has joined.
func (ctl *SignalWSController) handle(ctx context.Context, p *peer, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("bad json")
		ctl.sendError(p, "bad-payload", "")
		return
	}

	switch env.Type {
	case "join-room":
		ctl.handleJoin(ctx, p, data)
		return
	case "leave-room":
		ctl.handleLeave(ctx, p)
		return
	case "whoami":
		ctl.handleWhoAmI(p)
		return
	}

	if !ctl.joined(p) {
		log.Debug().Str("module", "signal").Str("sid", string(p.sid)).Str("type", env.Type).Msg("ignored, not joined")
		return
	}

	switch env.Type {
	case "offer", "answer":
		ctl.handleDescription(p, env.Type, data)
	case "ice-candidate":
		ctl.handleCandidate(p, data)
	case "chat-message":
		ctl.handleChat(ctx, p, data)
	case "assistant-query":
		ctl.handleAssistant(p, data)
	case "heartbeat":
		ctl.handleHeartbeat(ctx, p, data)
	case "emotion":
		ctl.handleEmotion(ctx, p, data)
	case "mute":
		ctl.handleMute(ctx, p, data)
	case "create-test":
		ctl.handleCreateTest(ctx, p, data)
	case "submit-test":
		ctl.handleSubmitTest(ctx, p, data)
	case "close-test":
		ctl.handleCloseTest(ctx, p, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

// joined reports whether the connection is still a live member of its room.
// A room dropped from outside (meeting end, eviction) makes it false.
func (ctl *SignalWSController) joined(p *peer) bool {
	if p.token == "" {
		return false
	}
	_, ok := ctl.Orch.Registry.Member(p.token, p.sid)
	return ok
}

func (ctl *SignalWSController) sendJSON(p *peer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := p.conn.TrySend(core.Frame(b)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("sendJSON dropped")
	}
}

type errorEvent struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (ctl *SignalWSController) sendError(p *peer, code, msg string) {
	ctl.sendJSON(p, errorEvent{Type: "error", Error: code, Message: msg})
}
