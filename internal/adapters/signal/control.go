package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/meetrelay/internal/domain"
)

// handleHeartbeat is advisory: it never changes connection state.
func (ctl *SignalWSController) handleHeartbeat(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Quality map[string]any `json:"quality"`
	}
	_ = json.Unmarshal(data, &req)

	p.lastSeen = ctl.now()
	ctl.Orch.Registry.Touch(p.token)
	ctl.sendJSON(p, map[string]any{"type": "heartbeat-ack", "ts": p.lastSeen.UnixMilli()})

	if len(req.Quality) > 0 {
		ctl.Orch.Repo.LogConnectionEvent(ctx, p.token, domain.ConnectionEvent{
			SocketID:    string(p.sid),
			Participant: p.name,
			Event:       "heartbeat",
			Details:     req.Quality,
		})
	}
}

func (ctl *SignalWSController) handleWhoAmI(p *peer) {
	resp := struct {
		Type     string       `json:"type"`
		SocketID string       `json:"socket_id"`
		Name     string       `json:"name,omitempty"`
		Token    domain.Token `json:"token,omitempty"`
		Joined   bool         `json:"joined"`
		IsHost   bool         `json:"is_host"`
	}{
		Type:     "whoami",
		SocketID: string(p.sid),
	}
	if ctl.joined(p) {
		me, _ := ctl.Orch.Registry.Member(p.token, p.sid)
		resp.Name, resp.Token, resp.Joined, resp.IsHost = p.name, p.token, true, me.IsHost
	}
	ctl.sendJSON(p, resp)
}
