package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

const maxChatLen = 4000

type chatEvent struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

// handleChat persists best-effort and delivers either to every other member
// or, with a target name, to that member only.
func (ctl *SignalWSController) handleChat(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Text      string `json:"text"`
		Target    string `json:"target"`
		Anonymous bool   `json:"anonymous"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "chat-message")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		ctl.sendError(p, "missing-field", "text")
		return
	}
	if len(text) > maxChatLen {
		ctl.sendError(p, "message-too-long", "")
		return
	}
	if !ctl.ChatLimit.Allow(limitKey(p.token, p.name)) {
		ctl.sendError(p, "rate-limited", "chat-message")
		return
	}

	var target core.MemberSession
	if req.Target != "" {
		ms, ok := ctl.Orch.Registry.MemberByName(p.token, req.Target)
		if !ok {
			ctl.sendError(p, "target-not-found", req.Target)
			return
		}
		target = ms
	}

	msg := domain.Message{Sender: p.name, Text: text, Anonymous: req.Anonymous}
	if target != nil {
		msg.Kind = domain.MessageDirect
		msg.Target = req.Target
	}
	// A meeting ended from outside takes its room with it; do not recreate its keys.
	if !ctl.Orch.Registry.Has(p.token) {
		return
	}
	msg, err := ctl.Orch.Repo.AddMessage(ctx, p.token, msg)
	if err != nil {
		ctl.Orch.Repo.Report("add-message", p.token, err)
	}

	ev := chatEvent{Type: "chat-message", Message: msg}
	if target != nil {
		if err := ctl.Orch.SendTo(p.token, core.SessionID(target.Meta().SocketID), ev); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Msg("direct message")
		}
	} else {
		ctl.Orch.Publish(p.token, p.sid, ev)
	}
	ctl.Orch.Registry.Touch(p.token)
}
