package signal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

const (
	fallbackAnswer  = "Sorry, I can't answer that right now. Please try again in a moment."
	assistantSender = "Assistant"
	contextMessages = 10
)

var errNoAssistant = errors.New("assistant not configured")

type assistantResponse struct {
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
	Failed  bool     `json:"failed,omitempty"`
}

// handleAssistant answers on a separate goroutine. The read loop moves on at
// once; the answer goes to this connection only and is dropped if it has
// closed by then.
func (ctl *SignalWSController) handleAssistant(p *peer, data []byte) {
	var req struct {
		Prompt    string `json:"prompt"`
		WebSearch bool   `json:"web_search"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "assistant-query")
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		ctl.sendError(p, "missing-field", "prompt")
		return
	}
	if !ctl.AskLimit.Allow(limitKey(p.token, p.name)) {
		ctl.sendError(p, "rate-limited", "assistant-query")
		return
	}

	token, name, reply := p.token, p.name, *p
	go ctl.answer(token, name, &reply, core.AssistantQuery{Prompt: prompt, WebSearch: req.WebSearch})
}

func (ctl *SignalWSController) answer(token domain.Token, name string, p *peer, q core.AssistantQuery) {
	ctx, cancel := context.WithTimeout(ctl.base, ctl.settings.AssistantTimeout)
	defer cancel()

	q.MeetingContext = ctl.meetingContext(ctx, token)

	ans, err := ctl.ask(ctx, q)
	failed := err != nil
	if failed {
		log.Warn().Err(err).Str("module", "signal").Str("token", string(token)).Str("name", name).Msg("assistant failed")
		ans = core.AssistantAnswer{Text: fallbackAnswer}
	}
	if ans.Sources == nil {
		ans.Sources = []string{}
	}

	ctl.sendJSON(p, assistantResponse{
		Type:    "assistant-response",
		Prompt:  q.Prompt,
		Text:    ans.Text,
		Sources: ans.Sources,
		Failed:  failed,
	})

	// The room may have closed while the answer was pending; its keys are gone
	// and must not be recreated.
	if !ctl.Orch.Registry.Has(token) {
		return
	}
	// ctx may already be past its deadline when the assistant timed out.
	logCtx, logCancel := context.WithTimeout(context.WithoutCancel(ctl.base), teardownTimeout)
	defer logCancel()
	if !failed {
		msg := domain.Message{Sender: assistantSender, Text: ans.Text, Kind: domain.MessageAssistant, Target: name}
		if _, err := ctl.Orch.Repo.AddMessage(logCtx, token, msg); err != nil {
			ctl.Orch.Repo.Report("add-message", token, err)
		}
	}
	ctl.Orch.Repo.LogAssistantInteraction(logCtx, token, domain.InteractionRecord{
		Participant: name,
		Prompt:      q.Prompt,
		Answer:      ans.Text,
		Sources:     ans.Sources,
		WebSearch:   q.WebSearch,
		Failed:      failed,
	})
}

func (ctl *SignalWSController) ask(ctx context.Context, q core.AssistantQuery) (core.AssistantAnswer, error) {
	if ctl.Assistant == nil {
		return core.AssistantAnswer{}, errNoAssistant
	}
	return ctl.Assistant.Ask(ctx, q)
}

// meetingContext renders the recent public chat as "sender: text" lines.
// Direct messages and earlier private answers are left out.
func (ctl *SignalWSController) meetingContext(ctx context.Context, token domain.Token) string {
	msgs, err := ctl.Orch.Repo.GetMessages(ctx, token, contextMessages)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		if m.Kind != domain.MessageChat {
			continue
		}
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
