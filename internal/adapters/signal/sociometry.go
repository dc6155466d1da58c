package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type testEvent struct {
	Type string                 `json:"type"`
	Test domain.SociometricTest `json:"test"`
}

type testResponse struct {
	Type        string    `json:"type"`
	TestID      string    `json:"test_id"`
	Participant string    `json:"participant"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (ctl *SignalWSController) requireHost(p *peer) bool {
	me, _ := ctl.Orch.Registry.Member(p.token, p.sid)
	if !me.IsHost {
		ctl.sendError(p, "not-host", "")
		return false
	}
	return true
}

func (ctl *SignalWSController) handleCreateTest(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Questions   []domain.SociometricQuestion `json:"questions"`
		Targets     []string                     `json:"targets"`
		DurationSec int                          `json:"duration_sec"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "create-test")
		return
	}
	if !ctl.requireHost(p) {
		return
	}
	if len(req.Questions) == 0 {
		ctl.sendError(p, "missing-field", "questions")
		return
	}
	if len(req.Targets) == 0 {
		for _, m := range ctl.Orch.Registry.Members(p.token) {
			req.Targets = append(req.Targets, m.Name)
		}
	}

	t, err := ctl.Orch.Repo.CreateSociometricTest(ctx, p.token, meeting.NewTest{
		CreatedBy: p.name,
		Questions: req.Questions,
		Targets:   req.Targets,
		Duration:  time.Duration(req.DurationSec) * time.Second,
	})
	switch {
	case errors.Is(err, meeting.ErrTestActive):
		ctl.sendError(p, "test-active", t.ID)
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("token", string(p.token)).Msg("create test")
		ctl.sendError(p, "test-failed", "")
		return
	}
	ctl.Orch.Registry.SetActiveTest(p.token, t)
	ctl.Orch.Publish(p.token, "", testEvent{Type: "test-started", Test: t})
	log.Info().Str("module", "signal").Str("token", string(p.token)).Str("test", t.ID).Msg("test started")
}

func (ctl *SignalWSController) handleSubmitTest(ctx context.Context, p *peer, data []byte) {
	var req struct {
		TestID  string            `json:"test_id"`
		Answers map[string]string `json:"answers"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "submit-test")
		return
	}
	if req.TestID == "" || len(req.Answers) == 0 {
		ctl.sendError(p, "missing-field", "testId/answers")
		return
	}
	resp, err := ctl.Orch.Repo.AddSociometricResponse(ctx, p.token, req.TestID, p.name, req.Answers)
	switch {
	case errors.Is(err, meeting.ErrTestNotFound):
		ctl.sendError(p, "test-not-found", req.TestID)
		return
	case errors.Is(err, meeting.ErrTestClosed):
		ctl.Orch.Registry.ClearActiveTest(p.token, req.TestID)
		ctl.sendError(p, "test-closed", req.TestID)
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("token", string(p.token)).Msg("submit test")
		ctl.sendError(p, "test-failed", "")
		return
	}

	ev := testResponse{Type: "test-response", TestID: resp.TestID, Participant: resp.Participant, SubmittedAt: resp.SubmittedAt}
	ctl.sendJSON(p, ev)
	for _, m := range ctl.Orch.Registry.Members(p.token) {
		if m.IsHost && core.SessionID(m.SocketID) != p.sid {
			_ = ctl.Orch.SendTo(p.token, core.SessionID(m.SocketID), ev)
		}
	}
}

func (ctl *SignalWSController) handleCloseTest(ctx context.Context, p *peer, data []byte) {
	var req struct {
		TestID string `json:"test_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.TestID == "" {
		ctl.sendError(p, "missing-field", "test_id")
		return
	}
	if !ctl.requireHost(p) {
		return
	}
	t, err := ctl.Orch.Repo.CloseSociometricTest(ctx, p.token, req.TestID)
	if errors.Is(err, meeting.ErrTestNotFound) {
		ctl.sendError(p, "test-not-found", req.TestID)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("token", string(p.token)).Msg("close test")
		ctl.sendError(p, "test-failed", "")
		return
	}
	ctl.Orch.Registry.ClearActiveTest(p.token, t.ID)
	ctl.Orch.Publish(p.token, "", testEvent{Type: "test-closed", Test: t})
}
