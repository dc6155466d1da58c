package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dkeye/meetrelay/internal/domain"
)

type emotionUpdate struct {
	Type    string                  `json:"type"`
	Name    string                  `json:"name,omitempty"`
	Emotion string                  `json:"emotion,omitempty"`
	Climate domain.EmotionalClimate `json:"climate"`
}

type participantMuted struct {
	Type     string `json:"type"`
	SocketID string `json:"socket_id"`
	Name     string `json:"name"`
	Muted    bool   `json:"muted"`
	Video    bool   `json:"video"`
}

func (ctl *SignalWSController) handleEmotion(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Emotion string `json:"emotion"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "emotion")
		return
	}
	emotion := strings.ToLower(strings.TrimSpace(req.Emotion))
	if emotion == "" {
		ctl.sendError(p, "missing-field", "emotion")
		return
	}
	climate, err := ctl.Orch.Repo.AddEmotion(ctx, p.token, p.name, emotion)
	if err != nil {
		ctl.Orch.Repo.Report("add-emotion", p.token, err)
		return
	}
	ctl.Orch.Publish(p.token, "", emotionUpdate{Type: "emotion-update", Name: p.name, Emotion: emotion, Climate: climate})
	ctl.Orch.Registry.Touch(p.token)
}

// handleMute persists the media flags and tells the others. video keeps its
// stored value when omitted.
func (ctl *SignalWSController) handleMute(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Muted *bool `json:"muted"`
		Video *bool `json:"video"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "mute")
		return
	}
	if req.Muted == nil {
		ctl.sendError(p, "missing-field", "muted")
		return
	}
	video := true
	if req.Video != nil {
		video = *req.Video
	} else if cur, ok, err := ctl.Orch.Repo.GetParticipant(ctx, p.token, p.name); err == nil && ok {
		video = cur.VideoEnabled
	}
	if err := ctl.Orch.Repo.SetParticipantMedia(ctx, p.token, p.name, *req.Muted, video); err != nil {
		ctl.Orch.Repo.Report("set-media", p.token, err)
	}
	ctl.Orch.Publish(p.token, p.sid, participantMuted{
		Type:     "participant-muted",
		SocketID: string(p.sid),
		Name:     p.name,
		Muted:    *req.Muted,
		Video:    video,
	})
}
