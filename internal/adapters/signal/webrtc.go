package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
)

type relayed struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// handleDescription forwards an offer or answer to its target untouched. The
// payload is only checked for presence.
func (ctl *SignalWSController) handleDescription(p *peer, kind string, data []byte) {
	var req struct {
		Target string          `json:"target"`
		SDP    json.RawMessage `json:"sdp"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", kind)
		return
	}
	if req.Target == "" || !present(req.SDP) {
		ctl.sendError(p, "missing-field", kind)
		return
	}
	if desc, ok := sessionDescription(req.SDP); ok {
		log.Debug().Str("module", "signal").Str("sid", string(p.sid)).Str("target", req.Target).Str("sdp_type", desc.Type.String()).Msg(kind)
	}
	ctl.forward(p, core.SessionID(req.Target), relayed{Type: kind, From: string(p.sid), SDP: req.SDP})
}

func (ctl *SignalWSController) handleCandidate(p *peer, data []byte) {
	var req struct {
		Target    string          `json:"target"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "ice-candidate")
		return
	}
	if req.Target == "" || !present(req.Candidate) {
		ctl.sendError(p, "missing-field", "ice-candidate")
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(req.Candidate, &ci); err == nil && ci.Candidate == "" {
		// End-of-candidates marker; still relayed.
		log.Debug().Str("module", "signal").Str("sid", string(p.sid)).Msg("end of candidates")
	}
	ctl.forward(p, core.SessionID(req.Target), relayed{Type: "ice-candidate", From: string(p.sid), Candidate: req.Candidate})
}

func (ctl *SignalWSController) forward(p *peer, to core.SessionID, v relayed) {
	if err := ctl.Orch.SendTo(p.token, to, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(p.sid)).Str("target", string(to)).Str("type", v.Type).Msg("forward failed")
		return
	}
	ctl.Orch.Registry.Touch(p.token)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// sessionDescription reads the description for logging; clients may also
// send the bare SDP string.
func sessionDescription(raw json.RawMessage) (webrtc.SessionDescription, bool) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, false
	}
	return desc, true
}
