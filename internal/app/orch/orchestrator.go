package orch

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/app"
	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

// Orchestrator ties the runtime registry to the session repository. Both the
// relay and the sweeper retire rooms through it.
type Orchestrator struct {
	Registry *app.Registry
	Repo     *meeting.Repository
	Policy   app.Policy
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return nil, false
	}
	return b, true
}

// Publish sends v to every member of the room except from (empty from means
// everyone) and applies the back-pressure policy to slow members.
func (o *Orchestrator) Publish(token domain.Token, from core.SessionID, v any) core.PublishResult {
	frame, ok := encode(v)
	if !ok {
		return core.PublishResult{}
	}
	res := o.Registry.Broadcast(token, from, frame)
	if o.Policy == nil {
		return res
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(slow) {
		case app.KickMember:
			o.KickBySID(core.SessionID(slow.Meta().SocketID))
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
	return res
}

// SendTo unicasts v to one member of the room.
func (o *Orchestrator) SendTo(token domain.Token, to core.SessionID, v any) error {
	frame, ok := encode(v)
	if !ok {
		return nil
	}
	return o.Registry.SendTo(token, to, frame)
}

// KickBySID closes the connection; its own disconnect path does the rest.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	if o.Registry.Cancel(sid) {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("kicked")
	}
}
