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

const teardownTimeout = 5 * time.Second

type roomNotFound struct {
	Type  string       `json:"type"`
	Token domain.Token `json:"token"`
}

type roomFull struct {
	Type            string       `json:"type"`
	Token           domain.Token `json:"token"`
	MaxParticipants int          `json:"max_participants"`
}

type userJoined struct {
	Type       string `json:"type"`
	SocketID   string `json:"socket_id"`
	Name       string `json:"name"`
	IsHost     bool   `json:"is_host"`
	Count      int    `json:"count"`
	IsTwoParty bool   `json:"is_two_party"`
}

type userLeft struct {
	Type       string              `json:"type"`
	SocketID   string              `json:"socket_id"`
	Name       string              `json:"name"`
	Count      int                 `json:"count"`
	IsTwoParty bool                `json:"is_two_party"`
	Members    []domain.RoomMember `json:"members"`
}

type roomState struct {
	Type        string                  `json:"type"`
	Token       domain.Token            `json:"token"`
	SocketID    string                  `json:"socket_id"`
	IsHost      bool                    `json:"is_host"`
	Members     []domain.RoomMember     `json:"members"`
	Count       int                     `json:"count"`
	IsTwoParty  bool                    `json:"is_two_party"`
	Messages    []domain.Message        `json:"messages"`
	Climate     domain.EmotionalClimate `json:"climate"`
	ActiveTest  *domain.SociometricTest `json:"active_test,omitempty"`
	Settings    json.RawMessage         `json:"settings,omitempty"`
	MaxCapacity int                     `json:"max_participants"`
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, p *peer, data []byte) {
	var req struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		ctl.sendError(p, "bad-payload", "")
		return
	}
	if req.Token == "" {
		ctl.sendError(p, "missing-field", "token")
		return
	}
	name, err := domain.NormalizeName(req.Name)
	if err != nil {
		ctl.sendError(p, "invalid-name", err.Error())
		return
	}
	if ctl.joined(p) {
		ctl.sendError(p, "already-joined", string(p.token))
		return
	}
	if p.token != "" {
		// Left over from a room that was dropped underneath us.
		ctl.teardown(ctx, p, "rejoin")
	}

	token := domain.Token(req.Token)
	m, ok := ctl.admit(ctx, p, token, name)
	if !ok {
		return
	}

	p.token, p.name, p.lastSeen = token, name, ctl.now()
	me, _ := ctl.Orch.Registry.Member(token, p.sid)
	members := ctl.Orch.Registry.Members(token)
	count := len(members)
	log.Info().Str("module", "signal").Str("sid", string(p.sid)).Str("token", string(token)).Str("name", name).Int("count", count).Msg("joined")

	ctl.Orch.Publish(token, p.sid, userJoined{
		Type:       "user-joined",
		SocketID:   string(p.sid),
		Name:       name,
		IsHost:     me.IsHost,
		Count:      count,
		IsTwoParty: count == 2,
	})

	state := roomState{
		Type:        "room-state",
		Token:       token,
		SocketID:    string(p.sid),
		IsHost:      me.IsHost,
		Members:     members,
		Count:       count,
		IsTwoParty:  count == 2,
		Messages:    []domain.Message{},
		Settings:    m.Settings,
		MaxCapacity: m.MaxParticipants,
	}
	if msgs, err := ctl.Orch.Repo.GetMessages(ctx, token, ctl.settings.HistoryOnJoin); err == nil {
		state.Messages = visibleTo(msgs, name)
	} else {
		log.Warn().Err(err).Str("module", "signal").Str("token", string(token)).Msg("load history")
	}
	if c, err := ctl.Orch.Repo.GetEmotionalClimate(ctx, token); err == nil {
		state.Climate = c
	}
	state.ActiveTest = ctl.openTest(ctx, token)
	ctl.sendJSON(p, state)

	ctl.Orch.Repo.LogConnectionEvent(ctx, token, domain.ConnectionEvent{
		SocketID:    string(p.sid),
		Participant: name,
		Event:       "join",
		Details:     map[string]any{"user_agent": p.userAgent, "count": count},
	})
}

// admit checks and registers the join while holding the token's join lock,
// so capacity is a hard cap.
func (ctl *SignalWSController) admit(ctx context.Context, p *peer, token domain.Token, name string) (*domain.Meeting, bool) {
	unlock := ctl.Orch.Registry.LockJoin(token)
	defer unlock()

	m, err := ctl.Orch.Repo.GetMeeting(ctx, token)
	switch {
	case errors.Is(err, meeting.ErrMeetingNotFound):
		ctl.sendJSON(p, roomNotFound{Type: "room-not-found", Token: token})
		return nil, false
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("token", string(token)).Msg("join: read meeting")
		ctl.sendError(p, "join-failed", "")
		return nil, false
	case m.Status == domain.MeetingEnded || m.Expired(ctl.now()):
		ctl.sendJSON(p, roomNotFound{Type: "room-not-found", Token: token})
		return nil, false
	}

	if _, taken := ctl.Orch.Registry.MemberByName(token, name); taken {
		ctl.sendError(p, "name-taken", name)
		return nil, false
	}

	// A returning name reuses its own slot.
	_, returning, err := ctl.Orch.Repo.GetParticipant(ctx, token, name)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("token", string(token)).Msg("join: read participant")
		ctl.sendError(p, "join-failed", "")
		return nil, false
	}
	if !returning && m.MaxParticipants > 0 {
		count, err := ctl.Orch.Repo.ParticipantCount(ctx, token)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("token", string(token)).Msg("join: count participants")
			ctl.sendError(p, "join-failed", "")
			return nil, false
		}
		if count >= m.MaxParticipants {
			log.Info().Str("module", "signal").Str("token", string(token)).Str("name", name).Int("count", count).Msg("room full")
			ctl.sendJSON(p, roomFull{Type: "room-full", Token: token, MaxParticipants: m.MaxParticipants})
			return nil, false
		}
	}

	now := ctl.now()
	err = ctl.Orch.Repo.AddParticipant(ctx, token, domain.Participant{
		Name:         name,
		SocketID:     string(p.sid),
		JoinedAt:     now,
		Status:       domain.PresenceOnline,
		VideoEnabled: true,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("token", string(token)).Str("name", name).Msg("join: persist participant")
		ctl.sendError(p, "join-failed", "")
		return nil, false
	}

	ms := core.NewMemberSession(domain.NewMember(string(p.sid), name, now), p.conn)
	ctl.Orch.Registry.AddMember(token, ms, m.HostName)
	return m, true
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, p *peer) {
	if p.token == "" {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(p.sid)).Str("token", string(p.token)).Msg("leave")
	ctl.teardown(ctx, p, "leave")
	ctl.sendJSON(p, map[string]string{"type": "left"})
}

// disconnect runs when the transport goes away.
// Storage calls outlive a shutting-down server context.
func (ctl *SignalWSController) disconnect(p *peer) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctl.base), teardownTimeout)
	defer cancel()
	ctl.teardown(ctx, p, "disconnect")
	ctl.Orch.Registry.Unbind(p.sid)
}

// teardown is shared by leave and disconnect. It clears the room token first
// so that whichever path runs second finds nothing to do.
func (ctl *SignalWSController) teardown(ctx context.Context, p *peer, reason string) {
	token, name := p.token, p.name
	if token == "" {
		return
	}
	p.token, p.name = "", ""

	ctl.ChatLimit.Forget(limitKey(token, name))
	ctl.AskLimit.Forget(limitKey(token, name))

	d := ctl.Orch.Depart(ctx, token, p.sid, name)
	if !d.Removed || d.Closed {
		return
	}
	count := len(d.Remaining)
	ctl.Orch.Publish(token, p.sid, userLeft{
		Type:       "user-left",
		SocketID:   string(p.sid),
		Name:       name,
		Count:      count,
		IsTwoParty: count == 2,
		Members:    d.Remaining,
	})
	if _, live := ctl.Orch.Registry.MemberByName(token, name); !live {
		if climate, err := ctl.Orch.Repo.RemoveEmotion(ctx, token, name); err == nil {
			ctl.Orch.Publish(token, p.sid, emotionUpdate{Type: "emotion-update", Climate: climate})
		}
	}
	ctl.Orch.Repo.LogConnectionEvent(ctx, token, domain.ConnectionEvent{
		SocketID:    string(p.sid),
		Participant: name,
		Event:       reason,
		Details:     map[string]any{"count": count},
	})
}

func limitKey(token domain.Token, name string) string {
	return string(token) + "/" + name
}

// openTest returns the meeting's open sociometric test, if any. Registry
// entries whose time ran out are dropped before the repository is consulted.
func (ctl *SignalWSController) openTest(ctx context.Context, token domain.Token) *domain.SociometricTest {
	now := ctl.now()
	var open *domain.SociometricTest
	for _, t := range ctl.Orch.Registry.ActiveTests(token) {
		if !t.Open(now) {
			ctl.Orch.Registry.ClearActiveTest(token, t.ID)
			continue
		}
		if open == nil || t.CreatedAt.After(open.CreatedAt) {
			open = &t
		}
	}
	if open != nil {
		return open
	}
	t, ok, err := ctl.Orch.Repo.ActiveSociometricTest(ctx, token)
	if err != nil || !ok {
		return nil
	}
	ctl.Orch.Registry.SetActiveTest(token, t)
	return &t
}

// visibleTo drops direct messages and assistant answers meant for someone else.
func visibleTo(msgs []domain.Message, name string) []domain.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Kind != domain.MessageChat && m.Target != name && m.Sender != name {
			continue
		}
		out = append(out, m)
	}
	return out
}
