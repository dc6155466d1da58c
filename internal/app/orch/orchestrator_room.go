package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type meetingEnded struct {
	Type   string       `json:"type"`
	Token  domain.Token `json:"token"`
	Reason string       `json:"reason"`
}

// Departure is what remains of a room after one member left. Removed is
// false when the member was already gone, e.g. after the room was dropped.
type Departure struct {
	Remaining []domain.RoomMember
	Removed   bool
	Closed    bool
}

// Depart removes sid/name from the room and the repository. When the runtime
// room ends up empty the meeting is deleted and the room dropped. Joins for
// the same token are held off meanwhile.
func (o *Orchestrator) Depart(ctx context.Context, token domain.Token, sid core.SessionID, name string) Departure {
	unlock := o.Registry.LockJoin(token)
	defer unlock()

	remaining, removed := o.Registry.RemoveMember(token, sid)

	// A reconnect under the same name may already own the record.
	if _, live := o.Registry.MemberByName(token, name); !live {
		if err := o.Repo.RemoveParticipant(ctx, token, name); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("token", string(token)).Str("name", name).Msg("remove participant")
		}
	}

	if removed && remaining == 0 {
		o.closeLocked(ctx, token)
		return Departure{Remaining: []domain.RoomMember{}, Removed: true, Closed: true}
	}
	return Departure{Remaining: o.Registry.Members(token), Removed: removed}
}

func (o *Orchestrator) closeLocked(ctx context.Context, token domain.Token) {
	if err := o.Repo.DeleteMeeting(ctx, token); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("token", string(token)).Msg("delete meeting")
	}
	o.Registry.Drop(token)
	log.Info().Str("module", "orch").Str("token", string(token)).Msg("meeting closed, room empty")
}

// EndMeeting tells everyone in the room, deletes the meeting and drops the
// runtime room. Members stay connected and receive nothing further.
func (o *Orchestrator) EndMeeting(ctx context.Context, token domain.Token, reason string) error {
	unlock := o.Registry.LockJoin(token)
	defer unlock()

	o.Publish(token, "", meetingEnded{Type: "meeting-ended", Token: token, Reason: reason})
	err := o.Repo.DeleteMeeting(ctx, token)
	o.Registry.Drop(token)
	log.Info().Str("module", "orch").Str("token", string(token)).Str("reason", reason).Msg("meeting ended")
	return err
}

// EvictRoom drops the runtime record only and disconnects whoever is still in
// it. Persisted state is left to its TTL or to the members' disconnects.
func (o *Orchestrator) EvictRoom(token domain.Token, reason string) {
	o.Publish(token, "", meetingEnded{Type: "meeting-ended", Token: token, Reason: reason})
	for _, ms := range o.Registry.Drop(token) {
		o.KickBySID(core.SessionID(ms.Meta().SocketID))
	}
	log.Info().Str("module", "orch").Str("token", string(token)).Str("reason", reason).Msg("runtime room evicted")
}

// LiveCount reports how many sockets are in the room right now.
func (o *Orchestrator) LiveCount(token domain.Token) int {
	return o.Registry.MemberCount(token)
}

func since(t, now time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return now.Sub(t)
}
