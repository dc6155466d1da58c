package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

var ErrNotInRoom = errors.New("target not in room")

type sessionEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// runtimeRoom is the live view of one meeting. Never persisted.
type runtimeRoom struct {
	members        map[core.SessionID]core.MemberSession
	activeTests    map[string]domain.SociometricTest
	createdAt      time.Time
	lastActivityAt time.Time
	emptySince     time.Time
}

type joinLock struct {
	mu   sync.Mutex
	refs int
}

// Registry is the process-wide runtime view of active meetings: bound
// sockets, room membership, activity and ephemeral test state. Every method
// is one critical section.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	rooms    map[domain.Token]*runtimeRoom

	locksMu sync.Mutex
	locks   map[domain.Token]*joinLock

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		rooms:    make(map[domain.Token]*runtimeRoom),
		locks:    make(map[domain.Token]*joinLock),
		now:      time.Now,
	}
}

// WithClock overrides time.Now, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Clear cancels every bound session and forgets all rooms. Called on shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[core.SessionID]*sessionEntry)
	r.rooms = make(map[domain.Token]*runtimeRoom)
	r.mu.Unlock()

	for _, e := range sessions {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
	log.Info().Str("module", "app.registry").Int("sessions", len(sessions)).Msg("registry cleared")
}

// LockJoin serializes membership changes for one token. The returned func
// releases the lock.
func (r *Registry) LockJoin(token domain.Token) func() {
	r.locksMu.Lock()
	l, ok := r.locks[token]
	if !ok {
		l = &joinLock{}
		r.locks[token] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, token)
		}
		r.locksMu.Unlock()
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

// Cancel stops the connection bound to sid. Its read loop then runs the
// normal disconnect path.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) ensureLocked(token domain.Token) *runtimeRoom {
	room, ok := r.rooms[token]
	if !ok {
		now := r.now()
		room = &runtimeRoom{
			members:        make(map[core.SessionID]core.MemberSession),
			activeTests:    make(map[string]domain.SociometricTest),
			createdAt:      now,
			lastActivityAt: now,
			emptySince:     now,
		}
		r.rooms[token] = room
		log.Info().Str("module", "app.registry").Str("token", string(token)).Msg("runtime room created")
	}
	return room
}

// EnsureRoom lazily creates the runtime record.
func (r *Registry) EnsureRoom(token domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(token)
}

// AddMember places ms in the room. The member is host when its name matches
// hostName, or, with no hostName, when it is the first one in.
func (r *Registry) AddMember(token domain.Token, ms core.MemberSession, hostName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.ensureLocked(token)
	meta := ms.Meta()
	if hostName != "" {
		meta.IsHost = meta.Name == hostName
	} else {
		meta.IsHost = len(room.members) == 0
	}
	sid := core.SessionID(meta.SocketID)
	room.members[sid] = ms
	room.lastActivityAt = r.now()
	room.emptySince = time.Time{}
	log.Info().Str("module", "app.registry").Str("token", string(token)).Str("sid", string(sid)).Str("name", meta.Name).Bool("host", meta.IsHost).Msg("member added")
	return len(room.members)
}

// RemoveMember drops sid from the room and returns the remaining count.
// removed is false when sid was not a member.
func (r *Registry) RemoveMember(token domain.Token, sid core.SessionID) (remaining int, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[token]
	if !ok {
		return 0, false
	}
	if _, ok := room.members[sid]; !ok {
		return len(room.members), false
	}
	delete(room.members, sid)
	now := r.now()
	room.lastActivityAt = now
	if len(room.members) == 0 {
		room.emptySince = now
	}
	log.Info().Str("module", "app.registry").Str("token", string(token)).Str("sid", string(sid)).Int("remaining", len(room.members)).Msg("member removed")
	return len(room.members), true
}

// IsEmpty is true when no live socket is in the room, including when the
// room is not tracked at all.
func (r *Registry) IsEmpty(token domain.Token) bool {
	return r.MemberCount(token) == 0
}

func (r *Registry) MemberCount(token domain.Token) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.rooms[token]; ok {
		return len(room.members)
	}
	return 0
}

func (r *Registry) Has(token domain.Token) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[token]
	return ok
}

func (r *Registry) Touch(token domain.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[token]; ok {
		room.lastActivityAt = r.now()
	}
}

// Members returns copies of the room members ordered by join time.
func (r *Registry) Members(token domain.Token) []domain.RoomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[token]
	if !ok {
		return []domain.RoomMember{}
	}
	out := make([]domain.RoomMember, 0, len(room.members))
	for _, ms := range room.members {
		out = append(out, *ms.Meta())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].SocketID < out[j].SocketID
	})
	return out
}

// Member looks up a live member by sid.
func (r *Registry) Member(token domain.Token, sid core.SessionID) (domain.RoomMember, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.rooms[token]; ok {
		if ms, ok := room.members[sid]; ok {
			return *ms.Meta(), true
		}
	}
	return domain.RoomMember{}, false
}

// MemberByName finds the live socket that currently uses name.
func (r *Registry) MemberByName(token domain.Token, name string) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room, ok := r.rooms[token]; ok {
		for _, ms := range room.members {
			if ms.Meta().Name == name {
				return ms, true
			}
		}
	}
	return nil, false
}

// Broadcast fans data out to every member except from. Members whose send
// buffer is full are reported in Dropped.
func (r *Registry) Broadcast(token domain.Token, from core.SessionID, data core.Frame) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := core.PublishResult{}
	room, ok := r.rooms[token]
	if !ok {
		return res
	}
	for sid, ms := range room.members {
		if sid == from {
			continue
		}
		if err := ms.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, ms)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.registry").Str("token", string(token)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers data to one member of the room.
func (r *Registry) SendTo(token domain.Token, to core.SessionID, data core.Frame) error {
	r.mu.RLock()
	room, ok := r.rooms[token]
	var ms core.MemberSession
	if ok {
		ms, ok = room.members[to]
	}
	r.mu.RUnlock()
	if !ok {
		return ErrNotInRoom
	}
	return ms.Signal().TrySend(data)
}

// Drop forgets the runtime room and returns the sessions that were in it.
func (r *Registry) Drop(token domain.Token) []core.MemberSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[token]
	if !ok {
		return nil
	}
	delete(r.rooms, token)
	out := make([]core.MemberSession, 0, len(room.members))
	for _, ms := range room.members {
		out = append(out, ms)
	}
	log.Info().Str("module", "app.registry").Str("token", string(token)).Int("members", len(out)).Msg("runtime room dropped")
	return out
}

// SetActiveTest records t as the room's open test. A meeting has at most one
// open test, so any earlier entry is replaced.
func (r *Registry) SetActiveTest(token domain.Token, t domain.SociometricTest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[token]; ok {
		clear(room.activeTests)
		room.activeTests[t.ID] = t
		room.lastActivityAt = r.now()
	}
}

func (r *Registry) ClearActiveTest(token domain.Token, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[token]; ok {
		delete(room.activeTests, id)
	}
}

func (r *Registry) ActiveTests(token domain.Token) []domain.SociometricTest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[token]
	if !ok {
		return nil
	}
	out := make([]domain.SociometricTest, 0, len(room.activeTests))
	for _, t := range room.activeTests {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Rooms snapshots every runtime room, oldest first.
func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for token, room := range r.rooms {
		out = append(out, core.RoomInfo{
			Token:          token,
			MemberCount:    len(room.members),
			CreatedAt:      room.createdAt,
			LastActivityAt: room.lastActivityAt,
			EmptySince:     room.emptySince,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
