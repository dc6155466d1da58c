package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetrelay/internal/adapters/store"
	"github.com/dkeye/meetrelay/internal/app"
	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var m struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(f, &m)
		out = append(out, m.Type)
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	orch     *Orchestrator
	fallback *store.MemoryStore
	durable  *store.MemoryStore
	health   *core.Health
	now      time.Time
}

func (f *fixture) clock() time.Time { return f.now }

// newFixture uses a second memory store as the durable backend so that
// durable-only paths can run without a server.
func newFixture(t *testing.T, durableReady bool) *fixture {
	t.Helper()
	f := &fixture{
		fallback: store.NewMemoryStore(0),
		durable:  store.NewMemoryStore(0),
		health:   core.NewHealth(nil),
		now:      t0,
	}
	if durableReady {
		f.health.Transition(core.Ready)
	}
	facade := store.NewFacade(f.durable, f.fallback, f.health)
	f.orch = &Orchestrator{
		Registry: app.NewRegistry().WithClock(f.clock),
		Repo:     meeting.NewRepository(facade, meeting.WithClock(f.clock), meeting.WithTTL(time.Hour)),
		Policy:   app.SimplePolicy{},
	}
	return f
}

func (f *fixture) join(t *testing.T, token domain.Token, sid, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, cancel := context.WithCancel(context.Background())
	f.orch.Registry.BindSignal(core.SessionID(sid), conn, cancel)
	ms := core.NewMemberSession(domain.NewMember(sid, name, f.now), conn)
	f.orch.Registry.AddMember(token, ms, "")
	require.NoError(t, f.orch.Repo.AddParticipant(context.Background(), token, domain.Participant{
		Name: name, SocketID: sid, JoinedAt: f.now, Status: domain.PresenceOnline,
	}))
	return conn
}

func TestDepart_LastMemberDeletesMeeting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "tok", "alice", 4, nil)
	require.NoError(t, err)
	f.join(t, "tok", "s1", "alice")
	f.join(t, "tok", "s2", "bob")

	d := f.orch.Depart(ctx, "tok", "s1", "alice")
	assert.True(t, d.Removed)
	assert.False(t, d.Closed)
	require.Len(t, d.Remaining, 1)
	assert.Equal(t, "bob", d.Remaining[0].Name)

	_, ok, err := f.orch.Repo.GetParticipant(ctx, "tok", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	d = f.orch.Depart(ctx, "tok", "s2", "bob")
	assert.True(t, d.Closed)
	assert.False(t, f.orch.Registry.Has("tok"))

	_, err = f.orch.Repo.GetMeeting(ctx, "tok")
	assert.ErrorIs(t, err, meeting.ErrMeetingNotFound)
}

func TestDepart_SecondCallIsHarmless(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "tok", "alice", 4, nil)
	require.NoError(t, err)
	f.join(t, "tok", "s1", "alice")
	f.join(t, "tok", "s2", "bob")

	f.orch.Depart(ctx, "tok", "s1", "alice")
	d := f.orch.Depart(ctx, "tok", "s1", "alice")
	assert.False(t, d.Removed)
	assert.False(t, d.Closed)

	_, err = f.orch.Repo.GetMeeting(ctx, "tok")
	assert.NoError(t, err)
}

func TestDepart_KeepsRecordOwnedByReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "tok", "alice", 4, nil)
	require.NoError(t, err)
	f.join(t, "tok", "old", "alice")
	f.join(t, "tok", "new", "alice")

	f.orch.Depart(ctx, "tok", "old", "alice")

	p, ok, err := f.orch.Repo.GetParticipant(ctx, "tok", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", p.SocketID)
}

func TestEndMeeting_NotifiesAndForgets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "tok", "alice", 4, nil)
	require.NoError(t, err)
	a := f.join(t, "tok", "s1", "alice")

	require.NoError(t, f.orch.EndMeeting(ctx, "tok", "host"))

	assert.Equal(t, []string{"meeting-ended"}, a.types())
	assert.False(t, f.orch.Registry.Has("tok"))
	_, err = f.orch.Repo.GetMeeting(ctx, "tok")
	assert.ErrorIs(t, err, meeting.ErrMeetingNotFound)
}

func TestPublish_KicksSlowMember(t *testing.T) {
	f := newFixture(t, false)
	f.join(t, "tok", "s1", "alice")
	slow := f.join(t, "tok", "s2", "bob")
	slow.full = true

	res := f.orch.Publish("tok", "s1", map[string]string{"type": "chat-message"})
	assert.Equal(t, 0, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "s2", res.Dropped[0].Meta().SocketID)
}
