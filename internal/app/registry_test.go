package app

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetrelay/internal/core"
	"github.com/dkeye/meetrelay/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
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

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func member(sid, name string, at time.Time) (core.MemberSession, *fakeConn) {
	conn := &fakeConn{}
	return core.NewMemberSession(domain.NewMember(sid, name, at), conn), conn
}

func TestRegistry_MembershipAndHost(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	a, _ := member("s1", "alice", now)
	b, _ := member("s2", "bob", now.Add(time.Second))

	assert.True(t, r.IsEmpty("tok"))
	assert.Equal(t, 1, r.AddMember("tok", a, ""))
	assert.Equal(t, 2, r.AddMember("tok", b, ""))

	members := r.Members("tok")
	require.Len(t, members, 2)
	assert.True(t, members[0].IsHost)
	assert.False(t, members[1].IsHost)

	remaining, removed := r.RemoveMember("tok", "s1")
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)

	_, removed = r.RemoveMember("tok", "s1")
	assert.False(t, removed, "second removal is a no-op")
	assert.Equal(t, 1, r.MemberCount("tok"))

	r.RemoveMember("tok", "s2")
	assert.True(t, r.IsEmpty("tok"))
	assert.True(t, r.Has("tok"))
	assert.Empty(t, r.Drop("tok"))
	assert.False(t, r.Has("tok"))
}

func TestRegistry_PersistedHostWins(t *testing.T) {
	r := NewRegistry()
	bob, _ := member("s2", "bob", time.Now())
	alice, _ := member("s1", "alice", time.Now())

	r.AddMember("tok", bob, "alice")
	r.AddMember("tok", alice, "alice")

	m, ok := r.Member("tok", "s2")
	require.True(t, ok)
	assert.False(t, m.IsHost)
	m, _ = r.Member("tok", "s1")
	assert.True(t, m.IsHost)
}

func TestRegistry_BroadcastSkipsSenderAndReportsDropped(t *testing.T) {
	r := NewRegistry()
	a, ca := member("s1", "alice", time.Now())
	b, cb := member("s2", "bob", time.Now())
	c, cc := member("s3", "carol", time.Now())
	cc.full = true
	r.AddMember("tok", a, "")
	r.AddMember("tok", b, "")
	r.AddMember("tok", c, "")

	res := r.Broadcast("tok", "s1", core.Frame("x"))
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "carol", res.Dropped[0].Meta().Name)
	assert.Zero(t, ca.count())
	assert.Equal(t, 1, cb.count())

	require.NoError(t, r.SendTo("tok", "s1", core.Frame("y")))
	assert.Equal(t, 1, ca.count())
	assert.ErrorIs(t, r.SendTo("tok", "nobody", core.Frame("y")), ErrNotInRoom)
	assert.ErrorIs(t, r.SendTo("other", "s1", core.Frame("y")), ErrNotInRoom)
}

func TestRegistry_MemberCountMatchesConcurrentJoinsAndLeaves(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := string(rune('A'+i%26)) + string(rune('a'+i/26))
			ms, _ := member(sid, sid, time.Now())
			r.AddMember("tok", ms, "")
			if i%2 == 0 {
				r.RemoveMember("tok", core.SessionID(sid))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, r.MemberCount("tok"))
	assert.Len(t, r.Members("tok"), 25)
}

func TestRegistry_LockJoinSerializes(t *testing.T) {
	r := NewRegistry()
	unlock := r.LockJoin("tok")

	acquired := make(chan struct{})
	go func() {
		u := r.LockJoin("tok")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second LockJoin must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second LockJoin never acquired")
	}

	other := r.LockJoin("other")
	other()
}

func TestRegistry_SessionsAndClear(t *testing.T) {
	r := NewRegistry()
	canceled := 0
	r.BindSignal("s1", &fakeConn{}, func() { canceled++ })
	_, ok := r.GetSession("s1")
	assert.True(t, ok)
	assert.True(t, r.Cancel("s1"))
	assert.Equal(t, 1, canceled)

	ms, _ := member("s1", "alice", time.Now())
	r.AddMember("tok", ms, "")
	r.Clear()
	assert.Equal(t, 2, canceled)
	assert.Zero(t, r.SessionCount())
	assert.False(t, r.Has("tok"))
}

func TestRegistry_ActiveTests(t *testing.T) {
	r := NewRegistry()
	r.EnsureRoom("tok")
	r.SetActiveTest("tok", domain.SociometricTest{ID: "t1"})
	require.Len(t, r.ActiveTests("tok"), 1)
	r.ClearActiveTest("tok", "t1")
	assert.Empty(t, r.ActiveTests("tok"))
}

func TestRegistry_SetActiveTestReplacesEarlier(t *testing.T) {
	r := NewRegistry()
	r.EnsureRoom("tok")
	r.SetActiveTest("tok", domain.SociometricTest{ID: "t1"})
	r.SetActiveTest("tok", domain.SociometricTest{ID: "t2"})

	tests := r.ActiveTests("tok")
	require.Len(t, tests, 1)
	assert.Equal(t, "t2", tests[0].ID)
}
