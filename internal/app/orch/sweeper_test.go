package orch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/meetrelay/internal/app/meeting"
	"github.com/dkeye/meetrelay/internal/core"
)

func newSweeper(f *fixture, cfg SweeperConfig) *Sweeper {
	s := NewSweeper(f.orch, f.fallback, f.health, cfg)
	s.now = f.clock
	return s
}

func TestSweepExpired_EndsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := f.orch.Repo.CreateMeeting(ctx, "old", "alice", 4, nil)
	require.NoError(t, err)
	a := f.join(t, "old", "s1", "alice")

	f.now = f.now.Add(50 * time.Minute)
	_, err = f.orch.Repo.CreateMeeting(ctx, "fresh", "bob", 4, nil)
	require.NoError(t, err)

	f.now = f.now.Add(20 * time.Minute)
	s := newSweeper(f, SweeperConfig{})
	assert.Equal(t, 1, s.SweepExpired(ctx))

	_, err = f.orch.Repo.GetMeeting(ctx, "old")
	assert.ErrorIs(t, err, meeting.ErrMeetingNotFound)
	_, err = f.orch.Repo.GetMeeting(ctx, "fresh")
	assert.NoError(t, err)
	assert.Contains(t, a.types(), "meeting-ended")
	assert.False(t, f.orch.Registry.Has("old"))
}

func TestSweepExpired_SkippedWhenDurableNotReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "old", "alice", 4, nil)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	s := newSweeper(f, SweeperConfig{})
	assert.Equal(t, 0, s.SweepExpired(ctx))

	f.health.Transition(core.Connecting)
	assert.Equal(t, 0, s.SweepExpired(ctx))
}

func TestSweepFallback_RunsWhileDurableDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.orch.Repo.CreateMeeting(ctx, "old", "alice", 4, nil)
	require.NoError(t, err)
	a := f.join(t, "old", "s1", "alice")

	f.now = f.now.Add(2 * time.Hour)
	s := newSweeper(f, SweeperConfig{})
	stats := s.SweepFallback()
	require.Len(t, stats.Expired, 1)

	_, err = f.orch.Repo.GetMeeting(ctx, "old")
	assert.ErrorIs(t, err, meeting.ErrMeetingNotFound)
	assert.False(t, f.orch.Registry.Has("old"))
	assert.Contains(t, a.types(), "meeting-ended")
}

func TestSweepRooms_IdleAndAge(t *testing.T) {
	f := newFixture(t, false)
	s := newSweeper(f, SweeperConfig{EmptyGrace: 10 * time.Minute, MaxRoomAge: 3 * time.Hour, MaxRooms: 10})

	f.orch.Registry.EnsureRoom("idle")
	f.join(t, "busy", "s1", "alice")

	f.now = f.now.Add(5 * time.Minute)
	assert.Equal(t, 0, s.SweepRooms())

	f.now = f.now.Add(10 * time.Minute)
	assert.Equal(t, 1, s.SweepRooms())
	assert.False(t, f.orch.Registry.Has("idle"))
	assert.True(t, f.orch.Registry.Has("busy"))

	f.now = f.now.Add(3 * time.Hour)
	assert.Equal(t, 1, s.SweepRooms())
	assert.False(t, f.orch.Registry.Has("busy"))
}

func TestSweepRooms_CapEvictsOldest(t *testing.T) {
	f := newFixture(t, false)
	s := newSweeper(f, SweeperConfig{MaxRooms: 1})

	f.join(t, "a", "s1", "alice")
	f.now = f.now.Add(time.Minute)
	f.join(t, "b", "s2", "bob")
	f.now = f.now.Add(time.Minute)
	f.join(t, "c", "s3", "carol")

	assert.Equal(t, 2, s.SweepRooms())
	assert.False(t, f.orch.Registry.Has("a"))
	assert.False(t, f.orch.Registry.Has("b"))
	assert.True(t, f.orch.Registry.Has("c"))
}
