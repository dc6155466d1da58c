package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealth_TransitionsNotifyOnChange(t *testing.T) {
	var seen []HealthState
	h := NewHealth(func(_, to HealthState) { seen = append(seen, to) })

	assert.Equal(t, Disconnected, h.State())
	assert.True(t, h.Transition(Connecting))
	assert.False(t, h.Transition(Connecting))
	assert.True(t, h.Transition(Ready))
	assert.True(t, h.Ready())

	assert.Equal(t, []HealthState{Connecting, Ready}, seen)
	assert.Equal(t, "ready", h.State().String())
}

func TestParseKey(t *testing.T) {
	kind, tok, ok := ParseKey(ParticipantKey("abc", "bob:1"))
	assert.True(t, ok)
	assert.Equal(t, KindMember, kind)
	assert.EqualValues(t, "abc", tok)

	kind, tok, ok = ParseKey(ActiveRoomsKey)
	assert.True(t, ok)
	assert.Equal(t, KindRooms, kind)
	assert.Empty(t, tok)

	_, _, ok = ParseKey("other:thing")
	assert.False(t, ok)
}
