package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRoomRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("tok/alice"))
	assert.True(t, rl.Allow("tok/alice"))
	assert.False(t, rl.Allow("tok/alice"))
	assert.True(t, rl.Allow("tok/bob"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("tok/alice"))

	rl.Forget("tok/alice")
	assert.True(t, rl.Allow("tok/alice"))
	assert.True(t, rl.Allow("tok/alice"))
}

func TestRoomRateLimiter_DisabledAllowsAll(t *testing.T) {
	rl := NewRoomRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("k"))
	}
	var nilLimiter *RoomRateLimiter
	assert.True(t, nilLimiter.Allow("k"))
}
