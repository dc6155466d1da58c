package core

import (
	"time"

	"github.com/dkeye/meetrelay/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomInfo is a read-only snapshot of one runtime room.
type RoomInfo struct {
	Token          domain.Token `json:"token"`
	MemberCount    int          `json:"member_count"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	EmptySince     time.Time    `json:"empty_since,omitzero"`
}
