package domain

import "time"

// RoomMember represents a live socket in a runtime room.
// No transport or lifecycle logic here; it is never persisted.
type RoomMember struct {
	SocketID string    `json:"socket_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
	IsHost   bool      `json:"is_host"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(socketID, name string, joinedAt time.Time) *RoomMember {
	return &RoomMember{SocketID: socketID, Name: name, JoinedAt: joinedAt}
}
