package core

import "github.com/dkeye/meetrelay/internal/domain"

// SessionID identifies one live socket connection.
type SessionID string

// MemberSession binds domain.RoomMember and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.RoomMember
	Signal() SignalConnection
}
