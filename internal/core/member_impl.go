package core

import "github.com/dkeye/meetrelay/internal/domain"

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	meta *domain.RoomMember
	conn SignalConnection
}

func NewMemberSession(meta *domain.RoomMember, conn SignalConnection) MemberSession {
	return &memberSession{meta: meta, conn: conn}
}

func (m *memberSession) Meta() *domain.RoomMember { return m.meta }
func (m *memberSession) Signal() SignalConnection { return m.conn }
