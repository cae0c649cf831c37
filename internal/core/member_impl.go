package core

import "github.com/dkeye/sharedview/internal/domain"

// memberSession implements MemberSession by pairing user + transport.
type memberSession struct {
	user *domain.User
	sig  SignalConnection
}

func NewMemberSession(user *domain.User, sig SignalConnection) MemberSession {
	return &memberSession{user: user, sig: sig}
}

func (m *memberSession) User() *domain.User       { return m.user }
func (m *memberSession) Signal() SignalConnection { return m.sig }
