package core

import "github.com/dkeye/sharedview/internal/domain"

type SessionID string

// MemberSession binds an authenticated user and its signaling endpoint.
// This is what the registry stores and fans out to.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
}
