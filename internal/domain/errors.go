package domain

import "errors"

var (
	ErrNotAuthorized  = errors.New("not authorized")
	ErrRoomNotFound   = errors.New("room not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNotMember      = errors.New("user is not a member of the room")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyMember  = errors.New("already a member of the room")
	ErrRoomClosed     = errors.New("room is closed")
	ErrNicknameTaken  = errors.New("nickname already taken")
	ErrBadCredentials = errors.New("invalid nickname or password")
	ErrRateLimited    = errors.New("rate_limited")
)
