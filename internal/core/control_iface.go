package core

import (
	"context"
	"time"

	"github.com/dkeye/sharedview/internal/domain"
)

// ControllerChange is a committed room update as seen by control subscribers.
type ControllerChange struct {
	RoomID       domain.RoomID `json:"room_id"`
	ControllerID domain.UserID `json:"controller_id"`
	Version      int64         `json:"version"`
	Active       bool          `json:"active"`
}

// ControlRequest is the fire-and-forget "I want control" broadcast.
type ControlRequest struct {
	RoomID      domain.RoomID `json:"room_id"`
	RequesterID domain.UserID `json:"requester_id"`
	At          time.Time     `json:"at"`
}

// ControlPlane is one user's handle on a room's control protocol.
// Grant and revoke are re-authorized against the persisted room each call.
type ControlPlane interface {
	Room() domain.RoomID
	Self() domain.UserID

	RequestControl(ctx context.Context) error
	GrantControl(ctx context.Context, target domain.UserID) error
	RevokeControl(ctx context.Context) error

	SubscribeControlChanges(ctx context.Context, h func(ControllerChange)) (Subscription, error)
	SubscribeControlRequests(ctx context.Context, h func(ControlRequest)) (Subscription, error)
}
