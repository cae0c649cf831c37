package control

import (
	"sync"

	"github.com/dkeye/sharedview/internal/core"
	"github.com/dkeye/sharedview/internal/domain"
)

// ControllerView is a subscriber's local copy of a room's controller. It
// applies feed changes by room version, so stale and repeated deliveries
// are no-ops.
type ControllerView struct {
	mu         sync.RWMutex
	room       domain.RoomID
	controller domain.UserID
	version    int64
	active     bool
}

func NewControllerView(room *domain.Room) *ControllerView {
	v := &ControllerView{room: room.ID, version: room.Version, active: room.IsActive}
	if c, ok := room.Controller(); ok {
		v.controller = c
	}
	return v
}

// Apply reports whether the controller identity changed.
func (v *ControllerView) Apply(ch core.ControllerChange) bool {
	if ch.ControllerID == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if ch.RoomID != v.room || ch.Version <= v.version {
		return false
	}
	v.version = ch.Version
	v.active = ch.Active
	if ch.ControllerID == v.controller {
		return false
	}
	v.controller = ch.ControllerID
	return true
}

func (v *ControllerView) Controller() domain.UserID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.controller
}

func (v *ControllerView) Is(u domain.UserID) bool {
	return v.Controller() == u
}

func (v *ControllerView) Version() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

func (v *ControllerView) Active() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}
