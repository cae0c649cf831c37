package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxRoomNameLen = 64

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
	ErrInvalidCapacity = errors.New("invalid max participants")
)

type (
	RoomName string
	RoomID   string
)

// Room is one shared-viewing session. HostID never changes; CurrentControllerID
// is the single holder of control and starts out equal to HostID.
type Room struct {
	ID                  RoomID    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name                RoomName  `json:"name" gorm:"size:64;not null"`
	HostID              UserID    `json:"host_id" gorm:"type:varchar(36);not null;index"`
	CurrentControllerID *UserID   `json:"current_controller_id" gorm:"type:varchar(36)"`
	MaxParticipants     int       `json:"max_participants" gorm:"not null;default:10"`
	IsActive            bool      `json:"is_active" gorm:"not null;default:true;index"`
	Version             int64     `json:"version" gorm:"not null;default:1"`
	CreatedAt           time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Room) TableName() string { return "rooms" }

func NewRoom(name string, host UserID, maxParticipants int) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	if maxParticipants < 1 {
		return nil, ErrInvalidCapacity
	}
	controller := host
	return &Room{
		ID:                  RoomID(uuid.NewString()),
		Name:                RoomName(name),
		HostID:              host,
		CurrentControllerID: &controller,
		MaxParticipants:     maxParticipants,
		IsActive:            true,
		Version:             1,
	}, nil
}

// Controller returns the current controller, if any.
func (r *Room) Controller() (UserID, bool) {
	if r.CurrentControllerID == nil {
		return "", false
	}
	return *r.CurrentControllerID, true
}

func (r *Room) IsHost(u UserID) bool { return r.HostID == u }

type RoomSummary struct {
	Room
	ParticipantCount int `json:"participant_count"`
}
