package domain

import "time"

// Participant links a user to a room. Membership and liveness are separate:
// a disconnected participant is still a member until it leaves.
type Participant struct {
	RoomID      RoomID    `json:"room_id" gorm:"primaryKey;type:varchar(36)"`
	UserID      UserID    `json:"user_id" gorm:"primaryKey;type:varchar(36)"`
	IsConnected bool      `json:"is_connected" gorm:"not null;default:false"`
	JoinedAt    time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

func (Participant) TableName() string { return "room_participants" }

func NewParticipant(room RoomID, user UserID) *Participant {
	return &Participant{RoomID: room, UserID: user}
}

// ParticipantView is a read-only view for APIs.
type ParticipantView struct {
	UserID      UserID `json:"user_id"`
	Nickname    string `json:"nickname"`
	IsConnected bool   `json:"is_connected"`
}
