package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxMessageLen   = 2000
	ChatPageSize    = 100
	UnknownNickname = "Unknown"
)

var (
	ErrMessageEmpty   = errors.New("message empty")
	ErrMessageTooLong = errors.New("message too long")
)

type ChatMessage struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RoomID    RoomID    `json:"room_id" gorm:"type:varchar(36);not null;index:idx_room_created,priority:1"`
	UserID    UserID    `json:"user_id" gorm:"type:varchar(36);not null"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_room_created,priority:2"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

func NewChatMessage(room RoomID, user UserID, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrMessageEmpty
	}
	if len(text) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	return &ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    room,
		UserID:    user,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type ChatMessageView struct {
	ChatMessage
	Nickname string `json:"user_nickname"`
}
