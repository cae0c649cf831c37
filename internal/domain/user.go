// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxNicknameLen = 36
	MinPasswordLen = 6
	MaxPasswordLen = 72 // bcrypt ignores anything past 72 bytes
)

var (
	ErrNicknameTooLong = errors.New("nickname too long")
	ErrNicknameEmpty   = errors.New("nickname empty")
	ErrPasswordInvalid = errors.New("password must be 6..72 bytes")
)

type UserID string

type User struct {
	ID           UserID    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Nickname     string    `json:"nickname" gorm:"uniqueIndex;size:36;not null"`
	PasswordHash string    `json:"-" gorm:"size:72;not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (User) TableName() string { return "users" }

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(nickname, passwordHash string) (*User, error) {
	nickname, err := NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           UserID(uuid.NewString()),
		Nickname:     nickname,
		PasswordHash: passwordHash,
	}, nil
}

func NormalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if len(nickname) == 0 {
		return "", ErrNicknameEmpty
	}
	if len(nickname) > MaxNicknameLen {
		return "", ErrNicknameTooLong
	}
	return nickname, nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return ErrPasswordInvalid
	}
	return nil
}
