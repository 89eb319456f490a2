// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxUserNameLen = 64

var (
	ErrUserNameTooLong = errors.New("user name too long")
	ErrUserNameEmpty   = errors.New("user name empty")
)

type UserID string

type User struct {
	ID    UserID `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name"`
}

// NewUser mints an account identity, validating the display name.
func NewUser(name string) (*User, error) {
	if len(name) == 0 {
		return nil, ErrUserNameEmpty
	}
	if len(name) > MaxUserNameLen {
		return nil, ErrUserNameTooLong
	}
	return &User{ID: UserID(uuid.NewString()), Name: name}, nil
}

// Member is a user's participation record in one room.
type Member struct {
	UserID   UserID    `json:"user_id"`
	Name     string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}
