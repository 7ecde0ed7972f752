// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

func (id UserID) String() string { return string(id) }

type User struct {
	ID       UserID `json:"userId"`
	Username string `json:"username"`
}

// UserRecord is a row of the users table.
type UserRecord struct {
	ID           UserID
	Name         string
	PasswordHash string
}

// NewUserID returns a time-ordered user id.
func NewUserID() (UserID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return UserID(id.String()), nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
