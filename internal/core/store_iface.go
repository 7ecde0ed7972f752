package core

import (
	"context"

	"github.com/piJoe/zwietracht-vc/internal/domain"
)

//go:generate mockgen -destination=mocks/store_mock.go -package=mocks . UserStore

// UserStore is the persisted users table.
type UserStore interface {
	LookupByName(ctx context.Context, name string) (domain.UserRecord, bool, error)
	// Insert reports false when the id or name is already taken.
	Insert(ctx context.Context, id domain.UserID, name, passwordHash string) (bool, error)
}

// PasswordHasher produces and checks stored password hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}
