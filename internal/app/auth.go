package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

// Authenticator logs users in, registering unknown usernames on first use.
type Authenticator struct {
	Users  core.UserStore
	Hasher core.PasswordHasher
}

func (a *Authenticator) Login(ctx context.Context, username, password string) (domain.User, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailure, err)
	}
	if password == "" {
		return domain.User{}, fmt.Errorf("empty password: %w", domain.ErrAuthenticationFailure)
	}

	rec, found, err := a.Users.LookupByName(ctx, username)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		user, err := a.register(ctx, username, password)
		if !errors.Is(err, errNameTaken) {
			return user, err
		}
		// Lost a registration race; the other writer's row is authoritative.
		if rec, found, err = a.Users.LookupByName(ctx, username); err != nil {
			return domain.User{}, fmt.Errorf("lookup user: %w", err)
		} else if !found {
			return domain.User{}, fmt.Errorf("user %q vanished: %w", username, domain.ErrAuthenticationFailure)
		}
	}

	ok, err := a.Hasher.Verify(password, rec.PasswordHash)
	if err != nil {
		return domain.User{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		log.Info().Str("module", "app.auth").Str("username", username).Msg("password mismatch")
		return domain.User{}, fmt.Errorf("password mismatch: %w", domain.ErrAuthenticationFailure)
	}
	return domain.User{ID: rec.ID, Username: rec.Name}, nil
}

var errNameTaken = errors.New("name taken")

func (a *Authenticator) register(ctx context.Context, username, password string) (domain.User, error) {
	hash, err := a.Hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := domain.NewUserID()
	if err != nil {
		return domain.User{}, fmt.Errorf("new user id: %w", err)
	}
	inserted, err := a.Users.Insert(ctx, id, username, hash)
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if !inserted {
		return domain.User{}, errNameTaken
	}
	log.Info().Str("module", "app.auth").Str("user", string(id)).Str("username", username).Msg("registered user")
	return domain.User{ID: id, Username: username}, nil
}
