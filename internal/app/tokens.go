package app

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/domain"
)

const tokenBytes = 32

type tokenState int

const (
	tokenUnclaimed tokenState = iota
	tokenClaimed
)

type pendingEntry struct {
	user      domain.UserID
	channel   domain.ChannelName
	state     tokenState
	token     string // only set while unclaimed
	issuedAt  time.Time
	expiresAt time.Time
}

// PendingConnection is a read-only view of a user's voice handshake.
type PendingConnection struct {
	UserID    domain.UserID
	Channel   domain.ChannelName
	Token     string // empty once claimed
	Claimed   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (p PendingConnection) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// TokenIssuer mints one-time tokens binding a user to a pending voice
// handshake. There is at most one PendingConnection per user.
type TokenIssuer struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	byUser map[domain.UserID]*pendingEntry
}

func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		ttl:    ttl,
		now:    time.Now,
		byUser: make(map[domain.UserID]*pendingEntry),
	}
}

// SetClock replaces the time source.
func (t *TokenIssuer) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *TokenIssuer) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now()
}

// Issue creates a fresh PendingConnection. It fails with ErrAlreadyPending
// when the user already has one; the caller decides what to do with it.
func (t *TokenIssuer) Issue(user domain.UserID, channel domain.ChannelName) (PendingConnection, error) {
	tok, err := newToken()
	if err != nil {
		return PendingConnection{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byUser[user]; ok {
		return PendingConnection{}, domain.ErrAlreadyPending
	}
	now := t.now()
	e := &pendingEntry{
		user:      user,
		channel:   channel,
		state:     tokenUnclaimed,
		token:     tok,
		issuedAt:  now,
		expiresAt: now.Add(t.ttl),
	}
	t.byUser[user] = e
	return e.view(), nil
}

func (t *TokenIssuer) Pending(user domain.UserID) (PendingConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return PendingConnection{}, false
	}
	return e.view(), true
}

// Claim consumes the token. A token can be claimed once; wrong, reused or
// expired tokens are authentication failures. An expired entry is dropped.
func (t *TokenIssuer) Claim(user domain.UserID, token string) (PendingConnection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return PendingConnection{}, fmt.Errorf("no pending connection: %w", domain.ErrAuthenticationFailure)
	}
	if e.state != tokenUnclaimed {
		return PendingConnection{}, fmt.Errorf("token already claimed: %w", domain.ErrAuthenticationFailure)
	}
	if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) != 1 {
		return PendingConnection{}, fmt.Errorf("token mismatch: %w", domain.ErrAuthenticationFailure)
	}
	if !t.now().Before(e.expiresAt) {
		delete(t.byUser, user)
		return PendingConnection{}, fmt.Errorf("token expired: %w", domain.ErrAuthenticationFailure)
	}
	e.state = tokenClaimed
	e.token = ""
	return e.view(), nil
}

// Complete removes a claimed PendingConnection once the handshake finished.
func (t *TokenIssuer) Complete(user domain.UserID) (PendingConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok || e.state != tokenClaimed {
		return PendingConnection{}, false
	}
	delete(t.byUser, user)
	return e.view(), true
}

func (t *TokenIssuer) Revoke(user domain.UserID) (PendingConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUser[user]
	if !ok {
		return PendingConnection{}, false
	}
	delete(t.byUser, user)
	return e.view(), true
}

// Expired lists entries past their deadline without removing them.
func (t *TokenIssuer) Expired() []PendingConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []PendingConnection
	for _, e := range t.byUser {
		if !now.Before(e.expiresAt) {
			out = append(out, e.view())
		}
	}
	return out
}

func (t *TokenIssuer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byUser)
}

func (e *pendingEntry) view() PendingConnection {
	return PendingConnection{
		UserID:    e.user,
		Channel:   e.channel,
		Token:     e.token,
		Claimed:   e.state == tokenClaimed,
		IssuedAt:  e.issuedAt,
		ExpiresAt: e.expiresAt,
	}
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
