package app

import (
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/domain"
)

type userLock struct {
	mu   sync.Mutex
	refs int
}

// UserLocks serializes every operation of one user. Lock order is always
// user lock first, then any registry lock; a user lock is never taken
// while a registry lock is held.
type UserLocks struct {
	mu    sync.Mutex
	locks map[domain.UserID]*userLock
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[domain.UserID]*userLock)}
}

// Lock blocks until user is free and returns the matching unlock.
func (l *UserLocks) Lock(user domain.UserID) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			ul.mu.Unlock()
			l.mu.Lock()
			ul.refs--
			if ul.refs == 0 {
				delete(l.locks, user)
			}
			l.mu.Unlock()
		})
	}
}

// Do runs fn while holding user's lock.
func (l *UserLocks) Do(user domain.UserID, fn func() error) error {
	unlock := l.Lock(user)
	defer unlock()
	return fn()
}

func (l *UserLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
