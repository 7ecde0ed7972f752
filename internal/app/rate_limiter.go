package app

import (
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"golang.org/x/time/rate"
)

// JoinRateLimiter bounds how often a single user may request to join voice.
type JoinRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	history map[domain.UserID]*rate.Limiter
}

// NewJoinRateLimiter allows perSecond joins with the given burst. A
// non-positive perSecond disables limiting.
func NewJoinRateLimiter(perSecond float64, burst int) *JoinRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &JoinRateLimiter{
		limit:   limit,
		burst:   burst,
		history: make(map[domain.UserID]*rate.Limiter),
	}
}

func (rl *JoinRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	lim, ok := rl.history[uid]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.history[uid] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// Forget drops the state kept for uid.
func (rl *JoinRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, uid)
}
