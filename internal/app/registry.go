package app

import (
	"context"
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User   domain.User
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// PublishResult reports delivery stats/backpressure of a broadcast.
type PublishResult struct {
	SendTo  int
	Dropped []core.SessionID
}

// Registry holds every authenticated control connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	perUser  map[domain.UserID]int
	policy   Policy
}

func NewRegistry(policy Policy) *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		perUser:  make(map[domain.UserID]int),
		policy:   policy,
	}
}

func (r *Registry) Bind(sid core.SessionID, user domain.User, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[sid]; ok {
		r.perUser[old.User.ID]--
	}
	r.sessions[sid] = &sessionEntry{User: user, Signal: sig, Cancel: cancel}
	r.perUser[user.ID]++
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("bound session")
}

// Unbind removes sid and reports how many control connections its user
// still has.
func (r *Registry) Unbind(sid core.SessionID) (user domain.User, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.User{}, 0, false
	}
	delete(r.sessions, sid)
	r.perUser[e.User.ID]--
	remaining = r.perUser[e.User.ID]
	if remaining <= 0 {
		delete(r.perUser, e.User.ID)
		remaining = 0
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(e.User.ID)).Msg("unbind session")
	return e.User, remaining, true
}

func (r *Registry) GetUser(sid core.SessionID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.User, true
	}
	return domain.User{}, false
}

func (r *Registry) ConnectionsOf(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[user]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends f to every control connection and applies the policy
// to the ones that could not take it.
func (r *Registry) Broadcast(f core.Frame) PublishResult {
	r.mu.RLock()
	res := PublishResult{}
	type slow struct {
		sid   core.SessionID
		entry *sessionEntry
	}
	var dropped []slow
	for sid, e := range r.sessions {
		if err := e.Signal.TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, sid)
			dropped = append(dropped, slow{sid, e})
			continue
		}
		res.SendTo++
	}
	r.mu.RUnlock()

	for _, d := range dropped {
		action := NoAction
		if r.policy != nil {
			action = r.policy.OnBackPressure(d.sid, d.entry.User)
		}
		switch action {
		case KickMember:
			log.Warn().Str("module", "app.registry").Str("sid", string(d.sid)).Msg("kicking slow connection")
			r.Cancel(d.sid)
		case MarkSlow:
			log.Warn().Str("module", "app.registry").Str("sid", string(d.sid)).Msg("slow connection")
		case DropFrame, NoAction:
		}
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
