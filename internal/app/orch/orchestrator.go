// Package orch coordinates voice sessions: the join/leave state machine of
// every user and the signaling sessions that drive the media engine.
//
// Per user the states are NotInVoice -> PendingToken -> Connected, and
// both PendingToken and Connected collapse back to NotInVoice on leave or
// disconnect. Every operation of one user runs under that user's lock, in
// arrival order; shared registries are only touched after media engine
// calls returned.
package orch

import (
	"context"
	"sync"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/piJoe/zwietracht-vc/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Channels  *app.ChannelRegistry
	Tokens    *app.TokenIssuer
	Producers *app.ProducerRegistry
	Media     core.MediaEngine
	Notifier  core.VoiceNotifier
	Metrics   *metrics.Voice
}

type Orchestrator struct {
	Channels  *app.ChannelRegistry
	Tokens    *app.TokenIssuer
	Producers *app.ProducerRegistry
	Media     core.MediaEngine
	Notifier  core.VoiceNotifier
	Metrics   *metrics.Voice

	locks *app.UserLocks

	mu       sync.Mutex
	sessions map[domain.UserID]*Session
}

func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		Channels:  cfg.Channels,
		Tokens:    cfg.Tokens,
		Producers: cfg.Producers,
		Media:     cfg.Media,
		Notifier:  cfg.Notifier,
		Metrics:   cfg.Metrics,
		locks:     app.NewUserLocks(),
		sessions:  make(map[domain.UserID]*Session),
	}
}

// Run expires abandoned handshakes every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.ExpireTokens()
		}
	}
}

// ExpireTokens tears down every PendingConnection past its deadline,
// whether or not its token was claimed.
func (o *Orchestrator) ExpireTokens() int {
	n := 0
	for _, p := range o.Tokens.Expired() {
		unlock := o.locks.Lock(p.UserID)
		cur, ok := o.Tokens.Pending(p.UserID)
		if ok && cur.IssuedAt.Equal(p.IssuedAt) && cur.Expired(o.Tokens.Now()) {
			log.Info().Str("module", "orch").Str("user", string(p.UserID)).Str("channel", string(p.Channel)).Bool("claimed", p.Claimed).Msg("pending connection expired")
			o.leaveLocked(p.UserID, "token expired")
			o.Metrics.Token("expired")
			n++
		}
		unlock()
	}
	return n
}

// Session returns the current signaling session of user, if any.
func (o *Orchestrator) Session(user domain.UserID) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[user]
	return s, ok
}

func (o *Orchestrator) currentSession(user domain.UserID) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[user]
}

func (o *Orchestrator) setSession(user domain.UserID, s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s == nil {
		delete(o.sessions, user)
		return
	}
	o.sessions[user] = s
}

// cascadeProducer closes every consumer held against owner's producer,
// notifies the holders and returns the removed producer handle.
func (o *Orchestrator) cascadeProducer(owner domain.UserID) core.Producer {
	p, refs := o.Producers.CloseProducerCascade(owner)
	for _, ref := range refs {
		ref.Owner.ConsumerClosed(ref.ID())
	}
	return p
}

func (o *Orchestrator) closeHeldConsumers(holder domain.UserID) {
	for _, ref := range o.Producers.CloseConsumersHeldBy(holder) {
		ref.Owner.ConsumerClosed(ref.ID())
	}
}

func (o *Orchestrator) refreshMetrics(channel domain.ChannelName) {
	if o.Metrics == nil {
		return
	}
	if channel != "" {
		o.Metrics.SetRoomMembers(string(channel), len(o.Channels.Members(channel)))
	}
	o.Metrics.SetMedia(o.Producers.Counts())
}
