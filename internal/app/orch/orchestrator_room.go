package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

// RequestJoin starts the handshake for channel and returns the connection
// token the client presents on the media signaling channel.
//
// Asking again for the same channel while the token is unclaimed returns the
// same token. Switching channels while pending or connected leaves first.
func (o *Orchestrator) RequestJoin(ctx context.Context, user domain.UserID, channel domain.ChannelName) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	unlock := o.locks.Lock(user)
	defer unlock()

	if !o.Channels.Exists(channel) {
		o.Metrics.Join("invalid_channel")
		return "", fmt.Errorf("join %q: %w", channel, domain.ErrInvalidChannel)
	}
	if cur, ok := o.Channels.ChannelOf(user); ok {
		if cur == channel {
			o.Metrics.Join("already_in_room")
			return "", fmt.Errorf("join %q: %w", channel, domain.ErrAlreadyInRoom)
		}
		o.leaveLocked(user, "switch channel")
	}
	if p, ok := o.Tokens.Pending(user); ok {
		switch {
		case p.Expired(o.Tokens.Now()):
			o.leaveLocked(user, "token expired")
		case p.Channel != channel:
			o.leaveLocked(user, "switch channel")
		case p.Claimed:
			o.Metrics.Join("already_pending")
			return "", fmt.Errorf("join %q: %w", channel, domain.ErrAlreadyPending)
		default:
			o.Metrics.Join("reissued")
			return p.Token, nil
		}
	}

	p, err := o.Tokens.Issue(user, channel)
	if err != nil {
		return "", err
	}
	o.Metrics.Join("issued")
	o.Metrics.Token("issued")
	log.Info().Str("module", "orch").Str("user", string(user)).Str("channel", string(channel)).Msg("join requested")
	return p.Token, nil
}

// RequestLeave returns user to NotInVoice. Leaving while not in voice is a
// no-op.
func (o *Orchestrator) RequestLeave(user domain.UserID) {
	unlock := o.locks.Lock(user)
	defer unlock()
	o.leaveLocked(user, "leave requested")
}

// ControlDisconnected is called when the last control connection of user
// went away.
func (o *Orchestrator) ControlDisconnected(user domain.UserID) {
	unlock := o.locks.Lock(user)
	defer unlock()
	o.leaveLocked(user, "control disconnected")
}

// finalize moves user from PendingToken to Connected once sess produced
// its first audio track. Caller holds the user lock.
func (o *Orchestrator) finalize(user domain.UserID, sess *Session) error {
	p, ok := o.Tokens.Pending(user)
	if !ok || !p.Claimed || o.currentSession(user) != sess {
		return fmt.Errorf("finalize %s: %w", user, domain.ErrSessionClosed)
	}
	if err := o.Channels.Join(user, p.Channel); err != nil {
		if errors.Is(err, domain.ErrAlreadyInRoom) {
			log.Error().Str("module", "orch").Str("user", string(user)).Msg("pending user already in a room")
		}
		return err
	}
	o.Tokens.Complete(user)
	o.Metrics.Token("completed")
	o.refreshMetrics(p.Channel)
	log.Info().Str("module", "orch").Str("user", string(user)).Str("channel", string(p.Channel)).Msg("joined voice")
	if o.Notifier != nil {
		o.Notifier.VoiceJoined(user, p.Channel)
	}
	return nil
}

// leaveLocked is the single teardown path for a user: membership, pending
// handshake, signaling session and every producer or consumer touching the
// user. Only a user that actually left a room is broadcast.
func (o *Orchestrator) leaveLocked(user domain.UserID, reason string) {
	channel, wasMember := o.Channels.Leave(user)
	if _, ok := o.Tokens.Revoke(user); ok {
		o.Metrics.Token("revoked")
	}

	if sess := o.currentSession(user); sess != nil {
		o.setSession(user, nil)
		sess.teardownLocked(reason)
	}
	o.cascadeProducer(user)
	o.closeHeldConsumers(user)

	o.refreshMetrics(channel)
	if !wasMember {
		return
	}
	log.Info().Str("module", "orch").Str("user", string(user)).Str("channel", string(channel)).Str("reason", reason).Msg("left voice")
	if o.Notifier != nil {
		o.Notifier.VoiceLeft(user, channel)
	}
}
