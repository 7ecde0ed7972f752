package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

type transportState int

const (
	transportsNone transportState = iota
	transportsOpen
	transportsClosed
)

type heldConsumer struct {
	consumer core.Consumer
	owner    domain.UserID
}

// Session is one authenticated media signaling connection. All methods
// take the user lock so a client's requests apply in arrival order.
type Session struct {
	o       *Orchestrator
	user    domain.UserID
	channel domain.ChannelName
	peer    core.SignalingPeer

	// guarded by the user lock
	caps       *domain.RtpCapabilities
	transports transportState
	send, recv core.Transport
	producer   core.Producer
	finalized  bool

	mu        sync.Mutex
	closed    bool
	consumers map[string]heldConsumer
}

// Attach authenticates a media signaling connection with the token issued
// by RequestJoin. The token is consumed even if the session later fails.
func (o *Orchestrator) Attach(ctx context.Context, user domain.UserID, token string, peer core.SignalingPeer) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(user)
	defer unlock()

	p, err := o.Tokens.Claim(user, token)
	if err != nil {
		o.Metrics.Token("rejected")
		log.Warn().Str("module", "orch").Str("user", string(user)).Err(err).Msg("rtc auth rejected")
		return nil, err
	}
	if old := o.currentSession(user); old != nil {
		old.teardownLocked("replaced")
	}
	s := &Session{
		o:         o,
		user:      user,
		channel:   p.Channel,
		peer:      peer,
		consumers: make(map[string]heldConsumer),
	}
	o.setSession(user, s)
	o.Metrics.Token("claimed")
	log.Info().Str("module", "orch").Str("user", string(user)).Str("channel", string(p.Channel)).Msg("rtc session attached")
	return s, nil
}

func (s *Session) User() domain.UserID { return s.user }

func (s *Session) Channel() domain.ChannelName { return s.channel }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) lock() (func(), error) {
	unlock := s.o.locks.Lock(s.user)
	if s.Closed() {
		unlock()
		return nil, domain.ErrSessionClosed
	}
	return unlock, nil
}

// RouterCapabilities returns what the media engine can route.
func (s *Session) RouterCapabilities() (domain.RtpCapabilities, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.RtpCapabilities{}, err
	}
	defer unlock()
	return s.o.Media.RouterCapabilities(), nil
}

// SetDeviceCapabilities stores the client's receive capabilities, used for
// every later consume.
func (s *Session) SetDeviceCapabilities(caps domain.RtpCapabilities) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	s.caps = &caps
	return nil
}

// CreateTransports creates the send and receive transport pair. A session
// gets exactly one pair.
func (s *Session) CreateTransports(ctx context.Context, sctp domain.SctpCapabilities) (send, recv domain.TransportParams, err error) {
	unlock, err := s.lock()
	if err != nil {
		return send, recv, err
	}
	defer unlock()

	if s.transports != transportsNone {
		return send, recv, domain.ErrAlreadyHasTransports
	}
	opts := core.TransportOptions{Sctp: sctp}
	st, err := s.o.Media.CreateTransport(ctx, opts)
	if err != nil {
		return send, recv, fmt.Errorf("send transport: %w: %w", domain.ErrMediaEngineFailure, err)
	}
	rt, err := s.o.Media.CreateTransport(ctx, opts)
	if err != nil {
		st.Close()
		return send, recv, fmt.Errorf("recv transport: %w: %w", domain.ErrMediaEngineFailure, err)
	}
	s.send, s.recv = st, rt
	s.transports = transportsOpen
	log.Debug().Str("module", "orch").Str("user", string(s.user)).Str("send", st.ID()).Str("recv", rt.ID()).Msg("transports created")
	return st.Params(), rt.Params(), nil
}

// ConnectTransport completes DTLS on one of the session's transports.
func (s *Session) ConnectTransport(ctx context.Context, transportID string, remote domain.RemoteTransportParams) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.transport(transportID)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, remote); err != nil {
		return fmt.Errorf("connect %s: %w: %w", transportID, domain.ErrMediaEngineFailure, err)
	}
	return nil
}

func (s *Session) transport(id string) (core.Transport, error) {
	if s.transports != transportsOpen {
		return nil, fmt.Errorf("transport %q: %w", id, domain.ErrUnknownTransport)
	}
	switch id {
	case s.send.ID():
		return s.send, nil
	case s.recv.ID():
		return s.recv, nil
	}
	return nil, fmt.Errorf("transport %q: %w", id, domain.ErrUnknownTransport)
}

// Produce publishes the user's voice on the send transport. A new producer
// replaces the previous one and closes every consumer of it. The first
// producer finalizes the join.
func (s *Session) Produce(ctx context.Context, transportID string, kind domain.MediaKind, rtp domain.RtpParameters) (string, error) {
	unlock, err := s.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	if kind != domain.KindAudio {
		return "", fmt.Errorf("produce %s: only audio is routed: %w", kind, domain.ErrBadPayload)
	}
	if s.transports != transportsOpen || (transportID != "" && transportID != s.send.ID()) {
		return "", fmt.Errorf("produce on %q: %w", transportID, domain.ErrUnknownTransport)
	}
	if old := s.producer; old != nil {
		s.producer = nil
		s.o.cascadeProducer(s.user)
		old.Close()
	}

	p, err := s.send.Produce(ctx, kind, rtp)
	if err != nil {
		return "", fmt.Errorf("produce: %w: %w", domain.ErrMediaEngineFailure, err)
	}
	if err := s.o.Producers.RegisterProducer(s.user, p); err != nil {
		p.Close()
		return "", err
	}
	s.producer = p
	p.OnClose(func() { go s.o.producerLost(s, p) })

	if !s.finalized {
		if err := s.o.finalize(s.user, s); err != nil {
			s.producer = nil
			s.o.cascadeProducer(s.user)
			p.Close()
			return "", err
		}
		s.finalized = true
	}
	s.o.refreshMetrics("")
	log.Debug().Str("module", "orch").Str("user", string(s.user)).Str("producer", p.ID()).Msg("producing")
	return p.ID(), nil
}

// Consume subscribes the session to the voice of remote. Both users must be
// in the same room. The consumer starts paused.
func (s *Session) Consume(ctx context.Context, remote domain.UserID) (domain.ConsumerDescriptor, error) {
	unlock, err := s.lock()
	if err != nil {
		return domain.ConsumerDescriptor{}, err
	}
	defer unlock()

	if remote == s.user || !s.o.Channels.SameRoom(s.user, remote) {
		return domain.ConsumerDescriptor{}, fmt.Errorf("consume %s: %w", remote, domain.ErrNotAuthorizedToConsume)
	}
	p, ok := s.o.Producers.Producer(remote)
	if !ok {
		return domain.ConsumerDescriptor{}, fmt.Errorf("consume %s: %w", remote, domain.ErrNoSuchProducer)
	}
	if s.caps == nil || !s.o.Media.CanConsume(p.ID(), *s.caps) {
		return domain.ConsumerDescriptor{}, fmt.Errorf("consume %s: %w", remote, domain.ErrIncompatibleCapabilities)
	}
	if s.transports != transportsOpen {
		return domain.ConsumerDescriptor{}, fmt.Errorf("consume %s: %w", remote, domain.ErrUnknownTransport)
	}

	c, err := s.recv.Consume(ctx, p.ID(), *s.caps, true)
	if err != nil {
		return domain.ConsumerDescriptor{}, fmt.Errorf("consume %s: %w: %w", remote, domain.ErrMediaEngineFailure, err)
	}
	s.mu.Lock()
	s.consumers[c.ID()] = heldConsumer{consumer: c, owner: remote}
	s.mu.Unlock()
	ref := app.ConsumerRef{Holder: s.user, Owner: s, Consumer: c}
	if err := s.o.Producers.RegisterConsumer(remote, ref); err != nil {
		s.mu.Lock()
		delete(s.consumers, c.ID())
		s.mu.Unlock()
		c.Close()
		return domain.ConsumerDescriptor{}, err
	}
	id := c.ID()
	c.OnClose(func() { go s.o.consumerLost(s, remote, id) })
	s.o.refreshMetrics("")

	return domain.ConsumerDescriptor{
		ID:            id,
		ProducerID:    c.ProducerID(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
	}, nil
}

// Resume starts forwarding on a paused consumer. Unknown ids are ignored.
func (s *Session) Resume(ctx context.Context, consumerID string) error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	h, ok := s.consumers[consumerID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := h.consumer.Resume(ctx); err != nil {
		return fmt.Errorf("resume %s: %w: %w", consumerID, domain.ErrMediaEngineFailure, err)
	}
	return nil
}

// CloseProducer is the client closing its own voice producer. The user
// leaves voice.
func (s *Session) CloseProducer() {
	unlock, err := s.lock()
	if err != nil {
		return
	}
	defer unlock()
	if s.producer == nil {
		return
	}
	s.endLocked("producer closed")
}

// Disconnect is called when the media signaling connection went away.
func (s *Session) Disconnect() {
	unlock, err := s.lock()
	if err != nil {
		return
	}
	defer unlock()
	s.endLocked("signaling disconnected")
}

// ConsumerClosed drops a consumer the session holds and tells the client.
// It is safe to call more than once per consumer.
func (s *Session) ConsumerClosed(consumerID string) {
	s.mu.Lock()
	_, ok := s.consumers[consumerID]
	delete(s.consumers, consumerID)
	closed := s.closed
	s.mu.Unlock()
	if !ok || closed {
		return
	}
	s.peer.PushClosedConsumer(consumerID)
}

// endLocked takes the implicit leave path when s is still the user's
// session and only releases its own resources otherwise.
func (s *Session) endLocked(reason string) {
	if s.o.currentSession(s.user) == s {
		s.o.leaveLocked(s.user, reason)
		return
	}
	s.teardownLocked(reason)
}

// teardownLocked releases everything the session created, once.
func (s *Session) teardownLocked(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	held := s.consumers
	s.consumers = make(map[string]heldConsumer)
	s.mu.Unlock()

	if p := s.producer; p != nil {
		s.producer = nil
		if cur, ok := s.o.Producers.Producer(s.user); ok && cur == p {
			s.o.cascadeProducer(s.user)
		}
		p.Close()
	}
	for id, h := range held {
		s.o.Producers.RemoveConsumer(h.owner, id)
		h.consumer.Close()
	}
	if s.transports == transportsOpen {
		s.send.Close()
		s.recv.Close()
		s.send, s.recv = nil, nil
	}
	s.transports = transportsClosed
	s.o.refreshMetrics("")

	log.Info().Str("module", "orch").Str("user", string(s.user)).Str("reason", reason).Msg("rtc session closed")
	s.peer.Disconnect()
}

// producerLost handles the engine closing a producer on its own.
func (o *Orchestrator) producerLost(s *Session, p core.Producer) {
	unlock := o.locks.Lock(s.user)
	defer unlock()
	if s.producer != p || s.Closed() {
		return
	}
	s.endLocked("producer lost")
}

// consumerLost handles the engine closing a consumer on its own.
func (o *Orchestrator) consumerLost(s *Session, owner domain.UserID, consumerID string) {
	o.Producers.RemoveConsumer(owner, consumerID)
	s.ConsumerClosed(consumerID)
	o.refreshMetrics("")
}

var _ app.ConsumerOwner = (*Session)(nil)
