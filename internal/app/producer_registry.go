package app

import (
	"fmt"
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConsumerOwner is the session that holds a consumer. It is told when the
// consumer was closed on its behalf.
type ConsumerOwner interface {
	ConsumerClosed(consumerID string)
}

// ConsumerRef is one consumer held by Holder against another user's producer.
type ConsumerRef struct {
	Holder   domain.UserID
	Owner    ConsumerOwner
	Consumer core.Consumer
}

func (c ConsumerRef) ID() string { return c.Consumer.ID() }

// ProducerRegistry indexes the single voice producer of every user and the
// consumers other users hold against it. It never calls into the media
// engine beyond closing consumer handles it removes.
type ProducerRegistry struct {
	mu        sync.Mutex
	producers map[domain.UserID]core.Producer
	// producer owner -> consumer id -> ref
	fanout map[domain.UserID]map[string]ConsumerRef
	// holder -> consumer id -> producer owner
	held map[domain.UserID]map[string]domain.UserID
}

func NewProducerRegistry() *ProducerRegistry {
	return &ProducerRegistry{
		producers: make(map[domain.UserID]core.Producer),
		fanout:    make(map[domain.UserID]map[string]ConsumerRef),
		held:      make(map[domain.UserID]map[string]domain.UserID),
	}
}

// RegisterProducer fails if owner already has a producer; replacing one is
// the caller's job (close first, then register).
func (r *ProducerRegistry) RegisterProducer(owner domain.UserID, p core.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.producers[owner]; ok {
		return fmt.Errorf("user %s already produces %s", owner, cur.ID())
	}
	r.producers[owner] = p
	log.Debug().Str("module", "app.producers").Str("user", string(owner)).Str("producer", p.ID()).Msg("producer registered")
	return nil
}

func (r *ProducerRegistry) Producer(owner domain.UserID) (core.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[owner]
	return p, ok
}

// RegisterConsumer records ref in the fanout of owner. The consumer must
// reference owner's current producer, otherwise ErrNoSuchProducer.
func (r *ProducerRegistry) RegisterConsumer(owner domain.UserID, ref ConsumerRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[owner]
	if !ok || p.ID() != ref.Consumer.ProducerID() {
		return fmt.Errorf("consumer %s of %s: %w", ref.ID(), owner, domain.ErrNoSuchProducer)
	}
	fan, ok := r.fanout[owner]
	if !ok {
		fan = make(map[string]ConsumerRef)
		r.fanout[owner] = fan
	}
	fan[ref.ID()] = ref
	h, ok := r.held[ref.Holder]
	if !ok {
		h = make(map[string]domain.UserID)
		r.held[ref.Holder] = h
	}
	h[ref.ID()] = owner
	return nil
}

// RemoveConsumer drops a single consumer without closing it.
func (r *ProducerRegistry) RemoveConsumer(owner domain.UserID, consumerID string) (ConsumerRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(owner, consumerID)
}

// CloseProducerCascade removes owner's producer entry, closes and removes
// every consumer held against it and returns them so the caller can notify
// their owners. The producer handle itself is returned unclosed.
func (r *ProducerRegistry) CloseProducerCascade(owner domain.UserID) (core.Producer, []ConsumerRef) {
	r.mu.Lock()
	p := r.producers[owner]
	delete(r.producers, owner)
	var refs []ConsumerRef
	for id := range r.fanout[owner] {
		if ref, ok := r.removeLocked(owner, id); ok {
			refs = append(refs, ref)
		}
	}
	delete(r.fanout, owner)
	r.mu.Unlock()

	for _, ref := range refs {
		ref.Consumer.Close()
	}
	if p != nil || len(refs) > 0 {
		log.Debug().Str("module", "app.producers").Str("user", string(owner)).Int("consumers", len(refs)).Msg("producer cascade")
	}
	return p, refs
}

// CloseConsumersHeldBy closes and removes every consumer holder has of
// other users' producers.
func (r *ProducerRegistry) CloseConsumersHeldBy(holder domain.UserID) []ConsumerRef {
	r.mu.Lock()
	var refs []ConsumerRef
	for id, owner := range r.held[holder] {
		if ref, ok := r.removeLocked(owner, id); ok {
			refs = append(refs, ref)
		}
	}
	delete(r.held, holder)
	r.mu.Unlock()

	for _, ref := range refs {
		ref.Consumer.Close()
	}
	return refs
}

// Counts returns the number of live producers and consumers.
func (r *ProducerRegistry) Counts() (producers, consumers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fan := range r.fanout {
		consumers += len(fan)
	}
	return len(r.producers), consumers
}

func (r *ProducerRegistry) removeLocked(owner domain.UserID, consumerID string) (ConsumerRef, bool) {
	fan := r.fanout[owner]
	ref, ok := fan[consumerID]
	if !ok {
		return ConsumerRef{}, false
	}
	delete(fan, consumerID)
	if len(fan) == 0 {
		delete(r.fanout, owner)
	}
	if h := r.held[ref.Holder]; h != nil {
		delete(h, consumerID)
		if len(h) == 0 {
			delete(r.held, ref.Holder)
		}
	}
	return ref, true
}
