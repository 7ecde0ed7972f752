// Package events publishes voice membership changes to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const DefaultExchange = "voice.events"

// Event is the JSON body of every published message.
type Event struct {
	Type      string             `json:"type"`
	User      domain.UserID      `json:"user"`
	Channel   domain.ChannelName `json:"channel"`
	Timestamp int64              `json:"timestamp"`
}

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher queues events and publishes them from its own goroutine, so the
// notifying side never waits on the broker.
type Publisher struct {
	pub      publisher
	exchange string
	queue    chan Event
	now      func() time.Time
	closer   func() error
}

func newPublisher(pub publisher, exchange string, buffer int) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		pub:      pub,
		exchange: exchange,
		queue:    make(chan Event, buffer),
		now:      time.Now,
	}
}

// Dial connects to the broker, retrying until ctx is done, and declares a
// fanout exchange.
func Dial(ctx context.Context, url, exchange string) (*Publisher, error) {
	var conn *amqp.Connection
	for {
		c, err := amqp.Dial(url)
		if err == nil {
			conn = c
			break
		}
		log.Warn().Str("module", "adapters.events").Err(err).Msg("amqp dial failed, retrying")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("amqp dial: %w", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p := newPublisher(ch, exchange, 0)
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"fanout",   // kind
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", p.exchange, err)
	}
	p.closer = conn.Close
	log.Info().Str("module", "adapters.events").Str("exchange", p.exchange).Msg("amqp publisher ready")
	return p, nil
}

func (p *Publisher) VoiceJoined(user domain.UserID, channel domain.ChannelName) {
	p.enqueue("joinvoice", user, channel)
}

func (p *Publisher) VoiceLeft(user domain.UserID, channel domain.ChannelName) {
	p.enqueue("leavevoice", user, channel)
}

func (p *Publisher) enqueue(typ string, user domain.UserID, channel domain.ChannelName) {
	ev := Event{Type: typ, User: user, Channel: channel, Timestamp: p.now().UnixMilli()}
	select {
	case p.queue <- ev:
	default:
		log.Warn().Str("module", "adapters.events").Str("type", typ).Str("user", string(user)).Msg("event queue full, dropping")
	}
}

// Run publishes queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			if err := p.publish(ev); err != nil {
				log.Error().Str("module", "adapters.events").Err(err).Str("type", ev.Type).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.pub.Publish(
		p.exchange, // exchange
		"",         // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.UnixMilli(ev.Timestamp),
			Body:        body,
		},
	)
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

var _ core.VoiceNotifier = (*Publisher)(nil)
