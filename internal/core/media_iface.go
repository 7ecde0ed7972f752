package core

import (
	"context"

	"github.com/piJoe/zwietracht-vc/internal/domain"
)

// TransportOptions are the per-transport knobs a client may ask for.
type TransportOptions struct {
	Sctp domain.SctpCapabilities
}

// MediaEngine is the SFU. The voice core only does bookkeeping around it.
type MediaEngine interface {
	RouterCapabilities() domain.RtpCapabilities
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	// CanConsume reports whether a device with caps can receive producerID.
	CanConsume(producerID string, caps domain.RtpCapabilities) bool
}

// Transport is one negotiated network endpoint. Closing a transport
// closes every producer and consumer created on it.
type Transport interface {
	ID() string
	Params() domain.TransportParams
	Connect(ctx context.Context, remote domain.RemoteTransportParams) error
	Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID string, caps domain.RtpCapabilities, paused bool) (Consumer, error)
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
	// OnClose registers fn to run once when the engine closes the producer
	// for any reason. fn may run on any goroutine.
	OnClose(fn func())
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Resume(ctx context.Context) error
	Close()
	// OnClose registers fn to run once when the engine closes the consumer
	// for any reason. fn may run on any goroutine.
	OnClose(fn func())
}
