package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
)

var opusCaps = domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{{
	Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2,
}}}

// fakeEngine records what the voice core asks of the media engine.
type fakeEngine struct {
	mu         sync.Mutex
	seq        int
	transports map[string]*fakeTransport
	producers  map[string]*fakeProducer
	consumers  map[string]*fakeConsumer
	failCreate bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		transports: make(map[string]*fakeTransport),
		producers:  make(map[string]*fakeProducer),
		consumers:  make(map[string]*fakeConsumer),
	}
}

func (e *fakeEngine) id(prefix string) string {
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

func (e *fakeEngine) RouterCapabilities() domain.RtpCapabilities { return opusCaps }

func (e *fakeEngine) CreateTransport(ctx context.Context, _ core.TransportOptions) (core.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failCreate {
		return nil, errors.New("no ports left")
	}
	t := &fakeTransport{e: e, id: e.id("t")}
	e.transports[t.id] = t
	return t, nil
}

func (e *fakeEngine) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	e.mu.Lock()
	_, ok := e.producers[producerID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, "audio/opus") {
			return true
		}
	}
	return false
}

func (e *fakeEngine) transport(id string) *fakeTransport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transports[id]
}

func (e *fakeEngine) producer(id string) *fakeProducer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producers[id]
}

func (e *fakeEngine) consumer(id string) *fakeConsumer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumers[id]
}

func (e *fakeEngine) openTransports() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.transports {
		if !t.isClosed() {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	e         *fakeEngine
	id        string
	mu        sync.Mutex
	closed    bool
	connected bool
	children  []interface{ Close() }
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Params() domain.TransportParams {
	return domain.TransportParams{
		ID:            t.id,
		IceParameters: domain.IceParameters{UsernameFragment: "u" + t.id, Password: "p" + t.id, IceLite: true},
		DtlsParameters: domain.DtlsParameters{Role: "auto", Fingerprints: []domain.DtlsFingerprint{{
			Algorithm: "sha-256", Value: "AB:CD",
		}}},
	}
}

func (t *fakeTransport) Connect(ctx context.Context, remote domain.RemoteTransportParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (core.Producer, error) {
	t.e.mu.Lock()
	p := &fakeProducer{id: t.e.id("p"), kind: kind}
	t.e.producers[p.id] = p
	t.e.mu.Unlock()
	t.mu.Lock()
	t.children = append(t.children, p)
	t.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producerID string, caps domain.RtpCapabilities, paused bool) (core.Consumer, error) {
	t.e.mu.Lock()
	c := &fakeConsumer{id: t.e.id("c"), producerID: producerID, paused: paused}
	t.e.consumers[c.id] = c
	t.e.mu.Unlock()
	t.mu.Lock()
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c, nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	children := t.children
	t.mu.Unlock()
	for _, c := range children {
		c.Close()
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type closeHooks struct {
	mu     sync.Mutex
	closed bool
	hooks  []func()
}

func (h *closeHooks) OnClose(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

func (h *closeHooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	hooks := h.hooks
	h.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (h *closeHooks) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeProducer struct {
	closeHooks
	id   string
	kind domain.MediaKind
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind { return p.kind }

type fakeConsumer struct {
	closeHooks
	id         string
	producerID string
	pmu        sync.Mutex
	paused     bool
}

func (c *fakeConsumer) ID() string             { return c.id }
func (c *fakeConsumer) ProducerID() string     { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind { return domain.KindAudio }

func (c *fakeConsumer) RtpParameters() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1234}},
	}
}

func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	c.paused = false
	return nil
}

func (c *fakeConsumer) forwarding() bool {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return !c.paused && !c.isClosed()
}

// fakePeer is the client side of a media signaling connection.
type fakePeer struct {
	mu           sync.Mutex
	closed       []string
	disconnected int
}

func (p *fakePeer) PushClosedConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, id)
}

func (p *fakePeer) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected++
}

func (p *fakePeer) closedConsumers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.closed...)
}

func (p *fakePeer) disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
