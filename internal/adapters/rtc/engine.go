// Package rtc is the media engine: an ICE-lite SFU built from pion's ORTC
// objects. Every transport is one ICE+DTLS pair; producers are RTP
// receivers whose packets a relay copies to the RTP senders of consumers.
package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/piJoe/zwietracht-vc/internal/app/sfu"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []string
	// UDP port range for host candidates; zero means any port.
	PortMin, PortMax uint16
	// Public addresses announced instead of the host addresses.
	PublicIPs []string
	// GatherTimeout bounds candidate gathering per transport.
	GatherTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
	}
}

type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	codecs     []webrtc.RTPCodecParameters
	gatherFor  time.Duration
	relays     *sfu.RelayManager

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	codecs := []webrtc.RTPCodecParameters{opusCodec}
	for _, c := range codecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	se := webrtc.SettingEngine{}
	se.SetLite(true)
	if cfg.PortMin != 0 || cfg.PortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}
	if len(cfg.PublicIPs) > 0 {
		se.SetNAT1To1IPs(cfg.PublicIPs, webrtc.ICECandidateTypeHost)
	}

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
		iceServers: servers,
		codecs:     codecs,
		gatherFor:  cfg.GatherTimeout,
		relays:     sfu.NewRelayManager(),
		ctx:        ctx,
		cancel:     cancel,
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}, nil
}

func (e *Engine) RouterCapabilities() domain.RtpCapabilities {
	return routerCapabilities(e.codecs)
}

func (e *Engine) CanConsume(producerID string, caps domain.RtpCapabilities) bool {
	e.mu.RLock()
	p, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok || p.isClosed() {
		return false
	}
	return canConsume(p.codec.RTPCodecCapability, caps)
}

// CreateTransport gathers host candidates for a new ICE-lite transport and
// returns once gathering completed.
func (e *Engine) CreateTransport(ctx context.Context, _ core.TransportOptions) (core.Transport, error) {
	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := newTransport(e, uuid.NewString(), gatherer, ice, dtls)
	if e.gatherFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.gatherFor)
		defer cancel()
	}
	if err := t.gather(ctx); err != nil {
		t.Close()
		return nil, err
	}

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()
	log.Debug().Str("module", "rtc").Str("transport", t.id).Int("candidates", len(t.params.IceCandidates)).Msg("transport created")
	return t, nil
}

// Close shuts down every transport.
func (e *Engine) Close() {
	e.cancel()
	e.mu.RLock()
	ts := make([]*transport, 0, len(e.transports))
	for _, t := range e.transports {
		ts = append(ts, t)
	}
	e.mu.RUnlock()
	for _, t := range ts {
		t.Close()
	}
}

func (e *Engine) forget(t *transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transports, t.id)
}

func (e *Engine) addProducer(p *producer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[p.id] = p
}

// dropProducer removes p and returns the consumers that were fed by it.
func (e *Engine) dropProducer(p *producer) []*consumer {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, p.id)
	var fed []*consumer
	for _, c := range e.consumers {
		if c.producerID == p.id {
			fed = append(fed, c)
		}
	}
	return fed
}

func (e *Engine) addConsumer(c *consumer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consumers[c.id] = c
}

func (e *Engine) dropConsumer(c *consumer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.consumers, c.id)
}

func (e *Engine) producer(id string) (*producer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.producers[id]
	return p, ok
}

var _ core.MediaEngine = (*Engine)(nil)
