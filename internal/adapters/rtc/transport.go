package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	errTransportClosed = errors.New("transport closed")
	errNoRemoteICE     = errors.New("remote ice parameters required")
)

type transport struct {
	e        *Engine
	id       string
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	params   domain.TransportParams

	connectOnce sync.Once
	ready       chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once

	mu        sync.Mutex
	producers map[string]*producer
	consumers map[string]*consumer
}

func newTransport(e *Engine, id string, g *webrtc.ICEGatherer, ice *webrtc.ICETransport, dtls *webrtc.DTLSTransport) *transport {
	return &transport{
		e:         e,
		id:        id,
		gatherer:  g,
		ice:       ice,
		dtls:      dtls,
		ready:     make(chan struct{}),
		closed:    make(chan struct{}),
		producers: make(map[string]*producer),
		consumers: make(map[string]*consumer),
	}
}

func (t *transport) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local ice parameters: %w", err)
	}
	cands, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("local candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}
	t.params = domain.TransportParams{
		ID:             t.id,
		IceParameters:  iceParameters(iceParams),
		IceCandidates:  iceCandidates(cands),
		DtlsParameters: dtlsParameters(dtlsParams),
	}
	return nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() domain.TransportParams { return t.params }

// Connect validates the remote parameters and starts ICE and DTLS in the
// background. A failed handshake closes the transport.
func (t *transport) Connect(ctx context.Context, remote domain.RemoteTransportParams) error {
	if remote.IceParameters == nil {
		return errNoRemoteICE
	}
	dtlsParams, err := remoteDTLSParameters(remote.DtlsParameters)
	if err != nil {
		return err
	}
	cands, err := remoteICECandidates(remote.IceCandidates)
	if err != nil {
		return err
	}
	iceParams := remoteICEParameters(*remote.IceParameters)

	started := false
	t.connectOnce.Do(func() {
		started = true
		go t.start(iceParams, cands, dtlsParams)
	})
	if !started {
		return fmt.Errorf("transport %s already connected", t.id)
	}
	return nil
}

func (t *transport) start(iceParams webrtc.ICEParameters, cands []webrtc.ICECandidate, dtlsParams webrtc.DTLSParameters) {
	logger := log.With().Str("module", "rtc").Str("transport", t.id).Logger()
	if len(cands) > 0 {
		if err := t.ice.SetRemoteCandidates(cands); err != nil {
			logger.Error().Err(err).Msg("remote candidates")
			t.Close()
			return
		}
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		logger.Error().Err(err).Msg("ice start failed")
		t.Close()
		return
	}
	if err := t.dtls.Start(dtlsParams); err != nil {
		logger.Error().Err(err).Msg("dtls start failed")
		t.Close()
		return
	}
	logger.Info().Msg("transport connected")
	close(t.ready)
}

// awaitReady blocks until DTLS is up.
func (t *transport) awaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-t.closed:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (core.Producer, error) {
	if t.isClosed() {
		return nil, errTransportClosed
	}
	recvParams, codec, err := receiveParameters(rtp, t.e.codecs)
	if err != nil {
		return nil, err
	}
	if err := t.awaitReady(ctx); err != nil {
		return nil, fmt.Errorf("produce before connect: %w", err)
	}

	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.KindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.e.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(recvParams); err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("receive: %w", err)
	}
	receiver.SetRTPParameters(webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{codec}})

	p := newProducer(t, kind, codec, receiver)
	if !t.track(p, nil) {
		p.Close()
		return nil, errTransportClosed
	}
	t.e.addProducer(p)
	p.startRelay(t.e.ctx)
	return p, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, caps domain.RtpCapabilities, paused bool) (core.Consumer, error) {
	if t.isClosed() {
		return nil, errTransportClosed
	}
	src, ok := t.e.producer(producerID)
	if !ok || src.isClosed() {
		return nil, fmt.Errorf("producer %s: %w", producerID, domain.ErrNoSuchProducer)
	}
	if !canConsume(src.codec.RTPCodecCapability, caps) {
		return nil, domain.ErrIncompatibleCapabilities
	}

	c, err := newConsumer(t, src, paused)
	if err != nil {
		return nil, err
	}
	if !t.track(nil, c) {
		c.Close()
		return nil, errTransportClosed
	}
	t.e.addConsumer(c)
	return c, nil
}

// track records a child so Close can reach it. It reports false once the
// transport is closed.
func (t *transport) track(p *producer, c *consumer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isClosed() {
		return false
	}
	if p != nil {
		t.producers[p.id] = p
	}
	if c != nil {
		t.consumers[c.id] = c
	}
	return true
}

func (t *transport) untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
	delete(t.consumers, id)
}

// Close closes every producer and consumer on the transport, then ICE and
// DTLS.
func (t *transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		close(t.closed)
		ps := make([]*producer, 0, len(t.producers))
		for _, p := range t.producers {
			ps = append(ps, p)
		}
		cs := make([]*consumer, 0, len(t.consumers))
		for _, c := range t.consumers {
			cs = append(cs, c)
		}
		t.mu.Unlock()

		for _, p := range ps {
			p.Close()
		}
		for _, c := range cs {
			c.Close()
		}
		if err := t.dtls.Stop(); err != nil {
			log.Debug().Str("module", "rtc").Str("transport", t.id).Err(err).Msg("dtls stop")
		}
		if err := t.ice.Stop(); err != nil {
			log.Debug().Str("module", "rtc").Str("transport", t.id).Err(err).Msg("ice stop")
		}
		if err := t.gatherer.Close(); err != nil {
			log.Debug().Str("module", "rtc").Str("transport", t.id).Err(err).Msg("gatherer close")
		}
		t.e.forget(t)
		log.Info().Str("module", "rtc").Str("transport", t.id).Msg("transport closed")
	})
}
