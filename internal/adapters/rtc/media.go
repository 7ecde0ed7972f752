package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/piJoe/zwietracht-vc/internal/app/sfu"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// closeHooks runs registered callbacks once, after the owner closed.
type closeHooks struct {
	mu    sync.Mutex
	fired bool
	fns   []func()
}

func (h *closeHooks) OnClose(fn func()) {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *closeHooks) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type trackSource struct{ track *webrtc.TrackRemote }

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.track.ReadRTP()
	return pkt, err
}

type producer struct {
	closeHooks
	id       string
	kind     domain.MediaKind
	codec    webrtc.RTPCodecParameters
	t        *transport
	receiver *webrtc.RTPReceiver
	closed   atomic.Bool
}

func newProducer(t *transport, kind domain.MediaKind, codec webrtc.RTPCodecParameters, receiver *webrtc.RTPReceiver) *producer {
	return &producer{id: uuid.NewString(), kind: kind, codec: codec, t: t, receiver: receiver}
}

func (p *producer) ID() string             { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }
func (p *producer) isClosed() bool         { return p.closed.Load() }

// startRelay forwards the received track. The producer closes itself when
// the remote side stops sending for good.
func (p *producer) startRelay(ctx context.Context) {
	src := trackSource{track: p.receiver.Track()}
	p.t.e.relays.StartRelay(ctx, p.id, src, func(err error) {
		if err != nil && !p.isClosed() {
			log.Info().Str("module", "rtc").Str("producer", p.id).Err(err).Msg("producer track ended")
			p.Close()
		}
	})
}

func (p *producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.t.untrack(p.id)
	fed := p.t.e.dropProducer(p)
	p.t.e.relays.StopRelay(p.id)
	if err := p.receiver.Stop(); err != nil {
		log.Debug().Str("module", "rtc").Str("producer", p.id).Err(err).Msg("receiver stop")
	}
	for _, c := range fed {
		c.Close()
	}
	log.Debug().Str("module", "rtc").Str("producer", p.id).Int("consumers", len(fed)).Msg("producer closed")
	p.fire()
}

type consumer struct {
	closeHooks
	id         string
	producerID string
	t          *transport
	sender     *webrtc.RTPSender
	out        *sfu.OutTrack
	rtp        domain.RtpParameters
	closed     atomic.Bool
}

func newConsumer(t *transport, src *producer, paused bool) (*consumer, error) {
	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticRTP(src.codec.RTPCodecCapability, "audio-"+src.id, "stream-"+src.id)
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.e.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("send: %w", err)
	}

	out, ok := t.e.relays.AddSubscriber(src.id, id, local, paused)
	if !ok {
		_ = sender.Stop()
		return nil, fmt.Errorf("producer %s: %w", src.id, domain.ErrNoSuchProducer)
	}

	c := &consumer{
		id:         id,
		producerID: src.id,
		t:          t,
		sender:     sender,
		out:        out,
		rtp:        consumerRTP(src.codec, params),
	}
	go c.drainRTCP()
	return c, nil
}

func consumerRTP(codec webrtc.RTPCodecParameters, params webrtc.RTPSendParameters) domain.RtpParameters {
	out := domain.RtpParameters{Codecs: []domain.RtpCodecParameters{codecParameters(codec)}}
	for _, enc := range params.Encodings {
		out.Encodings = append(out.Encodings, domain.RtpEncodingParameters{Ssrc: uint32(enc.SSRC)})
	}
	if len(params.Codecs) > 0 {
		out.Codecs[0].PayloadType = uint8(params.Codecs[0].PayloadType)
	}
	return out
}

// drainRTCP reads and drops receiver reports so interceptors keep running.
func (c *consumer) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *consumer) ID() string                          { return c.id }
func (c *consumer) ProducerID() string                  { return c.producerID }
func (c *consumer) Kind() domain.MediaKind              { return domain.KindAudio }
func (c *consumer) RtpParameters() domain.RtpParameters { return c.rtp }

var errConsumerClosed = errors.New("consumer closed")

func (c *consumer) Resume(ctx context.Context) error {
	if c.closed.Load() || !c.out.MarkOk() {
		return errConsumerClosed
	}
	return nil
}

func (c *consumer) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.t.untrack(c.id)
	c.t.e.dropConsumer(c)
	c.out.MarkDelete()
	if err := c.sender.Stop(); err != nil {
		log.Debug().Str("module", "rtc").Str("consumer", c.id).Err(err).Msg("sender stop")
	}
	c.fire()
}

var (
	_ core.Producer = (*producer)(nil)
	_ core.Consumer = (*consumer)(nil)
)
