package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/piJoe/zwietracht-vc/internal/app/orch"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/piJoe/zwietracht-vc/internal/metrics"
	"github.com/rs/zerolog/log"
)

type RTCController struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Voice
	Options Options
}

type rtcAuth struct {
	UserID domain.UserID `json:"userId"`
	Token  string        `json:"token"`
}

type deviceCapsPayload struct {
	DeviceRtpCapabilities domain.RtpCapabilities `json:"deviceRtpCapabilities"`
}

type createTransportsPayload struct {
	SctpCapabilities domain.SctpCapabilities `json:"sctpCapabilities"`
}

type createTransportsResult struct {
	SendTransport domain.TransportParams `json:"sendTransport"`
	RecvTransport domain.TransportParams `json:"recvTransport"`
}

type connectTransportPayload struct {
	TransportID    string                `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *domain.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []domain.IceCandidate `json:"iceCandidates,omitempty"`
}

type producePayload struct {
	TransportID   string               `json:"transportId,omitempty"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	AppData       json.RawMessage      `json:"appData,omitempty"`
}

type produceResult struct {
	ID string `json:"id"`
}

type consumePayload struct {
	UserID domain.UserID `json:"userId"`
}

type resumePayload struct {
	ConsumerID string `json:"consumerId"`
}

type closedConsumerPush struct {
	ConsumerID string `json:"consumerId"`
}

// rtcPeer is the voice core's handle on a media signaling connection. While
// a request is being handled, a disconnect waits until its ack is queued and
// closedConsumer pushes are held back so they never overtake that ack.
type rtcPeer struct {
	conn *WsSignalConn

	mu   sync.Mutex
	busy bool
	stop bool
	held []string
}

func (p *rtcPeer) PushClosedConsumer(consumerID string) {
	p.mu.Lock()
	if p.busy {
		p.held = append(p.held, consumerID)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.push(consumerID)
}

// push sends closedConsumer. A client that cannot take it would keep a dead
// consumer, so a full queue closes the connection.
func (p *rtcPeer) push(consumerID string) {
	err := p.conn.TrySend(pushFrame("closedConsumer", closedConsumerPush{ConsumerID: consumerID}))
	if err == nil || errors.Is(err, errConnClosed) {
		return
	}
	log.Warn().Str("module", "signal.rtc").Str("consumer", consumerID).Err(err).Msg("closedConsumer not delivered, closing connection")
	p.Disconnect()
}

func (p *rtcPeer) Disconnect() {
	p.mu.Lock()
	if p.busy {
		p.stop = true
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.conn.Close()
}

func (p *rtcPeer) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = true
}

// end flushes the pushes held during the request and reports whether a
// disconnect arrived meanwhile.
func (p *rtcPeer) end() bool {
	p.mu.Lock()
	p.busy = false
	held := p.held
	p.held = nil
	stop := p.stop
	p.mu.Unlock()
	for _, id := range held {
		p.push(id)
	}
	return stop
}

// HandleRTC upgrades to the media signaling channel. The first frame must
// carry the connection token issued on joinvoice.
func (ctl *RTCController) HandleRTC(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.rtc").Msg("ws upgrade")
		return
	}
	opts := ctl.Options.withDefaults()
	conn := newConn(ws, opts.SendBuffer)
	go conn.writePump(ctx, opts.PingPeriod)
	go ctl.serve(ctx, conn, opts)
}

func (ctl *RTCController) serve(ctx context.Context, conn *WsSignalConn, opts Options) {
	peer := &rtcPeer{conn: conn}
	sess, err := ctl.authenticate(ctx, conn, opts, peer)
	if err != nil {
		log.Info().Str("module", "signal.rtc").Err(err).Msg("rtc auth failed")
		ctl.Metrics.SignalingError("auth", domain.Code(err))
		conn.Close()
		return
	}

	logger := log.With().Str("module", "signal.rtc").Str("user", string(sess.User())).Str("channel", string(sess.Channel())).Logger()
	logger.Info().Msg("rtc connected")
	handlers := ctl.handlers(sess)

	conn.readPump(opts, &logger, func(data []byte) bool {
		in, err := parseInbound(data)
		if err != nil {
			logger.Warn().Err(err).Msg("bad frame")
			return true
		}
		peer.begin()
		reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		keep := dispatch(reqCtx, conn, handlers, in, func(op string, err error) {
			ctl.Metrics.SignalingError(op, domain.Code(err))
			logger.Warn().Err(err).Str("op", op).Msg("rtc request failed")
		})
		cancel()
		if peer.end() {
			return false
		}
		return keep
	})

	sess.Disconnect()
	conn.Close()
	logger.Info().Msg("rtc disconnected")
}

func (ctl *RTCController) authenticate(ctx context.Context, conn *WsSignalConn, opts Options, peer core.SignalingPeer) (*orch.Session, error) {
	data, err := conn.readFirst(opts.AuthTimeout)
	if err != nil {
		return nil, fmt.Errorf("read auth frame: %v: %w", err, domain.ErrAuthenticationFailure)
	}
	in, err := parseInbound(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailure, err)
	}

	var sess *orch.Session
	if in.Type != "auth" {
		err = fmt.Errorf("first frame %q: %w", in.Type, domain.ErrAuthenticationFailure)
	} else if p, derr := decode[rtcAuth](in.Data); derr != nil {
		err = fmt.Errorf("%w: %w", domain.ErrAuthenticationFailure, derr)
	} else {
		sess, err = ctl.Orch.Attach(ctx, p.UserID, p.Token, peer)
	}
	if in.ID != nil {
		var result any
		if sess != nil {
			result = map[string]string{"userId": string(sess.User()), "channel": string(sess.Channel())}
		}
		_ = conn.TrySend(ackFrame(in.ID, result, err))
	}
	return sess, err
}

func (ctl *RTCController) handlers(s *orch.Session) map[string]handlerFunc {
	return map[string]handlerFunc{
		"getRouterRtpCapabilities": func(context.Context, json.RawMessage) (any, error) {
			return s.RouterCapabilities()
		},
		"updateDeviceRtpCapabilities": func(_ context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[deviceCapsPayload](raw)
			if err != nil {
				return nil, err
			}
			return nil, s.SetDeviceCapabilities(p.DeviceRtpCapabilities)
		},
		"createTransports": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[createTransportsPayload](raw)
			if err != nil {
				return nil, err
			}
			send, recv, err := s.CreateTransports(ctx, p.SctpCapabilities)
			if err != nil {
				return nil, err
			}
			return createTransportsResult{SendTransport: send, RecvTransport: recv}, nil
		},
		"connectTransport": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[connectTransportPayload](raw)
			if err != nil {
				return nil, err
			}
			return nil, s.ConnectTransport(ctx, p.TransportID, domain.RemoteTransportParams{
				DtlsParameters: p.DtlsParameters,
				IceParameters:  p.IceParameters,
				IceCandidates:  p.IceCandidates,
			})
		},
		"produce": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[producePayload](raw)
			if err != nil {
				return nil, err
			}
			id, err := s.Produce(ctx, p.TransportID, p.Kind, p.RtpParameters)
			if err != nil {
				return nil, err
			}
			return produceResult{ID: id}, nil
		},
		"consume": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[consumePayload](raw)
			if err != nil {
				return nil, err
			}
			desc, err := s.Consume(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			return desc, nil
		},
		"resume": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[resumePayload](raw)
			if err != nil {
				return nil, err
			}
			return nil, s.Resume(ctx, p.ConsumerID)
		},
		"closedProducer": func(context.Context, json.RawMessage) (any, error) {
			s.CloseProducer()
			return nil, nil
		},
	}
}
