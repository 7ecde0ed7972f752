package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/app/orch"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/piJoe/zwietracht-vc/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Session keys written by the REST login and read by the "session" auth
// method.
const (
	SessionUserID   = "userId"
	SessionUsername = "username"
)

type ControlController struct {
	Orch     *orch.Orchestrator
	Registry *app.Registry
	Auth     *app.Authenticator
	Hub      *Broadcaster
	Limiter  *app.JoinRateLimiter
	Metrics  *metrics.Voice
	Options  Options

	// now stamps chat messages.
	now func() time.Time
}

type controlAuth struct {
	Method   string `json:"method"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type chatPayload struct {
	Channel domain.ChannelName `json:"channel"`
	Content string             `json:"content"`
}

// joinPayload is {"channel": name}; a bare channel name string is accepted
// too.
type joinPayload struct {
	Channel domain.ChannelName `json:"channel"`
}

func (p *joinPayload) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		p.Channel = domain.ChannelName(name)
		return nil
	}
	type object joinPayload
	var o object
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	*p = joinPayload(o)
	return nil
}

type joinResult struct {
	ConnectionToken string `json:"connectionToken"`
}

type speakingPayload struct {
	IsSpeaking bool `json:"isSpeaking"`
}

type channelList struct {
	Channels []domain.ChannelInfo `json:"channels"`
}

// HandleControl upgrades to the control channel. The first frame must
// authenticate, either with credentials or with the cookie session.
func (ctl *ControlController) HandleControl(ctx context.Context, c *gin.Context) {
	var cookieUser *domain.User
	s := sessions.Default(c)
	if id, ok := s.Get(SessionUserID).(string); ok && id != "" {
		name, _ := s.Get(SessionUsername).(string)
		cookieUser = &domain.User{ID: domain.UserID(id), Username: name}
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.control").Msg("ws upgrade")
		return
	}
	opts := ctl.Options.withDefaults()
	conn := newConn(ws, opts.SendBuffer)
	go conn.writePump(ctx, opts.PingPeriod)
	go ctl.serve(ctx, conn, opts, cookieUser)
}

func (ctl *ControlController) serve(ctx context.Context, conn *WsSignalConn, opts Options, cookieUser *domain.User) {
	user, err := ctl.authenticate(ctx, conn, opts, cookieUser)
	if err != nil {
		log.Info().Str("module", "signal.control").Err(err).Msg("control auth failed")
		ctl.Metrics.SignalingError("auth", domain.Code(err))
		conn.Close()
		return
	}

	sid := core.SessionID(uuid.NewString())
	logger := log.With().Str("module", "signal.control").Str("sid", string(sid)).Str("user", string(user.ID)).Logger()
	ctl.Registry.Bind(sid, user, conn, conn.Close)
	_ = conn.TrySend(pushFrame("me", user))
	_ = conn.TrySend(pushFrame("channels", ctl.Orch.Channels.List()))
	logger.Info().Msg("control connected")

	handlers := ctl.handlers(user)
	conn.readPump(opts, &logger, func(data []byte) bool {
		in, err := parseInbound(data)
		if err != nil {
			logger.Warn().Err(err).Msg("bad frame")
			return true
		}
		return dispatch(ctx, conn, handlers, in, func(op string, err error) {
			ctl.Metrics.SignalingError(op, domain.Code(err))
			logger.Warn().Err(err).Str("op", op).Msg("control request failed")
		})
	})

	conn.Close()
	if _, remaining, ok := ctl.Registry.Unbind(sid); ok && remaining == 0 {
		ctl.Orch.ControlDisconnected(user.ID)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(user.ID)
		}
	}
	logger.Info().Msg("control disconnected")
}

func (ctl *ControlController) authenticate(ctx context.Context, conn *WsSignalConn, opts Options, cookieUser *domain.User) (domain.User, error) {
	data, err := conn.readFirst(opts.AuthTimeout)
	if err != nil {
		return domain.User{}, fmt.Errorf("read auth frame: %v: %w", err, domain.ErrAuthenticationFailure)
	}
	in, err := parseInbound(data)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailure, err)
	}

	user, err := ctl.login(ctx, in, cookieUser)
	if in.ID != nil {
		_ = conn.TrySend(ackFrame(in.ID, user, err))
	}
	return user, err
}

func (ctl *ControlController) login(ctx context.Context, in inbound, cookieUser *domain.User) (domain.User, error) {
	if in.Type != "auth" {
		return domain.User{}, fmt.Errorf("first frame %q: %w", in.Type, domain.ErrAuthenticationFailure)
	}
	p, err := decode[controlAuth](in.Data)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", domain.ErrAuthenticationFailure, err)
	}
	switch p.Method {
	case "login":
		return ctl.Auth.Login(ctx, p.Username, p.Password)
	case "session":
		if cookieUser == nil {
			return domain.User{}, fmt.Errorf("no login session: %w", domain.ErrAuthenticationFailure)
		}
		return *cookieUser, nil
	}
	return domain.User{}, fmt.Errorf("auth method %q: %w", p.Method, domain.ErrAuthenticationFailure)
}

func (ctl *ControlController) handlers(user domain.User) map[string]handlerFunc {
	return map[string]handlerFunc{
		"ping": func(context.Context, json.RawMessage) (any, error) {
			return "pong", nil
		},
		"channels": func(context.Context, json.RawMessage) (any, error) {
			return channelList{Channels: ctl.Orch.Channels.List()}, nil
		},
		"chatmsg": func(_ context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[chatPayload](raw)
			if err != nil {
				return nil, err
			}
			if !ctl.Orch.Channels.Exists(p.Channel) {
				return nil, fmt.Errorf("chat to %q: %w", p.Channel, domain.ErrInvalidChannel)
			}
			ctl.Hub.Chat(domain.ChatMessage{
				Channel:   p.Channel,
				Content:   p.Content,
				User:      string(user.ID),
				Timestamp: ctl.clock().UnixMilli(),
			})
			return nil, nil
		},
		"speaking": func(_ context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[speakingPayload](raw)
			if err != nil {
				return nil, err
			}
			ctl.Hub.Speaking(user.ID, p.IsSpeaking)
			return nil, nil
		},
		"joinvoice": func(ctx context.Context, raw json.RawMessage) (any, error) {
			p, err := decode[joinPayload](raw)
			if err != nil {
				return nil, err
			}
			if ctl.Limiter != nil && !ctl.Limiter.Allow(user.ID) {
				ctl.Metrics.Join("rate_limited")
				return nil, fmt.Errorf("joinvoice: %w", domain.ErrRateLimited)
			}
			token, err := ctl.Orch.RequestJoin(ctx, user.ID, p.Channel)
			if err != nil {
				return nil, err
			}
			return joinResult{ConnectionToken: token}, nil
		},
		"leavevoice": func(context.Context, json.RawMessage) (any, error) {
			ctl.Orch.RequestLeave(user.ID)
			return nil, nil
		},
	}
}

func (ctl *ControlController) clock() time.Time {
	if ctl.now != nil {
		return ctl.now()
	}
	return time.Now()
}
