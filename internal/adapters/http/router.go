package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/piJoe/zwietracht-vc/internal/adapters/signal"
	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/config"
	"github.com/piJoe/zwietracht-vc/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const sessionName = "VoiceSessions"

// Deps are the handlers and services the router exposes.
type Deps struct {
	Control  *signal.ControlController
	RTC      *signal.RTCController
	Auth     *app.Authenticator
	Channels *app.ChannelRegistry
	Gatherer prometheus.Gatherer
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long-lived "ct" cookie
// so its connections can be correlated in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type channelsBody struct {
	Channels []domain.ChannelInfo `json:"channels"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: nethttp.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(nethttp.StatusOK, "ok")
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/channels", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, channelsBody{Channels: deps.Channels.List()})
	})

	api.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(nethttp.StatusBadRequest, errorBody{Code: domain.Code(domain.ErrBadPayload), Message: err.Error()})
			return
		}
		user, err := deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			status := nethttp.StatusInternalServerError
			if errors.Is(err, domain.ErrAuthenticationFailure) {
				status = nethttp.StatusUnauthorized
			}
			log.Info().Str("module", "adapters.http").Str("username", req.Username).Err(err).Msg("login failed")
			c.JSON(status, errorBody{Code: domain.Code(err), Message: err.Error()})
			return
		}
		s := sessions.Default(c)
		s.Set(signal.SessionUserID, string(user.ID))
		s.Set(signal.SessionUsername, user.Username)
		if err := s.Save(); err != nil {
			log.Error().Str("module", "adapters.http").Err(err).Msg("save session")
			c.JSON(nethttp.StatusInternalServerError, errorBody{Code: "internal", Message: "session not saved"})
			return
		}
		c.JSON(nethttp.StatusOK, user)
	})

	api.GET("/ws/control", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws control endpoint hit")
		deps.Control.HandleControl(ctx, c)
	})

	api.GET("/ws/rtc", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws rtc endpoint hit")
		deps.RTC.HandleRTC(ctx, c)
	})

	return r
}
