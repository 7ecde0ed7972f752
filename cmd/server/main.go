package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/piJoe/zwietracht-vc/internal/adapters/events"
	router "github.com/piJoe/zwietracht-vc/internal/adapters/http"
	"github.com/piJoe/zwietracht-vc/internal/adapters/rtc"
	signaling "github.com/piJoe/zwietracht-vc/internal/adapters/signal"
	"github.com/piJoe/zwietracht-vc/internal/adapters/store"
	"github.com/piJoe/zwietracht-vc/internal/app"
	"github.com/piJoe/zwietracht-vc/internal/app/orch"
	"github.com/piJoe/zwietracht-vc/internal/config"
	"github.com/piJoe/zwietracht-vc/internal/core"
	"github.com/piJoe/zwietracht-vc/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("voice server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	voice := metrics.NewVoice(reg)

	users, err := store.OpenUsers(cfg.SQLitePath, 0)
	if err != nil {
		return err
	}
	defer users.Close()

	engineCfg := rtc.Config{
		ICEServers:    cfg.WebRTC.ICEServers,
		PortMin:       cfg.WebRTC.PortMin,
		PortMax:       cfg.WebRTC.PortMax,
		GatherTimeout: cfg.WebRTC.GatherTimeout,
	}
	if cfg.WebRTC.AnnouncedAddress != "" {
		engineCfg.PublicIPs = []string{cfg.WebRTC.AnnouncedAddress}
	}
	engine, err := rtc.NewEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}
	defer engine.Close()

	registry := app.NewRegistry(app.SimplePolicy{})
	hub := &signaling.Broadcaster{Registry: registry}
	var notifier core.VoiceNotifier = hub
	if cfg.AMQP.URL != "" {
		pub, err := events.Dial(ctx, cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()
		go pub.Run(ctx)
		notifier = events.Fanout{hub, pub}
	}

	channels := app.NewChannelRegistry(cfg.DomainChannels())
	o := orch.New(orch.Config{
		Channels:  channels,
		Tokens:    app.NewTokenIssuer(cfg.TokenTTL),
		Producers: app.NewProducerRegistry(),
		Media:     engine,
		Notifier:  notifier,
		Metrics:   voice,
	})
	go o.Run(ctx, cfg.TokenSweep)

	auth := &app.Authenticator{Users: users, Hasher: store.DefaultScrypt()}
	opts := signaling.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		AuthTimeout: cfg.AuthTimeout,
	}
	r := router.SetupRouter(ctx, cfg, router.Deps{
		Control: &signaling.ControlController{
			Orch:     o,
			Registry: registry,
			Auth:     auth,
			Hub:      hub,
			Limiter:  app.NewJoinRateLimiter(cfg.JoinRate, cfg.JoinBurst),
			Metrics:  voice,
			Options:  opts,
		},
		RTC:      &signaling.RTCController{Orch: o, Metrics: voice, Options: opts},
		Auth:     auth,
		Channels: channels,
		Gatherer: reg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}
