package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/astraea-labs/astraea/internal/config"
	"github.com/astraea-labs/astraea/internal/horary"
	"github.com/astraea-labs/astraea/internal/httpapi"
	"github.com/astraea-labs/astraea/internal/observability"
	"github.com/astraea-labs/astraea/internal/realtime"
	"github.com/astraea-labs/astraea/internal/token"
	"github.com/astraea-labs/astraea/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	minter := token.NewClient(cfg.TokenURL)
	signaler := realtime.NewHTTPSignaler(cfg.SignalingBaseURL)

	var (
		newPeer    transport.PeerFactory
		newDevices func() transport.MediaDevices
	)
	switch cfg.TransportMode {
	case "pion":
		peerCfg := transport.PeerConfig{ICEServers: cfg.ICEServers}
		newPeer = func() (transport.Peer, error) { return transport.NewPeer(peerCfg) }
		// No hardware capture path yet: the gateway sends silence frames to
		// keep the outbound track alive while the browser supplies real audio.
		devices := transport.NewDevices(func(transport.CaptureConstraints) (transport.SampleSource, error) {
			return transport.SilenceSource{}, nil
		})
		newDevices = func() transport.MediaDevices { return devices }
		log.Printf("transport: pion (ice servers: %d)", len(cfg.ICEServers))
	case "mock":
		newPeer = func() (transport.Peer, error) { return transport.NewMockPeer(), nil }
		newDevices = func() transport.MediaDevices { return &transport.MockDevices{} }
		log.Printf("transport: mock (network-free)")
	default:
		log.Fatalf("invalid ASTRAEA_TRANSPORT: %q", cfg.TransportMode)
	}

	hub := httpapi.NewHub()
	sessionCfg := realtime.Config{
		Model:            cfg.Model,
		Instructions:     horary.Instructions(cfg.InstructionsContext),
		Voice:            cfg.Voice,
		Speed:            cfg.Speed,
		SampleRate:       cfg.SampleRate,
		SideChannelLabel: cfg.SideChannelLabel,
		ICEGatherTimeout: cfg.ICEGatherTimeout,
		AutoConnect:      cfg.AutoConnect,
	}

	devices := newDevices()
	sessions := realtime.NewManager(func(id string) *realtime.Session {
		return realtime.NewSession(id, sessionCfg, realtime.Deps{
			Minter:   minter,
			Signaler: signaler,
			Devices:  devices,
			NewPeer:  newPeer,
			Sink:     transport.NewDrainSink(),
			Metrics:  metrics,
			Notify:   hub.NotificationsFor(id),
		})
	}, cfg.SessionInactivityTimeout, metrics)
	sessions.SetExpireHook(func(s *realtime.Session) {
		log.Printf("session %s expired after inactivity", s.ID())
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	api := httpapi.New(cfg, sessions, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, cfg.JanitorInterval)

	if cfg.AutoConnect {
		sess := sessions.Create()
		log.Printf("auto-connect enabled, session %s", sess.ID())
		go sess.MaybeAutoConnect(runCtx)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
