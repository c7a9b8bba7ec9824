// Command meet joins an SFU session as a headless participant. It
// publishes synthetic or file-backed media, logs everything that happens
// in the room and optionally exposes a diagnostics endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roomlink/internal/core/ports"
	"roomlink/internal/infrastructure/media"
	"roomlink/pkg/client"
	"roomlink/pkg/config"
	"roomlink/pkg/logger"
	"roomlink/pkg/retry"
	"roomlink/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()
	sugar := zl.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "roomlink",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("initializing tracing", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &session{cfg: cfg, logger: sugar}

	if cfg.Diagnostics.Enabled {
		go app.serveDiagnostics(cfg.Diagnostics.Address)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 5
	if err := retry.Retry(ctx, retryCfg, func() error {
		return app.runOnce(ctx)
	}); err != nil && ctx.Err() == nil {
		sugar.Fatalw("session attempts exhausted", "error", err)
	}
	sugar.Infow("shutting down")
}

// session wires one process-lifetime's worth of client instances: each
// attempt gets a fresh client and a fresh metrics registry, the
// diagnostics endpoint always reflects the current one.
type session struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	current  atomic.Pointer[client.Client]
	registry atomic.Pointer[prometheus.Registry]
}

// runOnce drives one client instance from Connect to its end. A denied
// authorization is terminal; a lost channel returns an error so the
// caller retries with a fresh instance.
func (s *session) runOnce(ctx context.Context) error {
	registry := prometheus.NewRegistry()
	s.registry.Store(registry)

	c, err := client.New(client.Options{
		URL:               s.cfg.Session.URL,
		UserID:            s.cfg.Session.UserID,
		UserName:          s.cfg.Session.UserName,
		SessionID:         s.cfg.Session.SessionID,
		ICEServers:        s.iceServers(),
		Devices:           s.devices(),
		Logger:            s.logger.Desugar(),
		Metrics:           registry,
		SpeakingInterval:  s.cfg.Speaking.Interval,
		SpeakingThreshold: s.cfg.Speaking.Threshold,
	})
	if err != nil {
		return err
	}
	s.current.Store(c)
	defer c.Disconnect()

	ended := make(chan error, 1)
	denied := make(chan struct{}, 1)

	c.Subscribe(client.EventDisconnected, func(e client.Event) {
		select {
		case ended <- e.Err:
		default:
		}
	})
	c.Subscribe(client.EventAuthorizationFailed, func(e client.Event) {
		select {
		case denied <- struct{}{}:
		default:
		}
	})
	c.Subscribe(client.EventConnected, func(client.Event) {
		s.logger.Infow("session established")
		if s.cfg.Media.ScreenFile != "" {
			go func() {
				if err := c.StartScreenShare(context.Background()); err != nil {
					s.logger.Warnw("starting screen share", "error", err)
				}
			}()
		}
	})
	c.Subscribe(client.EventPeerJoined, func(e client.Event) {
		s.logger.Infow("peer joined", "peerId", string(e.Peer.PeerID), "userName", e.Peer.UserName)
	})
	c.Subscribe(client.EventPeerLeft, func(e client.Event) {
		s.logger.Infow("peer left", "peerId", string(e.Peer.PeerID))
	})
	c.Subscribe(client.EventTileAdded, func(e client.Event) {
		s.logger.Infow("tile added", "tile", e.Tile.ID, "source", string(e.Tile.Source))
	})
	c.Subscribe(client.EventTileRemoved, func(e client.Event) {
		s.logger.Infow("tile removed", "tile", e.Tile.ID)
	})
	c.Subscribe(client.EventPeerSpeakingChanged, func(e client.Event) {
		s.logger.Debugw("peer speaking", "peerId", string(e.Peer.PeerID), "speaking", e.Speaking)
	})
	c.Subscribe(client.EventError, func(e client.Event) {
		s.logger.Warnw("session error", "error", e.Err)
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-denied:
		// Retrying an unauthorized join only hammers the server.
		s.logger.Errorw("authorization denied, giving up")
		return nil
	case err := <-ended:
		return err
	}
}

func (s *session) devices() ports.DeviceProvider {
	m := s.cfg.Media
	if m.AudioFile != "" || m.VideoFile != "" || m.ScreenFile != "" {
		return media.NewFileProvider(s.logger, m.AudioFile, m.VideoFile, m.ScreenFile)
	}
	return media.NewSyntheticProvider(s.logger)
}

func (s *session) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, srv := range s.cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return servers
}

func (s *session) serveDiagnostics(address string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/state", func(ctx *gin.Context) {
		c := s.current.Load()
		if c == nil {
			ctx.JSON(http.StatusOK, gin.H{"connected": false})
			return
		}
		state := c.State()
		ctx.JSON(http.StatusOK, gin.H{
			"connected":       state.Connected,
			"connectionState": string(state.ConnectionState),
			"peerId":          string(state.PeerID),
			"audioEnabled":    state.AudioEnabled,
			"videoEnabled":    state.VideoEnabled,
			"screenEnabled":   state.ScreenEnabled,
			"peers":           state.Peers,
			"tiles":           c.Tiles(),
		})
	})

	router.GET("/metrics", func(ctx *gin.Context) {
		registry := s.registry.Load()
		if registry == nil {
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(ctx.Writer, ctx.Request)
	})

	s.logger.Infow("diagnostics listening", "address", address)
	if err := router.Run(address); err != nil {
		s.logger.Errorw("diagnostics server stopped", "error", err)
	}
}
