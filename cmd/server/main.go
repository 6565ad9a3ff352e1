package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/face-detector/detection-bridge/internal/bridge"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/config"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/dispatcher"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/logger"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/metrics"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/registry"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/source"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/threshold"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/webmonitor"
	"github.com/dj-oyu/face-detector/detection-bridge/internal/webrtc"
)

const shutdownTimeout = 5 * time.Second

// Server is the detection bridge process: inference feed in, UI channel out.
type Server struct {
	cfg     config.Config
	metrics *metrics.Metrics
	source  *source.Source
	ui      *webmonitor.Server
	feed    *source.RemoteFeed

	httpServer    *http.Server
	metricsServer *http.Server
	pprofServer   *http.Server
}

func main() {
	cfg := config.DefaultConfig()
	if err := config.LoadEnv(&cfg, ".env"); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	pprofAddr := flag.String("pprof", "", "pprof server address (empty disables)")
	bindFlags(&cfg)
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Detection bridge starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg, *pprofAddr)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = srv.Run(ctx)
	stop()
	if err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

// bindFlags registers command-line flags over cfg. List flags take
// comma-separated values and are split once flag.Parse has run.
func bindFlags(cfg *config.Config) {
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty serves /metrics on the HTTP server)")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.Float64Var(&cfg.ConfidenceThreshold, "threshold", cfg.ConfidenceThreshold, "Initial confidence threshold [0, 1]")
	flag.DurationVar(&cfg.DebounceInterval, "debounce", cfg.DebounceInterval, "Per-label debounce interval (0 disables)")
	flag.StringVar(&cfg.InferenceURL, "inference", cfg.InferenceURL, "Inference engine WebSocket URL (empty disables the feed)")
	flag.IntVar(&cfg.MaxRTCClients, "max-clients", cfg.MaxRTCClients, "Maximum WebRTC clients")
	flag.IntVar(&cfg.RecentDetections, "recent", cfg.RecentDetections, "Recent detections kept for the status API")
	flag.IntVar(&cfg.StreamWidth, "width", cfg.StreamWidth, "Stream width in pixels")
	flag.IntVar(&cfg.StreamHeight, "height", cfg.StreamHeight, "Stream height in pixels")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")

	flag.Func("watch", "Labels to count sightings for (comma-separated, default "+strings.Join(cfg.WatchLabels, ",")+")",
		func(v string) error {
			cfg.WatchLabels = config.SplitList(v)
			return nil
		})
	flag.Func("stun", "STUN server URLs (comma-separated, default "+strings.Join(cfg.STUNServers, ",")+")",
		func(v string) error {
			cfg.STUNServers = config.SplitList(v)
			return nil
		})
}

// NewServer wires the source, dispatcher, bridge and UI transports.
func NewServer(cfg config.Config, pprofAddr string) (*Server, error) {
	m := metrics.New()

	th, err := threshold.New(cfg.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create threshold: %w", err)
	}
	m.RegisterThreshold(th.Get)

	reg := registry.New()
	src, err := source.New(source.Config{
		Threshold:        th,
		DebounceInterval: cfg.DebounceInterval,
	}, reg, dispatcher.New(reg, m), m)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	rtc := webrtc.NewServer(cfg.STUNServers, cfg.MaxRTCClients, m)

	uiCfg := webmonitor.DefaultConfig()
	uiCfg.Addr = cfg.HTTPAddr
	uiCfg.AssetsDir = cfg.AssetsDir
	uiCfg.RecentDetections = cfg.RecentDetections
	uiCfg.StreamWidth = cfg.StreamWidth
	uiCfg.StreamHeight = cfg.StreamHeight
	uiCfg.ServeMetrics = cfg.MetricsAddr == ""
	ui := webmonitor.NewServer(uiCfg, src, rtc, m)

	ui.OnMessage(webmonitor.EventOverrideThreshold, webmonitor.ThresholdCommand(src.OverrideThreshold))
	for _, label := range cfg.WatchLabels {
		src.OnDetect(label, func() {
			m.RecordSighting(label)
			logger.Debug("Main", "Sighting: %s", label)
		})
	}
	src.OnDetectAll(bridge.New(ui, m).Forward)

	srv := &Server{
		cfg:     cfg,
		metrics: m,
		source:  src,
		ui:      ui,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           ui.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	if cfg.MetricsAddr != "" {
		srv.metricsServer = m.NewServer(cfg.MetricsAddr)
	}
	if pprofAddr != "" {
		srv.pprofServer = &http.Server{
			Addr:              pprofAddr,
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	if cfg.InferenceURL != "" {
		srv.feed = source.NewRemoteFeed(cfg.InferenceURL, src, m)
	}

	return srv, nil
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Streaming handlers end with the request context.
	s.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		logger.Info("Main", "UI server listening on %s", s.httpServer.Addr)
		return listen(s.httpServer)
	})
	if s.metricsServer != nil {
		g.Go(func() error {
			logger.Info("Main", "Metrics server listening on %s", s.metricsServer.Addr)
			return listen(s.metricsServer)
		})
	}
	if s.pprofServer != nil {
		g.Go(func() error {
			logger.Info("Main", "pprof server listening on %s", s.pprofServer.Addr)
			return listen(s.pprofServer)
		})
	}
	if s.feed != nil {
		g.Go(func() error {
			logger.Info("Main", "Reading detections from %s", s.cfg.InferenceURL)
			return s.feed.Run(gctx)
		})
	} else {
		logger.Info("Main", "No inference feed configured, accepting POST /api/detections only")
	}

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	logger.Info("Main", "Shutting down...")

	// Close UI clients first; hijacked WebSocket connections are not tracked
	// by http.Server.Shutdown.
	err := s.ui.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = multierr.Append(err, s.httpServer.Shutdown(ctx))
	if s.metricsServer != nil {
		err = multierr.Append(err, s.metricsServer.Shutdown(ctx))
	}
	if s.pprofServer != nil {
		err = multierr.Append(err, s.pprofServer.Shutdown(ctx))
	}

	logger.Info("Main", "Messages sent: %d, dropped: %d, client misses: %d",
		s.metrics.MessagesSent.Load(), s.metrics.MessagesDropped.Load(), s.metrics.ClientMisses.Load())
	return err
}
