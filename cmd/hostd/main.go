package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/deskbridge/hostd/internal/backend"
	"github.com/deskbridge/hostd/internal/config"
	"github.com/deskbridge/hostd/internal/hostinfo"
	"github.com/deskbridge/hostd/internal/logging"
	"github.com/deskbridge/hostd/internal/metrics"
	"github.com/deskbridge/hostd/internal/notify"
	"github.com/deskbridge/hostd/internal/stats"
	"github.com/deskbridge/hostd/internal/tracker"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use a mock backend with scripted traffic")
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Override notify server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bc backend.Client
	if *mockMode {
		logger.Info("starting with mock backend")
		mk := backend.NewMock()
		go mk.Run(ctx)
		bc = mk
	} else {
		ws, err := backend.DialWS(ctx, cfg.Backend.URL, logger.Named("backend"))
		if err != nil {
			logger.Fatal("backend dial failed", zap.String("url", cfg.Backend.URL), zap.Error(err))
		}
		defer ws.Close()
		bc = ws
	}

	broadcaster := notify.NewBroadcaster(
		notify.Redactor{MaskPeerIDs: cfg.Host.RedactPeerIDs},
		cfg.Server.BroadcastThrottle,
		cfg.Server.SnapshotInterval,
		cfg.Server.MaxConnections,
		m,
		logger.Named("notify"),
	)
	defer broadcaster.Close()

	statsTracker, statsCh, err := stats.NewTracker(stats.NewStore(cfg.Stats.Dir), logger.Named("stats"))
	if err != nil {
		logger.Fatal("stats load failed", zap.Error(err))
	}
	go statsTracker.Run(ctx)

	// The media engine runs out of process; accepting a session only hands
	// the id over.
	capture := tracker.CapturerFunc(func(id int) {
		logger.Info("starting screen capture", zap.Int("session", id))
	})

	tr := tracker.New(tracker.Config{
		PollInterval:    cfg.Backend.PollInterval,
		Interactive:     cfg.Host.Interactive,
		HealthThreshold: cfg.Backend.HealthThreshold,
	}, bc, broadcaster, capture, m, logger.Named("tracker"))

	sampler := hostinfo.NewSampler()
	tr.SetLoadSampler(sampler.Sample)
	tr.SetStatsEvents(statsCh)
	go tr.Run(ctx)

	server := notify.NewServer(broadcaster, tr, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, logger.Named("http"))
	server.SetStatsTracker(statsTracker)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: notify.SecurityHeaders(mux),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("hostd listening", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
