package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/follower/internal/config"
	"github.com/syntrixbase/follower/internal/follower"
	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/health"
	"github.com/syntrixbase/follower/internal/follower/metrics"
	"github.com/syntrixbase/follower/internal/logging"
	sink "github.com/syntrixbase/follower/internal/sink/nats"
	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/internal/source/mongo"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadConfig()

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	code := run(cfg, mongo.NewConnector(), sigCh, slog.Default(), os.Stdout)
	signal.Stop(sigCh)
	_ = logging.Shutdown()
	os.Exit(code)
}

// run follows the configured collection until a signal arrives on sigCh or
// the feed dies, and returns the exit code.
func run(cfg *config.Config, connector source.Connector, sigCh <-chan os.Signal, logger *slog.Logger, out io.Writer) int {
	logger.Info("follower starting",
		"db", cfg.Follower.Database,
		"col", cfg.Follower.Collection,
		"feed", cfg.Follower.Feed,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	name := cfg.Follower.Database + "/" + cfg.Follower.Collection
	f := follower.New(cfg.Follower, connector, follower.Options{Logger: logger})

	checker := health.NewChecker(logger)
	checker.Attach(name, f)
	metrics.Attach(name, f)

	if cfg.Health.Addr != "" {
		go func() {
			extra := map[string]http.Handler{"/metrics": promhttp.Handler()}
			if err := health.StartServer(ctx, cfg.Health.Addr, checker, extra); err != nil {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	var s *sink.Sink
	if cfg.Sink.Enabled {
		var closeSink func()
		var err error
		s, closeSink, err = startSink(ctx, cfg.Sink, f, logger)
		if err != nil {
			logger.Error("failed to start sink", "error", err)
			return 1
		}
		defer closeSink()
	}

	fatal := make(chan error, 1)
	stopped := make(chan struct{}, 1)
	f.On(events.SignalChange, func(v any) {
		rec := v.(events.ChangeRecord)
		fmt.Fprintln(out, rec.ID)
		if s != nil {
			s.Offer(rec)
		}
	})
	f.On(events.SignalStop, func(v any) {
		// Inactivity restarts stop with a nil value.
		if v == nil {
			return
		}
		select {
		case stopped <- struct{}{}:
		default:
		}
	})
	f.On(events.SignalError, func(v any) {
		err, _ := v.(error)
		select {
		case fatal <- err:
		default:
		}
	})

	if err := f.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		return 1
	}
	logger.Info("follower started", "name", name, "health", cfg.Health.Addr)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		f.Stop(sig.String())
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			logger.Warn("feed did not acknowledge stop in time")
		}
	case err := <-fatal:
		logger.Error("feed died", "error", err)
		code = 1
	}

	cancel()
	select {
	case <-f.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("feed did not stop in time")
	}

	if s != nil {
		published, failed := s.Stats()
		logger.Info("sink stopped", "published", published, "failed", failed, "unsent", s.Len())
	}
	logger.Info("follower stopped")
	return code
}

// startSink connects to NATS and republishes delivered changes. A full queue
// pauses the feed until the queue drains.
func startSink(ctx context.Context, cfg config.SinkConfig, f *follower.Feed, logger *slog.Logger) (*sink.Sink, func(), error) {
	nc, err := sink.Connect(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	pub, err := sink.NewPublisherFromConn(nc, sink.PublisherOptions{
		StreamName:    cfg.Stream,
		SubjectPrefix: cfg.SubjectPrefix,
		RetryAttempts: cfg.RetryAttempts,
		FileStorage:   cfg.FileStorage,
		OnPublish: func(subject string, err error, latency time.Duration) {
			if err != nil {
				logger.Warn("publish failed", "subject", subject, "error", err, "latency", latency)
			}
		},
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create publisher: %w", err)
	}

	s := sink.NewSink(pub, sink.SinkOptions{
		Subject:   cfg.Subject,
		HighWater: cfg.HighWater,
		LowWater:  cfg.LowWater,
		Timeout:   cfg.Timeout,
		OnFull:    f.Pause,
		OnDrain:   f.Resume,
		Logger:    logger,
	})
	go func() {
		if err := s.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sink stopped", "error", err)
		}
	}()

	return s, func() {
		_ = pub.Close()
		nc.Close()
	}, nil
}
