// Package health tracks feed health from feed signals and serves it over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
)

// Status is a coarse health state.
type Status string

const (
	// StatusOK indicates the feeds are delivering or waiting normally.
	StatusOK Status = "ok"

	// StatusDegraded indicates a feed keeps timing out or is paused.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates a feed died with an error.
	StatusUnhealthy Status = "unhealthy"
)

// DegradedAfter is the number of consecutive timeouts after which a feed is degraded.
const DegradedAfter = 5

// FeedHealth is the tracked state of one attached feed.
type FeedHealth struct {
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	LastChange *time.Time `json:"lastChange,omitempty"`
	Changes    int64      `json:"changes"`
	Timeouts   int        `json:"timeouts"`
	Restarts   int        `json:"restarts"`
	CaughtUp   bool       `json:"caughtUp"`
	Paused     bool       `json:"paused"`
	Stopped    bool       `json:"stopped"`
	Error      string     `json:"error,omitempty"`

	consecutiveTimeouts int
}

// Report is the full health report.
type Report struct {
	Status    Status       `json:"status"`
	Uptime    string       `json:"uptime"`
	StartedAt time.Time    `json:"startedAt"`
	Feeds     []FeedHealth `json:"feeds"`
}

// Checker aggregates the health of attached feeds.
type Checker struct {
	startedAt time.Time
	logger    *slog.Logger
	now       func() time.Time

	// mu protects feeds
	mu    sync.RWMutex
	feeds map[string]*FeedHealth
}

// NewChecker returns a Checker with no feeds attached.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		startedAt: time.Now(),
		logger:    logger.With("component", "health"),
		now:       time.Now,
		feeds:     make(map[string]*FeedHealth),
	}
}

// Attach registers a feed under name and tracks it through its signals.
func (h *Checker) Attach(name string, src signal.Source) {
	h.mu.Lock()
	h.feeds[name] = &FeedHealth{Name: name, Status: StatusOK}
	h.mu.Unlock()

	src.On(events.SignalStart, func(any) {
		h.update(name, func(fh *FeedHealth) {
			fh.Stopped = false
			fh.Error = ""
			fh.CaughtUp = false
			fh.consecutiveTimeouts = 0
		})
	})
	src.On(events.SignalHeartbeat, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.consecutiveTimeouts = 0 })
	})
	src.On(events.SignalChange, func(any) {
		h.update(name, func(fh *FeedHealth) {
			now := h.now()
			fh.LastChange = &now
			fh.Changes++
			fh.consecutiveTimeouts = 0
		})
	})
	src.On(events.SignalCatchup, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.CaughtUp = true })
	})
	src.On(events.SignalTimeout, func(any) {
		h.update(name, func(fh *FeedHealth) {
			fh.Timeouts++
			fh.consecutiveTimeouts++
		})
	})
	src.On(events.SignalRestart, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.Restarts++ })
	})
	src.On(events.SignalPause, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.Paused = true })
	})
	src.On(events.SignalResume, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.Paused = false })
	})
	src.On(events.SignalStop, func(any) {
		h.update(name, func(fh *FeedHealth) { fh.Stopped = true })
	})
	src.On(events.SignalError, func(v any) {
		err, _ := v.(error)
		h.update(name, func(fh *FeedHealth) {
			if err != nil {
				fh.Error = err.Error()
			}
		})
		h.logger.Warn("feed reported error", "feed", name, "error", err)
	})
}

func (h *Checker) update(name string, fn func(*FeedHealth)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fh, ok := h.feeds[name]
	if !ok {
		return
	}
	fn(fh)
	fh.Status = fh.status()
}

func (fh *FeedHealth) status() Status {
	switch {
	case fh.Error != "":
		return StatusUnhealthy
	case fh.consecutiveTimeouts > DegradedAfter, fh.Paused:
		return StatusDegraded
	default:
		return StatusOK
	}
}

// GetReport snapshots every attached feed.
func (h *Checker) GetReport() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{
		Status:    StatusOK,
		Uptime:    h.now().Sub(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
		Feeds:     make([]FeedHealth, 0, len(h.feeds)),
	}

	for _, fh := range h.feeds {
		report.Feeds = append(report.Feeds, *fh)

		if fh.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		} else if fh.Status == StatusDegraded && report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	sort.Slice(report.Feeds, func(i, j int) bool { return report.Feeds[i].Name < report.Feeds[j].Name })

	return report
}

// Check returns the worst status across feeds.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP writes the report as JSON. Unhealthy answers 503.
func (h *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to write health report", "error", err)
	}
}

// StartServer serves /health, plus any extra handlers, until ctx is done.
func StartServer(ctx context.Context, addr string, checker *Checker, extra map[string]http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	for path, handler := range extra {
		mux.Handle(path, handler)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	checker.logger.Info("serving health", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
