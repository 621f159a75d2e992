// Package metrics exposes feed activity as Prometheus collectors.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
	"github.com/syntrixbase/follower/pkg/model"
)

var (
	// Delivery
	ChangesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_changes_delivered_total",
		Help: "The total number of changes delivered",
	}, []string{"feed"})

	Responses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_responses_total",
		Help: "The total number of poll responses, by whether the source had changed",
	}, []string{"feed", "updated"})

	Heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_heartbeats_total",
		Help: "The total number of heartbeats received",
	}, []string{"feed"})

	// Liveness
	Timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_timeouts_total",
		Help: "The total number of responses abandoned after a wait timeout",
	}, []string{"feed"})

	TimeoutElapsed = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "follower_timeout_elapsed_seconds",
		Help:    "Silence observed before a response was abandoned",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"feed"})

	Restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_restarts_total",
		Help: "The total number of feed restarts",
	}, []string{"feed"})

	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "follower_errors_total",
		Help: "The total number of fatal feed errors, by kind",
	}, []string{"feed", "kind"})

	// State
	CaughtUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "follower_caught_up",
		Help: "1 once the feed reached the high-water mark of its run",
	}, []string{"feed"})

	Paused = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "follower_paused",
		Help: "1 while delivery is paused",
	}, []string{"feed"})
)

func init() {
	prometheus.MustRegister(ChangesDelivered)
	prometheus.MustRegister(Responses)
	prometheus.MustRegister(Heartbeats)
	prometheus.MustRegister(Timeouts)
	prometheus.MustRegister(TimeoutElapsed)
	prometheus.MustRegister(Restarts)
	prometheus.MustRegister(Errors)
	prometheus.MustRegister(CaughtUp)
	prometheus.MustRegister(Paused)
}

// Attach feeds the collectors from the signals of the feed called name.
func Attach(name string, src signal.Source) {
	changes := ChangesDelivered.WithLabelValues(name)
	heartbeats := Heartbeats.WithLabelValues(name)
	timeouts := Timeouts.WithLabelValues(name)
	elapsed := TimeoutElapsed.WithLabelValues(name)
	restarts := Restarts.WithLabelValues(name)
	caughtUp := CaughtUp.WithLabelValues(name)
	paused := Paused.WithLabelValues(name)

	src.On(events.SignalStart, func(any) { caughtUp.Set(0) })
	src.On(events.SignalChange, func(any) { changes.Inc() })
	src.On(events.SignalHeartbeat, func(any) { heartbeats.Inc() })
	src.On(events.SignalResponse, func(v any) {
		updated := "false"
		if v != nil {
			updated = "true"
		}
		Responses.WithLabelValues(name, updated).Inc()
	})
	src.On(events.SignalTimeout, func(v any) {
		timeouts.Inc()
		if info, ok := v.(events.TimeoutInfo); ok {
			elapsed.Observe(info.Elapsed.Seconds())
		}
	})
	src.On(events.SignalRestart, func(any) { restarts.Inc() })
	src.On(events.SignalCatchup, func(any) { caughtUp.Set(1) })
	src.On(events.SignalPause, func(any) { paused.Set(1) })
	src.On(events.SignalResume, func(any) { paused.Set(0) })
	src.On(events.SignalError, func(v any) {
		err, _ := v.(error)
		Errors.WithLabelValues(name, Kind(err)).Inc()
	})
}

// Kind names the error class of err for labelling.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case model.IsCanceled(err):
		return "canceled"
	case errors.Is(err, model.ErrConfig):
		return "config"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrFormat):
		return "format"
	case errors.Is(err, model.ErrSource):
		return "source"
	case errors.Is(err, model.ErrInternal):
		return "internal"
	default:
		return "other"
	}
}
