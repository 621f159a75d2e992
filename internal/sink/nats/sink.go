package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/follower/internal/follower/events"
)

const (
	DefaultHighWater      = 1000
	DefaultPublishTimeout = 5 * time.Second
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// Subject is the subject changes are published on, below the publisher prefix.
	Subject string

	// HighWater is the queue length at which OnFull is called. LowWater is the
	// length at which OnDrain is called afterwards.
	HighWater int
	LowWater  int

	// Timeout bounds a single publish.
	Timeout time.Duration

	OnFull  func()
	OnDrain func()

	Logger *slog.Logger
}

// Sink publishes change records in delivery order. Offer never blocks; a
// queue above the high-water mark is reported through OnFull so the caller
// can pause its feed.
type Sink struct {
	pub    Publisher
	opts   SinkOptions
	logger *slog.Logger

	mu    sync.Mutex
	queue []events.ChangeRecord
	full  bool

	notify chan struct{}

	published atomic.Int64
	failed    atomic.Int64
}

// NewSink creates a Sink on pub.
func NewSink(pub Publisher, opts SinkOptions) *Sink {
	if opts.HighWater <= 0 {
		opts.HighWater = DefaultHighWater
	}
	if opts.LowWater <= 0 || opts.LowWater >= opts.HighWater {
		opts.LowWater = opts.HighWater / 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPublishTimeout
	}
	if opts.Subject == "" {
		opts.Subject = "changes"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sink{
		pub:    pub,
		opts:   opts,
		logger: logger.With("component", "sink", "subject", opts.Subject),
		notify: make(chan struct{}, 1),
	}
}

// Offer queues rec for publishing.
func (s *Sink) Offer(rec events.ChangeRecord) {
	s.mu.Lock()
	s.queue = append(s.queue, rec)
	callFull := !s.full && len(s.queue) >= s.opts.HighWater
	if callFull {
		s.full = true
	}
	s.mu.Unlock()

	if callFull {
		s.logger.Debug("queue full", "len", s.opts.HighWater)
		if s.opts.OnFull != nil {
			s.opts.OnFull()
		}
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats returns the number of published and failed records.
func (s *Sink) Stats() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}

// Run publishes queued records until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	for {
		rec, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.notify:
			}
			continue
		}
		s.publish(ctx, rec)
	}
}

func (s *Sink) next() (events.ChangeRecord, bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return events.ChangeRecord{}, false
	}
	rec := s.queue[0]
	s.queue[0] = events.ChangeRecord{}
	s.queue = s.queue[1:]
	callDrain := s.full && len(s.queue) <= s.opts.LowWater
	if callDrain {
		s.full = false
	}
	s.mu.Unlock()

	if callDrain {
		s.logger.Debug("queue drained", "len", s.opts.LowWater)
		if s.opts.OnDrain != nil {
			s.opts.OnDrain()
		}
	}
	return rec, true
}

func (s *Sink) publish(ctx context.Context, rec events.ChangeRecord) {
	data, err := json.Marshal(&rec)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to encode change", "seq", rec.Seq, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, s.opts.Subject, data); err != nil {
		s.failed.Add(1)
		s.logger.Warn("failed to publish change", "seq", rec.Seq, "doc_id", rec.ID, "error", err)
		return
	}
	s.published.Add(1)
}
