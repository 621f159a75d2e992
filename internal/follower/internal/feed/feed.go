// Package feed implements the feed controller: it confirms the followed
// collection, polls it, feeds each response through a change parser and turns
// the result into change signals, retrying with backoff when responses end,
// fail or go silent.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/syntrixbase/follower/internal/follower/config"
	"github.com/syntrixbase/follower/internal/follower/filter"
	"github.com/syntrixbase/follower/internal/follower/internal/backoff"
	"github.com/syntrixbase/follower/internal/follower/internal/changes"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/pkg/model"
)

// Clock is the timer capability a Feed needs. clock.WallClock satisfies it.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// Options configures a Feed.
type Options struct {
	Logger *slog.Logger
	Clock  Clock
}

// State is the feed controller state.
type State int32

const (
	StateCreated State = iota
	StateConfirming
	StateQuerying
	StateWaiting
	StateRetrying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfirming:
		return "confirming"
	case StateQuerying:
		return "querying"
	case StateWaiting:
		return "waiting"
	case StateRetrying:
		return "retrying"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Feed follows one collection.
//
// Every state transition runs on a single loop goroutine. Timer callbacks, I/O
// completions and response chunks are posted to that loop. The control methods
// are safe from any goroutine; called from a signal handler they apply before
// the next record is delivered. Handlers run on the loop goroutine and must
// not block.
type Feed struct {
	signal.Emitter

	cfg       config.Config
	connector source.Connector
	logger    *slog.Logger
	clock     Clock
	reqJSON   []byte

	mu       sync.Mutex
	tasks    []func()
	controls []func()
	wake    chan struct{}
	work    atomic.Int64
	started atomic.Bool
	done    chan struct{}
	state   atomic.Int32
	pump    atomic.Pointer[changes.Pump]

	// Owned by the loop goroutine.
	ctx       context.Context
	runCtx    context.Context
	cancelRun context.CancelFunc
	gen       uint64
	st        State
	paused    bool
	caughtUp  bool
	replay    bool
	hwm       int64
	changeAt  time.Time
	colState  *source.Counters
	backoff   *backoff.Backoff
	client    source.Client
	pending   *request

	confirmTimer    *alarm
	waitTimer       *alarm
	retryTimer      *alarm
	inactivityTimer *alarm
}

// New creates a Feed. Zero values in cfg are replaced by defaults; the result
// is validated by Start.
func New(cfg config.Config, connector source.Connector, opts Options) *Feed {
	cfg = cfg.Clone()
	cfg.ApplyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	return &Feed{
		cfg:       cfg,
		connector: connector,
		logger:    logger.With("component", "feed", "db", cfg.Database, "col", cfg.Collection),
		clock:     clk,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		backoff:   backoff.New(cfg.InitialRetryDelay, cfg.MaxRetryDelay()),
	}
}

// Start validates the configuration and starts following. Configuration
// problems are reported synchronously and wrap model.ErrConfig. The feed runs
// until ctx is done; Stop only halts it, and Restart brings it back.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.cfg.Validate(); err != nil {
		return err
	}
	if f.connector == nil {
		return fmt.Errorf("%w: data source connector required", model.ErrConfig)
	}
	if f.cfg.Filter == nil && f.cfg.FilterExpr != "" {
		fn, err := filter.Compile(f.cfg.FilterExpr)
		if err != nil {
			return err
		}
		f.cfg.Filter = fn
	}
	reqJSON, err := json.Marshal(map[string]interface{}{"query": f.cfg.QueryParams})
	if err != nil {
		return fmt.Errorf("%w: query params: %v", model.ErrConfig, err)
	}

	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: feed already started", model.ErrInternal)
	}
	f.reqJSON = reqJSON
	f.ctx = ctx

	go f.run(ctx)
	f.post(f.start)
	return nil
}

// Pause holds back delivery. It survives reconnects. Called from a handler,
// it takes effect before the next record is delivered.
func (f *Feed) Pause() { f.control(f.pause) }

// Resume delivers everything held back by Pause and continues.
func (f *Feed) Resume() { f.control(f.resume) }

// Stop halts the feed without an error and emits stop with value. Called from
// a handler, no further record is delivered.
func (f *Feed) Stop(value any) { f.control(func() { f.stop(value) }) }

// Restart tears the feed down and starts it again from confirmation.
// It also revives a feed that died.
func (f *Feed) Restart() { f.control(f.restart) }

// Done is closed once the loop has exited after the Start context ended.
func (f *Feed) Done() <-chan struct{} { return f.done }

// State returns the current controller state.
func (f *Feed) State() State { return State(f.state.Load()) }

// Config returns the effective configuration.
func (f *Feed) Config() config.Config { return f.cfg.Clone() }

func (f *Feed) setState(s State) {
	f.st = s
	f.state.Store(int32(s))
}

func (f *Feed) dead() bool { return f.st == StateDead }

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.die(nil)
			f.logger.Debug("feed loop exited")
			return
		case <-f.wake:
		}

		for {
			fn := f.next()
			if fn == nil {
				break
			}
			fn()
			f.work.Add(-1)
		}
	}
}

// post queues fn for the loop goroutine.
func (f *Feed) post(fn func()) {
	f.work.Add(1)
	f.mu.Lock()
	f.tasks = append(f.tasks, fn)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// control queues a control call. Queued calls run in order, either as a task
// or at the next checkpoint of the loop, whichever comes first.
func (f *Feed) control(fn func()) {
	f.mu.Lock()
	f.controls = append(f.controls, fn)
	f.mu.Unlock()
	f.post(f.applyControls)
}

// applyControls runs the queued control calls on the loop. Besides its own
// task, it runs at checkpoints around handler dispatch.
func (f *Feed) applyControls() {
	for {
		f.mu.Lock()
		if len(f.controls) == 0 {
			f.mu.Unlock()
			return
		}
		fn := f.controls[0]
		f.controls[0] = nil
		f.controls = f.controls[1:]
		f.mu.Unlock()
		fn()
	}
}

func (f *Feed) next() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return nil
	}
	fn := f.tasks[0]
	f.tasks[0] = nil
	f.tasks = f.tasks[1:]
	return fn
}

// goIO runs op off the loop under the current run context and posts the
// continuation it returns.
func (f *Feed) goIO(op func(ctx context.Context) func()) {
	ctx := f.runCtx
	f.work.Add(1)
	go func() {
		defer f.work.Add(-1)
		f.post(op(ctx))
	}()
}

// idle reports whether no task, I/O or response chunk is in flight.
func (f *Feed) idle() bool {
	if p := f.pump.Load(); p != nil && !p.Settled() {
		return false
	}
	return f.work.Load() == 0
}

// alarm is a timer whose callback runs on the loop, and never after stop.
type alarm struct {
	timer   clock.Timer
	stopped bool
}

func (f *Feed) schedule(d time.Duration, fn func()) *alarm {
	a := &alarm{}
	a.timer = f.clock.AfterFunc(d, func() {
		f.post(func() {
			if a.stopped {
				return
			}
			a.stopped = true
			fn()
		})
	})
	return a
}

func (a *alarm) stop() {
	if a == nil || a.stopped {
		return
	}
	a.stopped = true
	a.timer.Stop()
}
