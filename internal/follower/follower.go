// Package follower follows a collection and delivers its changes.
//
// A feed confirms the collection, then polls it: whenever the mutation
// counters move, the ordered snapshot is streamed through a change parser and
// every record is delivered as a change signal. Silent or failed responses are
// retried with capped exponential backoff, and an optional inactivity timeout
// restarts the feed from scratch.
//
// # Usage
//
//	f, err := follower.Follow(ctx, cfg, mongo.NewConnector(), func(rec *events.ChangeRecord, err error) {
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(rec.ID)
//	})
//
// For finer control, create the feed with New and attach handlers with On
// before calling Start.
//
// # Package Organization
//
// The package is organized into subpackages:
//   - events: change records and signal names
//   - config: feed configuration
//   - filter: CEL filter expressions
//   - health: health checker fed by feed signals
//   - metrics: Prometheus collectors fed by feed signals
//   - internal/feed: the feed controller
//   - internal/changes: the change parser
//   - internal/backoff: retry delays
//   - internal/signal: named signal dispatch
package follower

import (
	"context"

	"github.com/syntrixbase/follower/internal/follower/config"
	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/feed"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
	"github.com/syntrixbase/follower/internal/source"
)

// Re-export types from internal packages for public API.
type (
	// Feed follows one collection.
	Feed = feed.Feed

	// Options configures a Feed.
	Options = feed.Options

	// Clock is the timer capability a Feed runs on.
	Clock = feed.Clock

	// State is the feed controller state.
	State = feed.State

	// Handler receives a signal payload.
	Handler = signal.Handler

	// Source is anything signal handlers can be attached to.
	Source = signal.Source
)

// Feed states.
const (
	StateCreated    = feed.StateCreated
	StateConfirming = feed.StateConfirming
	StateQuerying   = feed.StateQuerying
	StateWaiting    = feed.StateWaiting
	StateRetrying   = feed.StateRetrying
	StateDead       = feed.StateDead
)

// Callback receives each delivered change, or, once, the error that killed
// the feed (with a nil record).
type Callback func(rec *events.ChangeRecord, err error)

// New creates a feed on connector. It does nothing until Start.
func New(cfg config.Config, connector source.Connector, opts Options) *Feed {
	return feed.New(cfg, connector, opts)
}

// Follow creates and starts a feed that reports to cb. Configuration errors
// are returned synchronously.
func Follow(ctx context.Context, cfg config.Config, connector source.Connector, cb Callback) (*Feed, error) {
	return FollowWith(ctx, cfg, connector, Options{}, cb)
}

// FollowWith is Follow with explicit feed options.
func FollowWith(ctx context.Context, cfg config.Config, connector source.Connector, opts Options, cb Callback) (*Feed, error) {
	f := feed.New(cfg, connector, opts)
	if cb != nil {
		f.On(events.SignalChange, func(v any) {
			rec := v.(events.ChangeRecord)
			cb(&rec, nil)
		})
		f.On(events.SignalError, func(v any) {
			err, _ := v.(error)
			cb(nil, err)
		})
	}
	if err := f.Start(ctx); err != nil {
		return nil, err
	}
	return f, nil
}
