// Package source defines what a feed needs from the followed data store.
package source

import (
	"context"

	"github.com/syntrixbase/follower/pkg/model"
)

// Counters are the monotonically non-decreasing mutation counters of a collection.
//
// Comparing counters cannot see in-place updates that leave them untouched;
// such updates are picked up by the next poll that follows a counted mutation.
type Counters struct {
	Insert int64 `json:"insert"`
	Create int64 `json:"create"`
	Remove int64 `json:"remove"`
}

// Connector opens clients for a connection URL.
type Connector interface {
	Connect(ctx context.Context, url string) (Client, error)
}

// Client is an open connection.
type Client interface {
	// Collection returns a handle to db.name. It does no I/O.
	Collection(db, name string) Collection

	// Disconnect releases the connection.
	Disconnect(ctx context.Context) error
}

// Collection is the followed collection.
type Collection interface {
	// Counters returns the current mutation counters.
	Counters(ctx context.Context) (Counters, error)

	// Snapshot returns every document, ordered by ascending updatedAt.
	Snapshot(ctx context.Context) ([]model.Document, error)
}
