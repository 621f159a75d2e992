// Package memory implements source.Connector in memory, for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/pkg/model"
)

// Store holds collections keyed by database and name.
type Store struct {
	mu          sync.Mutex
	collections map[string]*Collection

	// connectErr fails every Connect when set.
	connectErr error
	// connectBlock makes Connect wait for its context.
	connectBlock bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// FailConnect makes every Connect return err. nil clears it.
func (s *Store) FailConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// BlockConnect makes Connect hang until its context is done.
func (s *Store) BlockConnect(block bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectBlock = block
}

// Connect implements source.Connector. The URL is ignored.
func (s *Store) Connect(ctx context.Context, _ string) (source.Client, error) {
	s.mu.Lock()
	err, block := s.connectErr, s.connectBlock
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &client{store: s}, nil
}

// Collection returns db.name, creating it on first use.
func (s *Store) Collection(db, name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := db + "." + name
	c, ok := s.collections[key]
	if !ok {
		c = &Collection{}
		s.collections[key] = c
	}
	return c
}

type client struct {
	store *Store
}

func (c *client) Collection(db, name string) source.Collection {
	return c.store.Collection(db, name)
}

func (c *client) Disconnect(context.Context) error { return nil }

// Collection is an in-memory collection with mutation counters.
type Collection struct {
	mu       sync.Mutex
	docs     []entry
	counters source.Counters
	clock    int64

	failErr error
}

type entry struct {
	doc       model.Document
	updatedAt int64
}

// Insert adds a document and bumps the insert counter.
func (c *Collection) Insert(doc model.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.docs = append(c.docs, entry{doc: doc, updatedAt: c.clock})
	c.counters.Insert++
}

// Update replaces the document with the same ID in place and moves it to the
// end of the update order. Counters are left untouched, so a follower cannot
// see the update until some counted mutation happens.
func (c *Collection) Update(doc model.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.docs {
		if c.docs[i].doc.GetID() == doc.GetID() {
			c.clock++
			c.docs[i] = entry{doc: doc, updatedAt: c.clock}
			return nil
		}
	}
	return fmt.Errorf("document %q not found", doc.GetID())
}

// Remove deletes the document with id and bumps the remove counter.
func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.docs {
		if c.docs[i].doc.GetID() == id {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			c.counters.Remove++
			return true
		}
	}
	return false
}

// Fail makes Counters and Snapshot return err. nil clears it.
func (c *Collection) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// Counters implements source.Collection.
func (c *Collection) Counters(ctx context.Context) (source.Counters, error) {
	if err := ctx.Err(); err != nil {
		return source.Counters{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return source.Counters{}, c.failErr
	}
	return c.counters, nil
}

// Snapshot implements source.Collection.
func (c *Collection) Snapshot(ctx context.Context) ([]model.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}

	sorted := make([]entry, len(c.docs))
	copy(sorted, c.docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].updatedAt < sorted[j].updatedAt })

	docs := make([]model.Document, 0, len(sorted))
	for _, e := range sorted {
		docs = append(docs, e.doc)
	}
	return docs, nil
}

// Len returns the number of documents.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}
