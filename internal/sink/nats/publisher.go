// Package nats publishes delivered changes to NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream is the part of jetstream.JetStream the publisher uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNew is a variable to allow mocking in tests.
var JetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// Publisher publishes messages to a stream.
type Publisher interface {
	// Publish sends a message to the specified subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Close releases resources.
	Close() error
}

// PublisherOptions configures publisher behavior.
type PublisherOptions struct {
	// StreamName is the stream to publish to. When set, the stream is created
	// or updated on construction.
	StreamName string

	// SubjectPrefix is prepended to all subjects.
	SubjectPrefix string

	// RetryAttempts is the number of retry attempts for publishing.
	RetryAttempts int

	// FileStorage stores the stream on disk instead of in memory.
	FileStorage bool

	// OnPublish is called after each publish attempt.
	OnPublish func(subject string, err error, latency time.Duration)
}

// Connect dials a NATS server.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("follower"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NewPublisherFromConn creates a Publisher on an open connection.
func NewPublisherFromConn(nc *nats.Conn, opts PublisherOptions) (Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	js, err := JetStreamNew(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream: %w", err)
	}
	return NewPublisher(js, opts)
}

type jetStreamPublisher struct {
	js       JetStream
	prefix   string
	pubOpts  []jetstream.PublishOpt
	observer func(subject string, err error, latency time.Duration)
}

// NewPublisher creates a Publisher backed by NATS JetStream. With a stream
// name set, the stream is created or updated before the publisher is returned.
func NewPublisher(js JetStream, opts PublisherOptions) (Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}

	if opts.StreamName != "" {
		if _, err := js.CreateOrUpdateStream(context.Background(), streamConfig(opts)); err != nil {
			return nil, fmt.Errorf("failed to ensure stream %s: %w", opts.StreamName, err)
		}
	}

	p := &jetStreamPublisher{js: js, prefix: opts.SubjectPrefix, observer: opts.OnPublish}
	if opts.RetryAttempts > 0 {
		p.pubOpts = append(p.pubOpts, jetstream.WithRetryAttempts(opts.RetryAttempts))
	}
	return p, nil
}

// streamConfig captures every subject below the prefix, or below the stream
// name when there is no distinct prefix.
func streamConfig(opts PublisherOptions) jetstream.StreamConfig {
	root := opts.StreamName
	if opts.SubjectPrefix != "" {
		root = opts.SubjectPrefix
	}
	cfg := jetstream.StreamConfig{
		Name:        opts.StreamName,
		Description: "change records delivered by the follower",
		Subjects:    []string{root + ".>"},
		Storage:     jetstream.MemoryStorage,
	}
	if opts.FileStorage {
		cfg.Storage = jetstream.FileStorage
	}
	return cfg
}

func (p *jetStreamPublisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	full := p.subject(subject)
	start := time.Now()
	_, err := p.js.Publish(ctx, full, data, p.pubOpts...)
	if p.observer != nil {
		p.observer(full, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", full, err)
	}
	return nil
}

// Close is a no-op: the connection belongs to the caller.
func (p *jetStreamPublisher) Close() error {
	return nil
}
