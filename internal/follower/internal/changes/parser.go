// Package changes turns a response body into an ordered, pausable sequence of
// change records and heartbeats.
package changes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
	"github.com/syntrixbase/follower/pkg/model"
)

// LongpollHeader opens every longpoll response body.
const LongpollHeader = `{"results":[`

// Upstream is the producer feeding a Parser. Pause and Resume are advisory.
type Upstream interface {
	Pause()
	Resume()
	Abort()
}

// Parser decodes one response under a fixed discipline.
//
// Signals:
//   - heartbeat: nil payload
//   - data: the record as compact JSON (string)
//   - end: nil payload, exactly once after End once everything was delivered
//   - error: the error; no further signals follow
//
// A Parser is not safe for concurrent use. All calls, including those made by
// its Upstream, must happen on the owner's goroutine.
type Parser struct {
	signal.Emitter

	feed       events.Discipline
	logger     *slog.Logger
	upstream   Upstream
	checkpoint func()

	sending bool
	ending  bool
	dead    bool
	err     error

	expectSet bool
	expect    string

	buf    string
	chunks []string
	queue  []string
}

// New creates a Parser for the given discipline.
func New(feed events.Discipline, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		feed:    feed,
		logger:  logger.With("component", "changes", "feed", string(feed)),
		sending: true,
	}
}

// SetUpstream attaches the producer. A parser accepts a single upstream.
func (p *Parser) SetUpstream(u Upstream) error {
	if p.upstream != nil {
		return p.fail(fmt.Errorf("%w: parser already has an upstream", model.ErrInternal))
	}
	p.upstream = u
	return nil
}

// SetCheckpoint installs fn, called on the owner's goroutine before each
// signal is delivered. fn may pause or destroy the parser.
func (p *Parser) SetCheckpoint(fn func()) {
	p.checkpoint = fn
}

// Write feeds one chunk. A chunk is a string, a []byte or nil (empty).
func (p *Parser) Write(chunk any) error {
	if p.err != nil {
		return p.err
	}
	if p.dead {
		return nil
	}

	data, err := p.normalize(chunk)
	if err != nil {
		return p.fail(err)
	}

	if p.feed == events.DisciplineLongpoll {
		p.chunks = append(p.chunks, data)
		return nil
	}
	return p.writeContinuous(data)
}

func (p *Parser) writeContinuous(data string) error {
	buf := p.buf + data

	// buf may hold zero, one or many records.
	for {
		offset := strings.IndexByte(buf, '\n')
		if offset < 0 {
			break
		}
		line := buf[:offset]
		buf = buf[offset+1:]

		// Heartbeats (empty lines) are fine; anything else must be a JSON object.
		if line == "" {
			p.queue = append(p.queue, "")
			continue
		}
		if line[0] != '{' {
			p.buf = buf
			p.emitChanges()
			return p.fail(fmt.Errorf("%w: non-object JSON data: %q", model.ErrFormat, line))
		}
		compact, err := compactJSON(line)
		if err != nil {
			p.buf = buf
			p.emitChanges()
			return p.fail(fmt.Errorf("%w: %v", model.ErrFormat, err))
		}
		p.queue = append(p.queue, compact)
	}

	p.buf = buf
	p.emitChanges()
	return nil
}

// End marks the end of input, optionally writing a final chunk.
func (p *Parser) End(chunk any) error {
	if p.err != nil {
		return p.err
	}
	if p.dead {
		return nil
	}

	p.ending = true

	// Always write, even with no data, so the end of stream is detected.
	if err := p.Write(chunk); err != nil {
		return err
	}

	switch p.feed {
	case events.DisciplineLongpoll:
		return p.endLongpoll()
	default:
		if p.buf != "" {
			p.logger.Debug("unprocessed data after end", "data", p.buf)
			p.buf = ""
		}
	}
	return nil
}

func (p *Parser) endLongpoll() error {
	body := LongpollHeader + strings.Join(p.chunks, "")
	p.chunks = nil

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return p.fail(fmt.Errorf("%w: %v", model.ErrFormat, err))
	}

	raw := bytes.TrimSpace(doc["results"])
	if len(raw) == 0 || raw[0] != '[' {
		return p.fail(fmt.Errorf("%w: no \"results\" field in feed", model.ErrFormat))
	}
	var results []json.RawMessage
	if err := json.Unmarshal(raw, &results); err != nil {
		return p.fail(fmt.Errorf("%w: %v", model.ErrFormat, err))
	}

	if len(p.queue) != 0 {
		return p.fail(fmt.Errorf("%w: changes are already queued: %d", model.ErrInternal, len(p.queue)))
	}

	for _, r := range results {
		compact, err := compactJSON(string(r))
		if err != nil {
			return p.fail(fmt.Errorf("%w: %v", model.ErrFormat, err))
		}
		p.queue = append(p.queue, compact)
	}
	p.emitChanges()
	return nil
}

// emitChanges delivers queued records while sending is enabled.
func (p *Parser) emitChanges() {
	for p.ready() && len(p.queue) > 0 {
		change := p.queue[0]
		p.queue = p.queue[1:]

		if change == "" {
			p.logger.Debug("emit: heartbeat")
			p.Emit(events.SignalHeartbeat, nil)
		} else {
			p.logger.Debug("emit: data")
			p.Emit(events.SignalData, change)
		}
	}

	if p.ending && len(p.queue) == 0 && p.ready() {
		p.ending = false
		p.logger.Debug("emit: end")
		p.Emit(events.SignalEnd, nil)
	}
}

func (p *Parser) ready() bool {
	if p.checkpoint != nil {
		p.checkpoint()
	}
	return p.sending && p.err == nil
}

// Pause stops delivery. Queued records are kept.
func (p *Parser) Pause() {
	p.sending = false
	if p.upstream != nil {
		p.upstream.Pause()
	}
}

// Resume restarts delivery and flushes everything queued meanwhile.
func (p *Parser) Resume() {
	if p.dead {
		return
	}
	p.sending = true
	if p.upstream != nil {
		p.upstream.Resume()
	}
	p.emitChanges()
}

// Fail reports an upstream failure. The parser emits it as an error.
func (p *Parser) Fail(err error) {
	if p.err != nil || p.dead || err == nil {
		return
	}
	_ = p.fail(fmt.Errorf("%w: %v", model.ErrSource, err))
}

// Destroy stops the parser for good and aborts its upstream. Idempotent.
func (p *Parser) Destroy() {
	if p.dead {
		return
	}
	p.logger.Debug("destroy")

	p.dead = true
	p.ending = false
	p.sending = false

	if p.upstream != nil {
		p.upstream.Abort()
	}
}

// Dead reports whether Destroy was called.
func (p *Parser) Dead() bool { return p.dead }

// Err returns the error that stopped the parser, if any.
func (p *Parser) Err() error { return p.err }

// Queued returns the number of decoded records not yet delivered.
func (p *Parser) Queued() int { return len(p.queue) }

// Discipline returns the parser's wire discipline.
func (p *Parser) Discipline() events.Discipline { return p.feed }

func (p *Parser) normalize(chunk any) (string, error) {
	var data string
	switch v := chunk.(type) {
	case nil:
		data = ""
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		return "", fmt.Errorf("%w: not a string or byte slice: %T", model.ErrFormat, chunk)
	}

	if !p.feed.IsValid() {
		return "", fmt.Errorf("%w: unknown feed discipline %q", model.ErrFormat, p.feed)
	}

	if !p.expectSet {
		p.expectSet = true
		if p.feed == events.DisciplineLongpoll {
			p.expect = LongpollHeader
		}
	}

	n := len(p.expect)
	if len(data) < n {
		n = len(data)
	}
	prefix := data[:n]
	if prefix != p.expect[:n] {
		return "", fmt.Errorf("%w: prefix not expected %q: %q", model.ErrFormat, p.expect[:n], prefix)
	}
	p.expect = p.expect[n:]
	return data[n:], nil
}

func (p *Parser) fail(err error) error {
	p.err = err
	p.ending = false
	p.logger.Debug("parser failed", "error", err)
	p.Emit(events.SignalError, err)
	return err
}

func compactJSON(s string) (string, error) {
	var out bytes.Buffer
	if err := json.Compact(&out, []byte(s)); err != nil {
		return "", err
	}
	return out.String(), nil
}
