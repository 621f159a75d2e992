package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxSuppressEntries bounds the table before expired entries are swept.
const maxSuppressEntries = 1024

// Suppressor drops a record identical to one passed on less than window ago.
// Records are identical when level, message and attributes (including those
// added through WithAttrs and WithGroup) match; the time is ignored. The next
// copy let through after the window carries a "suppressed" count.
type Suppressor struct {
	handler slog.Handler
	seed    uint64
	state   *suppressState
}

type suppressState struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[uint64]*suppressEntry
}

type suppressEntry struct {
	passed  time.Time
	dropped int
}

func NewSuppressor(handler slog.Handler, window time.Duration) *Suppressor {
	return &Suppressor{
		handler: handler,
		state: &suppressState{
			window: window,
			now:    time.Now,
			seen:   make(map[uint64]*suppressEntry),
		},
	}
}

func (h *Suppressor) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *Suppressor) Handle(ctx context.Context, r slog.Record) error {
	dropped, pass := h.state.admit(h.key(r))
	if !pass {
		return nil
	}
	if dropped > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("suppressed", dropped))
	}
	return h.handler.Handle(ctx, r)
}

func (s *suppressState) admit(key uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.seen[key]
	if ok && now.Sub(e.passed) < s.window {
		e.dropped++
		return 0, false
	}
	if !ok {
		if len(s.seen) >= maxSuppressEntries {
			s.sweep(now)
		}
		e = &suppressEntry{}
		s.seen[key] = e
	}
	dropped := e.dropped
	e.passed = now
	e.dropped = 0
	return dropped, true
}

// sweep forgets entries whose window has passed. Their dropped counts are lost.
func (s *suppressState) sweep(now time.Time) {
	for k, e := range s.seen {
		if now.Sub(e.passed) >= s.window {
			delete(s.seen, k)
		}
	}
}

func (h *Suppressor) key(r slog.Record) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.seed, 16))
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(d, a)
		return true
	})
	return d.Sum64()
}

func writeAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(a.Key)
	_, _ = d.WriteString("=")
	_, _ = d.WriteString(a.Value.Resolve().String())
}

func (h *Suppressor) derive(extra func(*xxhash.Digest), handler slog.Handler) *Suppressor {
	d := xxhash.New()
	_, _ = d.WriteString(strconv.FormatUint(h.seed, 16))
	extra(d)
	return &Suppressor{handler: handler, seed: d.Sum64(), state: h.state}
}

func (h *Suppressor) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(func(d *xxhash.Digest) {
		for _, a := range attrs {
			writeAttr(d, a)
		}
	}, h.handler.WithAttrs(attrs))
}

func (h *Suppressor) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(d *xxhash.Digest) {
		_, _ = d.WriteString("#" + name)
	}, h.handler.WithGroup(name))
}
