package changes

import (
	"errors"
	"io"
	"sync"
)

// Post runs fn on the goroutine that owns the parser.
type Post func(fn func())

// Pump streams a response body into a Parser in fixed-size chunks. Reads happen
// on the pump's own goroutine; every chunk is handed over through post, so the
// parser only ever runs on its owner's goroutine.
type Pump struct {
	r      io.Reader
	size   int
	parser *Parser
	post   Post

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	aborted bool
	waiting bool

	done chan struct{}
}

// NewPump attaches a pump to parser as its upstream.
func NewPump(r io.Reader, size int, parser *Parser, post Post) (*Pump, error) {
	if size <= 0 {
		size = 4096
	}
	u := &Pump{
		r:      r,
		size:   size,
		parser: parser,
		post:   post,
		done:   make(chan struct{}),
	}
	u.cond = sync.NewCond(&u.mu)
	if err := parser.SetUpstream(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Start begins reading.
func (u *Pump) Start() {
	go u.run()
}

// Done is closed once the pump stops reading.
func (u *Pump) Done() <-chan struct{} {
	return u.done
}

func (u *Pump) run() {
	defer close(u.done)
	buf := make([]byte, u.size)
	for {
		if !u.waitRunnable() {
			return
		}

		n, err := u.r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			u.post(func() { _ = u.parser.Write(chunk) })
		}
		if errors.Is(err, io.EOF) {
			u.post(func() { _ = u.parser.End(nil) })
			return
		}
		if err != nil {
			if u.isAborted() {
				return
			}
			u.post(func() { u.parser.Fail(err) })
			return
		}
	}
}

// waitRunnable blocks while paused and reports false once aborted.
func (u *Pump) waitRunnable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.paused && !u.aborted {
		u.waiting = true
		u.cond.Wait()
		u.waiting = false
	}
	return !u.aborted
}

// Settled reports whether the pump has finished or is blocked on a pause, so it
// will not hand over another chunk until resumed.
func (u *Pump) Settled() bool {
	select {
	case <-u.done:
		return true
	default:
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.waiting
}

func (u *Pump) isAborted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.aborted
}

// Pause implements Upstream.
func (u *Pump) Pause() {
	u.mu.Lock()
	u.paused = true
	u.mu.Unlock()
}

// Resume implements Upstream.
func (u *Pump) Resume() {
	u.mu.Lock()
	u.paused = false
	u.mu.Unlock()
	u.cond.Broadcast()
}

// Abort implements Upstream. A body that is an io.Closer is closed.
func (u *Pump) Abort() {
	u.mu.Lock()
	already := u.aborted
	u.aborted = true
	u.mu.Unlock()
	u.cond.Broadcast()

	if already {
		return
	}
	if c, ok := u.r.(io.Closer); ok {
		_ = c.Close()
	}
}
