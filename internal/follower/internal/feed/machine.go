package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/changes"
	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/pkg/model"
)

const disconnectTimeout = 5 * time.Second

func (f *Feed) start() {
	f.gen++
	f.runCtx, f.cancelRun = context.WithCancel(f.ctx)
	f.colState = nil
	f.caughtUp = false
	f.replay = false
	f.hwm = 0
	f.backoff.Reset()
	f.changeAt = time.Time{}
	f.setState(StateCreated)

	f.logger.Info("feed starting",
		"feed", f.cfg.Feed,
		"heartbeat", f.cfg.Heartbeat,
		"inactivity", f.cfg.Inactivity,
		"max_retry", f.backoff.Max(),
		"response_grace_time", f.cfg.ResponseGraceTime)
	f.Emit(events.SignalStart, nil)
	f.confirm()
}

func (f *Feed) confirm() {
	if f.dead() {
		return
	}
	f.setState(StateConfirming)

	timeout := f.cfg.Heartbeat * 3
	f.confirmTimer = f.schedule(timeout, func() {
		f.confirmTimer = nil
		f.die(fmt.Errorf("%w: confirm timeout after %s", model.ErrTimeout, timeout))
	})
	f.confirmAttempt()
}

func (f *Feed) confirmAttempt() {
	gen, client, prev := f.gen, f.client, f.colState
	f.goIO(func(ctx context.Context) func() {
		res := f.poll(ctx, client, prev, false)
		return func() { f.onConfirm(gen, res) }
	})
}

func (f *Feed) onConfirm(gen uint64, res pollResult) {
	if !f.current(gen, res) {
		return
	}
	if model.IsFatal(res.err) {
		f.die(res.err)
		return
	}
	if res.err != nil || !res.updated {
		d := f.backoff.Next()
		if res.err != nil {
			f.logger.Warn("confirm failed", "error", res.err, "retry_in", d)
		} else {
			f.logger.Debug("confirm saw no change", "retry_in", d)
		}
		f.retryTimer = f.schedule(d, func() {
			f.retryTimer = nil
			f.confirmAttempt()
		})
		return
	}

	f.confirmTimer.stop()
	f.confirmTimer = nil
	f.colState = &res.counters
	f.hwm = int64(len(res.docs))
	f.replay = true

	f.logger.Info("collection confirmed", "documents", len(res.docs), "high_water_mark", f.hwm)
	f.Emit(events.SignalConfirm, res.docs)
	f.applyControls()
	if gen != f.gen {
		return
	}
	f.query()
}

func (f *Feed) query() {
	if f.dead() {
		return
	}
	f.setState(StateQuerying)

	gen, client, prev, force := f.gen, f.client, f.colState, f.replay
	f.replay = false
	f.goIO(func(ctx context.Context) func() {
		res := f.poll(ctx, client, prev, force)
		return func() { f.onResponse(gen, res) }
	})
}

func (f *Feed) onResponse(gen uint64, res pollResult) {
	if !f.current(gen, res) {
		return
	}
	if model.IsFatal(res.err) {
		f.die(res.err)
		return
	}
	if res.err != nil {
		f.logger.Warn("query failed", "error", res.err)
		f.retry()
		return
	}
	f.colState = &res.counters

	parser := changes.New(f.cfg.Feed, f.logger)
	var pump *changes.Pump
	if res.updated {
		f.backoff.Reset()

		body, err := encodeSnapshot(f.cfg.Feed, res.docs)
		if err != nil {
			f.logger.Warn("failed to encode snapshot", "error", err)
			f.retry()
			return
		}
		pump, err = changes.NewPump(bytes.NewReader(body), f.cfg.ChunkSize, parser, f.post)
		if err != nil {
			f.die(err)
			return
		}
	}

	// A silent response carries no snapshot at all.
	var snapshot any
	if res.updated {
		if res.docs == nil {
			res.docs = []model.Document{}
		}
		snapshot = res.docs
	}
	f.Emit(events.SignalResponse, snapshot)
	f.applyControls()
	if f.dead() || gen != f.gen {
		return
	}

	req := newRequest(parser, pump, f.clock.Now())
	f.logger.Debug("new request", "id", req.id, "updated", res.updated, "documents", len(res.docs))
	f.pending = req
	f.prep(req)
}

func (f *Feed) prep(req *request) {
	if f.paused {
		req.parser.Pause()
	}

	if f.cfg.Inactivity > 0 {
		f.inactivityTimer.stop()
		f.inactivityTimer = f.schedule(f.cfg.Inactivity, f.onInactivity)
	}
	f.changeAt = f.clock.Now()

	req.parser.SetCheckpoint(f.applyControls)

	req.parser.On(events.SignalHeartbeat, func(any) {
		if f.guard(req, events.SignalHeartbeat) {
			f.onHeartbeat(req)
		}
	})
	req.parser.On(events.SignalData, func(v any) {
		if f.guard(req, events.SignalData) {
			f.onData(req, v.(string))
		}
	})
	req.parser.On(events.SignalEnd, func(any) {
		if f.guard(req, events.SignalEnd) {
			f.onEnd(req)
		}
	})
	req.parser.On(events.SignalError, func(v any) {
		err, _ := v.(error)
		if f.guard(req, events.SignalError) {
			f.onError(req, err)
		}
	})

	f.pump.Store(req.pump)
	if req.pump != nil {
		req.pump.Start()
	}
	f.wait()
}

// guard reports whether an event from req may act on the feed. Events from
// superseded requests are only logged.
func (f *Feed) guard(req *request, sig events.Signal) bool {
	if req == f.pending && !f.dead() {
		return true
	}

	now := f.clock.Now()
	level := slog.LevelDebug
	if sig == events.SignalError {
		level = slog.LevelWarn
	}
	attrs := []any{"signal", sig, "id", req.id, "to_req", now.Sub(req.createdAt)}
	if f.pending != nil {
		attrs = append(attrs, "current", f.pending.id, "to_now", now.Sub(f.pending.createdAt))
	}
	f.logger.Log(context.Background(), level, "event from stale request", attrs...)
	return false
}

func (f *Feed) wait() {
	if f.dead() {
		return
	}
	f.setState(StateWaiting)
	f.Emit(events.SignalWait, nil)

	if f.paused {
		return
	}
	if f.waitTimer != nil {
		f.die(fmt.Errorf("%w: wait timer already armed", model.ErrInternal))
		return
	}

	req := f.pending
	timeout := f.cfg.Heartbeat * 5 / 4
	f.waitTimer = f.schedule(timeout, func() {
		f.waitTimer = nil
		f.onTimeout(req)
	})
}

func (f *Feed) clearWait() {
	f.waitTimer.stop()
	f.waitTimer = nil
}

func (f *Feed) onTimeout(req *request) {
	if f.dead() {
		return
	}
	info := events.TimeoutInfo{Heartbeat: f.cfg.Heartbeat}
	if req != nil {
		info.ID = req.id
		info.Elapsed = f.clock.Now().Sub(req.activityAt)
	}
	f.logger.Debug("response timed out", "id", info.ID, "elapsed", info.Elapsed)
	f.Emit(events.SignalTimeout, info)
	f.retry()
}

func (f *Feed) onHeartbeat(req *request) {
	f.clearWait()
	req.activityAt = f.clock.Now()
	f.Emit(events.SignalHeartbeat, nil)
	f.applyControls()
	if !f.dead() && f.pending == req {
		f.wait()
	}
}

func (f *Feed) onData(req *request, data string) {
	f.clearWait()
	req.activityAt = f.clock.Now()

	var rec events.ChangeRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		f.logger.Warn("undecodable change record", "id", req.id, "error", err)
		req.parser.Destroy()
		f.retry()
		return
	}

	f.onChange(rec)
	if !f.dead() && f.pending == req {
		f.wait()
	}
}

func (f *Feed) onEnd(req *request) {
	f.logger.Debug("response ended", "id", req.id, "age", f.clock.Now().Sub(req.createdAt))
	f.retry()
}

func (f *Feed) onError(req *request, err error) {
	f.logger.Warn("response failed", "id", req.id, "error", err)
	f.retry()
}

func (f *Feed) retry() {
	if f.dead() {
		return
	}
	f.clearWait()
	f.pending = nil
	f.pump.Store(nil)
	f.setState(StateRetrying)

	f.retryTimer.stop()
	d := f.backoff.Next()
	f.logger.Debug("retrying", "delay", d)
	f.retryTimer = f.schedule(d, func() {
		f.retryTimer = nil
		f.query()
	})
}

func (f *Feed) onInactivity() {
	f.inactivityTimer = nil
	if f.dead() {
		return
	}
	f.logger.Warn("no change delivered, restarting",
		"elapsed", f.clock.Now().Sub(f.changeAt),
		"inactivity", f.cfg.Inactivity)
	f.restart()
}

func (f *Feed) restart() {
	if f.gen == 0 {
		f.logger.Warn("restart before start ignored")
		return
	}
	f.logger.Info("restarting feed")
	f.Emit(events.SignalRestart, nil)
	f.stop(nil)
	f.start()
}

func (f *Feed) stop(value any) {
	f.die(nil)
	f.Emit(events.SignalStop, value)
}

func (f *Feed) pause() {
	if f.paused {
		return
	}
	f.paused = true
	f.logger.Debug("paused")
	f.Emit(events.SignalPause, nil)

	f.clearWait()
	if f.pending != nil {
		f.pending.parser.Pause()
	}
}

func (f *Feed) resume() {
	if !f.paused {
		return
	}
	f.paused = false
	f.logger.Debug("resumed")
	f.Emit(events.SignalResume, nil)

	req := f.pending
	if req == nil || f.dead() {
		return
	}
	req.parser.Resume()
	if !f.dead() && f.pending == req && f.waitTimer == nil {
		f.wait()
	}
}

// die moves the feed to the absorbing Dead state. A nil err dies silently.
func (f *Feed) die(err error) {
	if f.dead() {
		return
	}
	f.setState(StateDead)

	f.confirmTimer.stop()
	f.waitTimer.stop()
	f.retryTimer.stop()
	f.inactivityTimer.stop()
	f.confirmTimer, f.waitTimer, f.retryTimer, f.inactivityTimer = nil, nil, nil, nil

	if f.pending != nil {
		f.pending.parser.Destroy()
		f.pending = nil
	}
	f.pump.Store(nil)

	if f.cancelRun != nil {
		f.cancelRun()
	}
	if f.client != nil {
		f.disconnect(f.client)
		f.client = nil
	}

	if err == nil {
		f.logger.Debug("feed stopped")
		return
	}
	f.logger.Error("feed died", "error", err)
	f.Emit(events.SignalError, err)
}

// current reports whether an I/O result still belongs to the live run, and
// adopts the client it connected.
func (f *Feed) current(gen uint64, res pollResult) bool {
	if f.dead() || gen != f.gen {
		if res.fresh {
			f.disconnect(res.client)
		}
		return false
	}
	if res.fresh {
		f.client = res.client
	}
	return true
}

func (f *Feed) disconnect(client source.Client) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			f.logger.Warn("failed to disconnect", "error", err)
		}
	}()
}
