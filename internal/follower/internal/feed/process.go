package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/changes"
	"github.com/syntrixbase/follower/internal/source"
	"github.com/syntrixbase/follower/pkg/model"
)

// request is the pending request: one response being consumed.
type request struct {
	id         string
	parser     *changes.Parser
	pump       *changes.Pump
	createdAt  time.Time
	activityAt time.Time
}

func newRequest(parser *changes.Parser, pump *changes.Pump, now time.Time) *request {
	return &request{
		id:         uuid.NewString(),
		parser:     parser,
		pump:       pump,
		createdAt:  now,
		activityAt: now,
	}
}

type pollResult struct {
	client   source.Client
	fresh    bool
	counters source.Counters
	updated  bool
	docs     []model.Document
	err      error
}

// poll reads the collection counters and, when they moved or force is set,
// the ordered snapshot. It runs off the loop.
func (f *Feed) poll(ctx context.Context, client source.Client, prev *source.Counters, force bool) pollResult {
	res := pollResult{client: client}
	if client == nil {
		c, err := f.connector.Connect(ctx, f.cfg.URL)
		if err != nil {
			res.err = sourceError("connect", err)
			return res
		}
		res.client, res.fresh = c, true
	}

	coll := res.client.Collection(f.cfg.Database, f.cfg.Collection)
	counters, err := coll.Counters(ctx)
	if err != nil {
		res.err = sourceError("counters", err)
		return res
	}
	res.counters = counters
	res.updated = checkIfUpdated(prev, counters) || force
	if !res.updated {
		return res
	}

	docs, err := coll.Snapshot(ctx)
	if err != nil {
		res.err = sourceError("snapshot", err)
		return res
	}
	res.docs = docs
	return res
}

// sourceError classifies a data source failure. Fatal errors keep their class;
// everything else is a retryable ErrSource.
func sourceError(op string, err error) error {
	if model.IsFatal(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrSource, op, model.WrapError(err))
}

// checkIfUpdated reports whether the counters differ from the last observed
// ones. Updates that leave the counters untouched go unnoticed.
func checkIfUpdated(prev *source.Counters, cur source.Counters) bool {
	return prev == nil || *prev != cur
}

// encodeSnapshot frames docs as a response body, numbering them from 1.
func encodeSnapshot(feed events.Discipline, docs []model.Document) ([]byte, error) {
	records := make([]events.ChangeRecord, 0, len(docs))
	for i, doc := range docs {
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		records = append(records, events.ChangeRecord{
			Seq: int64(i + 1),
			ID:  doc.GetID(),
			Doc: raw,
		})
	}
	return changes.Encode(feed, records)
}

func (f *Feed) onChange(rec events.ChangeRecord) {
	if f.cfg.Filter == nil || f.passes(rec) {
		f.onGoodChange(rec)
		return
	}
	f.logger.Debug("change filtered out", "seq", rec.Seq, "doc_id", rec.ID)
	f.checkForCatchup(rec.Seq)
}

// passes runs the filter on private copies of the document and the request.
// An error or a panic rejects the change.
func (f *Feed) passes(rec events.ChangeRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("filter panicked", "seq", rec.Seq, "doc_id", rec.ID, "panic", r)
			ok = false
		}
	}()

	var doc model.Document
	if rec.HasDoc() {
		if err := json.Unmarshal(rec.Doc, &doc); err != nil {
			f.logger.Warn("undecodable document", "seq", rec.Seq, "error", err)
			return false
		}
	}
	var req map[string]interface{}
	if err := json.Unmarshal(f.reqJSON, &req); err != nil {
		f.logger.Warn("undecodable request", "error", err)
		return false
	}

	pass, err := f.cfg.Filter(doc, req)
	if err != nil {
		f.logger.Debug("filter failed", "seq", rec.Seq, "doc_id", rec.ID, "error", err)
		return false
	}
	return pass
}

func (f *Feed) onGoodChange(rec events.ChangeRecord) {
	if f.cfg.Inactivity > 0 {
		if f.inactivityTimer == nil {
			f.die(fmt.Errorf("%w: inactivity timer not armed", model.ErrInternal))
			return
		}
		f.inactivityTimer.stop()
		f.inactivityTimer = f.schedule(f.cfg.Inactivity, f.onInactivity)
	}

	f.changeAt = f.clock.Now()
	gen := f.gen
	f.Emit(events.SignalChange, rec)
	f.applyControls()
	if f.dead() || gen != f.gen {
		return
	}
	f.checkForCatchup(rec.Seq)
}

// checkForCatchup emits catchup once, for the first record at or past the
// high-water mark captured at confirmation.
func (f *Feed) checkForCatchup(seq int64) {
	if f.caughtUp {
		return
	}
	if seq <= 0 {
		f.die(fmt.Errorf("%w: change record without a sequence", model.ErrInternal))
		return
	}
	if seq < f.hwm {
		return
	}
	f.caughtUp = true
	f.logger.Info("caught up", "seq", seq, "high_water_mark", f.hwm)
	f.Emit(events.SignalCatchup, seq)
}
