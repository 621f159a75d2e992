package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
	"github.com/syntrixbase/follower/pkg/model"
)

func TestAttach(t *testing.T) {
	t.Parallel()
	name := "metrics-attach"
	src := &signal.Emitter{}
	Attach(name, src)

	src.Emit(events.SignalStart, nil)
	src.Emit(events.SignalResponse, []model.Document{{"_id": "a"}})
	src.Emit(events.SignalResponse, nil)
	src.Emit(events.SignalChange, events.ChangeRecord{Seq: 1})
	src.Emit(events.SignalChange, events.ChangeRecord{Seq: 2})
	src.Emit(events.SignalHeartbeat, nil)
	src.Emit(events.SignalTimeout, events.TimeoutInfo{Elapsed: 125 * time.Millisecond})
	src.Emit(events.SignalCatchup, int64(2))
	src.Emit(events.SignalPause, nil)
	src.Emit(events.SignalRestart, nil)
	src.Emit(events.SignalError, fmt.Errorf("%w: confirm timeout", model.ErrTimeout))

	assert.Equal(t, 2.0, testutil.ToFloat64(ChangesDelivered.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Responses.WithLabelValues(name, "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Responses.WithLabelValues(name, "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Heartbeats.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Timeouts.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(CaughtUp.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Paused.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Restarts.WithLabelValues(name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(Errors.WithLabelValues(name, "timeout")))

	src.Emit(events.SignalResume, nil)
	src.Emit(events.SignalStart, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(Paused.WithLabelValues(name)))
	assert.Equal(t, 0.0, testutil.ToFloat64(CaughtUp.WithLabelValues(name)))
}

func TestKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{model.ErrConfig, "config"},
		{fmt.Errorf("%w: x", model.ErrTimeout), "timeout"},
		{fmt.Errorf("%w: x", model.ErrFormat), "format"},
		{fmt.Errorf("%w: x", model.ErrSource), "source"},
		{fmt.Errorf("%w: x", model.ErrInternal), "internal"},
		{fmt.Errorf("%w: x", context.Canceled), "canceled"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}
