package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/follower/internal/follower/events"
	"github.com/syntrixbase/follower/internal/follower/internal/signal"
)

func attached(t *testing.T) (*Checker, *signal.Emitter) {
	t.Helper()
	h := NewChecker(nil)
	src := &signal.Emitter{}
	h.Attach("orders", src)
	return h, src
}

func TestChecker_Attach(t *testing.T) {
	t.Parallel()
	h, _ := attached(t)

	report := h.GetReport()
	require.Len(t, report.Feeds, 1)
	assert.Equal(t, "orders", report.Feeds[0].Name)
	assert.Equal(t, StatusOK, report.Status)
}

func TestChecker_TracksChanges(t *testing.T) {
	t.Parallel()
	h, src := attached(t)

	src.Emit(events.SignalStart, nil)
	src.Emit(events.SignalChange, events.ChangeRecord{Seq: 1})
	src.Emit(events.SignalChange, events.ChangeRecord{Seq: 2})
	src.Emit(events.SignalCatchup, int64(2))

	fh := h.GetReport().Feeds[0]
	assert.Equal(t, int64(2), fh.Changes)
	assert.NotNil(t, fh.LastChange)
	assert.True(t, fh.CaughtUp)
	assert.Equal(t, StatusOK, fh.Status)
}

func TestChecker_DegradedAfterTimeouts(t *testing.T) {
	t.Parallel()
	h, src := attached(t)

	for i := 0; i < DegradedAfter; i++ {
		src.Emit(events.SignalTimeout, events.TimeoutInfo{})
	}
	assert.Equal(t, StatusOK, h.Check())

	src.Emit(events.SignalTimeout, events.TimeoutInfo{})
	assert.Equal(t, StatusDegraded, h.Check())

	src.Emit(events.SignalHeartbeat, nil)
	assert.Equal(t, StatusOK, h.Check())
	assert.Equal(t, DegradedAfter+1, h.GetReport().Feeds[0].Timeouts)
}

func TestChecker_PausedIsDegraded(t *testing.T) {
	t.Parallel()
	h, src := attached(t)

	src.Emit(events.SignalPause, nil)
	assert.Equal(t, StatusDegraded, h.Check())
	src.Emit(events.SignalResume, nil)
	assert.Equal(t, StatusOK, h.Check())
}

func TestChecker_ErrorIsUnhealthyUntilRestart(t *testing.T) {
	t.Parallel()
	h, src := attached(t)

	src.Emit(events.SignalError, errors.New("confirm timeout"))
	report := h.GetReport()
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "confirm timeout", report.Feeds[0].Error)

	src.Emit(events.SignalRestart, nil)
	src.Emit(events.SignalStart, nil)
	report = h.GetReport()
	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, 1, report.Feeds[0].Restarts)
}

func TestChecker_Stop(t *testing.T) {
	t.Parallel()
	h, src := attached(t)
	src.Emit(events.SignalStop, nil)
	assert.True(t, h.GetReport().Feeds[0].Stopped)
}

func TestChecker_ServeHTTP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		signal events.Signal
		value  any
		code   int
		status Status
	}{
		{"ok", events.SignalHeartbeat, nil, http.StatusOK, StatusOK},
		{"degraded", events.SignalPause, nil, http.StatusOK, StatusDegraded},
		{"unhealthy", events.SignalError, errors.New("boom"), http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, src := attached(t)
			src.Emit(tt.signal, tt.value)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var report Report
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
			assert.Equal(t, tt.status, report.Status)
		})
	}
}

func TestStartServer(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	h := NewChecker(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	extra := map[string]http.Handler{
		"/ping": http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	}
	go func() { done <- StartServer(ctx, addr, h, extra) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
