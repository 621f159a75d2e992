package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syntrixbase/follower/internal/follower/events"
)

func TestEmitter_OrderAndPayload(t *testing.T) {
	t.Parallel()
	var e Emitter
	var got []string

	e.On(events.SignalData, func(p any) { got = append(got, "a:"+p.(string)) })
	e.On(events.SignalData, func(p any) { got = append(got, "b:"+p.(string)) })
	e.On(events.SignalEnd, func(any) { got = append(got, "end") })

	assert.True(t, e.Emit(events.SignalData, "x"))
	assert.True(t, e.Emit(events.SignalEnd, nil))
	assert.Equal(t, []string{"a:x", "b:x", "end"}, got)
}

func TestEmitter_NoHandlers(t *testing.T) {
	t.Parallel()
	var e Emitter
	assert.False(t, e.Emit(events.SignalHeartbeat, nil))
	assert.Equal(t, 0, e.Count(events.SignalHeartbeat))

	e.On(events.SignalHeartbeat, nil)
	assert.Equal(t, 0, e.Count(events.SignalHeartbeat), "nil handlers are ignored")
}

func TestEmitter_RegisterDuringEmit(t *testing.T) {
	t.Parallel()
	var e Emitter
	calls := 0
	e.On(events.SignalData, func(any) {
		calls++
		e.On(events.SignalData, func(any) { calls += 10 })
	})

	e.Emit(events.SignalData, nil)
	assert.Equal(t, 1, calls)

	e.Emit(events.SignalData, nil)
	assert.Equal(t, 12, calls)
}
