package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	b := New(0, 0)
	assert.Equal(t, time.Second, b.Initial())
	assert.Equal(t, time.Second, b.Max())
	assert.Equal(t, time.Second, b.Current())
}

func TestNext_DoublesAndCaps(t *testing.T) {
	t.Parallel()
	b := New(time.Second, 10*time.Second)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "retry %d", i)
	}
}

func TestNext_Bounds(t *testing.T) {
	t.Parallel()
	initial := 250 * time.Millisecond
	max := 7 * time.Second
	b := New(initial, max)

	prev := time.Duration(0)
	for i := 0; i < 64; i++ {
		d := b.Next()
		assert.GreaterOrEqual(t, d, initial)
		assert.LessOrEqual(t, d, max)
		assert.GreaterOrEqual(t, d, prev, "delays must not decrease")
		assert.GreaterOrEqual(t, b.Current(), initial)
		assert.LessOrEqual(t, b.Current(), max)
		prev = d
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	b := New(time.Second, time.Hour)
	b.Next()
	b.Next()
	b.Next()
	assert.Equal(t, 8*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, time.Second, b.Next())
}

func TestNext_NoOverflowNearMax(t *testing.T) {
	t.Parallel()
	max := time.Duration(1<<62) + 1
	b := New(time.Duration(1<<61), max)
	b.Next()
	b.Next()
	assert.Equal(t, max, b.Current())
}
