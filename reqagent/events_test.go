package reqagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDelivers(t *testing.T) {
	e := NewEmitter("run-1", 8)
	e.Emit(EventRunStart, nil)
	e.Emit(EventToolStart, map[string]any{"tool": "search"})
	e.Close()

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventRunStart, got[0].Kind)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, "search", got[1].Data["tool"])
	assert.False(t, got[1].Timestamp.IsZero())
}

func TestEmitterDropsWhenFull(t *testing.T) {
	e := NewEmitter("run-1", 2)
	for i := 0; i < 5; i++ {
		e.Emit(EventRetry, nil)
	}
	e.Close()

	count := 0
	for range e.Events() {
		count++
	}
	assert.Equal(t, 2, count, "overflow is dropped, never blocks")
}

func TestEmitterCloseIdempotent(t *testing.T) {
	e := NewEmitter("run-1", 1)
	e.Close()
	e.Close()
	e.Emit(EventRunEnd, nil)

	_, open := <-e.Events()
	assert.False(t, open)
}
