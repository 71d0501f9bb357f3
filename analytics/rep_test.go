package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepTracker(t *testing.T) {
	e := newTestEngine()
	var tracker RepTracker
	state := InitialState()

	angles := []float64{170, 120, 70, 45, 60, 150, 110, 80, 150}
	var events []RepEvent
	for i, a := range angles {
		now := t0.Add(time.Duration(i) * 500 * time.Millisecond)
		var r Result
		state, r = e.Analyze(state, uniform(a), now)
		if ev, ok := tracker.Observe(r, now); ok {
			events = append(events, ev)
		}
	}

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Count)
	assert.InDelta(t, 45, events[0].MinAngle, 1e-6)
	assert.InDelta(t, 2.5, events[0].DurationSec, 1e-9)
	assert.Equal(t, 2, events[1].Count)
	assert.InDelta(t, 80, events[1].MinAngle, 1e-6)
	assert.InDelta(t, 1.5, events[1].DurationSec, 1e-9)
}

func TestRepTracker_IgnoresGatedResults(t *testing.T) {
	var tracker RepTracker
	_, ok := tracker.Observe(Result{Feedback: []string{PositionMessage}}, t0)
	assert.False(t, ok)
	assert.False(t, tracker.seen)

	tracker.Observe(Result{Angle: ptr(100)}, t0)
	tracker.Reset()
	assert.Equal(t, RepTracker{}, tracker)
}

func ptr(v float64) *float64 { return &v }
