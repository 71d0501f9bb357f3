package analytics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasa-develop/dumbbell-form-analyzer/timeutil"
)

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []*SessionSnapshot
}

func (r *snapshotRecorder) handle(s *SessionSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) last() *SessionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func newTestAnalyzer() (*Analyzer, *timeutil.MockClock, *snapshotRecorder) {
	clock := timeutil.NewMockClock(t0)
	a := NewAnalyzer(newTestEngine(), clock)
	rec := &snapshotRecorder{}
	a.SetStateHandler(rec.handle)
	return a, clock, rec
}

func feed(a *Analyzer, clock *timeutil.MockClock, frames ...Skeleton) []Result {
	out := make([]Result, 0, len(frames))
	for _, f := range frames {
		r, _ := a.ProcessFrame(f)
		out = append(out, r)
		clock.Advance(frameGap)
	}
	return out
}

func TestAnalyzer_IgnoresFramesWithoutSession(t *testing.T) {
	a, _, rec := newTestAnalyzer()

	_, ok := a.ProcessFrame(uniform(170))
	assert.False(t, ok)
	assert.True(t, a.State().IsInitial())
	assert.Nil(t, rec.last())
}

func TestAnalyzer_SessionLifecycle(t *testing.T) {
	a, clock, rec := newTestAnalyzer()

	a.StartSession()
	require.True(t, a.IsActive())
	first := rec.last()
	require.NotNil(t, first)
	assert.True(t, first.Active)
	assert.NotEmpty(t, first.SessionID)

	results := feed(a, clock, uniform(170), uniform(80), uniform(150), withConfidence(uniform(150), 0.1))
	assert.Equal(t, 1, results[2].RepCount)
	assert.Equal(t, []string{PositionMessage}, results[3].Feedback)

	snap := a.GetState()
	assert.Equal(t, 1, snap.RepCount)
	assert.Equal(t, PhaseDown, snap.Phase)
	assert.Equal(t, 3, snap.Frames)
	assert.Equal(t, 1, snap.GatedFrames)
	assert.InDelta(t, 0.4, snap.ElapsedSec, 1e-9)
	require.Len(t, snap.RecentReps, 1)
	assert.Equal(t, 1, snap.RecentReps[0].Count)
	assert.InDelta(t, 80, snap.RecentReps[0].MinAngle, 1e-6)
	require.NotNil(t, snap.Last)
	assert.Nil(t, snap.Last.Angle)

	// The handler saw every frame.
	assert.Equal(t, snap.Frames+snap.GatedFrames, len(rec.snaps)-1)

	a.StopSession()
	assert.False(t, a.IsActive())
	_, ok := a.ProcessFrame(uniform(80))
	assert.False(t, ok)
	assert.Equal(t, 1, a.GetState().RepCount, "stop keeps the counts")
}

func TestAnalyzer_ResetIsIdempotent(t *testing.T) {
	a, clock, _ := newTestAnalyzer()
	a.StartSession()
	feed(a, clock, withShoulderTilt(uniform(170), 0.1), uniform(80), uniform(150))
	require.False(t, a.State().IsInitial())

	a.ResetSession()
	first := a.GetState()
	assert.True(t, a.State().IsInitial())
	assert.True(t, a.IsActive(), "reset keeps analyzing")

	a.ResetSession()
	assert.True(t, a.State().IsInitial())
	second := a.GetState()
	assert.Equal(t, first.RepCount, second.RepCount)
	assert.Empty(t, second.RecentReps)
	assert.Nil(t, second.Last)

	// Cooldowns were cleared too: the warning fires again immediately.
	r, ok := a.ProcessFrame(withShoulderTilt(uniform(120), 0.1))
	require.True(t, ok)
	assert.Contains(t, r.Feedback, CategoryShoulderStability.Message())
}

func TestAnalyzer_SourceDisconnectPauses(t *testing.T) {
	a, clock, rec := newTestAnalyzer()
	a.StartSession()
	a.SetSourceConnected(true)
	feed(a, clock, uniform(170))

	a.SetSourceConnected(false)
	assert.True(t, rec.last().Paused)
	_, ok := a.ProcessFrame(uniform(80))
	assert.False(t, ok)

	a.SetSourceConnected(true)
	assert.False(t, rec.last().Paused)
	_, ok = a.ProcessFrame(uniform(80))
	assert.True(t, ok)
}

func TestAnalyzer_PauseResume(t *testing.T) {
	a, _, _ := newTestAnalyzer()

	a.PauseSession()
	assert.False(t, a.GetState().Paused, "nothing to pause without a session")

	a.StartSession()
	a.PauseSession()
	assert.True(t, a.GetState().Paused)
	a.ResumeSession()
	assert.False(t, a.GetState().Paused)
}

func TestAnalyzer_SetThresholds(t *testing.T) {
	a, clock, _ := newTestAnalyzer()
	a.StartSession()
	feed(a, clock, uniform(170))

	th := DefaultThresholds()
	th.UpAngle = 120
	a.SetThresholds(th)
	assert.Equal(t, 120.0, a.Thresholds().UpAngle)

	r, _ := a.ProcessFrame(uniform(110))
	assert.Equal(t, PhaseUp, r.Phase, "new threshold applies to the running session")
}

func TestAnalyzer_SnapshotIsolation(t *testing.T) {
	a, clock, _ := newTestAnalyzer()
	a.StartSession()
	feed(a, clock, uniform(170))

	snap := a.GetState()
	require.NotNil(t, snap.Last)
	snap.Last.Feedback[0] = "mutated"
	*snap.Last.Angle = -1

	again := a.GetState()
	assert.Equal(t, CategoryStartingPosition.Message(), again.Last.Feedback[0])
	assert.InDelta(t, 170, *again.Last.Angle, 1e-6)
}

func TestAnalyzer_BroadcastTick(t *testing.T) {
	a, clock, rec := newTestAnalyzer()

	a.BroadcastTick()
	assert.Nil(t, rec.last(), "no tick without a session")

	a.StartSession()
	clock.Advance(2 * time.Second)
	a.BroadcastTick()
	assert.InDelta(t, 2.0, rec.last().ElapsedSec, 1e-9)
}
