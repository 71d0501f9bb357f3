// Package analytics provides dumbbell curl form analysis: elbow angles, rep
// counting with hysteresis, and throttled coaching feedback.
package analytics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vasa-develop/dumbbell-form-analyzer/timeutil"
)

// ─── Constants ───────────────────────────────────────────────────────────────

const maxRecentReps = 50 // reps kept in chart history

// ─── Types ───────────────────────────────────────────────────────────────────

// SessionSnapshot is the full state broadcast to WebSocket clients.
type SessionSnapshot struct {
	SessionID   string     `json:"session_id"`
	Active      bool       `json:"active"`
	Paused      bool       `json:"paused"` // true while the keypoint source is disconnected
	ElapsedSec  float64    `json:"elapsed_sec"`
	RepCount    int        `json:"repCount"`
	Phase       Phase      `json:"phase"`
	Frames      int        `json:"frames"`       // frames that passed the confidence gate
	GatedFrames int        `json:"gated_frames"` // frames rejected by the gate
	RepsPerMin  float64    `json:"rpm"`
	RecentReps  []RepEvent `json:"recent_reps"`
	Last        *Result    `json:"last,omitempty"`
}

// StateHandler is called when session state changes.
type StateHandler func(snap *SessionSnapshot)

// ─── Analyzer ────────────────────────────────────────────────────────────────

// Analyzer owns the single live session and serializes access to the engine.
type Analyzer struct {
	mu        sync.RWMutex
	engine    *Engine
	clock     timeutil.Clock
	state     SessionState
	reps      RepTracker
	recent    []RepEvent
	last      *Result
	sessionID string
	active    bool
	paused    bool
	connected bool
	startedAt time.Time
	frames    int
	gated     int
	onState   StateHandler
	log       *logrus.Entry
}

// NewAnalyzer creates an Analyzer with no active session.
func NewAnalyzer(engine *Engine, clock timeutil.Clock) *Analyzer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Analyzer{
		engine:    engine,
		clock:     clock,
		state:     InitialState(),
		recent:    make([]RepEvent, 0, maxRecentReps),
		sessionID: uuid.NewString(),
		log:       logrus.WithField("component", "analyzer"),
	}
}

// SetStateHandler sets the callback for state changes.
func (a *Analyzer) SetStateHandler(handler StateHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

// SetThresholds swaps the engine tuning. Session state is kept.
func (a *Analyzer) SetThresholds(th Thresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine = NewEngine(th, a.engine.Topology())
	a.log.WithFields(logrus.Fields{
		"up_angle":   th.UpAngle,
		"down_angle": th.DownAngle,
		"cooldown":   th.Cooldown,
	}).Info("thresholds updated")
}

// Thresholds returns the current engine tuning.
func (a *Analyzer) Thresholds() Thresholds {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Thresholds()
}

// Topology returns the skeleton layout frames are read with.
func (a *Analyzer) Topology() Topology {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.Topology()
}

// StartSession begins a new training session.
func (a *Analyzer) StartSession() {
	a.mu.Lock()
	a.resetLocked()
	a.active = true
	a.paused = false
	a.startedAt = a.clock.Now()
	a.log.WithField("session", a.sessionID).Info("session started")
	a.unlockAndBroadcast()
}

// StopSession stops analyzing frames but keeps the counts for display.
func (a *Analyzer) StopSession() {
	a.mu.Lock()
	if a.active {
		a.active = false
		a.log.WithFields(logrus.Fields{"session": a.sessionID, "reps": a.state.RepCount}).Info("session stopped")
	}
	a.unlockAndBroadcast()
}

// ResetSession returns the session to its initial state. Whether frames are
// being analyzed is unchanged. Calling it twice has the same effect as once.
func (a *Analyzer) ResetSession() {
	a.mu.Lock()
	a.resetLocked()
	if a.active {
		a.startedAt = a.clock.Now()
	}
	a.log.WithField("session", a.sessionID).Info("session reset")
	a.unlockAndBroadcast()
}

// resetLocked must be called with a.mu held.
func (a *Analyzer) resetLocked() {
	a.state = a.engine.Reset()
	a.reps.Reset()
	a.recent = make([]RepEvent, 0, maxRecentReps)
	a.last = nil
	a.frames = 0
	a.gated = 0
	a.sessionID = uuid.NewString()
}

// PauseSession pauses the session (e.g., when the camera disconnects).
func (a *Analyzer) PauseSession() {
	a.mu.Lock()
	if a.active && !a.paused {
		a.paused = true
		a.unlockAndBroadcast()
		return
	}
	a.mu.Unlock()
}

// ResumeSession resumes a paused session.
func (a *Analyzer) ResumeSession() {
	a.mu.Lock()
	if a.active && a.paused {
		a.paused = false
		a.unlockAndBroadcast()
		return
	}
	a.mu.Unlock()
}

// SetSourceConnected records the keypoint source link state.
func (a *Analyzer) SetSourceConnected(connected bool) {
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = connected

	// Pause only on a connected→disconnected transition during an active session.
	if a.active && wasConnected && !connected {
		a.paused = true
	}
	// Resume automatically when the source comes back.
	if a.active && a.paused && connected {
		a.paused = false
	}
	a.unlockAndBroadcast()
}

// IsActive returns whether a session is currently active.
func (a *Analyzer) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// ProcessFrame analyzes one skeleton. ok is false when no session is running
// and the frame was ignored.
func (a *Analyzer) ProcessFrame(s Skeleton) (res Result, ok bool) {
	a.mu.Lock()

	if !a.active || a.paused {
		a.mu.Unlock()
		return Result{}, false
	}

	now := a.clock.Now()
	prevReps := a.state.RepCount
	a.state, res = a.engine.Analyze(a.state, s, now)

	if res.PoseDetected() {
		a.frames++
		a.log.WithFields(logrus.Fields{
			"angle": *res.Angle,
			"phase": res.Phase,
		}).Debug("frame analyzed")
	} else {
		a.gated++
		a.log.Debug("frame gated")
	}

	if ev, done := a.reps.Observe(res, now); done {
		a.recent = append(a.recent, ev)
		if len(a.recent) > maxRecentReps {
			a.recent = a.recent[1:]
		}
	}
	if res.RepCount > prevReps {
		a.log.WithFields(logrus.Fields{
			"session": a.sessionID,
			"rep":     res.RepCount,
		}).Info("rep completed")
	}

	last := res.clone()
	a.last = &last

	a.unlockAndBroadcast()
	return res, true
}

// BroadcastTick sends periodic state updates (elapsed time).
func (a *Analyzer) BroadcastTick() {
	a.mu.Lock()
	if a.active {
		a.unlockAndBroadcast()
		return
	}
	a.mu.Unlock()
}

// GetState returns the current session snapshot.
func (a *Analyzer) GetState() *SessionSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buildStateLocked()
}

// State returns a copy of the engine state.
func (a *Analyzer) State() SessionState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// buildStateLocked creates a SessionSnapshot.
// Must be called with a.mu held (read or write).
func (a *Analyzer) buildStateLocked() *SessionSnapshot {
	var elapsed float64
	if a.active {
		elapsed = a.clock.Since(a.startedAt).Seconds()
	}

	snap := &SessionSnapshot{
		SessionID:   a.sessionID,
		Active:      a.active,
		Paused:      a.paused,
		ElapsedSec:  elapsed,
		RepCount:    a.state.RepCount,
		Phase:       a.state.Phase,
		Frames:      a.frames,
		GatedFrames: a.gated,
		RecentReps:  append([]RepEvent(nil), a.recent...),
	}
	if snap.RecentReps == nil {
		snap.RecentReps = []RepEvent{}
	}
	if elapsed > 0 {
		snap.RepsPerMin = float64(a.state.RepCount) / (elapsed / 60)
	}
	if a.last != nil {
		last := a.last.clone()
		snap.Last = &last
	}
	return snap
}

// unlockAndBroadcast snapshots the state, releases a.mu and then hands the
// snapshot to the handler. Must be called with a.mu held for writing.
func (a *Analyzer) unlockAndBroadcast() {
	snap := a.buildStateLocked()
	handler := a.onState
	a.mu.Unlock()
	if handler != nil {
		handler(snap)
	}
}

func (r Result) clone() Result {
	out := r
	out.Angle = clonePtr(r.Angle)
	out.LeftAngle = clonePtr(r.LeftAngle)
	out.RightAngle = clonePtr(r.RightAngle)
	out.Feedback = append(make([]string, 0, len(r.Feedback)), r.Feedback...)
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
