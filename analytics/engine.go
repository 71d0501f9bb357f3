package analytics

import (
	"math"
	"time"
)

// PositionMessage is the only feedback returned for a gated frame.
const PositionMessage = "Position yourself so your arms are clearly visible"

// SessionState is everything the engine remembers between frames. Engine
// methods take and return it by value; nothing else mutates it.
type SessionState struct {
	Phase          Phase
	RepCount       int
	LastAngle      *float64  // primary angle of the last accepted frame
	LastAcceptedAt time.Time // when LastAngle was measured
	Emitted        Throttle
}

// InitialState is the state of a fresh session.
func InitialState() SessionState {
	return SessionState{Phase: PhaseDown}
}

// IsInitial reports whether s equals the state of a fresh session.
func (s SessionState) IsInitial() bool {
	return s.Phase == PhaseDown && s.RepCount == 0 && s.LastAngle == nil &&
		s.LastAcceptedAt.IsZero() && s.Emitted.Empty()
}

// Result is the outcome of analyzing one frame. Angles are nil when the frame
// was gated.
type Result struct {
	Angle      *float64 `json:"angle"`
	LeftAngle  *float64 `json:"left_angle,omitempty"`
	RightAngle *float64 `json:"right_angle,omitempty"`
	RepCount   int      `json:"repCount"`
	Phase      Phase    `json:"phase"`
	Feedback   []string `json:"feedback"`
}

// PoseDetected reports whether the frame passed the confidence gate.
func (r Result) PoseDetected() bool {
	return r.Angle != nil
}

// Speech returns the feedback line a voice collaborator should say, which is
// the most recent one.
func (r Result) Speech() (string, bool) {
	if len(r.Feedback) == 0 {
		return "", false
	}
	return r.Feedback[len(r.Feedback)-1], true
}

// Engine turns arm keypoints into curl phase, rep count and feedback. It holds
// only configuration and is safe to share.
type Engine struct {
	th       Thresholds
	topology Topology
	gate     ConfidenceGate
	tracker  PhaseTracker
}

// NewEngine builds an engine for the given tuning and skeleton layout.
func NewEngine(th Thresholds, topology Topology) *Engine {
	return &Engine{
		th:       th,
		topology: topology,
		gate:     ConfidenceGate{MinConfidence: th.MinConfidence},
		tracker:  PhaseTracker{UpAngle: th.UpAngle, DownAngle: th.DownAngle},
	}
}

// Thresholds returns the engine tuning.
func (e *Engine) Thresholds() Thresholds {
	return e.th
}

// Topology returns the skeleton layout the engine reads.
func (e *Engine) Topology() Topology {
	return e.topology
}

// Reset returns the state of a fresh session.
func (e *Engine) Reset() SessionState {
	return InitialState()
}

// Analyze evaluates one frame observed at now against state and returns the
// next state with the frame's result. A gated frame returns state unchanged.
func (e *Engine) Analyze(state SessionState, s Skeleton, now time.Time) (SessionState, Result) {
	arms, ok := e.gate.Accept(e.topology, s)
	if !ok {
		return state, Result{
			RepCount: state.RepCount,
			Phase:    state.Phase,
			Feedback: []string{PositionMessage},
		}
	}

	left := JointAngle(arms.LeftShoulder.Point(), arms.LeftElbow.Point(), arms.LeftWrist.Point())
	right := JointAngle(arms.RightShoulder.Point(), arms.RightElbow.Point(), arms.RightWrist.Point())
	primary := math.Min(left, right)

	next := state
	feedback := make([]string, 0, 2)

	if e.hasBaseline(state, now) {
		phase, completed := e.tracker.Step(state.Phase, primary)
		next.Phase = phase
		if completed {
			next.RepCount++
			feedback = append(feedback, repCompletedMessage(next.RepCount))
		}
	}
	next.LastAngle = &primary
	next.LastAcceptedAt = now

	for c := Category(0); c < numCategories; c++ {
		if e.triggered(c, primary, next.Phase, arms) && next.Emitted.Allow(c, now, e.th.Cooldown) {
			feedback = append(feedback, c.Message())
		}
	}

	angle := primary
	return next, Result{
		Angle:      &angle,
		LeftAngle:  &left,
		RightAngle: &right,
		RepCount:   next.RepCount,
		Phase:      next.Phase,
		Feedback:   feedback,
	}
}

// hasBaseline reports whether a previous accepted frame is recent enough to
// drive a transition.
func (e *Engine) hasBaseline(state SessionState, now time.Time) bool {
	if state.LastAngle == nil {
		return false
	}
	if e.th.BaselineTimeout <= 0 || state.LastAcceptedAt.IsZero() {
		return true
	}
	return now.Sub(state.LastAcceptedAt) <= e.th.BaselineTimeout
}

func (e *Engine) triggered(c Category, primary float64, phase Phase, arms Arms) bool {
	switch c {
	case CategoryTopSqueeze:
		return primary < e.th.TopSqueezeAngle
	case CategoryGoodCurl:
		return primary < e.th.GoodCurlAngle && phase == PhaseUp
	case CategoryStartingPosition:
		return primary > e.th.StartingAngle && phase == PhaseDown
	case CategoryShoulderStability:
		return math.Abs(arms.LeftShoulder.Y-arms.RightShoulder.Y) > e.th.ShoulderTilt
	case CategoryElbowPosition:
		return math.Abs(arms.LeftElbow.X-arms.LeftShoulder.X) > e.th.ElbowDrift ||
			math.Abs(arms.RightElbow.X-arms.RightShoulder.X) > e.th.ElbowDrift
	default:
		return false
	}
}
