package analytics

import "time"

// RepEvent records a completed repetition.
type RepEvent struct {
	Count       int       `json:"count"`
	MinAngle    float64   `json:"min_angle"`    // deepest primary angle reached, degrees
	DurationSec float64   `json:"duration_sec"` // since the previous rep ended
	At          time.Time `json:"at"`
}

// RepTracker derives range of motion and tempo per repetition from a stream
// of results.
type RepTracker struct {
	seen      bool
	start     time.Time
	deepest   float64
	lastCount int
}

// Observe feeds one result observed at now. It returns the finished rep when
// r completed one.
func (t *RepTracker) Observe(r Result, now time.Time) (RepEvent, bool) {
	if !r.PoseDetected() {
		return RepEvent{}, false
	}
	angle := *r.Angle

	if !t.seen {
		t.seen = true
		t.start = now
		t.deepest = angle
		t.lastCount = r.RepCount
		return RepEvent{}, false
	}

	if r.RepCount > t.lastCount {
		ev := RepEvent{
			Count:       r.RepCount,
			MinAngle:    t.deepest,
			DurationSec: now.Sub(t.start).Seconds(),
			At:          now,
		}
		t.lastCount = r.RepCount
		t.start = now
		t.deepest = angle
		return ev, true
	}

	if angle < t.deepest {
		t.deepest = angle
	}
	return RepEvent{}, false
}

// Reset forgets all progress.
func (t *RepTracker) Reset() {
	*t = RepTracker{}
}
