// Package report replays recorded frames through a fresh engine and
// summarizes the set: rep count, per-rep range of motion and tempo, and how
// often each coaching cue fired.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vasa-develop/dumbbell-form-analyzer/analytics"
	"github.com/vasa-develop/dumbbell-form-analyzer/recorder"
)

// Sample is one replayed frame, timed from the start of the recording.
type Sample struct {
	Offset time.Duration
	Angle  *float64
	Left   *float64
	Right  *float64
	Phase  analytics.Phase
}

// Stats summarizes one series of per-rep measurements.
type Stats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summary is the outcome of replaying a recording.
type Summary struct {
	Frames       int
	PoseFrames   int
	Duration     time.Duration
	RepCount     int
	FinalPhase   analytics.Phase
	Reps         []analytics.RepEvent
	MinAngle     Stats // deepest flexion per rep
	RepDuration  Stats // seconds per rep
	AngleRange   [2]float64
	Feedback     map[string]int
	Samples      []Sample
	SourceCounts map[string]int
}

// DetectionRate is the fraction of frames that passed the confidence gate.
func (s *Summary) DetectionRate() float64 {
	if s.Frames == 0 {
		return 0
	}
	return float64(s.PoseFrames) / float64(s.Frames)
}

// Replay runs records through engine from the initial state, using the
// recorded receive times as the clock.
func Replay(engine *analytics.Engine, records []recorder.Record) *Summary {
	sum := &Summary{
		FinalPhase:   analytics.PhaseDown,
		Feedback:     make(map[string]int),
		SourceCounts: make(map[string]int),
	}
	if len(records) == 0 {
		return sum
	}

	var (
		state   = engine.Reset()
		tracker analytics.RepTracker
		angles  []float64
		start   = records[0].At
	)
	for _, rec := range records {
		var res analytics.Result
		state, res = engine.Analyze(state, rec.Keypoints, rec.At)

		sum.Frames++
		if rec.Source != "" {
			sum.SourceCounts[rec.Source]++
		}
		sum.Samples = append(sum.Samples, Sample{
			Offset: rec.At.Sub(start),
			Angle:  res.Angle,
			Left:   res.LeftAngle,
			Right:  res.RightAngle,
			Phase:  res.Phase,
		})

		if res.PoseDetected() {
			sum.PoseFrames++
			angles = append(angles, *res.Angle)
		}
		for _, msg := range res.Feedback {
			sum.Feedback[msg]++
		}
		if ev, ok := tracker.Observe(res, rec.At); ok {
			sum.Reps = append(sum.Reps, ev)
		}
	}

	sum.Duration = records[len(records)-1].At.Sub(start)
	sum.RepCount = state.RepCount
	sum.FinalPhase = state.Phase

	if len(angles) > 0 {
		sum.AngleRange = [2]float64{floats.Min(angles), floats.Max(angles)}
	}

	mins := make([]float64, len(sum.Reps))
	durations := make([]float64, len(sum.Reps))
	for i, r := range sum.Reps {
		mins[i] = r.MinAngle
		durations[i] = r.DurationSec
	}
	sum.MinAngle = describe(mins)
	sum.RepDuration = describe(durations)

	return sum
}

func describe(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	s := Stats{
		Mean: stat.Mean(x, nil),
		Min:  floats.Min(x),
		Max:  floats.Max(x),
	}
	if len(x) > 1 {
		s.StdDev = stat.StdDev(x, nil)
	}
	return s
}

// WriteText prints a human-readable summary.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Frames:          %d over %.1fs\n", s.Frames, s.Duration.Seconds())
	fmt.Fprintf(&b, "Pose detected:   %d/%d (%.1f%%)\n", s.PoseFrames, s.Frames, s.DetectionRate()*100)
	fmt.Fprintf(&b, "Reps:            %d\n", s.RepCount)
	fmt.Fprintf(&b, "Final phase:     %s\n", s.FinalPhase)
	if s.PoseFrames > 0 {
		fmt.Fprintf(&b, "Elbow angle:     %.1f° .. %.1f°\n", s.AngleRange[0], s.AngleRange[1])
	}

	if len(s.Reps) > 0 {
		b.WriteString("\n  rep  depth    tempo\n")
		for _, r := range s.Reps {
			fmt.Fprintf(&b, "  %3d  %5.1f°  %5.2fs\n", r.Count, r.MinAngle, r.DurationSec)
		}
		fmt.Fprintf(&b, "\nDepth:           mean %.1f° sd %.1f°\n", s.MinAngle.Mean, s.MinAngle.StdDev)
		fmt.Fprintf(&b, "Tempo:           mean %.2fs sd %.2fs\n", s.RepDuration.Mean, s.RepDuration.StdDev)
	}

	if len(s.Feedback) > 0 {
		b.WriteString("\nFeedback:\n")
		for _, kv := range sortedCounts(s.Feedback) {
			fmt.Fprintf(&b, "  %4d  %s\n", kv.n, kv.msg)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

type count struct {
	msg string
	n   int
}

func sortedCounts(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for msg, n := range m {
		out = append(out, count{msg, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].msg < out[j].msg
	})
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
