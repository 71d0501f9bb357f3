package analytics

import "fmt"

// Phase is the direction state of the curl.
type Phase string

const (
	PhaseDown Phase = "down" // arm extended
	PhaseUp   Phase = "up"   // arm flexed
)

// PhaseTracker advances the Down/Up state machine. The gap between UpAngle and
// DownAngle is a dead zone where no transition happens.
type PhaseTracker struct {
	UpAngle   float64
	DownAngle float64
}

// Step returns the next phase for the given primary angle. completed is true
// on the Up→Down transition, which finishes one repetition.
func (p PhaseTracker) Step(current Phase, primary float64) (next Phase, completed bool) {
	switch current {
	case PhaseUp:
		if primary > p.DownAngle {
			return PhaseDown, true
		}
		return PhaseUp, false
	default:
		if primary < p.UpAngle {
			return PhaseUp, false
		}
		return PhaseDown, false
	}
}

func repCompletedMessage(n int) string {
	return fmt.Sprintf("Rep %d completed!", n)
}
