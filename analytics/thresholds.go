package analytics

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("invalid analysis thresholds")

// Thresholds tunes the form analysis. Angles are in degrees, distances in
// normalized image units.
type Thresholds struct {
	MinConfidence   float64       // per-keypoint detector score required
	UpAngle         float64       // Down→Up below this primary angle
	DownAngle       float64       // Up→Down above this primary angle (counts a rep)
	TopSqueezeAngle float64       // full-range praise below this
	GoodCurlAngle   float64       // "squeeze more" below this while Up
	StartingAngle   float64       // starting-position praise above this while Down
	ShoulderTilt    float64       // max |leftShoulder.y - rightShoulder.y|
	ElbowDrift      float64       // max |elbow.x - shoulder.x| per arm
	Cooldown        time.Duration // minimum gap between two messages of one category
	BaselineTimeout time.Duration // opt-in: baseline is stale after this long without an accepted frame; 0 disables
}

// DefaultThresholds returns the stock curl tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:   0.3,
		UpAngle:         90,
		DownAngle:       140,
		TopSqueezeAngle: 30,
		GoodCurlAngle:   60,
		StartingAngle:   160,
		ShoulderTilt:    0.05,
		ElbowDrift:      0.15,
		Cooldown:        3 * time.Second,
		BaselineTimeout: 0,
	}
}

// Validate checks that the thresholds describe a usable state machine.
func (t Thresholds) Validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be between 0 and 1, got %g", ErrInvalidThresholds, t.MinConfidence)
	}
	if t.UpAngle <= 0 || t.DownAngle >= 180 {
		return fmt.Errorf("%w: up/down angles must lie inside (0, 180), got %g/%g", ErrInvalidThresholds, t.UpAngle, t.DownAngle)
	}
	if t.UpAngle >= t.DownAngle {
		return fmt.Errorf("%w: up_angle (%g) must be below down_angle (%g)", ErrInvalidThresholds, t.UpAngle, t.DownAngle)
	}
	if t.ShoulderTilt < 0 || t.ElbowDrift < 0 {
		return fmt.Errorf("%w: shoulder_tilt and elbow_drift must be non-negative", ErrInvalidThresholds)
	}
	if t.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be positive, got %s", ErrInvalidThresholds, t.Cooldown)
	}
	if t.BaselineTimeout < 0 {
		return fmt.Errorf("%w: baseline_timeout must be non-negative, got %s", ErrInvalidThresholds, t.BaselineTimeout)
	}
	return nil
}
