package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Keypoint is a single body-joint estimate from the pose detector.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON accepts "score" (TF.js pose-detection) and "visibility"
// (MediaPipe) as aliases for "confidence".
func (k *Keypoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		X          float64  `json:"x"`
		Y          float64  `json:"y"`
		Confidence *float64 `json:"confidence"`
		Score      *float64 `json:"score"`
		Visibility *float64 `json:"visibility"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	k.X, k.Y, k.Confidence = raw.X, raw.Y, 0
	switch {
	case raw.Confidence != nil:
		k.Confidence = *raw.Confidence
	case raw.Score != nil:
		k.Confidence = *raw.Score
	case raw.Visibility != nil:
		k.Confidence = *raw.Visibility
	}
	return nil
}

// Point drops the confidence score.
func (k Keypoint) Point() Point {
	return Point{X: k.X, Y: k.Y}
}

func (k Keypoint) finite() bool {
	return !math.IsNaN(k.X) && !math.IsInf(k.X, 0) &&
		!math.IsNaN(k.Y) && !math.IsInf(k.Y, 0) &&
		!math.IsNaN(k.Confidence)
}

// Skeleton is one frame of keypoints ordered by a Topology.
type Skeleton []Keypoint

// Topology maps the six arm joints to skeleton indices.
type Topology struct {
	Name          string
	LeftShoulder  int
	RightShoulder int
	LeftElbow     int
	RightElbow    int
	LeftWrist     int
	RightWrist    int
}

// Known detector layouts.
var (
	// COCO17 is the 17-point layout used by MoveNet and PoseNet.
	COCO17 = Topology{
		Name:          "coco17",
		LeftShoulder:  5,
		RightShoulder: 6,
		LeftElbow:     7,
		RightElbow:    8,
		LeftWrist:     9,
		RightWrist:    10,
	}

	// BlazePose33 is the 33-point MediaPipe Pose layout.
	BlazePose33 = Topology{
		Name:          "blazepose33",
		LeftShoulder:  11,
		RightShoulder: 12,
		LeftElbow:     13,
		RightElbow:    14,
		LeftWrist:     15,
		RightWrist:    16,
	}
)

// TopologyByName resolves a topology from its config name.
func TopologyByName(name string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", COCO17.Name:
		return COCO17, nil
	case BlazePose33.Name, "mediapipe":
		return BlazePose33, nil
	default:
		return Topology{}, fmt.Errorf("unknown skeleton topology %q", name)
	}
}

// Arms holds the six keypoints the engine reads from a skeleton.
type Arms struct {
	LeftShoulder  Keypoint
	RightShoulder Keypoint
	LeftElbow     Keypoint
	RightElbow    Keypoint
	LeftWrist     Keypoint
	RightWrist    Keypoint
}

func (a Arms) all() [6]Keypoint {
	return [6]Keypoint{a.LeftShoulder, a.RightShoulder, a.LeftElbow, a.RightElbow, a.LeftWrist, a.RightWrist}
}

// Arms extracts the arm keypoints. ok is false when the skeleton is too short
// to hold every required index.
func (t Topology) Arms(s Skeleton) (arms Arms, ok bool) {
	idx := [6]int{t.LeftShoulder, t.RightShoulder, t.LeftElbow, t.RightElbow, t.LeftWrist, t.RightWrist}
	for _, i := range idx {
		if i < 0 || i >= len(s) {
			return Arms{}, false
		}
	}
	return Arms{
		LeftShoulder:  s[t.LeftShoulder],
		RightShoulder: s[t.RightShoulder],
		LeftElbow:     s[t.LeftElbow],
		RightElbow:    s[t.RightElbow],
		LeftWrist:     s[t.LeftWrist],
		RightWrist:    s[t.RightWrist],
	}, true
}

// ConfidenceGate rejects frames whose arm keypoints are missing, non-finite
// or below the minimum detector confidence.
type ConfidenceGate struct {
	MinConfidence float64
}

// Accept reports whether the skeleton is usable and returns its arm keypoints.
func (g ConfidenceGate) Accept(t Topology, s Skeleton) (Arms, bool) {
	arms, ok := t.Arms(s)
	if !ok {
		return Arms{}, false
	}
	for _, kp := range arms.all() {
		if !kp.finite() || kp.Confidence < g.MinConfidence {
			return Arms{}, false
		}
	}
	return arms, true
}
