package analytics

import (
	"math"
	"time"
)

var t0 = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

const (
	leftX     = 0.40
	rightX    = 0.60
	shoulderY = 0.30
	elbowY    = 0.50
	forearm   = 0.20
)

// curlSkeleton builds a COCO-17 skeleton whose elbows bend at the given angles
// with level shoulders and elbows tucked under them.
func curlSkeleton(leftDeg, rightDeg float64) Skeleton {
	s := make(Skeleton, 17)
	for i := range s {
		s[i] = Keypoint{X: 0.5, Y: 0.5, Confidence: 0.9}
	}
	placeArm(s, COCO17.LeftShoulder, COCO17.LeftElbow, COCO17.LeftWrist, leftX, leftDeg, -1)
	placeArm(s, COCO17.RightShoulder, COCO17.RightElbow, COCO17.RightWrist, rightX, rightDeg, 1)
	return s
}

// uniform bends both arms to the same angle.
func uniform(deg float64) Skeleton {
	return curlSkeleton(deg, deg)
}

func placeArm(s Skeleton, shoulder, elbow, wrist int, x, deg float64, side float64) {
	rad := deg * math.Pi / 180
	s[shoulder] = Keypoint{X: x, Y: shoulderY, Confidence: 0.9}
	s[elbow] = Keypoint{X: x, Y: elbowY, Confidence: 0.9}
	// Upper arm points straight up from the elbow; the forearm is rotated deg
	// away from it.
	s[wrist] = Keypoint{
		X:          x + side*forearm*math.Sin(rad),
		Y:          elbowY - forearm*math.Cos(rad),
		Confidence: 0.9,
	}
}

func withConfidence(s Skeleton, c float64) Skeleton {
	out := append(Skeleton(nil), s...)
	for i := range out {
		out[i].Confidence = c
	}
	return out
}

func withShoulderTilt(s Skeleton, dy float64) Skeleton {
	out := append(Skeleton(nil), s...)
	out[COCO17.RightShoulder].Y += dy
	return out
}

func withElbowDrift(s Skeleton, dx float64) Skeleton {
	out := append(Skeleton(nil), s...)
	out[COCO17.LeftElbow].X -= dx
	out[COCO17.LeftWrist].X -= dx
	return out
}
