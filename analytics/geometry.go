package analytics

import "math"

// Point is a 2D position in normalized image coordinates.
type Point struct {
	X float64
	Y float64
}

// JointAngle returns the interior angle at vertex b formed by the rays b→a and
// b→c, in degrees within [0, 180]. The result is undefined when a or c
// coincides with b.
func JointAngle(a, b, c Point) float64 {
	radians := math.Atan2(c.Y-b.Y, c.X-b.X) - math.Atan2(a.Y-b.Y, a.X-b.X)
	angle := math.Abs(radians * 180.0 / math.Pi)
	if angle > 180.0 {
		angle = 360.0 - angle
	}
	return angle
}
