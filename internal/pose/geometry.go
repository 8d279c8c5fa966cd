package pose

import "math"

// Distance returns the Euclidean distance between two points in pixels.
// Any NaN coordinate yields NaN, which fails every threshold comparison.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Midpoint returns the point halfway between a and b.
func Midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Centroid returns the mean position of the named parts that are
// currently tracked. ok is false when none of them are valid.
func Centroid(s Skeleton, parts []string) (Point, bool) {
	var sum Point
	var n int
	for _, name := range parts {
		p := s.Part(name)
		if !p.Valid() {
			continue
		}
		sum.X += p.X
		sum.Y += p.Y
		n++
	}
	if n == 0 {
		return Point{X: math.NaN(), Y: math.NaN()}, false
	}
	return Point{X: sum.X / float64(n), Y: sum.Y / float64(n)}, true
}

// VertexAngle returns the signed angle in degrees at vertex b, measured
// from the vector b->a to the vector b->c and normalized to [-180, 180].
// NaN coordinates propagate to a NaN result.
func VertexAngle(a, b, c Point) float64 {
	rad := math.Atan2(c.Y-b.Y, c.X-b.X) - math.Atan2(a.Y-b.Y, a.X-b.X)
	deg := rad * 180 / math.Pi
	if deg > 180 {
		deg -= 360
	} else if deg < -180 {
		deg += 360
	}
	return deg
}

// HeadingDeviation returns the signed angle in degrees between the head
// direction (neck toward nose) and the direction from neck to target.
// Zero means the animal is looking straight at the target.
func HeadingDeviation(nose, neck, target Point) float64 {
	return VertexAngle(nose, neck, target)
}

// StimDeviation returns the signed angle in degrees between the head
// direction (neck toward nose) and a fixed reference direction. The
// reference is given in screen convention: 0 degrees along +X, positive
// angles rotating toward -Y (the image Y axis points down).
func StimDeviation(nose, neck Point, refDeg float64) float64 {
	rad := refDeg * math.Pi / 180
	ref := Point{X: neck.X + math.Cos(rad), Y: neck.Y - math.Sin(rad)}
	return VertexAngle(ref, neck, nose)
}
