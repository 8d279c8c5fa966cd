// Package pose defines the skeleton data model produced by the tracking
// stage and the plane geometry that triggers evaluate against it.
package pose

import (
	"math"
	"time"
)

// Point is a pixel coordinate in the camera frame. Untracked body parts
// carry NaN coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether both coordinates are real numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Skeleton maps body-part names to tracked coordinates for one animal in
// one frame. The key set stays stable for the lifetime of an experiment;
// individual values may be NaN whenever the tracker loses a part.
type Skeleton map[string]Point

// Part returns the named body part. Missing parts read as an invalid
// point so geometry checks degrade to a non-match instead of panicking.
func (s Skeleton) Part(name string) Point {
	p, ok := s[name]
	if !ok {
		return Point{X: math.NaN(), Y: math.NaN()}
	}
	return p
}

// Clone returns an independent copy of the skeleton.
func (s Skeleton) Clone() Skeleton {
	if s == nil {
		return nil
	}
	c := make(Skeleton, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Frame is one tracked video frame: stream metadata plus the skeletons
// found in it, one per animal, in stable animal order.
type Frame struct {
	Seq       uint64     `json:"frame"`
	Timestamp time.Time  `json:"timestamp"`
	Skeletons []Skeleton `json:"skeletons"`
}

// First returns the first skeleton in the frame, or nil when the frame
// carries none.
func (f Frame) First() Skeleton {
	if len(f.Skeletons) == 0 {
		return nil
	}
	return f.Skeletons[0]
}
