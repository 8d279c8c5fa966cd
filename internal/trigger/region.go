package trigger

import (
	"fmt"

	"github.com/clementpouget/DeepLabStream/internal/pose"
	"github.com/clementpouget/DeepLabStream/internal/viz"
)

// RegionShape selects the geometry of a region trigger.
type RegionShape string

const (
	ShapeCircle    RegionShape = "circle"
	ShapeRectangle RegionShape = "rectangle"
	ShapePolygon   RegionShape = "polygon"
)

// RegionConfig describes a region-of-interest trigger. Only the fields
// for the chosen Shape are read.
type RegionConfig struct {
	Shape  RegionShape
	Center pose.Point // circle
	Radius float64    // circle, in pixels

	Corner1 pose.Point // rectangle
	Corner2 pose.Point // rectangle

	Vertices []pose.Point // polygon, at least three

	// BodyParts are the skeleton keys the region is checked against.
	BodyParts []string

	// Outside inverts the containment sense: the trigger matches when
	// every body part is tracked and lies outside the region. With
	// Outside false, a single part inside the region matches.
	Outside bool
}

// Region matches when a tracked body part is inside (or, inverted,
// when all parts are outside) a fixed area of the camera frame.
type Region struct {
	cfg RegionConfig
}

// NewRegion validates the configuration and returns the trigger.
func NewRegion(cfg RegionConfig) (*Region, error) {
	if len(cfg.BodyParts) == 0 {
		return nil, fmt.Errorf("region trigger: no body parts configured")
	}
	switch cfg.Shape {
	case ShapeCircle:
		if !cfg.Center.Valid() {
			return nil, fmt.Errorf("region trigger: circle center %v is not a finite point", cfg.Center)
		}
		if cfg.Radius <= 0 {
			return nil, fmt.Errorf("region trigger: circle radius must be positive, got %v", cfg.Radius)
		}
	case ShapeRectangle:
		if !cfg.Corner1.Valid() || !cfg.Corner2.Valid() {
			return nil, fmt.Errorf("region trigger: rectangle corners must be finite points")
		}
	case ShapePolygon:
		if len(cfg.Vertices) < 3 {
			return nil, fmt.Errorf("region trigger: polygon needs at least 3 vertices, got %d", len(cfg.Vertices))
		}
		for i, v := range cfg.Vertices {
			if !v.Valid() {
				return nil, fmt.Errorf("region trigger: polygon vertex %d is not a finite point", i)
			}
		}
	default:
		return nil, fmt.Errorf("region trigger: unknown shape %q", cfg.Shape)
	}
	return &Region{cfg: cfg}, nil
}

// Check reports whether the configured body parts satisfy the region
// condition. NaN and missing parts never count as inside; under Outside
// semantics they force a non-match because the part cannot be placed.
func (t *Region) Check(s pose.Skeleton) (bool, *viz.Response) {
	resp := viz.New(t.outline()...)

	anyInside := false
	allOutside := true
	for _, name := range t.cfg.BodyParts {
		p := s.Part(name)
		if p.Valid() {
			resp.Shapes = append(resp.Shapes, viz.Dot(p))
		} else {
			allOutside = false
			continue
		}
		if t.contains(p) {
			anyInside = true
			allOutside = false
		}
	}

	matched := anyInside
	if t.cfg.Outside {
		matched = allOutside
	}
	resp.Active = matched
	return matched, resp
}

func (t *Region) contains(p pose.Point) bool {
	switch t.cfg.Shape {
	case ShapeCircle:
		return pose.Distance(p, t.cfg.Center) <= t.cfg.Radius
	case ShapeRectangle:
		minX, maxX := order(t.cfg.Corner1.X, t.cfg.Corner2.X)
		minY, maxY := order(t.cfg.Corner1.Y, t.cfg.Corner2.Y)
		return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
	case ShapePolygon:
		return pointInPolygon(p, t.cfg.Vertices)
	}
	return false
}

func (t *Region) outline() []viz.Shape {
	switch t.cfg.Shape {
	case ShapeCircle:
		return []viz.Shape{viz.Circle(t.cfg.Center, t.cfg.Radius)}
	case ShapeRectangle:
		return []viz.Shape{viz.Rect(t.cfg.Corner1, t.cfg.Corner2)}
	case ShapePolygon:
		shapes := make([]viz.Shape, 0, len(t.cfg.Vertices))
		for i, v := range t.cfg.Vertices {
			next := t.cfg.Vertices[(i+1)%len(t.cfg.Vertices)]
			shapes = append(shapes, viz.Line(v, next))
		}
		return shapes
	}
	return nil
}

func order(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}

// pointInPolygon runs the even-odd crossing rule. NaN coordinates fail
// every comparison, which reads as outside.
func pointInPolygon(p pose.Point, vs []pose.Point) bool {
	inside := false
	j := len(vs) - 1
	for i := 0; i < len(vs); i++ {
		vi, vj := vs[i], vs[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) &&
			p.X < (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y)+vi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}
