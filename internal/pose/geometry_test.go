package pose

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	got := Distance(Point{X: 100, Y: 100}, Point{X: 105, Y: 105})
	want := math.Sqrt(50)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Distance() = %v, want %v", got, want)
	}
}

func TestDistance_NaN(t *testing.T) {
	nan := math.NaN()
	d := Distance(Point{X: nan, Y: nan}, Point{X: 10, Y: 10})
	if !math.IsNaN(d) {
		t.Errorf("Distance with NaN input = %v, want NaN", d)
	}
	if d <= 5 {
		t.Error("NaN distance must not satisfy a threshold comparison")
	}
}

func TestMidpoint(t *testing.T) {
	m := Midpoint(Point{X: 0, Y: 0}, Point{X: 10, Y: 20})
	if m.X != 5 || m.Y != 10 {
		t.Errorf("Midpoint() = %+v, want {5 10}", m)
	}
}

func TestCentroid(t *testing.T) {
	s := Skeleton{
		"nose": {X: 0, Y: 0},
		"neck": {X: 10, Y: 0},
		"tail": {X: math.NaN(), Y: math.NaN()},
	}

	c, ok := Centroid(s, []string{"nose", "neck", "tail"})
	if !ok {
		t.Fatal("Centroid() ok = false, want true")
	}
	if c.X != 5 || c.Y != 0 {
		t.Errorf("Centroid() = %+v, want {5 0}", c)
	}

	_, ok = Centroid(s, []string{"tail"})
	if ok {
		t.Error("Centroid() over only-NaN parts reported ok")
	}

	_, ok = Centroid(s, []string{"missing"})
	if ok {
		t.Error("Centroid() over missing parts reported ok")
	}
}

func TestVertexAngle(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c Point
		want    float64
	}{
		{
			name: "aligned vectors",
			a:    Point{X: 10, Y: 0},
			b:    Point{X: 0, Y: 0},
			c:    Point{X: 20, Y: 0},
			want: 0,
		},
		{
			name: "right angle",
			a:    Point{X: 10, Y: 0},
			b:    Point{X: 0, Y: 0},
			c:    Point{X: 0, Y: 10},
			want: 90,
		},
		{
			name: "opposite vectors",
			a:    Point{X: 10, Y: 0},
			b:    Point{X: 0, Y: 0},
			c:    Point{X: -10, Y: 0},
			want: 180,
		},
		{
			// Raw difference is 360 - 2*atan2(2,10), above 180, so the
			// result must wrap around to the negative side.
			name: "wraps past 180",
			a:    Point{X: -10, Y: -2},
			b:    Point{X: 0, Y: 0},
			c:    Point{X: -10, Y: 2},
			want: -2 * math.Atan2(2, 10) * 180 / math.Pi,
		},
	}

	for _, tt := range tests {
		got := VertexAngle(tt.a, tt.b, tt.c)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: VertexAngle() = %v, want %v", tt.name, got, tt.want)
		}
		if got > 180 || got < -180 {
			t.Errorf("%s: VertexAngle() = %v outside [-180, 180]", tt.name, got)
		}
	}
}

func TestVertexAngle_NaN(t *testing.T) {
	nan := math.NaN()
	got := VertexAngle(Point{X: nan, Y: nan}, Point{X: 0, Y: 0}, Point{X: 1, Y: 1})
	if !math.IsNaN(got) {
		t.Errorf("VertexAngle with NaN input = %v, want NaN", got)
	}
}

func TestHeadingDeviation(t *testing.T) {
	// Head at the origin pointing along +X, target straight ahead.
	nose := Point{X: 10, Y: 0}
	neck := Point{X: 0, Y: 0}

	if got := HeadingDeviation(nose, neck, Point{X: 50, Y: 0}); math.Abs(got) > 1e-9 {
		t.Errorf("straight-ahead deviation = %v, want 0", got)
	}

	// Target directly "up" on screen (-Y) is 90 degrees off a +X heading.
	got := HeadingDeviation(nose, neck, Point{X: 0, Y: -10})
	if math.Abs(math.Abs(got)-90) > 1e-9 {
		t.Errorf("perpendicular deviation = %v, want +/-90", got)
	}
}

func TestStimDeviation(t *testing.T) {
	neck := Point{X: 100, Y: 100}

	// Head pointing along +X, reference at 0 degrees: aligned.
	nose := Point{X: 120, Y: 100}
	if got := StimDeviation(nose, neck, 0); math.Abs(got) > 1e-9 {
		t.Errorf("aligned StimDeviation() = %v, want 0", got)
	}

	// Reference at 90 degrees points up the screen (-Y in image coords).
	noseUp := Point{X: 100, Y: 80}
	if got := StimDeviation(noseUp, neck, 90); math.Abs(got) > 1e-9 {
		t.Errorf("upward StimDeviation() = %v, want 0", got)
	}

	// Head along +X against a 90 degree reference is a quarter turn off.
	if got := StimDeviation(nose, neck, 90); math.Abs(got-90) > 1e-9 {
		t.Errorf("offset StimDeviation() = %v, want 90", got)
	}
}

func TestSkeleton_Part(t *testing.T) {
	s := Skeleton{"nose": {X: 1, Y: 2}}

	if p := s.Part("nose"); p.X != 1 || p.Y != 2 {
		t.Errorf("Part(nose) = %+v", p)
	}
	if p := s.Part("absent"); p.Valid() {
		t.Errorf("Part(absent) = %+v, want invalid", p)
	}
}

func TestFrame_First(t *testing.T) {
	if got := (Frame{}).First(); got != nil {
		t.Errorf("empty frame First() = %v, want nil", got)
	}

	f := Frame{Skeletons: []Skeleton{{"nose": {X: 1, Y: 1}}, {"nose": {X: 2, Y: 2}}}}
	if got := f.First(); got.Part("nose").X != 1 {
		t.Errorf("First() returned wrong skeleton: %v", got)
	}
}
