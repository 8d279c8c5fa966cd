// Package viz defines the overlay primitives a trigger emits alongside
// its match result. Rendering is left to the consumer; shapes carry frame
// pixel coordinates and an active flag the renderer maps to color.
package viz

import "github.com/clementpouget/DeepLabStream/internal/pose"

// Kind identifies the primitive a Shape describes.
type Kind string

const (
	KindLine   Kind = "line"
	KindCircle Kind = "circle"
	KindRect   Kind = "rect"
	KindText   Kind = "text"
)

// Shape is one overlay primitive. Only the fields for its Kind are set.
type Shape struct {
	Kind   Kind       `json:"kind"`
	From   pose.Point `json:"from"`
	To     pose.Point `json:"to"`
	Center pose.Point `json:"center"`
	Radius float64    `json:"radius,omitempty"`
	Text   string     `json:"text,omitempty"`
	At     pose.Point `json:"at"`
}

// Line returns a line segment from a to b.
func Line(a, b pose.Point) Shape {
	return Shape{Kind: KindLine, From: a, To: b}
}

// Circle returns a circle outline around center.
func Circle(center pose.Point, radius float64) Shape {
	return Shape{Kind: KindCircle, Center: center, Radius: radius}
}

// Rect returns an axis-aligned rectangle spanning two opposite corners.
func Rect(a, b pose.Point) Shape {
	return Shape{Kind: KindRect, From: a, To: b}
}

// Text returns a text label anchored at the given point.
func Text(text string, at pose.Point) Shape {
	return Shape{Kind: KindText, Text: text, At: at}
}

// Dot returns a small filled marker at p.
func Dot(p pose.Point) Shape {
	return Shape{Kind: KindCircle, Center: p, Radius: 3}
}

// Response is the overlay for one trigger evaluation. Active tracks the
// trigger outcome so the renderer can flip colors on a match.
type Response struct {
	Active bool    `json:"active"`
	Shapes []Shape `json:"shapes,omitempty"`
}

// New returns a response holding the given shapes.
func New(shapes ...Shape) *Response {
	return &Response{Shapes: shapes}
}

// Merge appends the other response's shapes onto r. The active flag
// stays r's own; combined triggers decide it from their joint result.
func (r *Response) Merge(other *Response) {
	if r == nil || other == nil {
		return
	}
	r.Shapes = append(r.Shapes, other.Shapes...)
}
