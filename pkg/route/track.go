package route

import "github.com/campusrun/campus-run/pkg/location"

// LegKind distinguishes straight legs from arcs.
type LegKind string

const (
	LegStraight LegKind = "straight"
	LegArc      LegKind = "arc"
)

// Leg is one contiguous straight or arc polyline within a lap.
type Leg struct {
	Kind   LegKind
	Points []location.Point
}

// Track is an ordered sequence of legs that together form one path.
type Track struct {
	Legs []Leg
}

// NewLineString wraps a plain point sequence as a single-leg track.
func NewLineString(points []location.Point) Track {
	return Track{Legs: []Leg{{Kind: LegStraight, Points: points}}}
}

// Points flattens every leg into one ordered point sequence.
func (t Track) Points() []location.Point {
	points := make([]location.Point, 0, t.Len())
	for _, leg := range t.Legs {
		points = append(points, leg.Points...)
	}
	return points
}

// Len returns the total number of points across all legs.
func (t Track) Len() int {
	n := 0
	for _, leg := range t.Legs {
		n += len(leg.Points)
	}
	return n
}

// Bounds returns the bounding box of every point in the track.
func (t Track) Bounds() (location.Bounds, error) {
	return location.BoundsOf(t.Points())
}
