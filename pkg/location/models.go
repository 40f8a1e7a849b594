package location

import "math"

// MetersPerDegree is the equirectangular approximation used to convert short
// distances between meters and degrees of latitude or longitude.
const MetersPerDegree = 111000.0

// Point represents a geographical coordinate in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.Latitude) && !math.IsInf(p.Latitude, 0) &&
		!math.IsNaN(p.Longitude) && !math.IsInf(p.Longitude, 0)
}

// Add returns p translated by q, component-wise.
func (p Point) Add(q Point) Point {
	return Point{Latitude: p.Latitude + q.Latitude, Longitude: p.Longitude + q.Longitude}
}

// Sub returns the component-wise difference p - q.
func (p Point) Sub(q Point) Point {
	return Point{Latitude: p.Latitude - q.Latitude, Longitude: p.Longitude - q.Longitude}
}

// Scale multiplies both components by f.
func (p Point) Scale(f float64) Point {
	return Point{Latitude: p.Latitude * f, Longitude: p.Longitude * f}
}

// Midpoint returns the point halfway between p and q in degree space.
func Midpoint(p, q Point) Point {
	return Point{Latitude: (p.Latitude + q.Latitude) / 2, Longitude: (p.Longitude + q.Longitude) / 2}
}

// Bounds is the bounding box of a set of points.
type Bounds struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLon && p.Longitude <= b.MaxLon
}
