package location

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

const earthRadiusKm = 6371.0

// ErrNoPoints is returned when a bounding box is requested for an empty set.
var ErrNoPoints = errors.New("no points")

// Distance returns the planar distance between p and q in degrees.
func Distance(p, q Point) float64 {
	return math.Hypot(q.Latitude-p.Latitude, q.Longitude-p.Longitude)
}

// Cross returns the z component of the cross product of a and b, treating
// latitude as x and longitude as y.
func Cross(a, b Point) float64 {
	return a.Latitude*b.Longitude - a.Longitude*b.Latitude
}

// Dot returns the dot product of a and b.
func Dot(a, b Point) float64 {
	return a.Latitude*b.Latitude + a.Longitude*b.Longitude
}

// HaversineMeters returns the great-circle distance between p and q.
func HaversineMeters(p, q Point) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := q.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (q.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * 1000 * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Bearing returns the initial bearing from p to q in degrees, [0, 360).
func Bearing(p, q Point) float64 {
	lat1 := p.Latitude * math.Pi / 180
	lat2 := q.Latitude * math.Pi / 180
	dLon := (q.Longitude - p.Longitude) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// BoundsOf computes the bounding box of points.
func BoundsOf(points []Point) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, ErrNoPoints
	}

	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	for i, p := range points {
		lats[i] = p.Latitude
		lons[i] = p.Longitude
	}

	return Bounds{
		MinLat: floats.Min(lats),
		MinLon: floats.Min(lons),
		MaxLat: floats.Max(lats),
		MaxLon: floats.Max(lons),
	}, nil
}

// PathLengthMeters sums the great-circle distance along points.
func PathLengthMeters(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += HaversineMeters(points[i-1], points[i])
	}
	return total
}
