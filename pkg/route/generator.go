package route

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/campusrun/campus-run/pkg/location"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalidGeometry is returned when the anchors or spacing cannot produce a
// closed loop.
var ErrInvalidGeometry = errors.New("invalid geometry")

// collinearTolerance bounds |cross(a, b)| / (|a||b|) below which three anchors
// are treated as collinear.
const collinearTolerance = 1e-9

// Options configures loop generation.
type Options struct {
	// Anchors are P0 (start), P1 (end of the first straight) and P2 (across
	// the first turn from P1).
	Anchors [3]location.Point
	// Laps is the number of times the 4-leg loop is repeated.
	Laps int
	// Spacing is the distance between consecutive points in degrees.
	Spacing float64
	// JitterMeters is the half-width of the uniform noise added to every
	// coordinate. Zero disables jitter.
	JitterMeters float64
	// Rand is the jitter source. Nil means a randomly seeded source.
	Rand *rand.Rand
}

// SpacingForSpeed converts a playback speed into point spacing in degrees.
func SpacingForSpeed(speed float64) float64 {
	return speed / 20 / location.MetersPerDegree
}

// Generate builds a closed running loop of two straights joined by two
// semicircles, repeated opts.Laps times.
func Generate(opts Options) (Track, error) {
	lap, err := buildLap(opts)
	if err != nil {
		return Track{}, err
	}

	rng := opts.Rand
	if opts.JitterMeters > 0 && rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	track := Track{Legs: make([]Leg, 0, len(lap)*opts.Laps)}
	for i := 0; i < opts.Laps; i++ {
		for _, leg := range lap {
			points := leg.Points
			if opts.JitterMeters > 0 {
				points = jitter(points, opts.JitterMeters, rng)
			}
			track.Legs = append(track.Legs, Leg{Kind: leg.Kind, Points: points})
		}
	}
	return track, nil
}

func buildLap(opts Options) ([]Leg, error) {
	if opts.Laps < 1 {
		return nil, fmt.Errorf("%w: lap count must be positive, got %d", ErrInvalidGeometry, opts.Laps)
	}
	if !(opts.Spacing > 0) || math.IsInf(opts.Spacing, 0) {
		return nil, fmt.Errorf("%w: spacing must be a positive finite number, got %v", ErrInvalidGeometry, opts.Spacing)
	}
	if opts.JitterMeters < 0 || math.IsNaN(opts.JitterMeters) || math.IsInf(opts.JitterMeters, 0) {
		return nil, fmt.Errorf("%w: jitter must be a non-negative finite number, got %v", ErrInvalidGeometry, opts.JitterMeters)
	}
	for i, p := range opts.Anchors {
		if !p.IsFinite() {
			return nil, fmt.Errorf("%w: anchor P%d is not finite", ErrInvalidGeometry, i)
		}
	}

	p0, p1, p2 := opts.Anchors[0], opts.Anchors[1], opts.Anchors[2]
	forward := p1.Sub(p0)
	across := p2.Sub(p1)
	norm := math.Hypot(forward.Latitude, forward.Longitude) * math.Hypot(across.Latitude, across.Longitude)
	if norm == 0 || math.Abs(location.Cross(forward, across))/norm < collinearTolerance {
		return nil, fmt.Errorf("%w: anchors are collinear or coincident", ErrInvalidGeometry)
	}

	first, err := straight(p0, p1, opts.Spacing)
	if err != nil {
		return nil, fmt.Errorf("straight P0->P1: %w", err)
	}
	turn, err := semicircle(p1, p2, forward, opts.Spacing)
	if err != nil {
		return nil, fmt.Errorf("arc P1->P2: %w", err)
	}
	p3 := p2.Sub(forward)
	back, err := straight(p2, p3, opts.Spacing)
	if err != nil {
		return nil, fmt.Errorf("straight P2->P3: %w", err)
	}
	closing, err := semicircle(p3, p0, forward.Scale(-1), opts.Spacing)
	if err != nil {
		return nil, fmt.Errorf("arc P3->P0: %w", err)
	}

	return []Leg{
		{Kind: LegStraight, Points: first},
		{Kind: LegArc, Points: turn},
		{Kind: LegStraight, Points: back},
		{Kind: LegArc, Points: closing},
	}, nil
}

// straight interpolates from a to b inclusive at spacing intervals.
func straight(a, b location.Point, spacing float64) ([]location.Point, error) {
	steps := int(math.Floor(location.Distance(a, b) / spacing))
	if steps < 1 {
		return nil, fmt.Errorf("%w: segment resolves to zero interpolation steps", ErrInvalidGeometry)
	}

	lats := floats.Span(make([]float64, steps+1), a.Latitude, b.Latitude)
	lons := floats.Span(make([]float64, steps+1), a.Longitude, b.Longitude)

	points := make([]location.Point, steps+1)
	for i := range points {
		points[i] = location.Point{Latitude: lats[i], Longitude: lons[i]}
	}
	return points, nil
}

// semicircle sweeps π radians from "from" to "to" around their midpoint,
// turning so the arc bulges towards bulge.
func semicircle(from, to, bulge location.Point, spacing float64) ([]location.Point, error) {
	center := location.Midpoint(from, to)
	radius := location.Distance(from, center)
	steps := int(math.Floor(math.Pi * radius / spacing))
	if steps < 1 {
		return nil, fmt.Errorf("%w: arc resolves to zero interpolation steps", ErrInvalidGeometry)
	}

	start := math.Atan2(from.Longitude-center.Longitude, from.Latitude-center.Latitude)
	// Tangent at the start for a counter-clockwise sweep.
	tangent := location.Point{Latitude: -math.Sin(start), Longitude: math.Cos(start)}
	dot := location.Dot(tangent, bulge)
	if dot == 0 {
		return nil, fmt.Errorf("%w: arc direction is undefined", ErrInvalidGeometry)
	}
	direction := 1.0
	if dot < 0 {
		direction = -1.0
	}

	points := make([]location.Point, steps+1)
	for i := range points {
		angle := start + direction*math.Pi*float64(i)/float64(steps)
		points[i] = location.Point{
			Latitude:  center.Latitude + radius*math.Cos(angle),
			Longitude: center.Longitude + radius*math.Sin(angle),
		}
	}
	points[0] = from
	points[steps] = to
	return points, nil
}

// jitter returns a perturbed copy of points; each axis gets its own draw.
func jitter(points []location.Point, meters float64, rng *rand.Rand) []location.Point {
	out := make([]location.Point, len(points))
	for i, p := range points {
		out[i] = location.Point{
			Latitude:  p.Latitude + (rng.Float64()*2-1)*meters/location.MetersPerDegree,
			Longitude: p.Longitude + (rng.Float64()*2-1)*meters/location.MetersPerDegree,
		}
	}
	return out
}
