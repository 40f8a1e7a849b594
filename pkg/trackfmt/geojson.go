package trackfmt

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/campusrun/campus-run/pkg/location"
	"github.com/campusrun/campus-run/pkg/route"
)

const geometryLineString = "LineString"

// FeatureCollection is the GeoJSON document root.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a single GeoJSON feature. Geometry stays raw so that non
// LineString geometries can be skipped without failing the whole document.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry holds the geometry type and its still-encoded coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// WriteGeoJSON writes one LineString feature per leg with [lon, lat] pairs.
func WriteGeoJSON(w io.Writer, t route.Track) error {
	if err := validate(t); err != nil {
		return err
	}

	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(t.Legs))}
	for _, leg := range t.Legs {
		coords := make([][2]float64, len(leg.Points))
		for i, p := range leg.Points {
			coords[i] = [2]float64{p.Longitude, p.Latitude}
		}
		raw, err := json.Marshal(coords)
		if err != nil {
			return fmt.Errorf("failed to encode coordinates: %w", err)
		}
		fc.Features = append(fc.Features, Feature{
			Type:       "Feature",
			Geometry:   Geometry{Type: geometryLineString, Coordinates: raw},
			Properties: map[string]any{"leg": string(leg.Kind)},
		})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(fc)
}

// ReadGeoJSON collects the coordinates of every LineString feature in order.
// Other geometry types are ignored.
func ReadGeoJSON(r io.Reader) ([]location.Point, error) {
	var fc FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteParse, err)
	}

	var points []location.Point
	for i, feature := range fc.Features {
		if feature.Geometry.Type != geometryLineString {
			continue
		}
		var coords [][]float64
		if err := json.Unmarshal(feature.Geometry.Coordinates, &coords); err != nil {
			return nil, fmt.Errorf("%w: feature %d: %v", ErrRouteParse, i, err)
		}
		for j, c := range coords {
			if len(c) < 2 {
				return nil, fmt.Errorf("%w: feature %d position %d has %d values", ErrRouteParse, i, j, len(c))
			}
			points = append(points, location.Point{Latitude: c[1], Longitude: c[0]})
		}
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no LineString coordinates found", ErrRouteParse)
	}
	return points, nil
}
