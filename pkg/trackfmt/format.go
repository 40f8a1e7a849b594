// Package trackfmt renders tracks as GPX, GeoJSON, NMEA or encoded polylines
// and reads GeoJSON routes back into point sequences.
package trackfmt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/campusrun/campus-run/pkg/route"
)

var (
	// ErrInvalidCoordinate is returned when a point is NaN or infinite.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrEmptyTrack is returned when a track has fewer than two points.
	ErrEmptyTrack = errors.New("track needs at least two points")
	// ErrRouteParse is returned when a route file cannot be turned into points.
	ErrRouteParse = errors.New("route parse error")
	// ErrUnknownFormat is returned by ParseFormat for unsupported names.
	ErrUnknownFormat = errors.New("unknown track format")
)

// Format names an output encoding.
type Format string

const (
	FormatGPX      Format = "gpx"
	FormatGeoJSON  Format = "geojson"
	FormatNMEA     Format = "nmea"
	FormatPolyline Format = "polyline"
)

// Formats lists every supported output encoding.
var Formats = []Format{FormatGPX, FormatGeoJSON, FormatNMEA, FormatPolyline}

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(name, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Extension returns the conventional file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatNMEA:
		return "nmea"
	case FormatPolyline:
		return "txt"
	default:
		return string(f)
	}
}

// Encode writes t to w in format f. NMEA output uses DefaultNMEAOptions.
func Encode(w io.Writer, f Format, t route.Track) error {
	switch f {
	case FormatGPX:
		return WriteGPX(w, t)
	case FormatGeoJSON:
		return WriteGeoJSON(w, t)
	case FormatNMEA:
		return WriteNMEA(w, t, DefaultNMEAOptions())
	case FormatPolyline:
		return WritePolyline(w, t)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
	}
}

// validate enforces the preconditions shared by every writer.
func validate(t route.Track) error {
	if t.Len() < 2 {
		return fmt.Errorf("%w: got %d", ErrEmptyTrack, t.Len())
	}
	for i, leg := range t.Legs {
		for j, p := range leg.Points {
			if !p.IsFinite() {
				return fmt.Errorf("%w: leg %d point %d (%v, %v)", ErrInvalidCoordinate, i, j, p.Latitude, p.Longitude)
			}
		}
	}
	return nil
}
