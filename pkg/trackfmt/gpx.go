package trackfmt

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/campusrun/campus-run/pkg/route"
)

const (
	gpxNamespace      = "http://www.topografix.com/GPX/1/1"
	gpxXSINamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	gpxSchemaLocation = "http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd"
	gpxCreator        = "campus-run"
)

type gpxDocument struct {
	XMLName        xml.Name    `xml:"gpx"`
	Version        string      `xml:"version,attr"`
	Creator        string      `xml:"creator,attr"`
	XMLNS          string      `xml:"xmlns,attr"`
	XMLNSXSI       string      `xml:"xmlns:xsi,attr"`
	SchemaLocation string      `xml:"xsi:schemaLocation,attr"`
	Metadata       gpxMetadata `xml:"metadata"`
	Tracks         []gpxTrack  `xml:"trk"`
}

type gpxMetadata struct {
	Bounds gpxBounds `xml:"bounds"`
}

type gpxBounds struct {
	MinLat string `xml:"minlat,attr"`
	MinLon string `xml:"minlon,attr"`
	MaxLat string `xml:"maxlat,attr"`
	MaxLon string `xml:"maxlon,attr"`
}

type gpxTrack struct {
	Segment gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
}

// formatDegrees renders a coordinate in plain decimal notation with the
// shortest representation that round-trips.
func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteGPX writes a GPX 1.1 document with one trk/trkseg per leg and a
// metadata bounds header computed from every point.
func WriteGPX(w io.Writer, t route.Track) error {
	if err := validate(t); err != nil {
		return err
	}

	bounds, err := t.Bounds()
	if err != nil {
		return err
	}

	doc := gpxDocument{
		Version:        "1.1",
		Creator:        gpxCreator,
		XMLNS:          gpxNamespace,
		XMLNSXSI:       gpxXSINamespace,
		SchemaLocation: gpxSchemaLocation,
		Metadata: gpxMetadata{Bounds: gpxBounds{
			MinLat: formatDegrees(bounds.MinLat),
			MinLon: formatDegrees(bounds.MinLon),
			MaxLat: formatDegrees(bounds.MaxLat),
			MaxLon: formatDegrees(bounds.MaxLon),
		}},
		Tracks: make([]gpxTrack, 0, len(t.Legs)),
	}

	for _, leg := range t.Legs {
		seg := gpxSegment{Points: make([]gpxPoint, len(leg.Points))}
		for i, p := range leg.Points {
			seg.Points[i] = gpxPoint{Lat: formatDegrees(p.Latitude), Lon: formatDegrees(p.Longitude)}
		}
		doc.Tracks = append(doc.Tracks, gpxTrack{Segment: seg})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode gpx: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}
