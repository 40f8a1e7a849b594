package trackfmt

import (
	"bufio"
	"io"

	"github.com/campusrun/campus-run/pkg/route"
	"googlemaps.github.io/maps"
)

// WritePolyline writes one Google encoded polyline per leg, one per line.
// The encoding keeps five decimal places.
func WritePolyline(w io.Writer, t route.Track) error {
	if err := validate(t); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, leg := range t.Legs {
		path := make([]maps.LatLng, len(leg.Points))
		for i, p := range leg.Points {
			path[i] = maps.LatLng{Lat: p.Latitude, Lng: p.Longitude}
		}
		if _, err := bw.WriteString(maps.Encode(path) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
