package trackfmt

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/campusrun/campus-run/pkg/location"
	"github.com/campusrun/campus-run/pkg/route"
)

const knotsPerMeterPerSecond = 1.943844

// NMEAOptions controls the synthetic timing of NMEA output.
type NMEAOptions struct {
	// Start is the UTC timestamp of the first sentence.
	Start time.Time
	// Interval is the time between consecutive sentences.
	Interval time.Duration
}

// DefaultNMEAOptions starts at the current time with one fix per second.
func DefaultNMEAOptions() NMEAOptions {
	return NMEAOptions{Start: time.Now().UTC(), Interval: time.Second}
}

// NMEASentences renders one $GPRMC sentence per point. Speed and course are
// derived from the previous point.
func NMEASentences(t route.Track, opts NMEAOptions) ([]string, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}

	points := t.Points()
	sentences := make([]string, len(points))
	for i, p := range points {
		var speedKnots, course float64
		if i > 0 {
			prev := points[i-1]
			speedKnots = location.HaversineMeters(prev, p) / opts.Interval.Seconds() * knotsPerMeterPerSecond
			course = location.Bearing(prev, p)
		}
		ts := opts.Start.Add(time.Duration(i) * opts.Interval).UTC()
		sentences[i] = rmcSentence(ts, p, speedKnots, course)
	}
	return sentences, nil
}

// WriteNMEA writes NMEASentences to w, one per line.
func WriteNMEA(w io.Writer, t route.Track, opts NMEAOptions) error {
	sentences, err := NMEASentences(t, opts)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, s := range sentences {
		if _, err := bw.WriteString(s + "\r\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func rmcSentence(ts time.Time, p location.Point, speedKnots, course float64) string {
	lat, latHemi := nmeaAngle(p.Latitude, 2, "N", "S")
	lon, lonHemi := nmeaAngle(p.Longitude, 3, "E", "W")
	body := fmt.Sprintf("GPRMC,%s.%02d,A,%s,%s,%s,%s,%.2f,%.2f,%s,,",
		ts.Format("150405"), ts.Nanosecond()/int(10*time.Millisecond),
		lat, latHemi, lon, lonHemi,
		speedKnots, course,
		ts.Format("020106"))
	return "$" + body + "*" + nmea.Checksum(body)
}

// nmeaAngle formats decimal degrees as (d)ddmm.mmmmm with a hemisphere letter.
func nmeaAngle(v float64, degreeDigits int, positive, negative string) (string, string) {
	hemi := positive
	if v < 0 {
		hemi = negative
		v = -v
	}
	deg := math.Floor(v)
	minutes := (v - deg) * 60
	// Rounding to five decimals can carry into the next degree.
	if math.Round(minutes*1e5) >= 60*1e5 {
		deg++
		minutes = 0
	}
	return fmt.Sprintf("%0*d%08.5f", degreeDigits, int(deg), minutes), hemi
}
