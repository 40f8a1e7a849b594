package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/internal/utils"
	"github.com/campusrun/campus-run/pkg/file"
	"github.com/campusrun/campus-run/pkg/location"
	"github.com/campusrun/campus-run/pkg/route"
	"github.com/campusrun/campus-run/pkg/trackfmt"
	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"
)

const usage = `routegen: generate a closed running track and export it.

The track runs P0 to P1, turns around to P2, runs back parallel to the first
straight and turns back to P0. Anchors are given as lat,lon; put -- before
them when a coordinate is negative.

Usage:
  routegen [options] [--] [<p0> <p1> <p2>]
  routegen -h | --help

Options:
  -h --help          Show this screen.
  --config=<file>    Read route defaults from this file [default: configs/config.yaml].
  --laps=<n>         Number of laps.
  --speed=<mps>      Playback speed, sets the point spacing.
  --jitter=<meters>  GPS noise half-width in meters.
  --seed=<n>         Seed for the jitter random source.
  --format=<name>    Output format: gpx, geojson, nmea or polyline.
  --output=<file>    Output file, data.<ext> when unset.
  --serial=<port>    Stream NMEA sentences to a serial port instead of a file.
  --baud=<rate>      Serial baud rate.
  --interval=<dur>   Time between NMEA sentences, e.g. 1s.
`

// request is a fully resolved generation run.
type request struct {
	options  route.Options
	speed    float64
	format   trackfmt.Format
	output   string
	serial   string
	baud     int
	interval time.Duration
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse arguments")
	}

	fileClient := file.NewFileService()
	config, err := loadRouteConfig(arguments, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	req, err := newRequest(arguments, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid arguments")
	}

	track, err := route.Generate(req.options)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to generate track")
	}
	bounds, _ := track.Bounds()
	logger.Info().
		Int("legs", len(track.Legs)).
		Int("points", track.Len()).
		Float64("length_m", location.PathLengthMeters(track.Points())).
		Interface("bounds", bounds).
		Msg("Track generated")

	if req.serial != "" {
		if err := streamSerial(req, track, logger); err != nil {
			logger.Fatal().Err(err).Str("port", req.serial).Msg("Failed to stream NMEA")
		}
		return
	}

	err = fileClient.WriteAtomic(req.output, func(w io.Writer) error {
		return trackfmt.Encode(w, req.format, track)
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", req.output).Msg("Failed to write track")
	}
	logger.Info().Str("path", req.output).Str("format", string(req.format)).Msg("Track written")
}

func loadRouteConfig(arguments docopt.Opts, fileClient file.FileOperations) (*utils.Config, error) {
	path, _ := arguments.String("--config")
	exists, err := fileClient.IsFileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		if path == constants.DefaultConfigFile {
			return &utils.Config{}, nil
		}
		return nil, fmt.Errorf("configuration file %s not found", path)
	}
	return utils.LoadConfig(path, fileClient)
}

// newRequest merges command line flags over the route section of config
// and the built-in defaults.
func newRequest(arguments docopt.Opts, config *utils.Config) (request, error) {
	rc := config.Route
	req := request{
		speed:    constants.DefaultSpeed,
		baud:     constants.DefaultBaudRate,
		interval: constants.DefaultNMEAInterval,
		output:   rc.Output,
	}
	req.options.Laps = constants.DefaultLaps
	if rc.Laps != 0 {
		req.options.Laps = rc.Laps
	}
	if rc.Speed != 0 {
		req.speed = rc.Speed
	}
	req.options.JitterMeters = rc.JitterMeters

	formatName := rc.Format
	if formatName == "" {
		formatName = constants.DefaultTrackFormat
	}

	var err error
	if v, ok := flag(arguments, "--laps"); ok {
		if req.options.Laps, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("--laps: %w", err)
		}
	}
	if v, ok := flag(arguments, "--speed"); ok {
		if req.speed, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("--speed: %w", err)
		}
	}
	if v, ok := flag(arguments, "--jitter"); ok {
		if req.options.JitterMeters, err = strconv.ParseFloat(v, 64); err != nil {
			return req, fmt.Errorf("--jitter: %w", err)
		}
	}
	if v, ok := flag(arguments, "--seed"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("--seed: %w", err)
		}
		req.options.Rand = rand.New(rand.NewPCG(seed, seed))
	}
	if v, ok := flag(arguments, "--format"); ok {
		formatName = v
	}
	if v, ok := flag(arguments, "--output"); ok {
		req.output = v
	}
	if v, ok := flag(arguments, "--serial"); ok {
		req.serial = v
	}
	if v, ok := flag(arguments, "--baud"); ok {
		if req.baud, err = strconv.Atoi(v); err != nil {
			return req, fmt.Errorf("--baud: %w", err)
		}
	}
	if v, ok := flag(arguments, "--interval"); ok {
		if req.interval, err = time.ParseDuration(v); err != nil {
			return req, fmt.Errorf("--interval: %w", err)
		}
	}

	if req.speed <= 0 {
		return req, fmt.Errorf("speed must be positive, got %g", req.speed)
	}
	if req.options.JitterMeters < 0 {
		return req, fmt.Errorf("jitter must not be negative, got %g", req.options.JitterMeters)
	}
	req.options.Spacing = route.SpacingForSpeed(req.speed)

	if req.format, err = trackfmt.ParseFormat(formatName); err != nil {
		return req, err
	}
	if req.output == "" {
		req.output = "data." + req.format.Extension()
	}

	if req.options.Anchors, err = anchors(arguments, rc.Anchors); err != nil {
		return req, err
	}
	return req, nil
}

// flag returns the value of an option that was given on the command line.
func flag(arguments docopt.Opts, name string) (string, bool) {
	v, err := arguments.String(name)
	return v, err == nil
}

func anchors(arguments docopt.Opts, configured [][2]float64) ([3]location.Point, error) {
	var points [3]location.Point
	if _, given := flag(arguments, "<p0>"); given {
		for i, key := range []string{"<p0>", "<p1>", "<p2>"} {
			v, _ := arguments.String(key)
			p, err := parsePoint(v)
			if err != nil {
				return points, fmt.Errorf("%s: %w", key, err)
			}
			points[i] = p
		}
		return points, nil
	}

	if len(configured) != 3 {
		return points, fmt.Errorf("three anchors are required, got %d from the configuration", len(configured))
	}
	for i, a := range configured {
		points[i] = location.Point{Latitude: a[0], Longitude: a[1]}
	}
	return points, nil
}

// parsePoint reads "lat,lon".
func parsePoint(s string) (location.Point, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return location.Point{}, fmt.Errorf("expected lat,lon, got %q", s)
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return location.Point{}, fmt.Errorf("latitude: %w", err)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return location.Point{}, fmt.Errorf("longitude: %w", err)
	}
	return location.Point{Latitude: latitude, Longitude: longitude}, nil
}

func streamSerial(req request, track route.Track, logger zerolog.Logger) error {
	sentences, err := trackfmt.NMEASentences(track, trackfmt.NMEAOptions{
		Start:    time.Now().UTC(),
		Interval: req.interval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return location.NewSerialSink(req.serial, req.baud, req.interval, logger).Stream(ctx, sentences)
}
