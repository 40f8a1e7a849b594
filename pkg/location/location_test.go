package location

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

func TestBoundsOf(t *testing.T) {
	points := []Point{
		{Latitude: 27.918553, Longitude: 120.681379},
		{Latitude: 27.919372, Longitude: 120.681212},
		{Latitude: 27.919234, Longitude: 120.680402},
	}

	b, err := BoundsOf(points)
	require.NoError(t, err)
	assert.Equal(t, Bounds{MinLat: 27.918553, MinLon: 120.680402, MaxLat: 27.919372, MaxLon: 120.681379}, b)
	for _, p := range points {
		assert.True(t, b.Contains(p))
	}

	_, err = BoundsOf(nil)
	assert.ErrorIs(t, err, ErrNoPoints)
}

func TestHaversineMeters(t *testing.T) {
	// Jakarta to Bandung is roughly 115-120 km
	d := HaversineMeters(Point{-6.2, 106.816}, Point{-6.9175, 107.6191})
	assert.Greater(t, d, 100000.0)
	assert.Less(t, d, 140000.0)

	// One degree of latitude stays close to the equirectangular constant
	d = HaversineMeters(Point{0, 0}, Point{1, 0})
	assert.InDelta(t, MetersPerDegree, d, 300)
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(Point{0, 0}, Point{1, 0}), 1e-9)
	assert.InDelta(t, 90, Bearing(Point{0, 0}, Point{0, 1}), 1e-9)
	assert.InDelta(t, 270, Bearing(Point{0, 0}, Point{0, -1}), 1e-9)
}

func TestPointIsFinite(t *testing.T) {
	assert.True(t, Point{1, 2}.IsFinite())
	assert.False(t, Point{math.NaN(), 2}.IsFinite())
	assert.False(t, Point{1, math.Inf(-1)}.IsFinite())
}

type bufferPort struct {
	bytes.Buffer
	closed bool
}

func (b *bufferPort) Close() error {
	b.closed = true
	return nil
}

func TestSerialSink_Stream(t *testing.T) {
	port := &bufferPort{}
	sink := NewSerialSink("/dev/ttyFAKE", 4800, time.Millisecond, zerolog.Nop())
	var opened *serial.Config
	sink.open = func(c *serial.Config) (io.WriteCloser, error) {
		opened = c
		return port, nil
	}

	err := sink.Stream(context.Background(), []string{"$GPRMC,a*00", "$GPRMC,b*00"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyFAKE", opened.Name)
	assert.Equal(t, 4800, opened.Baud)
	assert.Equal(t, "$GPRMC,a*00\r\n$GPRMC,b*00\r\n", port.String())
	assert.True(t, port.closed)
}

func TestSerialSink_StreamCancelled(t *testing.T) {
	port := &bufferPort{}
	sink := NewSerialSink("/dev/ttyFAKE", 4800, time.Hour, zerolog.Nop())
	sink.open = func(c *serial.Config) (io.WriteCloser, error) { return port, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Stream(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(port.String(), "\r\n"))
}

func TestSerialSink_OpenFailure(t *testing.T) {
	sink := NewSerialSink("/dev/missing", 4800, time.Millisecond, zerolog.Nop())
	sink.open = func(c *serial.Config) (io.WriteCloser, error) { return nil, errors.New("no such device") }

	err := sink.Stream(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "no such device")
}
