package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/pkg/location"
	"github.com/campusrun/campus-run/pkg/route"
	"github.com/campusrun/campus-run/pkg/trackfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoute(t *testing.T, points []location.Point) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "route.geojson")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, trackfmt.WriteGeoJSON(f, route.NewLineString(points)))
	return path
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func routePoints(n int) []location.Point {
	points := make([]location.Point, n)
	for i := range points {
		points[i] = location.Point{Latitude: 27.9 + float64(i)*0.0001, Longitude: 120.68}
	}
	return points
}

func initSession(t *testing.T, ts *testSession) {
	t.Helper()
	require.NoError(t, ts.Init(context.Background(), InitOptions{}))
}

func TestSession_CleanupBeforeInit(t *testing.T) {
	ts := newTestSession(t, Config{})

	ts.Cleanup()
	ts.Cleanup()

	assert.Equal(t, constants.StateUninitialized, ts.State())
	assert.Empty(t, ts.runner.Calls())
}

func TestSession_StartBeforeInit(t *testing.T) {
	ts := newTestSession(t, Config{})

	err := ts.Start(context.Background(), StartOptions{})

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, ts.runner.Calls())
	assert.Empty(t, ts.runner.Spawned())
	assert.Equal(t, constants.StateUninitialized, ts.State())
}

func TestSession_LoadBeforeInit(t *testing.T) {
	ts := newTestSession(t, Config{})

	err := ts.Load(writeRoute(t, routePoints(3)))

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, constants.StateUninitialized, ts.State())
}

func TestSession_Init(t *testing.T) {
	ts := newTestSession(t, Config{VerifyDVT: true})

	require.NoError(t, ts.Init(context.Background(), InitOptions{}))

	assert.Equal(t, constants.StateInitialized, ts.State())
	assert.Equal(t, []string{
		"amfi developer-mode-status",
		"remote tunneld",
		"remote start-tunnel",
		"developer dvt ls /",
	}, ts.runner.Calls())
	assert.Equal(t, []time.Duration{constants.DefaultSettleDelay, constants.DefaultSettleDelay}, ts.Sleeps())

	st := ts.Status()
	assert.False(t, st.IOS17Plus)
	require.Len(t, st.Helpers, 2)
	assert.Equal(t, constants.RoleTunnel, st.Helpers[0].Role)
	assert.Equal(t, constants.RoleTunnelDaemon, st.Helpers[1].Role)
	assert.True(t, st.Helpers[0].Running)
	assert.Equal(t, uint64(8192), st.Helpers[0].RSSBytes)
}

func TestSession_InitSelectsTunnel(t *testing.T) {
	tests := []struct {
		name     string
		opts     InitOptions
		lockdown bool
	}{
		{name: "default", opts: InitOptions{}, lockdown: false},
		{name: "flag", opts: InitOptions{IOS17Plus: true}, lockdown: true},
		{name: "17.4", opts: InitOptions{IOSVersion: "17.4"}, lockdown: true},
		{name: "17.4.1", opts: InitOptions{IOSVersion: "17.4.1"}, lockdown: true},
		{name: "18", opts: InitOptions{IOSVersion: "18"}, lockdown: true},
		{name: "17.3.1", opts: InitOptions{IOSVersion: "17.3.1"}, lockdown: false},
		{name: "16.7", opts: InitOptions{IOSVersion: "16.7"}, lockdown: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSession(t, Config{})

			require.NoError(t, ts.Init(context.Background(), tt.opts))

			calls := ts.runner.Calls()
			want := "remote start-tunnel"
			if tt.lockdown {
				want = "lockdown start-tunnel"
			}
			assert.Contains(t, calls, want)
			assert.Equal(t, tt.lockdown, ts.Status().IOS17Plus)
		})
	}
}

func TestSession_InitInvalidVersion(t *testing.T) {
	ts := newTestSession(t, Config{})

	err := ts.Init(context.Background(), InitOptions{IOSVersion: "seventeen"})

	assert.Error(t, err)
	assert.Empty(t, ts.runner.Calls())
	assert.Equal(t, constants.StateUninitialized, ts.State())
}

func TestSession_InitFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(ts *testSession)
		wantErr error
		spawned int
	}{
		{
			name:    "not elevated",
			setup:   func(ts *testSession) { ts.isElevated = func() bool { return false } },
			wantErr: ErrPermissionDenied,
		},
		{
			name:    "no device",
			setup:   func(ts *testSession) { ts.runner.outputs["amfi developer-mode-status"] = "  \n" },
			wantErr: ErrDeviceNotConnected,
		},
		{
			name:    "developer mode off",
			setup:   func(ts *testSession) { ts.runner.outputs["amfi developer-mode-status"] = "false\n" },
			wantErr: ErrDeveloperModeDisabled,
		},
		{
			name:    "daemon exits",
			setup:   func(ts *testSession) { ts.runner.exitOnce["remote tunneld"] = true },
			wantErr: ErrConnectionFailed,
			spawned: 1,
		},
		{
			name:    "tunnel exits",
			setup:   func(ts *testSession) { ts.runner.exitOnce["remote start-tunnel"] = true },
			wantErr: ErrConnectionFailed,
			spawned: 2,
		},
		{
			name:    "dvt unreachable",
			setup:   func(ts *testSession) { ts.runner.outputs["developer dvt ls /"] = "InvalidServiceError\n" },
			wantErr: ErrConnectionFailed,
			spawned: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSession(t, Config{VerifyDVT: true})
			tt.setup(ts)

			err := ts.Init(context.Background(), InitOptions{})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, constants.StateUninitialized, ts.State())
			spawned := ts.runner.Spawned()
			assert.Len(t, spawned, tt.spawned)
			for _, h := range spawned {
				assert.False(t, h.Running())
			}
			assert.Empty(t, ts.Status().Helpers)
		})
	}
}

func TestSession_InitTwice(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)

	err := ts.Init(context.Background(), InitOptions{})

	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Len(t, ts.runner.Spawned(), 2)
}

func TestSession_InitCancelled(t *testing.T) {
	ts := newTestSession(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ts.runner.run = func(context.Context, []string) (string, error) { return "true", nil }

	err := ts.Init(ctx, InitOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, constants.StateUninitialized, ts.State())
}

func TestSession_Load(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)

	require.NoError(t, ts.Load(writeRoute(t, routePoints(5))))

	assert.Equal(t, constants.StateRouteLoaded, ts.State())
	assert.Equal(t, 5, ts.Status().Coordinates)
	assert.Contains(t, ts.out.String(), "Loaded 5 points")
}

func TestSession_LoadInvalidRouteKeepsState(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)

	path := filepath.Join(t.TempDir(), "bad.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0600))

	err := ts.Load(path)
	assert.ErrorIs(t, err, trackfmt.ErrRouteParse)
	assert.Equal(t, constants.StateInitialized, ts.State())

	err = ts.Load(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_StartWithoutRoute(t *testing.T) {
	ts := newTestSession(t, Config{PlaybackMode: constants.PlaybackPoints})
	initSession(t, ts)

	err := ts.Start(context.Background(), StartOptions{})

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_PlayPoints(t *testing.T) {
	ts := newTestSession(t, Config{PointSkip: 2})
	initSession(t, ts)
	require.NoError(t, ts.Load(writeRoute(t, routePoints(10))))
	before := len(ts.runner.Calls())

	require.NoError(t, ts.Start(context.Background(), StartOptions{}))

	points := routePoints(10)
	var want []string
	for _, i := range []int{2, 5, 8} {
		want = append(want, "developer dvt simulate-location set -- "+
			formatCoord(points[i].Latitude)+" "+formatCoord(points[i].Longitude))
	}
	assert.Equal(t, want, ts.runner.Calls()[before:])

	// Two settle delays from init, then one pause between each pair of points.
	sleeps := ts.Sleeps()[2:]
	assert.Equal(t, []time.Duration{constants.DefaultMaxPointDelay, constants.DefaultMaxPointDelay}, sleeps)
	assert.Equal(t, constants.StateRouteLoaded, ts.State())
	assert.Contains(t, ts.out.String(), "Location simulation finished")
}

func TestSession_PlayPointsNoSkip(t *testing.T) {
	ts := newTestSession(t, Config{PointSkip: 0, PlaybackMode: constants.PlaybackPoints})
	initSession(t, ts)
	before := len(ts.runner.Calls())

	require.NoError(t, ts.Start(context.Background(), StartOptions{Path: writeRoute(t, routePoints(4))}))

	assert.Len(t, ts.runner.Calls()[before:], 4)
	assert.Equal(t, constants.StateRouteLoaded, ts.State())
}

func TestSession_PointDelayRange(t *testing.T) {
	ts := newTestSession(t, Config{})

	ts.randInt64N = func(int64) int64 { return 0 }
	assert.Equal(t, constants.DefaultMinPointDelay, ts.pointDelay())

	ts.randInt64N = func(n int64) int64 { return n - 1 }
	assert.Equal(t, constants.DefaultMaxPointDelay, ts.pointDelay())
}

func TestSession_PlayPointsCancelled(t *testing.T) {
	ts := newTestSession(t, Config{PointSkip: 0})
	initSession(t, ts)
	require.NoError(t, ts.Load(writeRoute(t, routePoints(10))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sent := 0
	ts.runner.run = func(ctx context.Context, args []string) (string, error) {
		sent++
		if sent == 3 {
			cancel()
			return "", ctx.Err()
		}
		return "", nil
	}

	err := ts.Start(ctx, StartOptions{})

	assert.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, constants.StateRouteLoaded, ts.State())
	assert.Contains(t, ts.out.String(), "Location simulation stopped")
}

func TestSession_PlayPointsToolFailure(t *testing.T) {
	ts := newTestSession(t, Config{PointSkip: 0})
	initSession(t, ts)
	require.NoError(t, ts.Load(writeRoute(t, routePoints(3))))
	ts.runner.run = func(context.Context, []string) (string, error) {
		return "", errors.New("exit status 1")
	}

	err := ts.Start(context.Background(), StartOptions{})

	assert.ErrorIs(t, err, ErrPlayback)
	assert.Equal(t, constants.StateRouteLoaded, ts.State())
}

func writeGPX(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "route.gpx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, trackfmt.WriteGPX(f, route.NewLineString(routePoints(3))))
	return path
}

func TestSession_PlayGPXErrorLine(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	path := writeGPX(t)
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, "\x1b[32mINFO\x1b[0m playing route\n")
		io.WriteString(h.w, "\x1b[31mERROR\x1b[0m Device is locked\n")
	}

	err := ts.Start(context.Background(), StartOptions{Path: path})

	require.ErrorIs(t, err, ErrPlayback)
	assert.Contains(t, err.Error(), "ERROR Device is locked")
	assert.NotContains(t, err.Error(), "\x1b")
	assert.True(t, ts.runner.streamed.killed.Load())
	assert.Equal(t, []string{"INFO playing route", "ERROR Device is locked"}, ts.out.Lines()[4:6])
	assert.Equal(t, constants.StateInitialized, ts.State())
	assert.Len(t, ts.Status().Helpers, 2)
}

func TestSession_PlayGPXProgressRedraws(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	path := writeGPX(t)
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, strings.Repeat("progress 50%\r", 6000))
		io.WriteString(h.w, "\x1b[31mERROR\x1b[0m Device is locked\n")
	}

	errs := make(chan error, 1)
	go func() { errs <- ts.Start(context.Background(), StartOptions{Path: path}) }()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrPlayback)
		assert.Contains(t, err.Error(), "ERROR Device is locked")
	case <-time.After(5 * time.Second):
		t.Fatal("playback hung on carriage-return output")
	}
	assert.Contains(t, ts.out.Lines(), "progress 50%")
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_PlayGPXOversizedLine(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	path := writeGPX(t)
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, strings.Repeat("#", 2<<20))
	}

	errs := make(chan error, 1)
	go func() { errs <- ts.Start(context.Background(), StartOptions{Path: path}) }()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrPlayback)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
		assert.Contains(t, err.Error(), "reading tool output")
	case <-time.After(5 * time.Second):
		t.Fatal("playback hung on an oversized line")
	}
	assert.True(t, ts.runner.streamed.killed.Load())
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_PlayGPXFinishes(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, "done\n")
		h.exit()
	}

	path := writeGPX(t)

	require.NoError(t, ts.Start(context.Background(), StartOptions{Path: path}))

	assert.Contains(t, ts.runner.Calls(), "developer dvt simulate-location play "+path)
	assert.False(t, ts.runner.streamed.killed.Load())
}

func TestSession_PlayGPXCancelled(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	ctx, cancel := context.WithCancel(context.Background())
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, "playing\n")
		cancel()
	}

	err := ts.Start(ctx, StartOptions{Path: writeGPX(t)})

	assert.NoError(t, err)
	assert.True(t, ts.runner.streamed.killed.Load())
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_PlayGPXMissingFile(t *testing.T) {
	ts := newTestSession(t, Config{PlaybackMode: constants.PlaybackGPX})
	initSession(t, ts)
	before := len(ts.runner.Calls())

	err := ts.Start(context.Background(), StartOptions{Path: filepath.Join(t.TempDir(), "none.gpx")})

	assert.Error(t, err)
	assert.Len(t, ts.runner.Calls(), before)
	assert.Equal(t, constants.StateInitialized, ts.State())
}

func TestSession_CleanupAfterInit(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	require.NoError(t, ts.Load(writeRoute(t, routePoints(3))))

	ts.Cleanup()

	for _, h := range ts.runner.Spawned() {
		assert.True(t, h.killed.Load())
	}
	st := ts.Status()
	assert.Equal(t, constants.StateUninitialized, st.State)
	assert.Zero(t, st.Coordinates)
	assert.Empty(t, st.Helpers)

	// Init works again after cleanup.
	require.NoError(t, ts.Init(context.Background(), InitOptions{}))
}

func TestSession_CleanupStopsPlayback(t *testing.T) {
	ts := newTestSession(t, Config{})
	initSession(t, ts)
	playing := make(chan struct{})
	ts.runner.onStream = func(h *fakeHandle) {
		io.WriteString(h.w, "playing\n")
		close(playing)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- ts.Start(context.Background(), StartOptions{Path: writeGPX(t)})
	}()
	<-playing
	assert.Eventually(t, func() bool { return ts.State() == constants.StatePlaying }, time.Second, 5*time.Millisecond)

	ts.Cleanup()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not stop")
	}
	assert.Equal(t, constants.StateUninitialized, ts.State())
}

func TestSession_CheckDeveloperMode(t *testing.T) {
	tests := []struct {
		output  string
		enabled bool
		wantErr error
	}{
		{output: "true\n", enabled: true},
		{output: "false\n", enabled: false},
		{output: "", wantErr: ErrDeviceNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			ts := newTestSession(t, Config{})
			ts.runner.outputs["amfi developer-mode-status"] = tt.output

			enabled, err := ts.CheckDeveloperMode(context.Background())

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.enabled, enabled)
		})
	}
}

func TestSession_EnableDeveloperMode(t *testing.T) {
	ts := newTestSession(t, Config{})
	ts.runner.outputs["amfi enable-developer-mode"] = "Developer mode enabled, confirm on device\n"

	require.NoError(t, ts.EnableDeveloperMode(context.Background()))
	assert.Equal(t, []string{"amfi enable-developer-mode"}, ts.runner.Calls())
	assert.Contains(t, ts.out.String(), "confirm on device")

	ts.isElevated = func() bool { return false }
	assert.ErrorIs(t, ts.EnableDeveloperMode(context.Background()), ErrPermissionDenied)
}

func TestStatus_String(t *testing.T) {
	st := Status{
		ID:          "abc",
		State:       constants.StateRouteLoaded,
		IOS17Plus:   true,
		Coordinates: 12,
		Helpers: []HelperStatus{
			{Role: constants.RoleTunnel, PID: 10, Running: true, RSSBytes: 4096},
			{Role: constants.RoleTunnelDaemon, PID: 11},
		},
	}

	assert.Equal(t, "Session: abc\n"+
		"State: route_loaded\n"+
		"iOS mode: iOS 17.4+\n"+
		"Loaded points: 12\n"+
		"Helper tunnel: pid 10 (running, 4 KiB)\n"+
		"Helper tunneld: pid 11 (exited)", st.String())
}
