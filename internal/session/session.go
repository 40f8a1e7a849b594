// Package session implements the device session state machine: bringing up
// the tunnel helpers, loading a route and replaying it onto the device.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/internal/device"
	"github.com/campusrun/campus-run/internal/ui"
	"github.com/campusrun/campus-run/pkg/file"
	"github.com/campusrun/campus-run/pkg/location"
	"github.com/campusrun/campus-run/pkg/trackfmt"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

var lockdownTunnelVersions = mustConstraint(">= " + constants.MinLockdownTunnelVersion)

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Config tunes a Session. Zero durations fall back to the defaults in
// internal/constants.
type Config struct {
	ID            uuid.UUID // generated when zero
	SettleDelay   time.Duration
	VerifyDVT     bool
	DefaultRoute  string
	DefaultGPX    string
	PlaybackMode  string
	MinPointDelay time.Duration
	MaxPointDelay time.Duration
	PointSkip     int
}

// InitOptions selects the tunnel flavour for Init.
type InitOptions struct {
	IOS17Plus  bool
	IOSVersion string // optional, e.g. "17.4.1"
}

// lockdownTunnel reports whether the device needs the lockdown tunnel.
func (o InitOptions) lockdownTunnel() (bool, error) {
	if o.IOSVersion == "" {
		return o.IOS17Plus, nil
	}
	v, err := semver.NewVersion(o.IOSVersion)
	if err != nil {
		return false, fmt.Errorf("invalid iOS version %q: %w", o.IOSVersion, err)
	}
	return o.IOS17Plus || lockdownTunnelVersions.Check(v), nil
}

// StartOptions selects what Start plays back.
type StartOptions struct {
	Path string // optional GeoJSON route or GPX file
}

// Session tracks one device connection and the helper processes it owns.
type Session struct {
	mu             sync.Mutex
	id             uuid.UUID
	state          constants.SessionState
	isIOS17Plus    bool
	coordinates    []location.Point
	processes      cmap.ConcurrentMap[string, device.Handle]
	cancelPlayback context.CancelFunc

	config Config
	runner device.Runner
	files  file.FileOperations
	out    ui.Output
	logger zerolog.Logger

	isElevated func() bool
	sleep      func(ctx context.Context, d time.Duration) error
	randInt64N func(n int64) int64
	memoryOf   func(pid int) (uint64, error)
}

// New creates an uninitialized Session.
func New(config Config, runner device.Runner, files file.FileOperations, out ui.Output, logger zerolog.Logger) *Session {
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}
	if config.SettleDelay == 0 {
		config.SettleDelay = constants.DefaultSettleDelay
	}
	if config.DefaultRoute == "" {
		config.DefaultRoute = constants.DefaultRouteFile
	}
	if config.DefaultGPX == "" {
		config.DefaultGPX = constants.DefaultGPXFile
	}
	if config.PlaybackMode == "" {
		config.PlaybackMode = constants.PlaybackAuto
	}
	if config.MinPointDelay == 0 {
		config.MinPointDelay = constants.DefaultMinPointDelay
	}
	if config.MaxPointDelay == 0 {
		config.MaxPointDelay = constants.DefaultMaxPointDelay
	}
	if config.MaxPointDelay < config.MinPointDelay {
		config.MaxPointDelay = config.MinPointDelay
	}
	if config.PointSkip < 0 {
		config.PointSkip = 0
	}

	return &Session{
		id:         config.ID,
		state:      constants.StateUninitialized,
		processes:  cmap.New[device.Handle](),
		config:     config,
		runner:     runner,
		files:      files,
		out:        out,
		logger:     logger.With().Str("component", "session").Logger(),
		isElevated: device.IsElevated,
		sleep:      sleepContext,
		randInt64N: rand.Int64N,
		memoryOf:   residentMemory,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// State returns the current state.
func (s *Session) State() constants.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Init checks the device and brings up the tunnel daemon and the tunnel.
// On failure every helper it started is killed and the session stays
// uninitialized.
func (s *Session) Init(ctx context.Context, opts InitOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != constants.StateUninitialized {
		return ErrAlreadyInitialized
	}
	lockdown, err := opts.lockdownTunnel()
	if err != nil {
		return err
	}
	if !s.isElevated() {
		return ErrPermissionDenied
	}

	enabled, err := s.developerModeEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrDeveloperModeDisabled
	}

	if err := s.connect(ctx, lockdown); err != nil {
		s.killHelpers()
		return err
	}

	s.isIOS17Plus = lockdown
	s.state = constants.StateInitialized
	s.logger.Info().Bool("lockdown_tunnel", lockdown).Msg("Device connection established")
	s.out.AppendOutput("Connection established")
	return nil
}

func (s *Session) connect(ctx context.Context, lockdown bool) error {
	s.out.AppendOutput("Starting tunnel daemon...")
	if err := s.startHelper(ctx, constants.RoleTunnelDaemon, argsTunnelDaemon); err != nil {
		return err
	}

	tunnelArgs := argsRemoteTunnel
	if lockdown {
		tunnelArgs = argsLockdownTunnel
	}
	s.out.AppendOutput("Starting tunnel...")
	if err := s.startHelper(ctx, constants.RoleTunnel, tunnelArgs); err != nil {
		return err
	}

	for _, role := range []string{constants.RoleTunnelDaemon, constants.RoleTunnel} {
		if h, ok := s.processes.Get(role); !ok || !h.Running() {
			return fmt.Errorf("%w: %s exited", ErrConnectionFailed, role)
		}
	}

	if !s.config.VerifyDVT {
		return nil
	}
	s.out.AppendOutput("Testing DVT service...")
	output, err := s.runner.Run(ctx, argsDVTProbe...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil || !strings.Contains(output, constants.DVTProbeMarker) {
		s.logger.Error().Err(err).Str("output", output).Msg("DVT probe failed")
		return fmt.Errorf("%w: DVT service not reachable", ErrConnectionFailed)
	}
	return nil
}

// startHelper spawns a helper and requires it to survive the settle delay.
func (s *Session) startHelper(ctx context.Context, role string, args []string) error {
	h, err := s.runner.Spawn(args...)
	if err != nil {
		return fmt.Errorf("%w: starting %s: %w", ErrConnectionFailed, role, err)
	}
	s.processes.Set(role, h)
	s.logger.Info().Str("role", role).Int("pid", h.Pid()).Msg("Helper started")

	if err := s.sleep(ctx, s.config.SettleDelay); err != nil {
		return err
	}
	if !h.Running() {
		return fmt.Errorf("%w: %s exited", ErrConnectionFailed, role)
	}
	return nil
}

// Load reads a GeoJSON route. An empty path loads the default route file.
func (s *Session) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != constants.StateInitialized && s.state != constants.StateRouteLoaded {
		return fmt.Errorf("%w: load requires an initialized session, run init first", ErrInvalidState)
	}
	return s.load(path)
}

func (s *Session) load(path string) error {
	if path == "" {
		path = s.config.DefaultRoute
	}

	f, err := s.files.Open(path)
	if err != nil {
		return fmt.Errorf("opening route %s: %w", path, err)
	}
	defer f.Close()

	points, err := trackfmt.ReadGeoJSON(f)
	if err != nil {
		return fmt.Errorf("loading route %s: %w", path, err)
	}

	s.coordinates = points
	s.state = constants.StateRouteLoaded
	s.logger.Info().Str("path", path).Int("points", len(points)).Msg("Route loaded")
	s.out.AppendOutput(fmt.Sprintf("Loaded %d points from %s", len(points), path))
	return nil
}

// Start replays a route onto the device until it ends or ctx is cancelled.
// Cancellation is a normal stop and returns nil.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	if s.state != constants.StateInitialized && s.state != constants.StateRouteLoaded {
		s.mu.Unlock()
		return fmt.Errorf("%w: start requires an initialized session, run init first", ErrInvalidState)
	}

	mode := s.playbackMode(opts.Path)
	var gpxPath string
	switch mode {
	case constants.PlaybackGPX:
		gpxPath = opts.Path
		if gpxPath == "" {
			gpxPath = s.config.DefaultGPX
		}
		if ok, err := s.files.IsFileExists(gpxPath); !ok {
			s.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("gpx file %s not found", gpxPath)
			}
			return err
		}
	default:
		if opts.Path != "" {
			if err := s.load(opts.Path); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		if s.state != constants.StateRouteLoaded {
			s.mu.Unlock()
			return fmt.Errorf("%w: no route loaded, run load first", ErrInvalidState)
		}
	}

	previous := s.state
	points := s.coordinates
	ctx, cancel := context.WithCancel(ctx)
	s.state = constants.StatePlaying
	s.cancelPlayback = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelPlayback = nil
		if s.state == constants.StatePlaying {
			s.state = previous
		}
		s.mu.Unlock()
	}()

	s.logger.Info().Str("mode", mode).Msg("Starting location playback")
	s.out.AppendOutput("Starting location simulation, interrupt to stop")

	var err error
	if mode == constants.PlaybackGPX {
		err = s.playGPX(ctx, gpxPath)
	} else {
		err = s.playPoints(ctx, points)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Location playback failed")
		return err
	}
	if ctx.Err() != nil {
		s.out.AppendOutput("Location simulation stopped")
	} else {
		s.out.AppendOutput("Location simulation finished")
	}
	return nil
}

func (s *Session) playbackMode(path string) string {
	switch s.config.PlaybackMode {
	case constants.PlaybackPoints, constants.PlaybackGPX:
		return s.config.PlaybackMode
	}
	if strings.HasSuffix(strings.ToLower(path), ".gpx") {
		return constants.PlaybackGPX
	}
	return constants.PlaybackPoints
}

// Cleanup kills every helper, stops any playback and resets the session.
// Calling it on an uninitialized session does nothing.
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelPlayback != nil {
		s.cancelPlayback()
	}
	s.killHelpers()
	s.state = constants.StateUninitialized
	s.isIOS17Plus = false
	s.coordinates = nil
	s.out.AppendOutput("Cleaned up all processes and connections")
}

// killHelpers kills every tracked process tree. Termination failures are
// logged and otherwise ignored.
func (s *Session) killHelpers() {
	for _, role := range s.processes.Keys() {
		h, ok := s.processes.Pop(role)
		if !ok {
			continue
		}
		if err := h.Kill(); err != nil {
			s.logger.Warn().Err(err).Str("role", role).Int("pid", h.Pid()).Msg("Failed to terminate helper")
			continue
		}
		s.logger.Info().Str("role", role).Int("pid", h.Pid()).Msg("Helper terminated")
	}
}

// CheckDeveloperMode reports whether developer mode is enabled on the
// connected device.
func (s *Session) CheckDeveloperMode(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled, err := s.developerModeEnabled(ctx)
	if err != nil {
		return false, err
	}
	if enabled {
		s.out.AppendOutput("Developer mode is enabled")
	} else {
		s.out.AppendOutput("Developer mode is disabled, run enable_dev_mode")
	}
	return enabled, nil
}

func (s *Session) developerModeEnabled(ctx context.Context) (bool, error) {
	output, err := s.runner.Run(ctx, argsDeveloperModeStatus...)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if strings.TrimSpace(output) == "" {
		return false, ErrDeviceNotConnected
	}
	if err != nil {
		return false, fmt.Errorf("checking developer mode: %w", err)
	}
	return !strings.Contains(output, constants.DeveloperModeDisabledMarker), nil
}

// EnableDeveloperMode asks the device to turn developer mode on. The device
// reboots and prompts the user afterwards.
func (s *Session) EnableDeveloperMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isElevated() {
		return ErrPermissionDenied
	}
	output, err := s.runner.Run(ctx, argsEnableDeveloperMode...)
	if output = strings.TrimSpace(output); output != "" {
		s.out.AppendOutput(output)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("enabling developer mode: %w", err)
	}
	return nil
}

// HelperStatus describes one tracked helper process.
type HelperStatus struct {
	Role     string
	PID      int
	Running  bool
	RSSBytes uint64
}

// Status is a snapshot of a Session.
type Status struct {
	ID          string
	State       constants.SessionState
	IOS17Plus   bool
	Coordinates int
	Helpers     []HelperStatus
}

func (st Status) String() string {
	var b strings.Builder
	iosMode := "iOS 17.3 and below"
	if st.IOS17Plus {
		iosMode = "iOS 17.4+"
	}
	fmt.Fprintf(&b, "Session: %s\n", st.ID)
	fmt.Fprintf(&b, "State: %s\n", st.State)
	fmt.Fprintf(&b, "iOS mode: %s\n", iosMode)
	fmt.Fprintf(&b, "Loaded points: %d", st.Coordinates)
	for _, h := range st.Helpers {
		liveness := "exited"
		if h.Running {
			liveness = fmt.Sprintf("running, %d KiB", h.RSSBytes/1024)
		}
		fmt.Fprintf(&b, "\nHelper %s: pid %d (%s)", h.Role, h.PID, liveness)
	}
	return b.String()
}

// Status returns a snapshot without changing the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:          s.id.String(),
		State:       s.state,
		IOS17Plus:   s.isIOS17Plus,
		Coordinates: len(s.coordinates),
	}

	roles := s.processes.Keys()
	sort.Strings(roles)
	for _, role := range roles {
		h, ok := s.processes.Get(role)
		if !ok {
			continue
		}
		hs := HelperStatus{Role: role, PID: h.Pid(), Running: h.Running()}
		if hs.Running {
			rss, err := s.memoryOf(hs.PID)
			if err != nil {
				s.logger.Debug().Err(err).Int("pid", hs.PID).Msg("Failed to read helper memory")
			}
			hs.RSSBytes = rss
		}
		st.Helpers = append(st.Helpers, hs)
	}
	return st
}

func residentMemory(pid int) (uint64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
