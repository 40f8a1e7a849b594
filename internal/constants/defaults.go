package constants

import "time"

// DefaultToolCommand is the argv prefix used to invoke pymobiledevice3.
var DefaultToolCommand = []string{"python3", "-m", "pymobiledevice3"}

const (
	// DefaultCommandTimeout bounds a single run-to-completion tool invocation.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultSettleDelay is how long helpers must stay alive after starting.
	DefaultSettleDelay = 2 * time.Second

	// DefaultMinPointDelay and DefaultMaxPointDelay bound the jittered pause
	// between per-point location updates.
	DefaultMinPointDelay = 1750 * time.Millisecond
	DefaultMaxPointDelay = 2500 * time.Millisecond

	// DefaultPointSkip is how many points are dropped before each point sent
	// in per-point playback.
	DefaultPointSkip = 2

	// DefaultRouteFile is loaded by "load" without arguments.
	DefaultRouteFile = "data.geojson"

	// DefaultGPXFile is played by "start" in gpx mode without arguments.
	DefaultGPXFile = "data.gpx"

	// DefaultConfigFile is read by the binaries when no --config is given.
	DefaultConfigFile = "configs/config.yaml"
)

// Playback modes.
const (
	PlaybackAuto   = "auto"
	PlaybackPoints = "points"
	PlaybackGPX    = "gpx"
)

// Tool output markers.
const (
	DeveloperModeDisabledMarker = "false"
	PlaybackErrorMarker         = "ERROR"
	DVTProbeMarker              = "/Applications"
)

// Remote front-end defaults.
const (
	DefaultRemoteTopic    = "campusrun/shell"
	DefaultRemoteClientID = "campusrun"
	InterruptCommand      = "interrupt"
)

// MinLockdownTunnelVersion is the first iOS release whose tunnel is started
// through lockdown rather than the RemoteXPC pairing flow.
const MinLockdownTunnelVersion = "17.4"

// Route generator defaults.
const (
	DefaultLaps         = 1
	DefaultSpeed        = 3.0
	DefaultTrackFormat  = "gpx"
	DefaultBaudRate     = 4800
	DefaultNMEAInterval = time.Second
)
