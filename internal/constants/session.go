package constants

type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StateInitialized   SessionState = "initialized"
	StateRouteLoaded   SessionState = "route_loaded"
	StatePlaying       SessionState = "playing"
)

// Helper process roles tracked by a session.
const (
	RoleTunnelDaemon = "tunneld"
	RoleTunnel       = "tunnel"
	RoleSimulation   = "simulate-location"
)
