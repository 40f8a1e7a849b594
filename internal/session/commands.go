package session

import (
	"strconv"

	"github.com/campusrun/campus-run/pkg/location"
)

// Device tool argument lists, appended to the configured tool command.
var (
	argsDeveloperModeStatus = []string{"amfi", "developer-mode-status"}
	argsEnableDeveloperMode = []string{"amfi", "enable-developer-mode"}
	argsTunnelDaemon        = []string{"remote", "tunneld"}
	argsLockdownTunnel      = []string{"lockdown", "start-tunnel"}
	argsRemoteTunnel        = []string{"remote", "start-tunnel"}
	argsDVTProbe            = []string{"developer", "dvt", "ls", "/"}
)

func argsSetLocation(p location.Point) []string {
	return []string{
		"developer", "dvt", "simulate-location", "set", "--",
		strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		strconv.FormatFloat(p.Longitude, 'f', -1, 64),
	}
}

func argsPlayGPX(path string) []string {
	return []string{"developer", "dvt", "simulate-location", "play", path}
}
