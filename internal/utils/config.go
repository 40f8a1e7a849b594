package utils

import (
	"time"

	"github.com/campusrun/campus-run/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Logging struct {
		Level string `yaml:"level"` // zerolog level name: debug, info, warn, error
	} `yaml:"logging"`

	Tool struct {
		Command []string      `yaml:"command"` // argv prefix invoking pymobiledevice3
		Timeout time.Duration `yaml:"timeout"` // Timeout for run-to-completion invocations
	} `yaml:"tool"`

	Session struct {
		SettleDelay  time.Duration `yaml:"settle_delay"`  // How long tunnel helpers must survive after starting
		VerifyDVT    bool          `yaml:"verify_dvt"`    // Probe the DVT service after the tunnel is up
		DefaultRoute string        `yaml:"default_route"` // GeoJSON file loaded by "load" without arguments
	} `yaml:"session"`

	Playback struct {
		Mode       string        `yaml:"mode"`        // auto, points or gpx
		MinDelay   time.Duration `yaml:"min_delay"`   // Lower bound of the pause between points
		MaxDelay   time.Duration `yaml:"max_delay"`   // Upper bound of the pause between points
		PointSkip  *int          `yaml:"point_skip"`  // Points dropped before each point sent
		DefaultGPX string        `yaml:"default_gpx"` // GPX file played by "start" without arguments
	} `yaml:"playback"`

	Remote struct {
		Enabled       bool   `yaml:"enabled"`        // Accept commands over MQTT instead of stdin
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
		Username      string `yaml:"username"`       // MQTT username
		Password      string `yaml:"password"`       // MQTT password
		Topic         string `yaml:"topic"`          // Command topic prefix
		QOS           int    `yaml:"qos"`            // MQTT QoS level for commands and responses
	} `yaml:"remote"`

	Route struct {
		Anchors      [][2]float64 `yaml:"anchors"`       // P0, P1, P2 as [lat, lon]
		Laps         int          `yaml:"laps"`          // Number of laps
		Speed        float64      `yaml:"speed"`         // Playback speed used to derive point spacing
		JitterMeters float64      `yaml:"jitter_meters"` // GPS noise half-width in meters
		Format       string       `yaml:"format"`        // gpx, geojson, nmea or polyline
		Output       string       `yaml:"output"`        // Output file, defaults to data.<ext>
	} `yaml:"route"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
