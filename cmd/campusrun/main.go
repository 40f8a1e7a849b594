package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/internal/device"
	"github.com/campusrun/campus-run/internal/services"
	"github.com/campusrun/campus-run/internal/session"
	"github.com/campusrun/campus-run/internal/shell"
	"github.com/campusrun/campus-run/internal/ui"
	"github.com/campusrun/campus-run/internal/utils"
	"github.com/campusrun/campus-run/pkg/file"
	"github.com/campusrun/campus-run/pkg/mqtt"
	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const usage = `campusrun: replay a running route onto an iOS device.

Usage:
  campusrun [--config=<file>] [--remote]
  campusrun -h | --help

Options:
  -h --help        Show this screen.
  --config=<file>  Configuration file [default: configs/config.yaml].
  --remote         Take commands over MQTT instead of the console.
`

const banner = `Campus run location simulator. Type help for a list of commands.
Notes:
  - Run with administrator privileges.
  - Use 'init --ios17' for iOS 17.4 and later.
  - Connect the device before running commands.`

func main() {
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	configPath, _ := arguments.String("--config")
	remote, _ := arguments.Bool("--remote")

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

	// Load configuration from file
	fileClient := file.NewFileService()
	config, err := loadConfig(configPath, fileClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	remote = remote || config.Remote.Enabled
	if remote {
		// Structured JSON logs for unattended runs
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	if config.Logging.Level != "" {
		level, err := zerolog.ParseLevel(config.Logging.Level)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid log level")
		}
		logger = logger.Level(level)
	}

	sessionID := uuid.New()
	tool := device.NewTool(config.Tool.Command, config.Tool.Timeout, logger)
	sessionConfig := newSessionConfig(config, sessionID)

	if remote {
		runRemote(config, sessionConfig, tool, fileClient, logger)
		return
	}
	runConsole(sessionConfig, tool, fileClient, logger)
}

// loadConfig reads the configuration file. A missing file at the default
// location means built-in defaults.
func loadConfig(path string, fileClient file.FileOperations, logger zerolog.Logger) (*utils.Config, error) {
	if path == constants.DefaultConfigFile {
		exists, err := fileClient.IsFileExists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			logger.Warn().Str("path", path).Msg("Configuration file not found, using defaults")
			return &utils.Config{}, nil
		}
	}
	return utils.LoadConfig(path, fileClient)
}

func newSessionConfig(config *utils.Config, id uuid.UUID) session.Config {
	pointSkip := constants.DefaultPointSkip
	if config.Playback.PointSkip != nil {
		pointSkip = *config.Playback.PointSkip
	}
	return session.Config{
		ID:            id,
		SettleDelay:   config.Session.SettleDelay,
		VerifyDVT:     config.Session.VerifyDVT,
		DefaultRoute:  config.Session.DefaultRoute,
		DefaultGPX:    config.Playback.DefaultGPX,
		PlaybackMode:  config.Playback.Mode,
		MinPointDelay: config.Playback.MinDelay,
		MaxPointDelay: config.Playback.MaxDelay,
		PointSkip:     pointSkip,
	}
}

func runConsole(sessionConfig session.Config, tool device.Runner, fileClient file.FileOperations, logger zerolog.Logger) {
	out := ui.NewConsole(os.Stdout)
	s := session.New(sessionConfig, tool, fileClient, out, logger)
	dispatcher := shell.NewDispatcher(s, out, logger)

	fmt.Fprintln(os.Stdout, banner)
	if err := shell.NewConsole(dispatcher, os.Stdin, os.Stdout, logger).Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Console stopped unexpectedly")
	}
}

func runRemote(config *utils.Config, sessionConfig session.Config, tool device.Runner, fileClient file.FileOperations, logger zerolog.Logger) {
	clientID := config.Remote.ClientID
	if clientID == "" {
		clientID = constants.DefaultRemoteClientID
	}
	// Generate a unique MQTT Client ID by appending the session ID
	clientID = clientID + "-" + sessionConfig.ID.String()
	logger.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient)
	err := mqttClient.Initialize(config.Remote.Broker, clientID, config.Remote.CACertificate, config.Remote.Username, config.Remote.Password)
	if err != nil {
		logger.Fatal().Err(err).Str("broker", config.Remote.Broker).Msg("Failed to initialize MQTT connection")
	}

	sessionID := sessionConfig.ID.String()
	out := services.NewResponsePublisher(config.Remote.Topic, config.Remote.QOS, sessionID, mqttClient, logger)
	s := session.New(sessionConfig, tool, fileClient, out, logger)
	dispatcher := shell.NewDispatcher(s, out, logger)

	commandService := services.NewCommandService(config.Remote.Topic, config.Remote.QOS, sessionID, mqttClient, dispatcher, logger)
	if err := commandService.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start command service")
	}
	logger.Info().
		Str("command_topic", commandService.CommandTopic()).
		Str("response_topic", commandService.ResponseTopic()).
		Msg("Waiting for remote commands")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stopCh:
	case <-commandService.Done():
	}

	logger.Info().Msg("Shutting down gracefully...")
	if err := commandService.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop command service")
	}
	s.Cleanup()
	mqttClient.Disconnect(250)
}
