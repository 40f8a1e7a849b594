package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/campusrun/campus-run/internal/constants"
	"github.com/campusrun/campus-run/internal/shell"
	"github.com/campusrun/campus-run/pkg/mqtt"
	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// CommandService accepts shell command lines over MQTT and runs them through
// the dispatcher. Output is published by the session's ResponsePublisher.
type CommandService struct {
	// Configuration Fields
	subTopic  string
	qos       int
	sessionID string

	// Dependencies
	mqttClient mqtt.MQTTClient
	queue      *shell.Queue
	logger     zerolog.Logger

	// Internal state management
	stopChan chan struct{}
	doneChan chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCommandService initializes a new CommandService with given parameters.
func NewCommandService(subTopic string, qos int, sessionID string, mqttClient mqtt.MQTTClient, dispatcher *shell.Dispatcher, logger zerolog.Logger) *CommandService {
	if subTopic == "" {
		subTopic = constants.DefaultRemoteTopic
	}

	// Initialize context and cancel function
	ctx, cancel := context.WithCancel(context.Background())

	return &CommandService{
		subTopic:   subTopic,
		qos:        qos,
		sessionID:  sessionID,
		mqttClient: mqttClient,
		queue:      shell.NewQueue(ctx, dispatcher),
		logger:     logger,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// CommandTopic is the topic command lines are read from.
func (cs *CommandService) CommandTopic() string {
	return cs.subTopic + "/" + cs.sessionID
}

// ResponseTopic is the topic command output is published to.
func (cs *CommandService) ResponseTopic() string {
	return ResponseTopic(cs.subTopic, cs.sessionID)
}

// ResponseTopic builds the response topic for a session.
func ResponseTopic(subTopic, sessionID string) string {
	if subTopic == "" {
		subTopic = constants.DefaultRemoteTopic
	}
	return fmt.Sprintf("%s/%s/response", subTopic, sessionID)
}

// Start subscribes to the MQTT topic and listens for incoming commands.
func (cs *CommandService) Start() error {
	topic := cs.CommandTopic()
	cs.logger.Info().Str("topic", topic).Msg("Starting CommandService and subscribing to MQTT topic")
	token := cs.mqttClient.Subscribe(topic, byte(cs.qos), cs.HandleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		return err
	}

	cs.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// Done is closed once a remote client sends an exit command.
func (cs *CommandService) Done() <-chan struct{} {
	return cs.doneChan
}

// Stop interrupts the running command, waits for queued ones and unsubscribes.
func (cs *CommandService) Stop() error {
	cs.mu.Lock()
	select {
	case <-cs.stopChan:
		cs.mu.Unlock()
		return nil
	default:
		close(cs.stopChan)
	}
	cs.mu.Unlock()

	cs.cancel() // Cancel the context so the running and queued commands return
	cs.wg.Wait()
	cs.queue.Close()

	topic := cs.CommandTopic()
	token := cs.mqttClient.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	cs.logger.Info().Msg("CommandService stopped successfully")
	return nil
}

// HandleCommand queues an incoming command line. The interrupt payload
// cancels the running command instead. It never blocks on command execution
// so that interrupts are delivered while a command runs.
func (cs *CommandService) HandleCommand(client MQTT.Client, msg MQTT.Message) {
	cs.mu.Lock()

	select {
	case <-cs.stopChan:
		cs.mu.Unlock()
		cs.logger.Warn().Msg("Received command but service is stopping, ignoring command")
		return
	default:
		cs.wg.Add(1)
		cs.mu.Unlock()
	}

	line := strings.TrimSpace(string(msg.Payload()))
	cs.logger.Info().Str("topic", msg.Topic()).Str("command", line).Msg("Received command from MQTT topic")

	if line == constants.InterruptCommand {
		defer cs.wg.Done()
		if !cs.queue.Interrupt() {
			cs.logger.Debug().Msg("Interrupt received with no running command")
		}
		return
	}

	result := cs.queue.Submit(line)
	go func() {
		defer cs.wg.Done()
		r := <-result
		if r.Exit {
			cs.logger.Info().Msg("Exit requested by remote client")
			cs.doneOnce.Do(func() { close(cs.doneChan) })
		}
	}()
}
