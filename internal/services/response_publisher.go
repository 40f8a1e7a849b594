package services

import (
	"time"

	"github.com/campusrun/campus-run/pkg/mqtt"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// ResponsePublisher is a ui.Output that publishes each chunk of command
// output to the session's response topic.
type ResponsePublisher struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger
}

// NewResponsePublisher initializes a new ResponsePublisher that forwards
// session output to the response topic derived from subTopic and sessionID.
func NewResponsePublisher(subTopic string, qos int, sessionID string, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ResponsePublisher {
	return &ResponsePublisher{
		topic:      ResponseTopic(subTopic, sessionID),
		qos:        qos,
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// AppendOutput sends the command execution output to the MQTT response topic.
func (p *ResponsePublisher) AppendOutput(text string) {
	token := p.mqttClient.Publish(p.topic, byte(p.qos), false, []byte(text))
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn().Str("topic", p.topic).Msg("Timed out publishing command output")
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error().Err(err).Str("topic", p.topic).Msg("Failed to publish command output")
		return
	}
	p.logger.Debug().Str("topic", p.topic).Msg("Command output published")
}
