package cloud

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured.
const DefaultPublishPrefix = "icpstep"

// Publisher publishes step reports to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	logger        *log.Logger
}

// NewPublisher creates a step publisher. If client is nil, publishing is
// disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string, logger *log.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget
		retain:        true, // late subscribers get the latest step
		logger:        logger,
	}
}

// NewPublisherFromConfig creates a step publisher with the prefix, QoS and
// retain flag of cfg.
func NewPublisherFromConfig(client mqtt.Client, cfg MQTTConfig, logger *log.Logger) *Publisher {
	p := NewPublisher(client, cfg.PublishPrefix, logger)
	p.SetQoS(cfg.QoS)
	if cfg.Retain != nil {
		p.SetRetain(*cfg.Retain)
	}
	return p
}

// PublishStep publishes the report to <prefix>/<sessionID> and
// <prefix>/latest.
func (p *Publisher) PublishStep(report StepReport) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling step report: %w", err)
	}

	for _, topic := range []string{p.SessionTopic(report.SessionID), p.LatestTopic()} {
		if err := p.publish(topic, payload); err != nil {
			p.logger.Error("publishing step report", "topic", topic, "err", err)
			return err
		}
	}

	p.logger.Debug("published step report", "session", report.SessionID, "iteration", report.Iteration, "fitness", report.Fitness)
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SessionTopic returns the topic carrying a session's reports.
func (p *Publisher) SessionTopic(sessionID string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, sessionID)
}

// LatestTopic returns the topic carrying the most recent report of any
// session.
func (p *Publisher) LatestTopic() string {
	return fmt.Sprintf("%s/latest", p.publishPrefix)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
