package cloud

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StepHandler is called for every message on the step trigger topic.
type StepHandler func(payload []byte)

// MQTTClient manages the broker connection and the step trigger
// subscription.
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	stepHandler StepHandler
	logger      *log.Logger
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT connects to the configured broker in the background. If no broker
// is configured, MQTT is disabled and this returns nil. The connection loop
// stops when ctx is done.
func InitMQTT(ctx context.Context, config MQTTConfig, handler StepHandler, logger *log.Logger) *MQTTClient {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if config.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil
	}
	if config.PublishPrefix == "" {
		config.PublishPrefix = DefaultPublishPrefix
	}

	client := &MQTTClient{
		config:      config,
		stepHandler: handler,
		logger:      logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)

	clientID := config.ClientID
	if clientID == "" {
		clientID = DefaultPublishPrefix
	}
	opts.SetClientID(clientID)

	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry(ctx)

	return client
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry(ctx context.Context) {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("Connecting to MQTT broker...", "broker", c.config.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warn("MQTT connection failed", "err", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Info("Retrying MQTT connection", "in", retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// StepTopic returns the topic that triggers a step.
func (c *MQTTClient) StepTopic() string {
	return fmt.Sprintf("%s/step", c.config.PublishPrefix)
}

// onConnect is called when the MQTT connection is established
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.StepTopic()
	c.logger.Info("MQTT connected, subscribing", "topic", topic)
	token := client.Subscribe(topic, 0, c.handleStep)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Error("subscribing to step topic", "topic", topic, "err", token.Error())
		return
	}
	c.logger.Info("Successfully subscribed", "topic", topic)
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("MQTT connection interrupted, auto-reconnect will retry", "err", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting...")
}

func (c *MQTTClient) handleStep(_ mqtt.Client, msg mqtt.Message) {
	c.logger.Debug("received step trigger", "topic", msg.Topic(), "size", len(msg.Payload()))
	if c.stepHandler != nil {
		c.stepHandler(msg.Payload())
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // ms quiesce
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
// for tests.
func newMQTTClientWithMock(client mqtt.Client, config MQTTConfig, handler StepHandler) *MQTTClient {
	if config.PublishPrefix == "" {
		config.PublishPrefix = DefaultPublishPrefix
	}
	return &MQTTClient{
		client:      client,
		config:      config,
		stepHandler: handler,
		logger:      log.New(io.Discard),
	}
}
