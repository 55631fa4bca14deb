package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"iot_telemetry_hub/config"
	"iot_telemetry_hub/ingest"
	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	warmUpDelay         = 2 * time.Second
	healthCheckInterval = 30 * time.Second
	unconfiguredRetry   = 60 * time.Second
	connectTimeout      = 10 * time.Second
	keepAliveInterval   = 30 * time.Second
	disconnectQuiesceMs = 250
)

// Supervisor owns the broker connection lifecycle: connect, subscribe to the
// inbound topic set, and a background health loop with fixed backoff. The
// supervisor never gives up; a misconfigured or unreachable broker just means
// a longer wait until the next attempt.
type Supervisor struct {
	cfg        *config.Config
	dispatcher *ingest.Dispatcher
	audit      ingest.AuditLog
	client     mqtt.Client
}

// NewSupervisor creates a connection supervisor for the configured broker
func NewSupervisor(cfg *config.Config, dispatcher *ingest.Dispatcher, audit ingest.AuditLog) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		dispatcher: dispatcher,
		audit:      audit,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(cfg.MQTT.ClientID + "-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAliveInterval).
		SetAutoReconnect(false). // the health loop owns reconnection
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warnf("MQTT connection lost: %v\n", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Println("MQTT connection established")
		})

	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	s.client = mqtt.NewClient(opts)
	return s
}

// Run drives the connection health loop until ctx is cancelled, then
// disconnects gracefully. A failing iteration is logged and the loop
// continues.
func (s *Supervisor) Run(ctx context.Context) {
	logger.Println("MQTT supervisor starting")

	if !sleepCtx(ctx, warmUpDelay) {
		s.shutdown()
		return
	}

	for {
		interval := healthCheckInterval

		if !s.cfg.MQTTConfigured() {
			logger.Warnf("MQTT broker not configured (host %q); retrying in %s\n", s.cfg.MQTT.Host, unconfiguredRetry)
			interval = unconfiguredRetry
		} else if !s.client.IsConnected() {
			if err := s.connectAndSubscribe(); err != nil {
				logger.Errorf("MQTT connect failed: %v; retrying in %s\n", err, interval)
			}
		}

		if !sleepCtx(ctx, interval) {
			s.shutdown()
			return
		}
	}
}

// connectAndSubscribe establishes the connection and subscribes to the
// inbound topic set, routing every delivery into the dispatcher
func (s *Supervisor) connectAndSubscribe() error {
	logger.Printf("Connecting to MQTT broker %s...\n", s.cfg.BrokerURL())

	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}

	for _, topic := range ingest.InboundTopics() {
		token := s.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			s.dispatcher.HandleMessage(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}

	logger.Printf("Subscribed to %d device topic(s)\n", len(ingest.InboundTopics()))
	return nil
}

func (s *Supervisor) shutdown() {
	s.Disconnect()
	logger.Println("MQTT supervisor stopped")
}

// Connect establishes the broker connection without subscribing. One-shot
// publishers use this; the serve loop goes through Run instead.
func (s *Supervisor) Connect() error {
	if s.client.IsConnected() {
		return nil
	}
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect closes the broker connection, letting in-flight work quiesce
func (s *Supervisor) Disconnect() {
	if s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiesceMs)
	}
}

// IsConnected reports the current broker connection state
func (s *Supervisor) IsConnected() bool {
	return s.client.IsConnected()
}

// PublishCommand publishes a command for a device on the outbound command
// topic and records an audit entry
func (s *Supervisor) PublishCommand(deviceID int, command string, payload interface{}) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("cannot publish command %s: not connected to broker", command)
	}

	message := map[string]interface{}{
		"deviceId":  deviceID,
		"command":   command,
		"payload":   payload,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode command %s: %w", command, err)
	}

	token := s.client.Publish(ingest.TopicCommand, 1, false, body)
	if token.Wait() && token.Error() != nil {
		s.audit.Record(deviceID, "CommandSent", fmt.Sprintf("Failed to send command '%s'", command), models.SeverityError)
		return fmt.Errorf("publish command %s: %w", command, token.Error())
	}

	s.audit.Record(deviceID, "CommandSent", fmt.Sprintf("Command '%s' sent to device", command), models.SeveritySuccess)
	logger.Printf("Command '%s' sent to device %d\n", command, deviceID)
	return nil
}

// sleepCtx sleeps for d or until ctx is cancelled; returns false on cancel
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
