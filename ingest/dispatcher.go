package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"
	"iot_telemetry_hub/telemetry"
)

// DeviceRef identifies a resolved device
type DeviceRef struct {
	ID   int
	Name string
}

// DeviceRegistry is the device collaborator consumed by the dispatcher.
// FindByClientID returns (nil, nil) for an unknown client identifier.
// SetOnlineStatus returns the previous online flag and bumps last-seen.
type DeviceRegistry interface {
	FindByClientID(clientID string) (*DeviceRef, error)
	SetOnlineStatus(deviceID int, isOnline bool) (bool, error)
	SetLastSeen(deviceID int) error
	SetSensorSummary(deviceID int, temperature, humidity, batteryLevel *float64) error
}

// AuditLog records device actions. Implementations are fire-and-forget and
// must never abort the caller.
type AuditLog interface {
	Record(deviceID int, action, description, severity string)
}

// StatusEvent is emitted whenever a status message changes a device's
// online flag
type StatusEvent struct {
	DeviceID  int
	IsOnline  bool
	Timestamp time.Time
}

// Sentinel results surfaced to synchronous callers (the simulation entry
// point). The live receive loop logs and swallows them.
var (
	ErrBadPayload     = errors.New("payload is not valid JSON")
	ErrNoClientID     = errors.New("no client id found in payload")
	ErrUnknownDevice  = errors.New("no device registered for client id")
	ErrUnhandledTopic = errors.New("unhandled topic")
)

// Dispatcher routes one inbound message at a time to the matching topic
// handler. It keeps no state between messages beyond the key registry cache
// inside the store, so concurrent deliveries are safe.
type Dispatcher struct {
	store   *telemetry.Store
	devices DeviceRegistry
	audit   AuditLog
	events  chan StatusEvent
}

// NewDispatcher creates a message dispatcher
func NewDispatcher(store *telemetry.Store, devices DeviceRegistry, audit AuditLog) *Dispatcher {
	return &Dispatcher{
		store:   store,
		devices: devices,
		audit:   audit,
		events:  make(chan StatusEvent, 64),
	}
}

// Events exposes the status-change notification channel. Events are dropped
// when no consumer keeps up; notification is best effort.
func (d *Dispatcher) Events() <-chan StatusEvent {
	return d.events
}

// HandleMessage processes one broker delivery. Every failure degrades to a
// logged discard; nothing propagates into the receive loop.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic while handling message on topic %s: %v\n", topic, r)
		}
	}()

	if err := d.dispatch(topic, payload); err != nil {
		switch {
		case errors.Is(err, ErrUnhandledTopic):
			logger.Debugf("dropping message on unhandled topic %s\n", topic)
		case errors.Is(err, ErrBadPayload), errors.Is(err, ErrNoClientID), errors.Is(err, ErrUnknownDevice):
			logger.Warnf("discarding message on topic %s: %v\n", topic, err)
		default:
			logger.Errorf("error handling message on topic %s: %v\n", topic, err)
		}
	}
}

// Simulate produces the identical side effects of a live broker delivery of
// the same bytes on the same topic, and additionally surfaces the outcome to
// the caller.
func (d *Dispatcher) Simulate(topic string, payload []byte) error {
	return d.dispatch(topic, payload)
}

func (d *Dispatcher) dispatch(topic string, payload []byte) error {
	clientID, err := extractClientID(payload)
	if err != nil {
		return err
	}

	device, err := d.devices.FindByClientID(clientID)
	if err != nil {
		return fmt.Errorf("failed to resolve client %s: %w", clientID, err)
	}
	if device == nil {
		// Telemetry never auto-provisions devices
		return fmt.Errorf("%w: %s", ErrUnknownDevice, clientID)
	}

	logger.Debugf("processing message for device %d (client %s) on topic %s\n", device.ID, clientID, topic)

	switch topic {
	case TopicTelemetry:
		return d.handleTelemetry(device, payload, clientID)
	case TopicStatus:
		return d.handleStatus(device, payload)
	case TopicHeartbeat:
		return d.handleHeartbeat(device, clientID)
	case TopicError:
		return d.handleError(device, payload, clientID)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledTopic, topic)
	}
}

// extractClientID pulls the client identifier out of the payload. Only the
// two accepted spellings are checked.
func extractClientID(payload []byte) (string, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	for _, field := range []string{"clientid", "clientId"} {
		raw, ok := root[field]
		if !ok {
			continue
		}
		var clientID string
		if err := json.Unmarshal(raw, &clientID); err != nil {
			continue
		}
		if clientID != "" {
			return clientID, nil
		}
	}
	return "", ErrNoClientID
}

func (d *Dispatcher) handleTelemetry(device *DeviceRef, payload []byte, clientID string) error {
	fields, err := ExtractFields(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	if len(fields) == 0 {
		logger.Warnf("no valid telemetry values in payload from client %s for device %d\n", clientID, device.ID)
		return nil
	}

	ok := d.store.StoreBatch(device.ID, fields, models.QualityGood, fmt.Sprintf("MQTT from %s", clientID))
	if !ok {
		return fmt.Errorf("failed to store telemetry batch for device %d", device.ID)
	}

	SyncLegacyFields(d.devices, device.ID, fields)

	keys := make([]string, 0, len(fields))
	for name := range fields {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	d.audit.Record(device.ID, "TelemetryStored",
		fmt.Sprintf("Stored %d telemetry value(s): %s", len(keys), strings.Join(keys, ", ")),
		models.SeveritySuccess)

	logger.Printf("Stored %d telemetry value(s) from client %s for device %d: %s\n",
		len(keys), clientID, device.ID, strings.Join(keys, ", "))

	return nil
}

func (d *Dispatcher) handleStatus(device *DeviceRef, payload []byte) error {
	isOnline, ok := parseOnlineFlag(payload)
	if !ok {
		// A status message without a readable status field carries no state;
		// it must not flip the device or leave audit traces.
		logger.Warnf("discarding status message without a status field for device %d\n", device.ID)
		return nil
	}

	wasOnline, err := d.devices.SetOnlineStatus(device.ID, isOnline)
	if err != nil {
		return fmt.Errorf("failed to update status for device %d: %w", device.ID, err)
	}

	status := "offline"
	if isOnline {
		status = "online"
	}

	if err := d.store.StoreOne(device.ID, "device_status", status, models.QualityGood, "Status update via MQTT"); err != nil {
		logger.Errorf("failed to store device_status for device %d: %v\n", device.ID, err)
	}

	// Status (unlike heartbeat) audits only an actual transition
	if wasOnline != isOnline {
		d.audit.Record(device.ID, "StatusUpdate", fmt.Sprintf("Device went %s", status), models.SeveritySuccess)
	}

	select {
	case d.events <- StatusEvent{DeviceID: device.ID, IsOnline: isOnline, Timestamp: time.Now().UTC()}:
	default:
	}

	logger.Printf("Device %d status updated to %s\n", device.ID, status)
	return nil
}

func (d *Dispatcher) handleHeartbeat(device *DeviceRef, clientID string) error {
	// Heartbeats force the online flag and bump last-seen without gating on
	// the previous state, and never write an audit entry.
	if _, err := d.devices.SetOnlineStatus(device.ID, true); err != nil {
		return fmt.Errorf("failed to process heartbeat for device %d: %w", device.ID, err)
	}
	logger.Debugf("heartbeat from client %s for device %d\n", clientID, device.ID)
	return nil
}

func (d *Dispatcher) handleError(device *DeviceRef, payload []byte, clientID string) error {
	message := "Unknown error"
	code := "ERR_UNKNOWN"

	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err == nil {
		var s string
		if raw, ok := root["message"]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			message = s
		}
		if raw, ok := root["code"]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			code = s
		}
	}

	d.audit.Record(device.ID, "Error", fmt.Sprintf("Device error: %s (Code: %s)", message, code), models.SeverityError)
	logger.Warnf("device error from client %s for device %d: %s (Code: %s)\n", clientID, device.ID, message, code)
	return nil
}

// parseOnlineFlag reads the boolean status field out of a status payload.
// Accepted shapes: "status" as a bool or an "online"/"offline" string, and
// the IsOnline/isOnline booleans. ok is false when none of the accepted
// fields is present or decodable.
func parseOnlineFlag(payload []byte) (isOnline, ok bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(payload, &root); err != nil {
		return false, false
	}

	for _, field := range []string{"status", "IsOnline", "isOnline"} {
		raw, present := root[field]
		if !present {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b, true
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.EqualFold(s, "online") || strings.EqualFold(s, "true"), true
		}
	}
	return false, false
}
