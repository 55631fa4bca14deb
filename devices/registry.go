package devices

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"iot_telemetry_hub/ingest"
	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	"gorm.io/gorm"
)

// Registry is the GORM-backed device registry. The ingestion core only
// resolves devices by client identifier and writes status and last-seen;
// device CRUD lives outside this service.
type Registry struct {
	db *gorm.DB
}

// NewRegistry creates a device registry backed by the given database
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// FindByClientID resolves a client identifier to a device reference.
// Returns (nil, nil) when no active device carries that identifier.
func (r *Registry) FindByClientID(clientID string) (*ingest.DeviceRef, error) {
	var device models.Device
	err := r.db.Where("client_id = ? AND is_active = ?", clientID, true).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device by client id %s: %w", clientID, err)
	}
	return &ingest.DeviceRef{ID: device.ID, Name: device.Name}, nil
}

// SetOnlineStatus updates the online flag and bumps last-seen, returning the
// previous flag so callers can detect a transition
func (r *Registry) SetOnlineStatus(deviceID int, isOnline bool) (bool, error) {
	var device models.Device
	err := r.db.Where("id = ? AND is_active = ?", deviceID, true).First(&device).Error
	if err != nil {
		return false, fmt.Errorf("failed to load device %d: %w", deviceID, err)
	}

	wasOnline := device.IsOnline
	now := time.Now().UTC()
	err = r.db.Model(&device).Updates(map[string]interface{}{
		"is_online":  isOnline,
		"last_seen":  now,
		"updated_at": now,
	}).Error
	if err != nil {
		return wasOnline, fmt.Errorf("failed to update status for device %d: %w", deviceID, err)
	}
	return wasOnline, nil
}

// SetLastSeen bumps the device's last-seen timestamp
func (r *Registry) SetLastSeen(deviceID int) error {
	now := time.Now().UTC()
	err := r.db.Model(&models.Device{}).Where("id = ?", deviceID).Updates(map[string]interface{}{
		"last_seen":  now,
		"updated_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update last seen for device %d: %w", deviceID, err)
	}
	return nil
}

// SetSensorSummary refreshes the device's summary record from the legacy
// sensor fields. The telemetry store remains the source of truth; this only
// bumps liveness so summary reads stay fast without touching telemetry.
func (r *Registry) SetSensorSummary(deviceID int, temperature, humidity, batteryLevel *float64) error {
	var parts []string
	if temperature != nil {
		parts = append(parts, fmt.Sprintf("temperature: %.1f", *temperature))
	}
	if humidity != nil {
		parts = append(parts, fmt.Sprintf("humidity: %.1f", *humidity))
	}
	if batteryLevel != nil {
		parts = append(parts, fmt.Sprintf("battery: %.1f", *batteryLevel))
	}
	if len(parts) == 0 {
		return nil
	}

	if err := r.SetLastSeen(deviceID); err != nil {
		return err
	}
	logger.Debugf("sensor summary updated for device %d: %s\n", deviceID, strings.Join(parts, ", "))
	return nil
}

// List returns all active devices ordered by name
func (r *Registry) List() ([]models.Device, error) {
	var all []models.Device
	if err := r.db.Where("is_active = ?", true).Order("name ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return all, nil
}
