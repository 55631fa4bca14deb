package models

import (
	"time"
)

// Device is the registry record for a remote sensor device. Inbound messages
// carry the ClientID; everything measured about the device lives in the
// telemetry table, the device row only holds identity and liveness.
type Device struct {
	ID              int       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string    `gorm:"not null;size:100" json:"name"`
	DeviceType      string    `gorm:"size:50" json:"device_type"`
	Description     string    `gorm:"size:500" json:"description"`
	Location        string    `gorm:"size:100" json:"location"`
	ClientID        string    `gorm:"uniqueIndex;not null;size:100" json:"client_id"`
	SerialNumber    string    `gorm:"size:100" json:"serial_number"`
	FirmwareVersion string    `gorm:"size:50" json:"firmware_version"`
	IsOnline        bool      `gorm:"default:false" json:"is_online"`
	LastSeen        time.Time `json:"last_seen"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName customizes the table name
func (Device) TableName() string {
	return "devices"
}

// GetAllModels returns all models for migration
func GetAllModels() []interface{} {
	return []interface{}{
		&Device{},
		&TelemetryKey{},
		&Telemetry{},
		&DeviceLog{},
	}
}
