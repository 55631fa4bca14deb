package models

import (
	"time"
)

// Audit entry severities
const (
	SeveritySuccess = "Success"
	SeverityError   = "Error"
)

// DeviceLog is one audit entry for a device action or event
type DeviceLog struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID    int       `gorm:"index;not null" json:"device_id"`
	Action      string    `gorm:"not null;size:50" json:"action"`
	Description string    `gorm:"size:1000" json:"description"`
	Status      string    `gorm:"size:50" json:"status"`
	Timestamp   time.Time `gorm:"index;not null" json:"timestamp"`
}

// TableName customizes the table name
func (DeviceLog) TableName() string {
	return "device_logs"
}
