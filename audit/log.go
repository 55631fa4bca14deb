package audit

import (
	"fmt"
	"time"

	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	"gorm.io/gorm"
)

// Log is the GORM-backed audit sink for device actions. Recording is
// fire-and-forget: a failed write is logged and swallowed so auditing can
// never break the operation being audited.
type Log struct {
	db *gorm.DB
}

// NewLog creates an audit log backed by the given database
func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// Record appends one audit entry. An empty severity defaults to Success.
func (l *Log) Record(deviceID int, action, description, severity string) {
	if severity == "" {
		severity = models.SeveritySuccess
	}

	entry := models.DeviceLog{
		DeviceID:    deviceID,
		Action:      action,
		Description: description,
		Status:      severity,
		Timestamp:   time.Now().UTC(),
	}

	if err := l.db.Create(&entry).Error; err != nil {
		logger.Errorf("failed to record audit entry %s for device %d: %v\n", action, deviceID, err)
		return
	}
	logger.Debugf("audit: %s for device %d\n", action, deviceID)
}

// Recent returns the newest audit entries, optionally filtered by device
// (deviceID 0 means all devices)
func (l *Log) Recent(deviceID, limit int) ([]models.DeviceLog, error) {
	query := l.db.Order("timestamp DESC").Limit(limit)
	if deviceID > 0 {
		query = query.Where("device_id = ?", deviceID)
	}

	var entries []models.DeviceLog
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}
