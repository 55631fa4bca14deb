package models

import (
	"encoding/json"
	"time"
)

// Data types a telemetry key can declare. The declared type decides which
// value column of a Telemetry row is populated.
const (
	DataTypeDouble = "double"
	DataTypeLong   = "long"
	DataTypeString = "string"
	DataTypeJSON   = "json"
)

// TelemetryKey is a named, typed attribute definition. New keys are created
// explicitly at bootstrap or auto-created the first time an unknown field
// name arrives. KeyName is unique and immutable once created.
type TelemetryKey struct {
	KeyID       int       `gorm:"primaryKey;autoIncrement" json:"key_id"`
	KeyName     string    `gorm:"uniqueIndex;not null;size:100" json:"key_name"`
	Description string    `gorm:"size:500" json:"description"`
	DataType    string    `gorm:"not null;size:20" json:"data_type"`
	Unit        string    `gorm:"size:50" json:"unit"`
	Category    string    `gorm:"size:100" json:"category"`
	IsRequired  bool      `gorm:"default:false" json:"is_required"`
	MinValue    *float64  `json:"min_value"`
	MaxValue    *float64  `json:"max_value"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName customizes the table name
func (TelemetryKey) TableName() string {
	return "telemetry_keys"
}

// InferDataType maps the runtime shape of a sample value onto a declared
// data type. Floating point kinds become double, integral and boolean kinds
// become long (booleans stored as 0/1), text becomes string, and anything
// else is stored as serialized JSON.
func InferDataType(value interface{}) string {
	switch v := value.(type) {
	case float64, float32:
		return DataTypeDouble
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return DataTypeLong
	case bool:
		return DataTypeLong
	case string:
		return DataTypeString
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return DataTypeLong
		}
		return DataTypeDouble
	default:
		return DataTypeJSON
	}
}

func f64ptr(v float64) *float64 { return &v }

// WellKnownKeys returns the key definitions seeded at bootstrap. Auto-created
// keys get category "sensor"; these cover the attributes every device is
// expected to report.
func WellKnownKeys() []TelemetryKey {
	return []TelemetryKey{
		{KeyName: "battery_level", Description: "Device battery level percentage", DataType: DataTypeDouble, Unit: "%", Category: "sensor", MinValue: f64ptr(0), MaxValue: f64ptr(100)},
		{KeyName: "temperature", Description: "Temperature reading", DataType: DataTypeDouble, Unit: "C", Category: "sensor", MinValue: f64ptr(-50), MaxValue: f64ptr(100)},
		{KeyName: "humidity", Description: "Humidity percentage", DataType: DataTypeDouble, Unit: "%", Category: "sensor", MinValue: f64ptr(0), MaxValue: f64ptr(100)},
		{KeyName: "signal_strength", Description: "Signal strength indicator", DataType: DataTypeLong, Unit: "dBm", Category: "status", MinValue: f64ptr(-120), MaxValue: f64ptr(0)},
		{KeyName: "firmware_version", Description: "Current firmware version", DataType: DataTypeString, Category: "metadata"},
		{KeyName: "device_status", Description: "Current device operational status", DataType: DataTypeString, Category: "status"},
		{KeyName: "uptime", Description: "Device uptime in seconds", DataType: DataTypeLong, Unit: "seconds", Category: "status", MinValue: f64ptr(0)},
		{KeyName: "memory_usage", Description: "Memory usage percentage", DataType: DataTypeDouble, Unit: "%", Category: "performance", MinValue: f64ptr(0), MaxValue: f64ptr(100)},
		{KeyName: "cpu_usage", Description: "CPU usage percentage", DataType: DataTypeDouble, Unit: "%", Category: "performance", MinValue: f64ptr(0), MaxValue: f64ptr(100)},
		{KeyName: "error_count", Description: "Number of errors since last reset", DataType: DataTypeLong, Category: "status", MinValue: f64ptr(0)},
		{KeyName: "location_coordinates", Description: "GPS coordinates", DataType: DataTypeJSON, Category: "location"},
		{KeyName: "configuration", Description: "Device configuration settings", DataType: DataTypeJSON, Category: "config"},
	}
}
