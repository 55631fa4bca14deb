package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Quality indicators for a telemetry reading
const (
	QualityGood      = "Good"
	QualityBad       = "Bad"
	QualityUncertain = "Uncertain"
)

// Telemetry is one immutable, timestamped reading for a (device, key) pair.
// Exactly one value column is populated, selected by the key's declared data
// type. Rows are append-only; the only delete path is retention cleanup.
type Telemetry struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID      int        `gorm:"index:idx_device_key_ts;not null" json:"device_id"`
	KeyID         int        `gorm:"index:idx_device_key_ts;not null" json:"key_id"`
	DblValue      *float64   `json:"dbl_value"`
	LongValue     *int64     `json:"long_value"`
	StrValue      *string    `gorm:"size:1000" json:"str_value"`
	JSONValue     *string    `gorm:"column:json_value" json:"json_value"`
	Timestamp     time.Time  `gorm:"index:idx_device_key_ts;not null" json:"timestamp"`
	PartitionDate time.Time  `gorm:"index;not null" json:"partition_date"`
	Quality       string     `gorm:"size:50" json:"quality"`
	Context       string     `gorm:"size:500" json:"context"`
}

// TableName customizes the table name
func (Telemetry) TableName() string {
	return "telemetries"
}

// Assign stores value into the column declared by dataType. A value whose
// runtime shape cannot serve the declared type is an error, never a silent
// coercion to the wrong column.
func (t *Telemetry) Assign(dataType string, value interface{}) error {
	switch dataType {
	case DataTypeDouble:
		f, ok := toFloat64(value)
		if !ok {
			return fmt.Errorf("value %v (%T) cannot be stored as double", value, value)
		}
		t.DblValue = &f
	case DataTypeLong:
		l, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("value %v (%T) cannot be stored as long", value, value)
		}
		t.LongValue = &l
	case DataTypeString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("value %v (%T) cannot be stored as string", value, value)
		}
		t.StrValue = &s
	case DataTypeJSON:
		var text string
		switch v := value.(type) {
		case json.RawMessage:
			text = string(v)
		case string:
			text = v
		default:
			b, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("value cannot be serialized as json: %w", err)
			}
			text = string(b)
		}
		t.JSONValue = &text
	default:
		return fmt.Errorf("unknown data type %q", dataType)
	}
	return nil
}

// Value returns the reading typed according to the declared data type. When
// the declared type is unknown it falls back to the first non-null column in
// the order double, long, string, json.
func (t *Telemetry) Value(dataType string) interface{} {
	switch dataType {
	case DataTypeDouble:
		if t.DblValue != nil {
			return *t.DblValue
		}
	case DataTypeLong:
		if t.LongValue != nil {
			return *t.LongValue
		}
	case DataTypeString:
		if t.StrValue != nil {
			return *t.StrValue
		}
	case DataTypeJSON:
		if t.JSONValue != nil {
			return *t.JSONValue
		}
	default:
		// Defensive fallback only; a stored row always matches its key type.
		if t.DblValue != nil {
			return *t.DblValue
		}
		if t.LongValue != nil {
			return *t.LongValue
		}
		if t.StrValue != nil {
			return *t.StrValue
		}
		if t.JSONValue != nil {
			return *t.JSONValue
		}
	}
	return nil
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint, uint8, uint16, uint32, uint64:
		i, err := strconv.ParseInt(fmt.Sprintf("%d", v), 10, 64)
		return i, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case float64:
		// Whole numbers only; a fractional value does not fit a long key
		if v == float64(int64(v)) {
			return int64(v), true
		}
		return 0, false
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
