package ingest

import (
	"encoding/json"

	"iot_telemetry_hub/logger"
)

// Battery synonyms in priority order. Producers disagree on the field name;
// the first match wins and the list order is deliberately not normalized.
var batterySynonyms = []string{"batterylevel", "battery_level", "battery"}

// SyncLegacyFields projects the well-known quantities out of an extracted
// field map onto the device's summary record. Absent quantities pass as nil,
// never zero. The telemetry write has already happened independently; this
// only keeps the denormalized summary in sync.
func SyncLegacyFields(registry DeviceRegistry, deviceID int, fields map[string]interface{}) {
	temperature := numericField(fields, "temperature")
	humidity := numericField(fields, "humidity")

	var batteryLevel *float64
	for _, name := range batterySynonyms {
		if v := numericField(fields, name); v != nil {
			batteryLevel = v
			break
		}
	}

	if temperature == nil && humidity == nil && batteryLevel == nil {
		return
	}

	if err := registry.SetSensorSummary(deviceID, temperature, humidity, batteryLevel); err != nil {
		logger.Warnf("failed to update sensor summary for device %d: %v\n", deviceID, err)
	}
}

// numericField returns the named field as a float when it holds a numeric
// value, nil otherwise
func numericField(fields map[string]interface{}, name string) *float64 {
	value, ok := fields[name]
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	}
	return nil
}
