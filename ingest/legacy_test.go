package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// summaryRecorder captures SetSensorSummary calls; the other registry methods
// are unused by the synchronizer.
type summaryRecorder struct {
	called       bool
	temperature  *float64
	humidity     *float64
	batteryLevel *float64
}

func (r *summaryRecorder) FindByClientID(string) (*DeviceRef, error) { return nil, nil }
func (r *summaryRecorder) SetOnlineStatus(int, bool) (bool, error)   { return false, nil }
func (r *summaryRecorder) SetLastSeen(int) error                     { return nil }
func (r *summaryRecorder) SetSensorSummary(_ int, temperature, humidity, batteryLevel *float64) error {
	r.called = true
	r.temperature = temperature
	r.humidity = humidity
	r.batteryLevel = batteryLevel
	return nil
}

func TestSyncLegacyFieldsAllPresent(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"temperature":  22.5,
		"humidity":     int64(40),
		"batterylevel": json.Number("87.5"),
	})

	require.True(t, recorder.called)
	require.NotNil(t, recorder.temperature)
	assert.InDelta(t, 22.5, *recorder.temperature, 1e-4)
	require.NotNil(t, recorder.humidity)
	assert.InDelta(t, 40.0, *recorder.humidity, 1e-4)
	require.NotNil(t, recorder.batteryLevel)
	assert.InDelta(t, 87.5, *recorder.batteryLevel, 1e-4)
}

func TestSyncLegacyFieldsNoKnownQuantities(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"pressure": 101.3,
		"mode":     "eco",
	})

	assert.False(t, recorder.called, "summary must not be touched when nothing maps")
}

func TestSyncLegacyFieldsAbsentPassAsNil(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"temperature": 19.0,
	})

	require.True(t, recorder.called)
	require.NotNil(t, recorder.temperature)
	assert.Nil(t, recorder.humidity)
	assert.Nil(t, recorder.batteryLevel)
}

func TestSyncLegacyFieldsBatterySynonymPriority(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"batterylevel":  10.0,
		"battery_level": 20.0,
		"battery":       30.0,
	})

	require.True(t, recorder.called)
	require.NotNil(t, recorder.batteryLevel)
	assert.InDelta(t, 10.0, *recorder.batteryLevel, 1e-4)
}

func TestSyncLegacyFieldsSynonymFallback(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"battery": 55.0,
	})

	require.True(t, recorder.called)
	require.NotNil(t, recorder.batteryLevel)
	assert.InDelta(t, 55.0, *recorder.batteryLevel, 1e-4)
}

func TestSyncLegacyFieldsNonNumericIgnored(t *testing.T) {
	recorder := &summaryRecorder{}
	SyncLegacyFields(recorder, 1, map[string]interface{}{
		"temperature": "warm",
		"battery":     true,
	})

	assert.False(t, recorder.called)
}
