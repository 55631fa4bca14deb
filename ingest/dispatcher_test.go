package ingest_test

import (
	"testing"

	"iot_telemetry_hub/audit"
	"iot_telemetry_hub/devices"
	"iot_telemetry_hub/ingest"
	"iot_telemetry_hub/models"
	"iot_telemetry_hub/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type dispatchFixture struct {
	db         *gorm.DB
	store      *telemetry.Store
	dispatcher *ingest.Dispatcher
	deviceID   int
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A second pooled connection would see its own empty in-memory database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.GetAllModels()...))

	keys := models.WellKnownKeys()
	for i := range keys {
		require.NoError(t, db.Create(&keys[i]).Error)
	}

	device := models.Device{Name: "Bench Sensor", ClientID: "dev-1", IsActive: true}
	require.NoError(t, db.Create(&device).Error)

	store := telemetry.NewStore(db)
	dispatcher := ingest.NewDispatcher(store, devices.NewRegistry(db), audit.NewLog(db))
	return &dispatchFixture{db: db, store: store, dispatcher: dispatcher, deviceID: device.ID}
}

func (f *dispatchFixture) telemetryCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.Telemetry{}).Count(&count).Error)
	return count
}

func (f *dispatchFixture) auditEntries(t *testing.T, action string) []models.DeviceLog {
	t.Helper()
	var entries []models.DeviceLog
	require.NoError(t, f.db.Where("action = ?", action).Find(&entries).Error)
	return entries
}

func (f *dispatchFixture) device(t *testing.T) models.Device {
	t.Helper()
	var device models.Device
	require.NoError(t, f.db.First(&device, "id = ?", f.deviceID).Error)
	return device
}

func TestDispatchBadPayload(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Simulate(ingest.TopicTelemetry, []byte(`not json`))
	require.ErrorIs(t, err, ingest.ErrBadPayload)
	assert.Zero(t, f.telemetryCount(t))
}

func TestDispatchMissingClientID(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Simulate(ingest.TopicTelemetry, []byte(`{"temperature": 23.5}`))
	require.ErrorIs(t, err, ingest.ErrNoClientID)
	assert.Zero(t, f.telemetryCount(t))
}

func TestDispatchUnknownDevice(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Simulate(ingest.TopicTelemetry, []byte(`{"clientid": "ghost", "temperature": 23.5}`))
	require.ErrorIs(t, err, ingest.ErrUnknownDevice)
	assert.Zero(t, f.telemetryCount(t), "unknown devices are never auto-provisioned")
}

func TestDispatchUnhandledTopic(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatcher.Simulate("v1/firmware", []byte(`{"clientid": "dev-1"}`))
	require.ErrorIs(t, err, ingest.ErrUnhandledTopic)
	assert.Zero(t, f.telemetryCount(t))
}

func TestDispatchClientIDSpellings(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicTelemetry, []byte(`{"clientid": "dev-1", "temperature": 20.0}`)))
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicTelemetry, []byte(`{"clientId": "dev-1", "temperature": 21.0}`)))
	assert.Equal(t, int64(2), f.telemetryCount(t))
}

func TestTelemetryMessageStoresReadings(t *testing.T) {
	f := newDispatchFixture(t)

	payload := []byte(`{
		"clientid": "dev-1",
		"timestamp": "2025-06-01T12:00:00Z",
		"messageid": "m-1",
		"temperature": 23.5
	}`)
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicTelemetry, payload))

	assert.Equal(t, int64(1), f.telemetryCount(t), "envelope fields never become readings")

	value, err := f.store.Temperature(f.deviceID)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.InDelta(t, 23.5, *value, 1e-4)

	entries := f.auditEntries(t, "TelemetryStored")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Description, "temperature")
	assert.Equal(t, models.SeveritySuccess, entries[0].Status)
}

func TestTelemetryMessageWithoutValues(t *testing.T) {
	f := newDispatchFixture(t)

	payload := []byte(`{"clientid": "dev-1", "timestamp": "2025-06-01T12:00:00Z"}`)
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicTelemetry, payload))

	assert.Zero(t, f.telemetryCount(t))
	assert.Empty(t, f.auditEntries(t, "TelemetryStored"))
}

func TestStatusTransitionAuditsOnce(t *testing.T) {
	f := newDispatchFixture(t)
	payload := []byte(`{"clientid": "dev-1", "status": "online"}`)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, payload))

	device := f.device(t)
	assert.True(t, device.IsOnline)

	status, err := f.store.DeviceStatus(f.deviceID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "online", *status)

	require.Len(t, f.auditEntries(t, "StatusUpdate"), 1)

	// Replaying the same status is not a transition and must not audit again,
	// though it still appends a device_status reading
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, payload))
	assert.Len(t, f.auditEntries(t, "StatusUpdate"), 1)
	assert.Equal(t, int64(2), f.telemetryCount(t))
}

func TestStatusWithoutFlagDiscarded(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "status": "online"}`)))

	// A status message carrying no readable status field is discarded: the
	// device stays online and neither a reading nor an audit row is added
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1"}`)))

	device := f.device(t)
	assert.True(t, device.IsOnline, "a field-less status message must not flip the device")
	assert.Len(t, f.auditEntries(t, "StatusUpdate"), 1)
	assert.Equal(t, int64(1), f.telemetryCount(t))

	status, err := f.store.DeviceStatus(f.deviceID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "online", *status)
}

func TestStatusUndecodableFlagDiscarded(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "IsOnline": true}`)))
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "status": 42}`)))

	device := f.device(t)
	assert.True(t, device.IsOnline)
	assert.Len(t, f.auditEntries(t, "StatusUpdate"), 1)
}

func TestStatusOfflineTransition(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "IsOnline": true}`)))
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "status": "offline"}`)))

	device := f.device(t)
	assert.False(t, device.IsOnline)

	entries := f.auditEntries(t, "StatusUpdate")
	require.Len(t, entries, 2)
}

func TestStatusEventEmitted(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicStatus, []byte(`{"clientid": "dev-1", "status": "online"}`)))

	select {
	case event := <-f.dispatcher.Events():
		assert.Equal(t, f.deviceID, event.DeviceID)
		assert.True(t, event.IsOnline)
	default:
		t.Fatal("expected a buffered status event")
	}
}

func TestHeartbeatForcesOnlineWithoutAudit(t *testing.T) {
	f := newDispatchFixture(t)
	payload := []byte(`{"clientid": "dev-1"}`)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicHeartbeat, payload))
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicHeartbeat, payload))

	device := f.device(t)
	assert.True(t, device.IsOnline)
	assert.False(t, device.LastSeen.IsZero())

	// Heartbeats never audit and never write readings
	var total int64
	require.NoError(t, f.db.Model(&models.DeviceLog{}).Count(&total).Error)
	assert.Zero(t, total)
	assert.Zero(t, f.telemetryCount(t))
}

func TestErrorMessageDefaults(t *testing.T) {
	f := newDispatchFixture(t)

	require.NoError(t, f.dispatcher.Simulate(ingest.TopicError, []byte(`{"clientid": "dev-1"}`)))

	entries := f.auditEntries(t, "Error")
	require.Len(t, entries, 1)
	assert.Equal(t, models.SeverityError, entries[0].Status)
	assert.Contains(t, entries[0].Description, "Unknown error")
	assert.Contains(t, entries[0].Description, "ERR_UNKNOWN")
}

func TestErrorMessageDetails(t *testing.T) {
	f := newDispatchFixture(t)

	payload := []byte(`{"clientid": "dev-1", "message": "sensor fault", "code": "ERR_42"}`)
	require.NoError(t, f.dispatcher.Simulate(ingest.TopicError, payload))

	entries := f.auditEntries(t, "Error")
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Description, "sensor fault")
	assert.Contains(t, entries[0].Description, "ERR_42")
}

func TestHandleMessageSwallowsFailures(t *testing.T) {
	f := newDispatchFixture(t)

	// The live receive path never panics or propagates, whatever arrives
	f.dispatcher.HandleMessage(ingest.TopicTelemetry, []byte(`garbage`))
	f.dispatcher.HandleMessage(ingest.TopicTelemetry, nil)
	f.dispatcher.HandleMessage("v1/other", []byte(`{"clientid": "dev-1"}`))

	assert.Zero(t, f.telemetryCount(t))
}
