package importer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"iot_telemetry_hub/devices"
	"iot_telemetry_hub/models"
	"iot_telemetry_hub/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type importFixture struct {
	db       *gorm.DB
	store    *telemetry.Store
	importer *CSVImporter
	deviceID int
	dir      string
}

func newImportFixture(t *testing.T) *importFixture {
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
	importer := NewCSVImporter(store, devices.NewRegistry(db))
	importer.SetWorkerCount(1)

	return &importFixture{
		db:       db,
		store:    store,
		importer: importer,
		deviceID: device.ID,
		dir:      t.TempDir(),
	}
}

func (f *importFixture) writeCSV(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644))
}

func (f *importFixture) readingCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.Telemetry{}).Count(&count).Error)
	return count
}

func TestImportDirectoryStoresReadings(t *testing.T) {
	f := newImportFixture(t)
	f.writeCSV(t, "backfill.csv", `timestamp,clientid,key_name,value
2025-05-01T10:00:00Z,dev-1,temperature,21.5
2025-05-01T10:05:00Z,dev-1,temperature,22.0
2025-05-01T10:00:00Z,dev-1,firmware_version,v1.2.3
`)

	require.NoError(t, f.importer.ImportDirectory(f.dir))
	assert.Equal(t, int64(3), f.readingCount(t))

	value, err := f.store.Temperature(f.deviceID)
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.InDelta(t, 22.0, *value, 1e-4)

	fw, err := f.store.LatestString(f.deviceID, "firmware_version")
	require.NoError(t, err)
	require.NotNil(t, fw)
	assert.Equal(t, "v1.2.3", *fw)
}

func TestImportPreservesTimestamps(t *testing.T) {
	f := newImportFixture(t)
	f.writeCSV(t, "history.csv", `timestamp,clientid,key_name,value
2024-12-31 23:59:00,dev-1,temperature,5.5
`)

	require.NoError(t, f.importer.ImportDirectory(f.dir))

	readings, err := f.store.Range(f.deviceID, "temperature", nil, nil, 1)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 2024, readings[0].Timestamp.UTC().Year())
	assert.Equal(t, time.December, readings[0].Timestamp.UTC().Month())
}

func TestImportSkipsBadRows(t *testing.T) {
	f := newImportFixture(t)
	f.writeCSV(t, "mixed.csv", `timestamp,clientid,key_name,value
2025-05-01T10:00:00Z,dev-1,temperature,21.5
not-a-timestamp,dev-1,temperature,22.0
2025-05-01T10:00:00Z,ghost,temperature,23.0
2025-05-01T10:00:00Z,dev-1,,24.0
2025-05-01T10:00:00Z,dev-1,humidity
`)

	require.NoError(t, f.importer.ImportDirectory(f.dir))
	assert.Equal(t, int64(1), f.readingCount(t), "only the well-formed row for a known device lands")
}

func TestImportAutoCreatesKeys(t *testing.T) {
	f := newImportFixture(t)
	f.writeCSV(t, "new_keys.csv", `timestamp,clientid,key_name,value
2025-05-01T10:00:00Z,dev-1,Pressure,101.3
`)

	require.NoError(t, f.importer.ImportDirectory(f.dir))

	// Key names are lower-cased before hitting the registry
	var key models.TelemetryKey
	require.NoError(t, f.db.First(&key, "key_name = ?", "pressure").Error)
	assert.Equal(t, models.DataTypeDouble, key.DataType)
}

func TestImportEmptyDirectory(t *testing.T) {
	f := newImportFixture(t)
	require.NoError(t, f.importer.ImportDirectory(f.dir))
	assert.Zero(t, f.readingCount(t))
}

func TestImportMissingDirectory(t *testing.T) {
	f := newImportFixture(t)
	require.Error(t, f.importer.ImportDirectory(filepath.Join(f.dir, "absent")))
}

func TestParseValuePrecedence(t *testing.T) {
	assert.Equal(t, int64(42), parseValue("42"))
	assert.Equal(t, 3.14, parseValue("3.14"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "v1.2.3", parseValue("v1.2.3"))
}
