package audit

import (
	"testing"

	"iot_telemetry_hub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.GetAllModels()...))
	return db
}

func TestRecordDefaultsSeverity(t *testing.T) {
	db := openTestDB(t)
	log := NewLog(db)

	log.Record(1, "TelemetryStored", "Stored 2 telemetry value(s)", "")

	var entry models.DeviceLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, models.SeveritySuccess, entry.Status)
	assert.Equal(t, "TelemetryStored", entry.Action)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecentFiltersByDevice(t *testing.T) {
	db := openTestDB(t)
	log := NewLog(db)

	log.Record(1, "StatusUpdate", "Device went online", models.SeveritySuccess)
	log.Record(2, "StatusUpdate", "Device went online", models.SeveritySuccess)
	log.Record(1, "Error", "Device error: boom (Code: ERR_1)", models.SeverityError)

	forDevice, err := log.Recent(1, 10)
	require.NoError(t, err)
	assert.Len(t, forDevice, 2)

	all, err := log.Recent(0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	capped, err := log.Recent(0, 2)
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}
