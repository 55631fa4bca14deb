package telemetry

import (
	"encoding/json"
	"sync"
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
	// A second pooled connection would see its own empty in-memory database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.GetAllModels()...))
	return db
}

func seedWellKnownKeys(t *testing.T, db *gorm.DB) {
	t.Helper()
	keys := models.WellKnownKeys()
	for i := range keys {
		require.NoError(t, db.Create(&keys[i]).Error)
	}
}

func TestResolveUnknownKey(t *testing.T) {
	registry := NewKeyRegistry(openTestDB(t))

	_, ok, err := registry.Resolve("no_such_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveSeededKey(t *testing.T) {
	db := openTestDB(t)
	seedWellKnownKeys(t, db)
	registry := NewKeyRegistry(db)

	id, ok, err := registry.Resolve("temperature")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, id, 0)

	// Second lookup comes from the cache and must agree
	again, ok, err := registry.Resolve("temperature")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, again)
}

func TestResolveIgnoresInactiveKeys(t *testing.T) {
	db := openTestDB(t)
	key := models.TelemetryKey{KeyName: "retired_key", DataType: models.DataTypeDouble, IsActive: false}
	require.NoError(t, db.Create(&key).Error)
	// gorm substitutes the column's default:true for the zero-valued bool on
	// Create, so the inactive flag must be written explicitly.
	require.NoError(t, db.Model(&key).Update("is_active", false).Error)

	registry := NewKeyRegistry(db)
	_, ok, err := registry.Resolve("retired_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveOrCreateInfersDataType(t *testing.T) {
	cases := []struct {
		name     string
		keyName  string
		sample   interface{}
		dataType string
	}{
		{"float becomes double", "pressure", 101.3, models.DataTypeDouble},
		{"int becomes long", "tick_count", int64(7), models.DataTypeLong},
		{"bool becomes long", "door_open", true, models.DataTypeLong},
		{"text becomes string", "mode", "eco", models.DataTypeString},
		{"nested becomes json", "coords", json.RawMessage(`{"lat":1}`), models.DataTypeJSON},
		{"whole json number becomes long", "retries", json.Number("3"), models.DataTypeLong},
		{"fractional json number becomes double", "load", json.Number("0.75"), models.DataTypeDouble},
	}

	db := openTestDB(t)
	registry := NewKeyRegistry(db)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := registry.ResolveOrCreate(tc.keyName, tc.sample)
			require.NoError(t, err)

			var key models.TelemetryKey
			require.NoError(t, db.First(&key, "key_id = ?", id).Error)
			assert.Equal(t, tc.dataType, key.DataType)
			assert.Equal(t, tc.keyName, key.KeyName)
			assert.True(t, key.IsActive)
			assert.Equal(t, "sensor", key.Category)
		})
	}
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	registry := NewKeyRegistry(openTestDB(t))

	first, err := registry.ResolveOrCreate("vibration", 0.01)
	require.NoError(t, err)
	second, err := registry.ResolveOrCreate("vibration", 0.02)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolveOrCreateConcurrent(t *testing.T) {
	db := openTestDB(t)
	registry := NewKeyRegistry(db)

	const workers = 16
	ids := make([]int, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = registry.ResolveOrCreate("flow_rate", 1.5)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, db.Model(&models.TelemetryKey{}).Where("key_name = ?", "flow_rate").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListByCategory(t *testing.T) {
	db := openTestDB(t)
	seedWellKnownKeys(t, db)
	registry := NewKeyRegistry(db)

	sensors, err := registry.ListByCategory("sensor")
	require.NoError(t, err)
	require.Len(t, sensors, 3)
	assert.Equal(t, "battery_level", sensors[0].KeyName)
	assert.Equal(t, "humidity", sensors[1].KeyName)
	assert.Equal(t, "temperature", sensors[2].KeyName)

	all, err := registry.ListByCategory("")
	require.NoError(t, err)
	assert.Len(t, all, len(models.WellKnownKeys()))
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].KeyName, all[i].KeyName)
	}
}
