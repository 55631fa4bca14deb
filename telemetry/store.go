package telemetry

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	"gorm.io/gorm"
)

// Store persists immutable, typed telemetry readings keyed by (device, key).
// Value columns are selected by each key's declared data type; readings are
// append-only and only removed by retention cleanup. Safe for concurrent use;
// batches from different messages commit independently.
type Store struct {
	db   *gorm.DB
	keys *KeyRegistry
}

// NewStore creates a telemetry store with its own key registry
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:   db,
		keys: NewKeyRegistry(db),
	}
}

// Keys exposes the store's key registry
func (s *Store) Keys() *KeyRegistry {
	return s.keys
}

// StoreOne persists a single reading stamped with the current instant
func (s *Store) StoreOne(deviceID int, keyName string, value interface{}, quality, context string) error {
	return s.StoreAt(deviceID, keyName, value, time.Now().UTC(), quality, context)
}

// StoreAt persists a single reading with an explicit timestamp. Used by
// backfill imports; live ingestion goes through StoreOne and StoreBatch.
func (s *Store) StoreAt(deviceID int, keyName string, value interface{}, ts time.Time, quality, context string) error {
	entry, err := s.keys.resolveOrCreate(keyName, value)
	if err != nil {
		return err
	}

	reading, err := s.buildReading(deviceID, entry, value, ts.UTC(), quality, context)
	if err != nil {
		return err
	}

	if err := s.db.Create(reading).Error; err != nil {
		return fmt.Errorf("failed to store reading for key %s: %w", keyName, err)
	}
	return nil
}

// StoreBatch persists one reading per entry of values, all sharing a single
// timestamp so the batch correlates as one sample. Keys that cannot be
// resolved, created or typed are skipped with a warning. Returns false only
// when the write transaction itself fails.
func (s *Store) StoreBatch(deviceID int, values map[string]interface{}, quality, context string) bool {
	now := time.Now().UTC()

	readings := make([]models.Telemetry, 0, len(values))
	for keyName, value := range values {
		entry, err := s.keys.resolveOrCreate(keyName, value)
		if err != nil {
			logger.Warnf("skipping key %s for device %d: %v\n", keyName, deviceID, err)
			continue
		}
		reading, err := s.buildReading(deviceID, entry, value, now, quality, context)
		if err != nil {
			logger.Warnf("skipping key %s for device %d: %v\n", keyName, deviceID, err)
			continue
		}
		readings = append(readings, *reading)
	}

	if len(readings) == 0 {
		return true
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&readings).Error
	})
	if err != nil {
		logger.Errorf("failed to store telemetry batch for device %d: %v\n", deviceID, err)
		return false
	}

	logger.Debugf("stored %d telemetry value(s) for device %d\n", len(readings), deviceID)
	return true
}

func (s *Store) buildReading(deviceID int, entry keyEntry, value interface{}, ts time.Time, quality, context string) (*models.Telemetry, error) {
	reading := &models.Telemetry{
		DeviceID:      deviceID,
		KeyID:         entry.id,
		Timestamp:     ts,
		PartitionDate: ts.Truncate(24 * time.Hour),
		Quality:       quality,
		Context:       context,
	}
	if err := reading.Assign(entry.dataType, value); err != nil {
		return nil, err
	}
	return reading, nil
}

// Latest returns the most recent reading for (device, key), typed by the
// key's declared data type. ok is false when the key or reading is absent.
func (s *Store) Latest(deviceID int, keyName string) (interface{}, bool, error) {
	entry, ok, err := s.keys.resolve(keyName)
	if err != nil || !ok {
		return nil, false, err
	}

	reading, err := s.latestReading(deviceID, entry.id)
	if err != nil || reading == nil {
		return nil, false, err
	}
	return reading.Value(entry.dataType), true, nil
}

// LatestDouble returns the most recent double reading for (device, key).
// Asking for a double from a key declared with another type is a contract
// violation and fails explicitly.
func (s *Store) LatestDouble(deviceID int, keyName string) (*float64, error) {
	entry, ok, err := s.keys.resolve(keyName)
	if err != nil || !ok {
		return nil, err
	}
	if entry.dataType != models.DataTypeDouble {
		return nil, fmt.Errorf("key %s holds %s values, not double", keyName, entry.dataType)
	}

	reading, err := s.latestReading(deviceID, entry.id)
	if err != nil || reading == nil {
		return nil, err
	}
	return reading.DblValue, nil
}

// LatestString returns the most recent string reading for (device, key)
func (s *Store) LatestString(deviceID int, keyName string) (*string, error) {
	entry, ok, err := s.keys.resolve(keyName)
	if err != nil || !ok {
		return nil, err
	}
	if entry.dataType != models.DataTypeString {
		return nil, fmt.Errorf("key %s holds %s values, not string", keyName, entry.dataType)
	}

	reading, err := s.latestReading(deviceID, entry.id)
	if err != nil || reading == nil {
		return nil, err
	}
	return reading.StrValue, nil
}

func (s *Store) latestReading(deviceID, keyID int) (*models.Telemetry, error) {
	var reading models.Telemetry
	err := s.db.Where("device_id = ? AND key_id = ?", deviceID, keyID).
		Order("timestamp DESC").
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest value: %w", err)
	}
	return &reading, nil
}

// LatestMany returns the latest value per requested key name. Absent keys
// map to nil rather than being omitted.
func (s *Store) LatestMany(deviceID int, keyNames []string) map[string]interface{} {
	result := make(map[string]interface{}, len(keyNames))
	for _, keyName := range keyNames {
		value, ok, err := s.Latest(deviceID, keyName)
		if err != nil {
			logger.Errorf("failed to get latest %s for device %d: %v\n", keyName, deviceID, err)
		}
		if !ok {
			result[keyName] = nil
			continue
		}
		result[keyName] = value
	}
	return result
}

// AllLatest returns the most recent reading per key for a device as a single
// grouped query, keyed by key name.
func (s *Store) AllLatest(deviceID int) (map[string]interface{}, error) {
	latest := s.db.Model(&models.Telemetry{}).
		Select("key_id, MAX(timestamp) AS max_ts").
		Where("device_id = ?", deviceID).
		Group("key_id")

	var readings []models.Telemetry
	err := s.db.Model(&models.Telemetry{}).
		Joins("JOIN (?) latest ON latest.key_id = telemetries.key_id AND latest.max_ts = telemetries.timestamp", latest).
		Where("telemetries.device_id = ?", deviceID).
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read latest values for device %d: %w", deviceID, err)
	}

	if len(readings) == 0 {
		return map[string]interface{}{}, nil
	}

	keyIDs := make([]int, 0, len(readings))
	for _, r := range readings {
		keyIDs = append(keyIDs, r.KeyID)
	}
	var keys []models.TelemetryKey
	if err := s.db.Where("key_id IN ?", keyIDs).Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to load key definitions: %w", err)
	}
	byID := make(map[int]models.TelemetryKey, len(keys))
	for _, k := range keys {
		byID[k.KeyID] = k
	}

	result := make(map[string]interface{}, len(readings))
	for _, reading := range readings {
		key, ok := byID[reading.KeyID]
		if !ok {
			continue
		}
		// Two messages can share a timestamp for the same key; first row wins
		if _, seen := result[key.KeyName]; seen {
			continue
		}
		result[key.KeyName] = reading.Value(key.DataType)
	}
	return result, nil
}

// Range returns readings for a device newest first, optionally filtered by
// key name and time bounds, capped at limit.
func (s *Store) Range(deviceID int, keyName string, from, to *time.Time, limit int) ([]models.Telemetry, error) {
	query := s.db.Where("device_id = ?", deviceID)

	if keyName != "" {
		entry, ok, err := s.keys.resolve(keyName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return []models.Telemetry{}, nil
		}
		query = query.Where("key_id = ?", entry.id)
	}
	if from != nil {
		query = query.Where("timestamp >= ?", from.UTC())
	}
	if to != nil {
		query = query.Where("timestamp <= ?", to.UTC())
	}

	var readings []models.Telemetry
	if err := query.Order("timestamp DESC").Limit(limit).Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("failed to query telemetry range: %w", err)
	}
	return readings, nil
}

// Average computes the mean of the double readings for (device, key) in the
// given window. Readings stored in other value columns are excluded.
func (s *Store) Average(deviceID int, keyName string, from, to time.Time) (*float64, error) {
	return s.aggregate("AVG(dbl_value)", deviceID, keyName, from, to)
}

// Min returns the smallest double reading in the window
func (s *Store) Min(deviceID int, keyName string, from, to time.Time) (*float64, error) {
	return s.aggregate("MIN(dbl_value)", deviceID, keyName, from, to)
}

// Max returns the largest double reading in the window
func (s *Store) Max(deviceID int, keyName string, from, to time.Time) (*float64, error) {
	return s.aggregate("MAX(dbl_value)", deviceID, keyName, from, to)
}

func (s *Store) aggregate(expr string, deviceID int, keyName string, from, to time.Time) (*float64, error) {
	entry, ok, err := s.keys.resolve(keyName)
	if err != nil || !ok {
		return nil, err
	}

	var result sql.NullFloat64
	err = s.db.Model(&models.Telemetry{}).
		Select(expr).
		Where("device_id = ? AND key_id = ? AND timestamp >= ? AND timestamp <= ? AND dbl_value IS NOT NULL",
			deviceID, entry.id, from.UTC(), to.UTC()).
		Scan(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s for key %s: %w", expr, keyName, err)
	}
	if !result.Valid {
		return nil, nil
	}
	return &result.Float64, nil
}

// Count returns the number of readings for (device, key) in the window
func (s *Store) Count(deviceID int, keyName string, from, to time.Time) (int64, error) {
	entry, ok, err := s.keys.resolve(keyName)
	if err != nil || !ok {
		return 0, err
	}

	var count int64
	err = s.db.Model(&models.Telemetry{}).
		Where("device_id = ? AND key_id = ? AND timestamp >= ? AND timestamp <= ?",
			deviceID, entry.id, from.UTC(), to.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count readings for key %s: %w", keyName, err)
	}
	return count, nil
}

// PurgeBefore removes all readings strictly older than cutoff and returns
// the number of rows removed. Irreversible.
func (s *Store) PurgeBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("timestamp < ?", cutoff.UTC()).Delete(&models.Telemetry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge telemetry before %s: %w", cutoff.Format(time.RFC3339), result.Error)
	}
	logger.Printf("Purged %d telemetry record(s) before %s\n", result.RowsAffected, cutoff.Format(time.RFC3339))
	return result.RowsAffected, nil
}

// Convenience getters for the well-known sensor attributes

// BatteryLevel returns the latest battery_level reading for a device
func (s *Store) BatteryLevel(deviceID int) (*float64, error) {
	return s.LatestDouble(deviceID, "battery_level")
}

// Temperature returns the latest temperature reading for a device
func (s *Store) Temperature(deviceID int) (*float64, error) {
	return s.LatestDouble(deviceID, "temperature")
}

// Humidity returns the latest humidity reading for a device
func (s *Store) Humidity(deviceID int) (*float64, error) {
	return s.LatestDouble(deviceID, "humidity")
}

// DeviceStatus returns the latest device_status reading for a device
func (s *Store) DeviceStatus(deviceID int) (*string, error) {
	return s.LatestString(deviceID, "device_status")
}
