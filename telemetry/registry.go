package telemetry

import (
	"errors"
	"fmt"
	"sync"

	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	"gorm.io/gorm"
)

// keyEntry is the cached projection of a key definition. Key names are
// immutable once created, so entries never need invalidation.
type keyEntry struct {
	id       int
	dataType string
}

// KeyRegistry maps attribute names to stable key IDs and declared data
// types. Lookups are cached in memory for the process lifetime; unknown
// names are auto-created on first use. Safe for concurrent use.
type KeyRegistry struct {
	db *gorm.DB

	mu   sync.RWMutex
	keys map[string]keyEntry
}

// NewKeyRegistry creates a key registry backed by the given database
func NewKeyRegistry(db *gorm.DB) *KeyRegistry {
	return &KeyRegistry{
		db:   db,
		keys: make(map[string]keyEntry),
	}
}

// Resolve returns the key ID for keyName, or ok=false when no active
// definition exists
func (r *KeyRegistry) Resolve(keyName string) (int, bool, error) {
	entry, ok, err := r.resolve(keyName)
	if err != nil || !ok {
		return 0, false, err
	}
	return entry.id, true, nil
}

func (r *KeyRegistry) resolve(keyName string) (keyEntry, bool, error) {
	r.mu.RLock()
	entry, ok := r.keys[keyName]
	r.mu.RUnlock()
	if ok {
		return entry, true, nil
	}

	var key models.TelemetryKey
	err := r.db.Where("key_name = ? AND is_active = ?", keyName, true).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return keyEntry{}, false, nil
	}
	if err != nil {
		return keyEntry{}, false, fmt.Errorf("failed to look up key %s: %w", keyName, err)
	}

	entry = keyEntry{id: key.KeyID, dataType: key.DataType}
	r.cache(keyName, entry)
	return entry, true, nil
}

// ResolveOrCreate resolves keyName, auto-creating a definition on first use.
// The data type is inferred from the runtime shape of sampleValue. When two
// creations for the same unseen name race, the storage-level uniqueness on
// key_name surfaces as a conflict and the loser re-resolves instead of
// failing.
func (r *KeyRegistry) ResolveOrCreate(keyName string, sampleValue interface{}) (int, error) {
	entry, err := r.resolveOrCreate(keyName, sampleValue)
	if err != nil {
		return 0, err
	}
	return entry.id, nil
}

func (r *KeyRegistry) resolveOrCreate(keyName string, sampleValue interface{}) (keyEntry, error) {
	entry, ok, err := r.resolve(keyName)
	if err != nil {
		return keyEntry{}, err
	}
	if ok {
		return entry, nil
	}

	dataType := models.InferDataType(sampleValue)
	key := models.TelemetryKey{
		KeyName:     keyName,
		Description: fmt.Sprintf("Auto-created key for %s", keyName),
		DataType:    dataType,
		Category:    "sensor",
		IsActive:    true,
	}

	createErr := r.db.Create(&key).Error
	if createErr == nil {
		logger.Printf("Created new key definition: %s (%s)\n", keyName, dataType)
		entry = keyEntry{id: key.KeyID, dataType: dataType}
		r.cache(keyName, entry)
		return entry, nil
	}

	// A concurrent message may have created the same name first; the unique
	// index rejects the second insert and a plain resolve must win.
	if errors.Is(createErr, gorm.ErrDuplicatedKey) {
		logger.Debugf("key %s already created concurrently, re-resolving\n", keyName)
	}
	entry, ok, err = r.resolve(keyName)
	if err == nil && ok {
		return entry, nil
	}
	return keyEntry{}, fmt.Errorf("failed to create key %s: %w", keyName, createErr)
}

// ListByCategory returns active key definitions ordered by name. An empty
// category returns all active definitions.
func (r *KeyRegistry) ListByCategory(category string) ([]models.TelemetryKey, error) {
	query := r.db.Where("is_active = ?", true)
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var keys []models.TelemetryKey
	if err := query.Order("key_name ASC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

func (r *KeyRegistry) cache(keyName string, entry keyEntry) {
	r.mu.Lock()
	r.keys[keyName] = entry
	r.mu.Unlock()
}
