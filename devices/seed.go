package devices

import (
	"fmt"

	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedDevices inserts a pair of demo devices for local testing with the
// simulator. Idempotent: existing client ids are left untouched.
func SeedDevices(db *gorm.DB) error {
	seeds := []models.Device{
		{
			Name:         "Temperature Sensor - Warehouse A",
			DeviceType:   "Temperature Sensor",
			Description:  "Monitors temperature in warehouse storage area",
			Location:     "Warehouse A - Zone 1",
			ClientID:     "dev-temp-001",
			SerialNumber: "TEMP-001-WHA",
			IsActive:     true,
		},
		{
			Name:         "Environment Monitor - Office",
			DeviceType:   "Multi Sensor",
			Description:  "Temperature, humidity and air quality monitoring",
			Location:     "Office - Floor 2",
			ClientID:     "dev-multi-002",
			SerialNumber: "ENV-002-OFF",
			IsActive:     true,
		},
	}

	seeded := 0
	for _, device := range seeds {
		res := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			DoNothing: true,
		}).Create(&device)
		if res.Error != nil {
			return fmt.Errorf("failed to seed device %s: %w", device.ClientID, res.Error)
		}
		seeded += int(res.RowsAffected)
	}

	if seeded > 0 {
		logger.Printf("Seeded %d demo device(s)\n", seeded)
	}
	return nil
}
