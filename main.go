package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"iot_telemetry_hub/audit"
	"iot_telemetry_hub/broker"
	"iot_telemetry_hub/config"
	"iot_telemetry_hub/database"
	"iot_telemetry_hub/devices"
	"iot_telemetry_hub/importer"
	"iot_telemetry_hub/ingest"
	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		return
	}

	command := os.Args[1]

	// Initialize logging only for commands that need it
	if needsLogging(command) {
		cfg := loadConfig()
		if err := logger.Init(cfg); err != nil {
			log.Fatalf("Failed to initialize logging: %v", err)
		}
		defer func() {
			err := logger.Close()
			if err != nil {
				log.Fatalf("Failed to close logging: %v", err)
			}
		}()
		logger.LogCommand(os.Args[0], os.Args)
	}

	switch command {
	case "serve":
		serveCommand()
	case "simulate":
		if len(os.Args) < 4 {
			fmt.Println("Error: topic and payload required")
			fmt.Println("Usage: go run main.go simulate <topic> <json-payload>")
			return
		}
		simulateCommand(os.Args[2], os.Args[3])
	case "simulate:demo":
		count := 5
		if len(os.Args) >= 3 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
				count = n
			}
		}
		simulateDemoCommand(count)
	case "command":
		if len(os.Args) < 4 {
			fmt.Println("Error: device id and command required")
			fmt.Println("Usage: go run main.go command <device_id> <command> [json-payload]")
			return
		}
		payload := ""
		if len(os.Args) >= 5 {
			payload = os.Args[4]
		}
		commandCommand(os.Args[2], os.Args[3], payload)
	case "connect":
		connectCommand()
	case "migrate":
		migrateCommand()
	case "migrate:create":
		if len(os.Args) < 3 {
			fmt.Println("Error: migration name required")
			fmt.Println("Usage: go run main.go migrate:create <migration_name>")
			return
		}
		createMigrationCommand(os.Args[2])
	case "migrate:status":
		migrationStatusCommand()
	case "db:info":
		dbInfoCommand()
	case "seed":
		seedCommand()
	case "keys":
		category := ""
		if len(os.Args) >= 3 {
			category = os.Args[2]
		}
		keysCommand(category)
	case "latest":
		if len(os.Args) < 3 {
			fmt.Println("Error: device id required")
			fmt.Println("Usage: go run main.go latest <device_id>")
			return
		}
		latestCommand(os.Args[2])
	case "logs":
		deviceID := 0
		if len(os.Args) >= 3 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				deviceID = n
			}
		}
		logsCommand(deviceID)
	case "purge":
		if len(os.Args) < 3 {
			fmt.Println("Error: cutoff date required")
			fmt.Println("Usage: go run main.go purge <YYYY-MM-DD>")
			return
		}
		purgeCommand(os.Args[2])
	case "import":
		if len(os.Args) < 3 {
			fmt.Println("Error: directory path required")
			fmt.Println("Usage: go run main.go import <directory_path>")
			return
		}
		importCommand(os.Args[2])
	case "help":
		showHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		showHelp()
	}
}

// needsLogging determines which commands need logging
func needsLogging(command string) bool {
	loggingCommands := map[string]bool{
		"serve":          true,
		"simulate":       true,
		"simulate:demo":  true,
		"command":        true,
		"migrate":        true,
		"migrate:create": true,
		"migrate:status": true,
		"connect":        true,
		"seed":           true,
		"purge":          true,
		"import":         true,
	}
	return loggingCommands[command]
}

func showHelp() {
	fmt.Println("IoT Telemetry Hub - MQTT ingestion and generic telemetry store")
	fmt.Println("")
	fmt.Println("Usage: go run main.go <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve                 Run the MQTT ingestion service")
	fmt.Println("  simulate <topic> <payload>  Process one message as if delivered by the broker")
	fmt.Println("  simulate:demo [n]     Generate and ingest n demo telemetry messages per device")
	fmt.Println("  command <id> <cmd> [payload]  Publish a command to a device via the broker")
	fmt.Println("  connect               Test database connection")
	fmt.Println("  migrate               Bootstrap schema and run pending migrations")
	fmt.Println("  migrate:create <name> Create a new migration file")
	fmt.Println("  migrate:status        Show migration status")
	fmt.Println("  db:info               Show database information")
	fmt.Println("  seed                  Insert demo devices")
	fmt.Println("  keys [category]       List telemetry key definitions")
	fmt.Println("  latest <device_id>    Show the latest value for every key of a device")
	fmt.Println("  logs [device_id]      Show recent audit entries (all devices when omitted)")
	fmt.Println("  purge <YYYY-MM-DD>    Remove telemetry readings older than the date")
	fmt.Println("  import <directory>    Backfill telemetry from CSV files (timestamp,clientid,key,value)")
	fmt.Println("  help                  Show this help message")
	fmt.Println("")
	fmt.Println("Configuration:")
	fmt.Println("  Edit config.yaml to configure database and MQTT broker settings")
}

func loadConfig() *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func connectDatabase() (*config.Config, error) {
	cfg := loadConfig()

	_, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return cfg, nil
}

// buildDispatcher wires the ingestion pipeline against the connected database
func buildDispatcher() *ingest.Dispatcher {
	db := database.GetDB()
	store := telemetry.NewStore(db)
	registry := devices.NewRegistry(db)
	auditLog := audit.NewLog(db)
	return ingest.NewDispatcher(store, registry, auditLog)
}

func serveCommand() {
	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	dispatcher := buildDispatcher()
	auditLog := audit.NewLog(database.GetDB())
	supervisor := broker.NewSupervisor(cfg, dispatcher, auditLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Drain status-change notifications; an external notifier would hang off
	// this channel instead.
	go func() {
		for event := range dispatcher.Events() {
			status := "offline"
			if event.IsOnline {
				status = "online"
			}
			logger.Printf("Status change: device %d is now %s\n", event.DeviceID, status)
		}
	}()

	logger.Println("IoT telemetry hub starting")
	supervisor.Run(ctx)
	logger.Println("IoT telemetry hub stopped")
}

func simulateCommand(topic, payload string) {
	_, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	dispatcher := buildDispatcher()
	if err := dispatcher.Simulate(topic, []byte(payload)); err != nil {
		logger.Fatalf("Simulation failed: %v", err)
	}

	logger.LogResult(fmt.Sprintf("Simulated %s message", topic), true, "")
}

// simulateDemoCommand generates sine-wave telemetry for every seeded device
// and pushes it through the same dispatch path as live traffic
func simulateDemoCommand(count int) {
	_, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	registry := devices.NewRegistry(database.GetDB())
	all, err := registry.List()
	if err != nil {
		logger.Fatalf("Failed to list devices: %v", err)
	}
	if len(all) == 0 {
		logger.Println("No devices found; run 'seed' first")
		return
	}

	dispatcher := buildDispatcher()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < count; i++ {
		phase := float64(i) / 10.0
		for _, device := range all {
			payload := map[string]interface{}{
				"clientid":      device.ClientID,
				"temperature":   roundTo(20+5*math.Sin(phase)+rng.Float64(), 2),
				"humidity":      roundTo(45+10*math.Cos(phase)+rng.Float64()*2, 2),
				"battery_level": roundTo(100-float64(i)*0.5, 2),
				"uptime":        int64(3600*i + 17),
				"messageid":     fmt.Sprintf("demo-%d", i),
			}
			body, _ := json.Marshal(payload)
			if err := dispatcher.Simulate(ingest.TopicTelemetry, body); err != nil {
				logger.Warnf("demo message for %s failed: %v\n", device.ClientID, err)
			}
		}
	}

	logger.LogResult("Demo simulation", true, fmt.Sprintf("%d message(s) per device", count))
}

func roundTo(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

// commandCommand publishes one device command over the broker and exits
func commandCommand(rawDeviceID, command, rawPayload string) {
	deviceID, err := strconv.Atoi(rawDeviceID)
	if err != nil {
		logger.Fatalf("Invalid device id: %s", rawDeviceID)
	}

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if !cfg.MQTTConfigured() {
		logger.Fatalf("MQTT broker not configured (host %q); set the mqtt section in config.yaml", cfg.MQTT.Host)
	}

	var payload interface{}
	if rawPayload != "" {
		if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
			// Not JSON; pass the raw text through as the payload
			payload = rawPayload
		}
	}

	supervisor := broker.NewSupervisor(cfg, buildDispatcher(), audit.NewLog(database.GetDB()))
	if err := supervisor.Connect(); err != nil {
		logger.Fatalf("Failed to connect to broker: %v", err)
	}
	defer supervisor.Disconnect()

	if err := supervisor.PublishCommand(deviceID, command, payload); err != nil {
		logger.Fatalf("Failed to publish command: %v", err)
	}

	logger.LogResult(fmt.Sprintf("Command '%s' for device %d", command, deviceID), true, "")
}

func connectCommand() {
	logger.Println("Testing database connection...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Connection failed: %v", err)
	}
	defer database.Close()

	logger.Printf("✓ Successfully connected to %s database\n", cfg.Database.Driver)

	// Show connection info
	info := database.GetDatabaseInfo(cfg)
	infoJSON, _ := json.MarshalIndent(info, "", "  ")
	logger.Printf("Connection info: %s\n", infoJSON)
}

func migrateCommand() {
	logger.Println("Running database migrations...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runner := database.NewMigrationRunner(database.GetDB(), cfg)

	if err := runner.RunMigrations(); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func createMigrationCommand(name string) {
	logger.Printf("Creating migration: %s\n", name)

	cfg := loadConfig()
	runner := database.NewMigrationRunner(nil, cfg) // Don't need DB connection to create files

	filePath, err := runner.CreateMigration(name)
	if err != nil {
		logger.Fatalf("Failed to create migration: %v", err)
	}

	logger.Printf("✓ Migration created: %s\n", filePath)
}

func migrationStatusCommand() {
	logger.Println("Checking migration status...")

	cfg, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runner := database.NewMigrationRunner(database.GetDB(), cfg)

	migrations, err := runner.GetMigrationStatus()
	if err != nil {
		logger.Fatalf("Failed to get migration status: %v", err)
	}

	if len(migrations) == 0 {
		logger.Println("No migrations found")
		return
	}

	logger.Printf("%-20s %-40s %s\n", "Version", "Name", "Status")
	logger.Println("-------------------------------------------------------------------")

	for _, migration := range migrations {
		status := "Pending"
		if migration.Applied {
			status = "Applied"
		}
		logger.Printf("%-20s %-40s %s\n", migration.Version, migration.Name, status)
	}
}

func dbInfoCommand() {
	fmt.Println("Database Information:")
	fmt.Println(strings.Repeat("=", 50))

	cfg, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	info := database.GetDatabaseInfo(cfg)

	fmt.Printf("Database Type:     %v\n", info["driver"])
	fmt.Printf("Connection Status: %v\n", getConnectionStatusText(info["connected"]))

	switch cfg.Database.Driver {
	case "mysql", "postgres":
		fmt.Printf("Host:              %v\n", info["host"])
		fmt.Printf("Port:              %v\n", info["port"])
		fmt.Printf("Database:          %v\n", info["database"])
	case "sqlite":
		fmt.Printf("File Path:         %v\n", info["path"])
	}

	if info["connected"] == true {
		fmt.Println("\nConnection Pool:")
		fmt.Printf("  Max Connections: %v\n", info["max_open_connections"])
		fmt.Printf("  Open Connections:%v\n", info["open_connections"])
		fmt.Printf("  In Use:          %v\n", info["in_use"])
		fmt.Printf("  Idle:            %v\n", info["idle"])

		db := database.GetDB()
		var readingCount, deviceCount, keyCount int64
		db.Table("telemetries").Count(&readingCount)
		db.Table("devices").Count(&deviceCount)
		db.Table("telemetry_keys").Count(&keyCount)

		fmt.Println("\nData Information:")
		fmt.Printf("  Devices:         %d\n", deviceCount)
		fmt.Printf("  Key Definitions: %d\n", keyCount)
		fmt.Printf("  Readings:        %d\n", readingCount)

		if readingCount > 0 {
			var earliest, latest time.Time
			db.Table("telemetries").Select("MIN(timestamp)").Scan(&earliest)
			db.Table("telemetries").Select("MAX(timestamp)").Scan(&latest)
			fmt.Printf("  Date Range:      %s to %s\n",
				earliest.Format("2006-01-02 15:04:05"),
				latest.Format("2006-01-02 15:04:05"))
		}
	} else {
		fmt.Println("\nConnection failed - unable to retrieve detailed information")
	}

	fmt.Println(strings.Repeat("=", 50))
}

func getConnectionStatusText(connected interface{}) string {
	if conn, ok := connected.(bool); ok && conn {
		return "✓ Connected"
	}
	return "✗ Disconnected"
}

func seedCommand() {
	logger.Println("Seeding demo devices...")

	_, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := devices.SeedDevices(database.GetDB()); err != nil {
		logger.Fatalf("Seed failed: %v", err)
	}

	logger.Println("✓ Seed completed")
}

func keysCommand(category string) {
	_, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	registry := telemetry.NewKeyRegistry(database.GetDB())
	keys, err := registry.ListByCategory(category)
	if err != nil {
		log.Fatalf("Failed to list keys: %v", err)
	}

	if len(keys) == 0 {
		fmt.Println("No key definitions found")
		return
	}

	fmt.Printf("%-5s %-25s %-8s %-12s %s\n", "ID", "Name", "Type", "Category", "Description")
	fmt.Println(strings.Repeat("-", 80))
	for _, key := range keys {
		fmt.Printf("%-5d %-25s %-8s %-12s %s\n", key.KeyID, key.KeyName, key.DataType, key.Category, key.Description)
	}
}

func latestCommand(rawDeviceID string) {
	deviceID, err := strconv.Atoi(rawDeviceID)
	if err != nil {
		log.Fatalf("Invalid device id: %s", rawDeviceID)
	}

	_, err = connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	store := telemetry.NewStore(database.GetDB())
	values, err := store.AllLatest(deviceID)
	if err != nil {
		log.Fatalf("Failed to read latest values: %v", err)
	}

	if len(values) == 0 {
		fmt.Printf("No telemetry found for device %d\n", deviceID)
		return
	}

	fmt.Printf("Latest values for device %d:\n", deviceID)
	for name, value := range values {
		fmt.Printf("  %-25s %v\n", name, value)
	}
}

func logsCommand(deviceID int) {
	_, err := connectDatabase()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	auditLog := audit.NewLog(database.GetDB())
	entries, err := auditLog.Recent(deviceID, 50)
	if err != nil {
		log.Fatalf("Failed to read audit entries: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found")
		return
	}

	fmt.Printf("%-20s %-8s %-16s %-8s %s\n", "Timestamp", "Device", "Action", "Status", "Description")
	fmt.Println(strings.Repeat("-", 100))
	for _, entry := range entries {
		fmt.Printf("%-20s %-8d %-16s %-8s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.DeviceID, entry.Action, entry.Status, entry.Description)
	}
}

func purgeCommand(rawDate string) {
	cutoff, err := time.ParseInLocation("2006-01-02", rawDate, time.UTC)
	if err != nil {
		logger.Fatalf("Invalid cutoff date %s (expected YYYY-MM-DD)", rawDate)
	}

	_, err = connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	store := telemetry.NewStore(database.GetDB())
	removed, err := store.PurgeBefore(cutoff)
	if err != nil {
		logger.Fatalf("Purge failed: %v", err)
	}

	logger.LogResult("Retention purge", true, fmt.Sprintf("%d reading(s) removed", removed))
}

func importCommand(directoryPath string) {
	logger.Printf("Importing telemetry from: %s\n", directoryPath)

	_, err := connectDatabase()
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()
	csvImporter := importer.NewCSVImporter(telemetry.NewStore(db), devices.NewRegistry(db))

	if err := csvImporter.ImportDirectory(directoryPath); err != nil {
		logger.Fatalf("Import failed: %v", err)
	}

	logger.Println("✓ Import completed successfully")
}
