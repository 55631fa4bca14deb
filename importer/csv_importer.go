package importer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"iot_telemetry_hub/ingest"
	"iot_telemetry_hub/logger"
	"iot_telemetry_hub/telemetry"
)

// CSVImporter backfills historical telemetry from CSV files. Rows go through
// the same key registry and store as live ingestion, so auto-created keys
// and type inference behave identically. Expected columns:
// timestamp,clientid,key_name,value.
type CSVImporter struct {
	store       *telemetry.Store
	devices     ingest.DeviceRegistry
	workerCount int
}

// FileJob represents a CSV file to be processed
type FileJob struct {
	FilePath string
	FileName string
}

// ProcessResult contains the result of processing a CSV file
type ProcessResult struct {
	FilePath    string
	RecordCount int
	ErrorCount  int
	Duration    time.Duration
	Error       error
}

// NewCSVImporter creates a CSV importer
func NewCSVImporter(store *telemetry.Store, devices ingest.DeviceRegistry) *CSVImporter {
	// Default to number of CPU cores for parallel processing
	workerCount := runtime.NumCPU()
	if workerCount > 8 {
		workerCount = 8 // Limit to 8 workers to avoid overwhelming the database
	}

	return &CSVImporter{
		store:       store,
		devices:     devices,
		workerCount: workerCount,
	}
}

// SetWorkerCount sets the number of parallel workers
func (ci *CSVImporter) SetWorkerCount(count int) {
	if count > 0 {
		ci.workerCount = count
	}
}

// ImportDirectory scans a directory for CSV files and imports them in
// parallel (non-recursive)
func (ci *CSVImporter) ImportDirectory(directoryPath string) error {
	logger.Printf("Scanning directory: %s\n", directoryPath)

	if _, err := os.Stat(directoryPath); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", directoryPath)
	}

	csvFiles, err := ci.findCSVFiles(directoryPath)
	if err != nil {
		return fmt.Errorf("failed to find CSV files: %w", err)
	}

	if len(csvFiles) == 0 {
		logger.Println("No CSV files found in the directory")
		return nil
	}

	logger.Printf("Found %d CSV file(s) to import\n", len(csvFiles))
	logger.Printf("Importing with %d parallel workers\n", ci.workerCount)

	results := ci.processFilesParallel(csvFiles)
	ci.displaySummary(results)

	return nil
}

// findCSVFiles finds all CSV files in the specified directory (non-recursive)
func (ci *CSVImporter) findCSVFiles(directoryPath string) ([]FileJob, error) {
	var csvFiles []FileJob

	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) == ".csv" {
			csvFiles = append(csvFiles, FileJob{
				FilePath: filepath.Join(directoryPath, entry.Name()),
				FileName: entry.Name(),
			})
		}
	}

	return csvFiles, nil
}

// processFilesParallel imports CSV files in parallel using worker goroutines
func (ci *CSVImporter) processFilesParallel(files []FileJob) []ProcessResult {
	jobs := make(chan FileJob, len(files))
	results := make(chan ProcessResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < ci.workerCount; i++ {
		wg.Add(1)
		go ci.worker(jobs, results, &wg)
	}

	go func() {
		for _, file := range files {
			jobs <- file
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []ProcessResult
	for result := range results {
		allResults = append(allResults, result)
	}

	return allResults
}

// worker imports CSV files from the job channel
func (ci *CSVImporter) worker(jobs <-chan FileJob, results chan<- ProcessResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		results <- ci.processCSVFile(job)
	}
}

// processCSVFile imports a single CSV file
func (ci *CSVImporter) processCSVFile(job FileJob) ProcessResult {
	startTime := time.Now()
	result := ProcessResult{
		FilePath: job.FilePath,
	}

	logger.Printf("Importing file: %s\n", job.FileName)

	file, err := os.Open(job.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("failed to open file: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	records, err := reader.ReadAll()
	if err != nil {
		result.Error = fmt.Errorf("failed to read CSV: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	if len(records) == 0 {
		result.Error = fmt.Errorf("empty CSV file")
		result.Duration = time.Since(startTime)
		return result
	}

	stored, errorCount := ci.importRecords(records, job.FileName)
	result.RecordCount = stored
	result.ErrorCount = errorCount

	result.Duration = time.Since(startTime)
	logger.Printf("✓ Completed %s: %d readings imported, %d errors in %v\n",
		job.FileName, result.RecordCount, result.ErrorCount, result.Duration)

	return result
}

// importRecords stores CSV rows as telemetry readings. Each row resolves its
// device by client id; device lookups are cached per file.
func (ci *CSVImporter) importRecords(records [][]string, fileName string) (int, int) {
	var stored, errorCount int
	deviceCache := make(map[string]*ingest.DeviceRef)

	// Detect if first row is header
	startRow := 0
	if len(records) > 0 && ci.isHeaderRow(records[0]) {
		startRow = 1
	}

	for i := startRow; i < len(records); i++ {
		record := records[i]

		// Skip empty rows
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		// Expect 4 columns: timestamp, clientid, key_name, value
		if len(record) < 4 {
			errorCount++
			logger.Warnf("Row %d in %s has insufficient columns (expected 4, got %d)\n",
				i+1, fileName, len(record))
			continue
		}

		timestamp, err := parseTimestamp(strings.TrimSpace(record[0]))
		if err != nil {
			errorCount++
			logger.Warnf("Row %d in %s has invalid timestamp format: %s\n", i+1, fileName, record[0])
			continue
		}

		clientID := strings.TrimSpace(record[1])
		device, ok := deviceCache[clientID]
		if !ok {
			device, err = ci.devices.FindByClientID(clientID)
			if err != nil {
				errorCount++
				logger.Warnf("Row %d in %s: device lookup failed: %v\n", i+1, fileName, err)
				continue
			}
			deviceCache[clientID] = device
		}
		if device == nil {
			errorCount++
			logger.Warnf("Row %d in %s references unknown client id %s\n", i+1, fileName, clientID)
			continue
		}

		keyName := strings.ToLower(strings.TrimSpace(record[2]))
		if keyName == "" {
			errorCount++
			logger.Warnf("Row %d in %s has empty key name\n", i+1, fileName)
			continue
		}

		value := parseValue(strings.TrimSpace(record[3]))
		if err := ci.store.StoreAt(device.ID, keyName, value, timestamp, "Good",
			fmt.Sprintf("CSV import from %s", fileName)); err != nil {
			errorCount++
			logger.Warnf("Row %d in %s failed to store: %v\n", i+1, fileName, err)
			continue
		}
		stored++
	}

	return stored, errorCount
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", raw)
}

// parseValue infers the best typed representation of a CSV value, mirroring
// the live extractor's precedence: whole number, float, bool, string
func parseValue(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// isHeaderRow checks if the first row is likely a header
func (ci *CSVImporter) isHeaderRow(row []string) bool {
	if len(row) < 4 {
		return false
	}

	firstCol := strings.ToLower(strings.TrimSpace(row[0]))
	headerWords := []string{"timestamp", "time", "date", "datetime"}

	for _, word := range headerWords {
		if strings.Contains(firstCol, word) {
			return true
		}
	}

	// Try to parse as timestamp - if it fails, it's likely a header
	_, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
	return err != nil
}

// displaySummary displays a summary of the import results
func (ci *CSVImporter) displaySummary(results []ProcessResult) {
	logger.Println("\n" + strings.Repeat("=", 60))
	logger.Println("IMPORT SUMMARY")
	logger.Println(strings.Repeat("=", 60))

	totalFiles := len(results)
	totalRecords := 0
	totalErrors := 0
	successfulFiles := 0
	failedFiles := 0
	totalDuration := time.Duration(0)

	for _, result := range results {
		if result.Error != nil {
			failedFiles++
			logger.Printf("❌ %s: FAILED - %v\n", filepath.Base(result.FilePath), result.Error)
		} else {
			successfulFiles++
			totalRecords += result.RecordCount
			totalErrors += result.ErrorCount
			logger.Printf("✅ %s: %d readings, %d errors (%v)\n",
				filepath.Base(result.FilePath), result.RecordCount, result.ErrorCount, result.Duration)
		}
		totalDuration += result.Duration
	}

	logger.Println(strings.Repeat("-", 60))
	logger.Printf("Total files processed: %d\n", totalFiles)
	logger.Printf("Successful: %d\n", successfulFiles)
	logger.Printf("Failed: %d\n", failedFiles)
	logger.Printf("Total readings imported: %d\n", totalRecords)
	logger.Printf("Total row errors: %d\n", totalErrors)
	logger.Printf("Total processing time: %v\n", totalDuration)
	logger.Println(strings.Repeat("=", 60))
}
