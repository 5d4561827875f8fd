// Package processor reads feed-transform export files from disk, validates
// them and stores them as log records in the PostgreSQL database.
//
// An export file holds either a single JSON object or an array of objects.
// Files that cannot be parsed or fail validation are preserved in the
// invalid_records table for later inspection; only database trouble leaves a
// file on disk for a retry.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/decorate"

	"github.com/indexops/indexops/internal/models"
)

var (
	errMalformed  = errors.New("export file could not be parsed")
	errValidation = errors.New("export failed validation")
)

type database interface {
	Insert(ctx context.Context, rec models.LogRecord) error
	InsertInvalid(ctx context.Context, source, rawPayload string) error
}

// Processor validates and stores the feed exports of a single directory tree.
type Processor struct {
	feedsDir string
	db       database

	processed *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// New creates a new Processor instance rooted at feedsDir.
func New(feedsDir string, db database, reg prometheus.Registerer) (*Processor, error) {
	if feedsDir == "" {
		return nil, fmt.Errorf("feedsDir must be set")
	}

	if err := os.MkdirAll(feedsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create feedsDir: %v", err)
	}

	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_processed_total",
		Help: "Number of feed export records successfully stored.",
	}, []string{"source"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_records_failed_total",
		Help: "Number of feed export records rejected or failed to store.",
	}, []string{"source"})
	for _, c := range []*prometheus.CounterVec{processed, failed} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register ingest counters: %v", err)
		}
	}

	return &Processor{
		feedsDir:  feedsDir,
		db:        db,
		processed: processed,
		failed:    failed,
	}, nil
}

// Process handles all JSON export files under feedsDir/source.
//
// Valid records are inserted and the file removed; unparseable or invalid
// payloads are stored raw in the invalid records table and the file removed.
// A failing insert leaves the file in place so the caller can retry once the
// database recovers.
func (p Processor) Process(ctx context.Context, source string) (err error) {
	defer decorate.OnError(&err, "failed to process feed exports for %s", source)

	dir := filepath.Join(p.feedsDir, source)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %q: %v", dir, err)
	}

	files, err := getJSONFiles(dir)
	if err != nil {
		return fmt.Errorf("failed to get JSON files: %v", err)
	}

	for _, file := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		procErr := p.processFile(ctx, file, source)
		if procErr != nil && !errors.Is(procErr, errMalformed) && !errors.Is(procErr, errValidation) {
			// Database trouble: keep the file and let the worker back off.
			return procErr
		}

		if procErr != nil {
			if invErr := p.storeInvalid(ctx, file, source); invErr != nil {
				slog.Warn("Failed to store invalid export", "file", file, "err", invErr)
				continue // keep the file, invalid storage needs the database too
			}
		}

		if err := os.Remove(file); err != nil {
			slog.Warn("Failed to remove file after processing", "file", file, "err", err)
		}

		slog.Info("Finished processing file", "file", file)
	}

	return nil
}

// processFile decodes and stores every record of one export file.
func (p Processor) processFile(ctx context.Context, file, source string) error {
	exports, err := decodeExports(file)
	if err != nil {
		slog.Warn("Failed to decode export file", "file", file, "err", err)
		p.failed.WithLabelValues(source).Inc()
		return err
	}

	// Single-record files named by UUID keep that UUID as the record ID.
	if len(exports) == 1 && exports[0].ID == "" {
		base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if uuid.Validate(base) == nil {
			exports[0].ID = base
		}
	}

	// Validate the whole file before the first insert so a batch mixing valid
	// and invalid records is quarantined as one unit, never half-ingested.
	records := make([]models.LogRecord, 0, len(exports))
	for _, export := range exports {
		rec, err := export.toRecord()
		if err != nil {
			slog.Warn("Export failed validation", "file", file, "err", err)
			p.failed.WithLabelValues(source).Inc()
			return err
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		if err := p.db.Insert(ctx, rec); err != nil {
			p.failed.WithLabelValues(source).Inc()
			return fmt.Errorf("failed to insert record: %w", err)
		}
		p.processed.WithLabelValues(source).Inc()
	}

	return nil
}

// feedExport mirrors the JSON layout produced by the feed-transform jobs.
type feedExport struct {
	ID           string `mapstructure:"id"`
	SourceName   string `mapstructure:"sourceName"`
	CountryCode  string `mapstructure:"countryCode"`
	CurrencyCode string `mapstructure:"currencyCode"`
	Status       string `mapstructure:"status"`
	Timestamp    string `mapstructure:"timestamp"`

	Progress struct {
		RecordsInFeed       int64 `mapstructure:"recordsInFeed"`
		JobsInFeed          int64 `mapstructure:"jobsInFeed"`
		JobsSentToIndex     int64 `mapstructure:"jobsSentToIndex"`
		JobsFailIndexed     int64 `mapstructure:"jobsFailIndexed"`
		JobsSentToEnrich    int64 `mapstructure:"jobsSentToEnrich"`
		JobsWithoutMetadata int64 `mapstructure:"jobsWithoutMetadata"`
		SwitchIndex         bool  `mapstructure:"switchIndex"`
	} `mapstructure:"progress"`

	RecordCount          int64 `mapstructure:"recordCount"`
	UniqueRefNumberCount int64 `mapstructure:"uniqueRefNumberCount"`
	NoCoordinatesCount   int64 `mapstructure:"noCoordinatesCount"`
}

// toRecord validates the export and converts it to a log record.
func (e feedExport) toRecord() (models.LogRecord, error) {
	if e.SourceName == "" {
		return models.LogRecord{}, fmt.Errorf("%w: sourceName is required", errValidation)
	}
	if e.Status == "" {
		return models.LogRecord{}, fmt.Errorf("%w: status is required", errValidation)
	}

	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return models.LogRecord{}, fmt.Errorf("%w: bad timestamp %q: %v", errValidation, e.Timestamp, err)
	}

	counters := map[string]int64{
		"recordsInFeed":        e.Progress.RecordsInFeed,
		"jobsInFeed":           e.Progress.JobsInFeed,
		"jobsSentToIndex":      e.Progress.JobsSentToIndex,
		"jobsFailIndexed":      e.Progress.JobsFailIndexed,
		"jobsSentToEnrich":     e.Progress.JobsSentToEnrich,
		"jobsWithoutMetadata":  e.Progress.JobsWithoutMetadata,
		"recordCount":          e.RecordCount,
		"uniqueRefNumberCount": e.UniqueRefNumberCount,
		"noCoordinatesCount":   e.NoCoordinatesCount,
	}
	for name, value := range counters {
		if value < 0 {
			return models.LogRecord{}, fmt.Errorf("%w: %s must not be negative, got %d", errValidation, name, value)
		}
	}

	return models.LogRecord{
		ID:           e.ID,
		SourceName:   e.SourceName,
		CountryCode:  e.CountryCode,
		CurrencyCode: e.CurrencyCode,
		Status:       e.Status,
		Timestamp:    ts,
		Progress: models.Progress{
			RecordsInFeed:       e.Progress.RecordsInFeed,
			JobsInFeed:          e.Progress.JobsInFeed,
			JobsSentToIndex:     e.Progress.JobsSentToIndex,
			JobsFailIndexed:     e.Progress.JobsFailIndexed,
			JobsSentToEnrich:    e.Progress.JobsSentToEnrich,
			JobsWithoutMetadata: e.Progress.JobsWithoutMetadata,
			SwitchIndex:         e.Progress.SwitchIndex,
		},
		RecordCount:          e.RecordCount,
		UniqueRefNumberCount: e.UniqueRefNumberCount,
		NoCoordinatesCount:   e.NoCoordinatesCount,
	}, nil
}

// decodeExports reads one file and strictly decodes its object, or every
// object of its array, into feed exports. Unknown fields are an error so
// upstream format drift surfaces here instead of as silent zeroes.
func decodeExports(file string) ([]feedExport, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("%w: expected an object or an array of objects", errMalformed)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: file has no records", errMalformed)
	}

	exports := make([]feedExport, 0, len(items))
	for _, item := range items {
		var export feedExport
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      &export,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %v", err)
		}
		if err := decoder.Decode(item); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		exports = append(exports, export)
	}

	return exports, nil
}

// storeInvalid uploads the raw content of an unprocessable file. Empty files
// are dropped silently.
func (p Processor) storeInvalid(ctx context.Context, file, source string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to re-read invalid file %q: %v", file, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		slog.Info("Skipping storage of empty invalid file", "file", file)
		return nil
	}

	return p.db.InsertInvalid(ctx, source, string(data))
}

func getJSONFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.Type().IsRegular() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}
