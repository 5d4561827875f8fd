// Package models defines the data model shared between the indexops services.
package models

import "time"

// Progress holds the per-run pipeline counters of a log record.
//
// All counters are non-negative; the ingest service rejects records that
// violate this before they reach the database.
type Progress struct {
	RecordsInFeed       int64 `json:"recordsInFeed"`
	JobsInFeed          int64 `json:"jobsInFeed"`
	JobsSentToIndex     int64 `json:"jobsSentToIndex"`
	JobsFailIndexed     int64 `json:"jobsFailIndexed"`
	JobsSentToEnrich    int64 `json:"jobsSentToEnrich"`
	JobsWithoutMetadata int64 `json:"jobsWithoutMetadata"`
	SwitchIndex         bool  `json:"switchIndex"`
}

// LogRecord is one ingestion run's counters for a client/country/time.
//
// Records are created by the ingest service and are read-only afterwards.
type LogRecord struct {
	ID           string    `json:"id"`
	SourceName   string    `json:"sourceName"`
	CountryCode  string    `json:"countryCode"`
	CurrencyCode string    `json:"currencyCode"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`

	Progress Progress `json:"progress"`

	RecordCount          int64 `json:"recordCount"`
	UniqueRefNumberCount int64 `json:"uniqueRefNumberCount"`
	NoCoordinatesCount   int64 `json:"noCoordinatesCount"`
}
