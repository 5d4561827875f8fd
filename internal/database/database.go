// Package database provides the PostgreSQL connection pool and the log record
// queries shared by the indexops services.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexops/indexops/internal/common/constants"
	"github.com/indexops/indexops/internal/models"
	"github.com/indexops/indexops/internal/querybridge"
)

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL database connection pool.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

const queryTimeout = 10 * time.Second

// Connect creates a database manager with a PostgreSQL connection pool using
// the provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func Connect(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

const logRecordColumns = `id, source_name, country_code, currency_code, status, ts,
	records_in_feed, jobs_in_feed, jobs_sent_to_index, jobs_fail_indexed,
	jobs_sent_to_enrich, jobs_without_metadata, switch_index,
	record_count, unique_ref_number_count, no_coordinates_count`

// Insert stores one log record. A missing ID is generated.
func (db Manager) Insert(ctx context.Context, rec models.LogRecord) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := db.dbpool.Exec(ctx, `
		INSERT INTO log_records (`+logRecordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID,
		rec.SourceName,
		rec.CountryCode,
		rec.CurrencyCode,
		rec.Status,
		rec.Timestamp,
		rec.Progress.RecordsInFeed,
		rec.Progress.JobsInFeed,
		rec.Progress.JobsSentToIndex,
		rec.Progress.JobsFailIndexed,
		rec.Progress.JobsSentToEnrich,
		rec.Progress.JobsWithoutMetadata,
		rec.Progress.SwitchIndex,
		rec.RecordCount,
		rec.UniqueRefNumberCount,
		rec.NoCoordinatesCount,
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("insert canceled: %v", err)
		}
		return fmt.Errorf("failed to insert log record: %v", err)
	}
	return nil
}

// InsertInvalid stores a payload that failed validation, as raw text, so it
// can be inspected later.
func (db Manager) InsertInvalid(ctx context.Context, source, rawPayload string) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := db.dbpool.Exec(ctx, `
		INSERT INTO invalid_records (record_id, entry_time, source_name, raw_payload)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(),
		time.Now(),
		source,
		rawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invalid record: %v", err)
	}
	return nil
}

// CompletedBetween returns the completed records with from <= ts < to, most
// recent first.
func (db Manager) CompletedBetween(ctx context.Context, from, to time.Time) ([]models.LogRecord, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.dbpool.Query(ctx, `
		SELECT `+logRecordColumns+`
		FROM log_records
		WHERE status = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts DESC`,
		constants.CompletedStatus, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query log records: %v", err)
	}
	defer rows.Close()

	return scanLogRecords(rows)
}

// Sortable columns for listings, keyed by their public field names.
var sortColumns = map[string]string{
	"timestamp":       "ts",
	"sourceName":      "source_name",
	"countryCode":     "country_code",
	"status":          "status",
	"recordCount":     "record_count",
	"jobsInFeed":      "jobs_in_feed",
	"jobsSentToIndex": "jobs_sent_to_index",
}

// ListOptions filter and page a log record listing.
type ListOptions struct {
	Page  int
	Limit int

	SortField string
	SortOrder string // "asc" or "desc"

	Country string
	Source  string
	From    time.Time
	To      time.Time
}

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// List returns one page of log records plus the total count matching the
// filters.
func (db Manager) List(ctx context.Context, opts ListOptions) ([]models.LogRecord, int64, error) {
	if db.dbpool == nil {
		return nil, 0, fmt.Errorf("database not initialized")
	}

	sortCol, ok := sortColumns[opts.SortField]
	if !ok {
		sortCol = "ts"
	}
	direction := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		direction = "ASC"
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var where []string
	var args []any
	addFilter := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.Country != "" {
		addFilter("country_code = $%d", opts.Country)
	}
	if opts.Source != "" {
		addFilter("source_name = $%d", opts.Source)
	}
	if !opts.From.IsZero() {
		addFilter("ts >= $%d", opts.From)
	}
	if !opts.To.IsZero() {
		addFilter("ts <= $%d", opts.To)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var total int64
	if err := db.dbpool.QueryRow(ctx, "SELECT count(*) FROM log_records"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count log records: %v", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM log_records%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		logRecordColumns, whereClause, sortCol, direction, limit, (page-1)*limit)
	rows, err := db.dbpool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query log records: %v", err)
	}
	defer rows.Close()

	records, err := scanLogRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// DistinctSources returns every known client identifier, sorted.
func (db Manager) DistinctSources(ctx context.Context) ([]string, error) {
	return db.distinct(ctx, "source_name")
}

// DistinctCountries returns every known country code, sorted.
func (db Manager) DistinctCountries(ctx context.Context) ([]string, error) {
	return db.distinct(ctx, "country_code")
}

func (db Manager) distinct(ctx context.Context, column string) ([]string, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	column = pgx.Identifier{column}.Sanitize()
	rows, err := db.dbpool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM log_records ORDER BY %s", column, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %v", err)
	}
	defer rows.Close()

	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect distinct values: %v", err)
	}
	return values, nil
}

// RunPipeline compiles a validated query description and executes it,
// returning generic rows for tabular display.
func (db Manager) RunPipeline(ctx context.Context, p querybridge.Pipeline) ([]map[string]any, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query, args, err := p.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("invalid query description: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.dbpool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %v", err)
	}
	defer rows.Close()

	var result []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %v", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return result, nil
}

func scanLogRecords(rows pgx.Rows) ([]models.LogRecord, error) {
	var records []models.LogRecord
	for rows.Next() {
		var rec models.LogRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.SourceName,
			&rec.CountryCode,
			&rec.CurrencyCode,
			&rec.Status,
			&rec.Timestamp,
			&rec.Progress.RecordsInFeed,
			&rec.Progress.JobsInFeed,
			&rec.Progress.JobsSentToIndex,
			&rec.Progress.JobsFailIndexed,
			&rec.Progress.JobsSentToEnrich,
			&rec.Progress.JobsWithoutMetadata,
			&rec.Progress.SwitchIndex,
			&rec.RecordCount,
			&rec.UniqueRefNumberCount,
			&rec.NoCoordinatesCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan log record: %v", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %v", err)
	}
	return records, nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
