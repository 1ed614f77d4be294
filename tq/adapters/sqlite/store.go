// Package sqlite provides a SQLite adapter for the transactional log.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tranq-io/tranq/tq"
	"github.com/tranq-io/tranq/tq/store"
)

const (
	// sqliteDateTimeFormat is the format used for timestamp storage/parsing in SQLite
	sqliteDateTimeFormat = "2006-01-02 15:04:05.999999"
)

// StoreConfig contains configuration for the SQLite log store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled (zero overhead).
	Logger tq.Logger

	// TopicsTable is the name of the topics table
	TopicsTable string

	// TopitionsTable is the name of the topic-partitions table
	TopitionsTable string

	// WatermarksTable is the name of the per-topition watermark table
	WatermarksTable string

	// RecordsTable is the name of the append-only records table
	RecordsTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TopicsTable:     "topics",
		TopitionsTable:  "topitions",
		WatermarksTable: "watermarks",
		RecordsTable:    "records",
		Logger:          nil, // No logging by default
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger tq.Logger) StoreOption {
	return func(c *StoreConfig) {
		c.Logger = logger
	}
}

// WithTablePrefix prefixes all table names, e.g. "tranq_".
func WithTablePrefix(prefix string) StoreOption {
	return func(c *StoreConfig) {
		c.TopicsTable = prefix + c.TopicsTable
		c.TopitionsTable = prefix + c.TopitionsTable
		c.WatermarksTable = prefix + c.WatermarksTable
		c.RecordsTable = prefix + c.RecordsTable
	}
}

// NewStoreConfig creates a new store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := sqlite.NewStoreConfig(
//	    sqlite.WithLogger(myLogger),
//	    sqlite.WithTablePrefix("tranq_"),
//	)
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a SQLite-backed log store implementation.
type Store struct {
	config StoreConfig
	hooks  []tq.AppendHook
}

// Ensure Store satisfies the log contracts
var (
	_ store.LogStore     = (*Store)(nil)
	_ store.RecordReader = (*Store)(nil)
	_ store.Admin        = (*Store)(nil)
)

// NewStore creates a new SQLite log store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config: config,
	}
}

// RegisterAppendHook registers a hook invoked synchronously after every
// successful record insert, inside the append's transaction. Registration
// must happen during wiring, before the store serves appends. Hooks run in
// registration order; the first error aborts the append.
func (s *Store) RegisterAppendHook(h tq.AppendHook) {
	s.hooks = append(s.hooks, h)
}

// Append implements store.LogStore.
// The offset is allocated and the high watermark advanced by a single upsert
// statement, so two concurrent appends on the same topition cannot observe the
// same high value. The (topition, offset) primary key on the records table is
// the safety net: a collision surfaces as ErrAllocationConflict and the caller
// retries the whole transaction.
func (s *Store) Append(ctx context.Context, tx tq.DBTX, topition tq.Topition, record tq.Record) (int64, error) {
	if len(record.Value) == 0 {
		return 0, store.ErrNoValue
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "append starting",
			"topition", topition.String(),
			"value_len", len(record.Value))
	}

	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return 0, err
	}

	// Allocate the next offset: initialize the watermark to (0, 1) for a
	// fresh topition, otherwise bump high by one. Single statement, so the
	// read and the write cannot interleave with another allocator.
	allocQuery := fmt.Sprintf(`
		INSERT INTO %s (topition_id, low, high)
		VALUES (?, 0, 1)
		ON CONFLICT (topition_id)
		DO UPDATE SET high = high + 1
		RETURNING high - 1
	`, s.config.WatermarksTable)

	var offset int64
	if err := tx.QueryRowContext(ctx, allocQuery, topitionID).Scan(&offset); err != nil {
		return 0, fmt.Errorf("failed to allocate offset: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (topition_id, record_offset, attributes, record_key, record_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.config.RecordsTable)

	_, err = tx.ExecContext(ctx, insertQuery,
		topitionID,
		offset,
		record.Attributes,
		record.Key,
		record.Value,
		createdAt.Format(sqliteDateTimeFormat),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			if s.config.Logger != nil {
				s.config.Logger.Error(ctx, "offset allocation conflict",
					"topition", topition.String(),
					"offset", offset)
			}
			return 0, store.ErrAllocationConflict
		}
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}

	persisted := tq.PersistedRecord{
		Record:   record,
		Topition: topition,
		Offset:   offset,
	}
	persisted.CreatedAt = createdAt

	// Synchronous cascade: any hook error aborts the append.
	for _, h := range s.hooks {
		if err := h.OnAppend(ctx, tx, persisted); err != nil {
			if s.config.Logger != nil {
				s.config.Logger.Error(ctx, "append hook failed",
					"topition", topition.String(),
					"offset", offset,
					"error", err.Error())
			}
			return 0, fmt.Errorf("append hook: %w", err)
		}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "record appended",
			"topition", topition.String(),
			"offset", offset)
	}

	return offset, nil
}

// resolveTopition maps a (topic, partition) pair to its row id.
func (s *Store) resolveTopition(ctx context.Context, tx tq.DBTX, topition tq.Topition) (int64, error) {
	query := fmt.Sprintf(`
		SELECT tp.id
		FROM %s tp
		JOIN %s t ON t.id = tp.topic_id
		WHERE t.name = ? AND tp.partition_number = ?
	`, s.config.TopitionsTable, s.config.TopicsTable)

	var id int64
	err := tx.QueryRowContext(ctx, query, topition.Topic, topition.Partition).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", store.ErrTopitionNotFound, topition.String())
		}
		return 0, fmt.Errorf("failed to resolve topition: %w", err)
	}
	return id, nil
}

// IsUniqueViolation checks if an error is a SQLite unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// SQLite error messages for unique constraint violations
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "unique constraint") ||
		strings.Contains(errMsg, "constraint failed")
}

// ReadRecords implements store.RecordReader.
func (s *Store) ReadRecords(ctx context.Context, tx tq.DBTX, topition tq.Topition, fromOffset int64, limit int) ([]tq.PersistedRecord, error) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "reading records",
			"topition", topition.String(),
			"from_offset", fromOffset,
			"limit", limit)
	}

	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT record_offset, attributes, record_key, record_value, created_at
		FROM %s
		WHERE topition_id = ? AND record_offset >= ?
		ORDER BY record_offset ASC
		LIMIT ?
	`, s.config.RecordsTable)

	rows, err := tx.QueryContext(ctx, query, topitionID, fromOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []tq.PersistedRecord
	for rows.Next() {
		r := tq.PersistedRecord{Topition: topition}
		var createdAt string

		if err := rows.Scan(&r.Offset, &r.Attributes, &r.Key, &r.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if s.config.Logger != nil {
		s.config.Logger.Debug(ctx, "records read", "count", len(records))
	}

	return records, nil
}

// CreateTopic implements store.Admin.
// Partitions are numbered 0..partitions-1. Watermarks are initialized lazily
// on first append, not here.
func (s *Store) CreateTopic(ctx context.Context, tx tq.DBTX, name string, partitions int32) error {
	if partitions < 1 {
		return fmt.Errorf("topic %q: partition count must be at least 1, got %d", name, partitions)
	}

	topicQuery := fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, s.config.TopicsTable)
	result, err := tx.ExecContext(ctx, topicQuery, name)
	if err != nil {
		return fmt.Errorf("failed to create topic %q: %w", name, err)
	}

	topicID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get topic id: %w", err)
	}

	topitionQuery := fmt.Sprintf(`
		INSERT INTO %s (topic_id, partition_number) VALUES (?, ?)
	`, s.config.TopitionsTable)

	for p := int32(0); p < partitions; p++ {
		if _, err := tx.ExecContext(ctx, topitionQuery, topicID, p); err != nil {
			return fmt.Errorf("failed to create partition %d of topic %q: %w", p, name, err)
		}
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "topic created", "topic", name, "partitions", partitions)
	}

	return nil
}

// Topics implements store.Admin.
func (s *Store) Topics(ctx context.Context, tx tq.DBTX) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.config.TopicsTable)

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return names, nil
}

// Watermark implements store.Admin.
// A topition with no appended records yet reports (0, 0).
func (s *Store) Watermark(ctx context.Context, tx tq.DBTX, topition tq.Topition) (tq.Watermark, error) {
	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return tq.Watermark{}, err
	}

	query := fmt.Sprintf(`SELECT low, high FROM %s WHERE topition_id = ?`, s.config.WatermarksTable)

	var w tq.Watermark
	err = tx.QueryRowContext(ctx, query, topitionID).Scan(&w.Low, &w.High)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tq.Watermark{}, nil
		}
		return tq.Watermark{}, fmt.Errorf("failed to query watermark: %w", err)
	}
	return w, nil
}

// sqliteDateTimeFormats lists common SQLite datetime formats for parsing
var sqliteDateTimeFormats = []string{
	sqliteDateTimeFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
}

// parseTimestamp parses SQLite datetime strings to time.Time
func parseTimestamp(s string) (time.Time, error) {
	for _, format := range sqliteDateTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
