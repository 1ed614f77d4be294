// Package postgres provides a PostgreSQL adapter for the transactional log.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tranq-io/tranq/tq"
	"github.com/tranq-io/tranq/tq/store"
)

// StoreConfig contains configuration for the Postgres log store.
// Configuration is immutable after construction.
type StoreConfig struct {
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
	}
}

// Store is a PostgreSQL-backed log store implementation.
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

// NewStore creates a new Postgres log store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config: config,
	}
}

// RegisterAppendHook registers a hook invoked synchronously after every
// successful record insert, inside the append's transaction. Registration
// must happen during wiring, before the store serves appends.
func (s *Store) RegisterAppendHook(h tq.AppendHook) {
	s.hooks = append(s.hooks, h)
}

// Append implements store.LogStore.
// The watermark upsert is a single read-modify-write statement; under
// read-committed Postgres takes a row lock on the watermark row, so two
// concurrent appends to one topition serialize on the allocation. The
// (topition, offset) primary key on the records table is the safety net.
func (s *Store) Append(ctx context.Context, tx tq.DBTX, topition tq.Topition, record tq.Record) (int64, error) {
	if len(record.Value) == 0 {
		return 0, store.ErrNoValue
	}

	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return 0, err
	}

	allocQuery := fmt.Sprintf(`
		INSERT INTO %s (topition_id, low, high)
		VALUES ($1, 0, 1)
		ON CONFLICT (topition_id)
		DO UPDATE SET high = %s.high + 1
		RETURNING high - 1
	`, s.config.WatermarksTable, s.config.WatermarksTable)

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
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.config.RecordsTable)

	_, err = tx.ExecContext(ctx, insertQuery,
		topitionID,
		offset,
		record.Attributes,
		record.Key,
		record.Value,
		createdAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
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

	for _, h := range s.hooks {
		if err := h.OnAppend(ctx, tx, persisted); err != nil {
			return 0, fmt.Errorf("append hook: %w", err)
		}
	}

	return offset, nil
}

func (s *Store) resolveTopition(ctx context.Context, tx tq.DBTX, topition tq.Topition) (int64, error) {
	query := fmt.Sprintf(`
		SELECT tp.id
		FROM %s tp
		JOIN %s t ON t.id = tp.topic_id
		WHERE t.name = $1 AND tp.partition_number = $2
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

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint violation.
// This is exported for testing purposes.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	// Check if it's a pq.Error with unique_violation code (23505)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}

	// Fallback: check error message for common patterns
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}

// ReadRecords implements store.RecordReader.
func (s *Store) ReadRecords(ctx context.Context, tx tq.DBTX, topition tq.Topition, fromOffset int64, limit int) ([]tq.PersistedRecord, error) {
	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT record_offset, attributes, record_key, record_value, created_at
		FROM %s
		WHERE topition_id = $1 AND record_offset >= $2
		ORDER BY record_offset ASC
		LIMIT $3
	`, s.config.RecordsTable)

	rows, err := tx.QueryContext(ctx, query, topitionID, fromOffset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []tq.PersistedRecord
	for rows.Next() {
		r := tq.PersistedRecord{Topition: topition}

		if err := rows.Scan(&r.Offset, &r.Attributes, &r.Key, &r.Value, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}

// CreateTopic implements store.Admin.
func (s *Store) CreateTopic(ctx context.Context, tx tq.DBTX, name string, partitions int32) error {
	if partitions < 1 {
		return fmt.Errorf("topic %q: partition count must be at least 1, got %d", name, partitions)
	}

	topicQuery := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) RETURNING id`, s.config.TopicsTable)

	var topicID int64
	if err := tx.QueryRowContext(ctx, topicQuery, name).Scan(&topicID); err != nil {
		return fmt.Errorf("failed to create topic %q: %w", name, err)
	}

	topitionQuery := fmt.Sprintf(`
		INSERT INTO %s (topic_id, partition_number) VALUES ($1, $2)
	`, s.config.TopitionsTable)

	for p := int32(0); p < partitions; p++ {
		if _, err := tx.ExecContext(ctx, topitionQuery, topicID, p); err != nil {
			return fmt.Errorf("failed to create partition %d of topic %q: %w", p, name, err)
		}
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
func (s *Store) Watermark(ctx context.Context, tx tq.DBTX, topition tq.Topition) (tq.Watermark, error) {
	topitionID, err := s.resolveTopition(ctx, tx, topition)
	if err != nil {
		return tq.Watermark{}, err
	}

	query := fmt.Sprintf(`SELECT low, high FROM %s WHERE topition_id = $1`, s.config.WatermarksTable)

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
