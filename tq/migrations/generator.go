// Package migrations provides SQL migration generation for the log schema.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// TopicsTable is the name of the topics table
	TopicsTable string

	// TopitionsTable is the name of the topic-partitions table
	TopitionsTable string

	// WatermarksTable is the name of the per-topition watermark table
	WatermarksTable string

	// RecordsTable is the name of the append-only records table
	RecordsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:    "migrations",
		OutputFilename:  fmt.Sprintf("%s_init_log.sql", timestamp),
		TopicsTable:     "topics",
		TopitionsTable:  "topitions",
		WatermarksTable: "watermarks",
		RecordsTable:    "records",
	}
}

func write(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return write(config, generatePostgresSQL(config))
}

// GenerateMySQL generates a MySQL migration file.
func GenerateMySQL(config *Config) error {
	return write(config, generateMySQLSQL(config))
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return write(config, generateSQLiteSQL(config))
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Transactional Log Migration
-- Generated: %s

-- Topics are named logical streams, immutable after creation
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

-- Topitions are the (topic, partition) coordinates records are appended to
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    topic_id BIGINT NOT NULL REFERENCES %s (id),
    partition_number INT NOT NULL,

    UNIQUE (topic_id, partition_number)
);

-- Watermarks hold the (low, high) offset bounds per topition.
-- Mutated only by the offset allocator, via a single upsert statement.
CREATE TABLE IF NOT EXISTS %s (
    topition_id BIGINT PRIMARY KEY REFERENCES %s (id),
    low BIGINT NOT NULL DEFAULT 0,
    high BIGINT NOT NULL DEFAULT 0,

    CHECK (high >= low)
);

-- Records are append-only; the primary key makes offset collisions
-- a constraint violation rather than silent corruption
CREATE TABLE IF NOT EXISTS %s (
    topition_id BIGINT NOT NULL REFERENCES %s (id),
    record_offset BIGINT NOT NULL,
    attributes SMALLINT NOT NULL DEFAULT 0,
    record_key BYTEA,
    record_value BYTEA NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (topition_id, record_offset)
);
`,
		time.Now().Format(time.RFC3339),
		config.TopicsTable,
		config.TopitionsTable, config.TopicsTable,
		config.WatermarksTable, config.TopitionsTable,
		config.RecordsTable, config.TopitionsTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Transactional Log Migration
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    name VARCHAR(255) NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    topic_id BIGINT NOT NULL,
    partition_number INT NOT NULL,

    UNIQUE KEY uq_topition (topic_id, partition_number),
    FOREIGN KEY (topic_id) REFERENCES %s (id)
);

CREATE TABLE IF NOT EXISTS %s (
    topition_id BIGINT PRIMARY KEY,
    low BIGINT NOT NULL DEFAULT 0,
    high BIGINT NOT NULL DEFAULT 0,

    FOREIGN KEY (topition_id) REFERENCES %s (id)
);

CREATE TABLE IF NOT EXISTS %s (
    topition_id BIGINT NOT NULL,
    record_offset BIGINT NOT NULL,
    attributes SMALLINT NOT NULL DEFAULT 0,
    record_key BLOB,
    record_value BLOB NOT NULL,
    created_at DATETIME(6) NOT NULL,

    PRIMARY KEY (topition_id, record_offset),
    FOREIGN KEY (topition_id) REFERENCES %s (id)
);
`,
		time.Now().Format(time.RFC3339),
		config.TopicsTable,
		config.TopitionsTable, config.TopicsTable,
		config.WatermarksTable, config.TopitionsTable,
		config.RecordsTable, config.TopitionsTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Transactional Log Migration
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topic_id INTEGER NOT NULL REFERENCES %s (id),
    partition_number INTEGER NOT NULL,

    UNIQUE (topic_id, partition_number)
);

CREATE TABLE IF NOT EXISTS %s (
    topition_id INTEGER PRIMARY KEY REFERENCES %s (id),
    low INTEGER NOT NULL DEFAULT 0,
    high INTEGER NOT NULL DEFAULT 0,

    CHECK (high >= low)
);

CREATE TABLE IF NOT EXISTS %s (
    topition_id INTEGER NOT NULL REFERENCES %s (id),
    record_offset INTEGER NOT NULL,
    attributes INTEGER NOT NULL DEFAULT 0,
    record_key BLOB,
    record_value BLOB NOT NULL,
    created_at TEXT NOT NULL,

    PRIMARY KEY (topition_id, record_offset)
);
`,
		time.Now().Format(time.RFC3339),
		config.TopicsTable,
		config.TopitionsTable, config.TopicsTable,
		config.WatermarksTable, config.TopitionsTable,
		config.RecordsTable, config.TopitionsTable,
	)
}
