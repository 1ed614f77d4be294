// Package migrations provides SQL migration generation for the order ledger.
// The ledger references the log's records table, so the log migration (see
// tq/migrations) must be applied first.
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

	// CustomersTable is the name of the customers table
	CustomersTable string

	// ProductsTable is the name of the products table
	ProductsTable string

	// StockTable is the name of the per-product stock table
	StockTable string

	// OrderRequestsTable is the name of the order requests table
	OrderRequestsTable string

	// OrderStatusesTable is the name of the order statuses table
	OrderStatusesTable string

	// RecordsTable is the name of the log's records table, referenced by the
	// order requests' source-coordinate foreign key
	RecordsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:       "migrations",
		OutputFilename:     fmt.Sprintf("%s_init_ledger.sql", timestamp),
		CustomersTable:     "customers",
		ProductsTable:      "products",
		StockTable:         "stock",
		OrderRequestsTable: "order_requests",
		OrderStatusesTable: "order_statuses",
		RecordsTable:       "records",
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
	return fmt.Sprintf(`-- Order Ledger Migration
-- Generated: %s
-- Requires the log migration (topics/topitions/watermarks/records) first.

CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    blocked BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    sku TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);

-- One quantity row per product, mutated only by the decision engine
CREATE TABLE IF NOT EXISTS %s (
    product_id BIGINT PRIMARY KEY REFERENCES %s (id),
    quantity BIGINT NOT NULL,

    CHECK (quantity >= 0)
);

-- The UNIQUE source coordinates are the idempotency key: at most one order
-- request per log record
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    topition_id BIGINT NOT NULL,
    record_offset BIGINT NOT NULL,
    customer_id BIGINT NOT NULL REFERENCES %s (id),
    product_id BIGINT NOT NULL REFERENCES %s (id),
    quantity BIGINT NOT NULL,

    UNIQUE (topition_id, record_offset),
    FOREIGN KEY (topition_id, record_offset) REFERENCES %s (topition_id, record_offset)
);

-- Written exactly once per order request, never updated
CREATE TABLE IF NOT EXISTS %s (
    order_request_id BIGINT PRIMARY KEY REFERENCES %s (id),
    ext_ref UUID NOT NULL UNIQUE,
    status TEXT NOT NULL CHECK (status IN ('accepted', 'rejected')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
		time.Now().Format(time.RFC3339),
		config.CustomersTable,
		config.ProductsTable,
		config.StockTable, config.ProductsTable,
		config.OrderRequestsTable, config.CustomersTable, config.ProductsTable, config.RecordsTable,
		config.OrderStatusesTable, config.OrderRequestsTable,
	)
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Order Ledger Migration
-- Generated: %s
-- Requires the log migration (topics/topitions/watermarks/records) first.

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    email VARCHAR(255) NOT NULL UNIQUE,
    blocked BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    sku VARCHAR(255) NOT NULL UNIQUE,
    description TEXT
);

CREATE TABLE IF NOT EXISTS %s (
    product_id BIGINT PRIMARY KEY,
    quantity BIGINT NOT NULL,

    FOREIGN KEY (product_id) REFERENCES %s (id),
    CHECK (quantity >= 0)
);

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    topition_id BIGINT NOT NULL,
    record_offset BIGINT NOT NULL,
    customer_id BIGINT NOT NULL,
    product_id BIGINT NOT NULL,
    quantity BIGINT NOT NULL,

    UNIQUE KEY uq_source (topition_id, record_offset),
    FOREIGN KEY (topition_id, record_offset) REFERENCES %s (topition_id, record_offset),
    FOREIGN KEY (customer_id) REFERENCES %s (id),
    FOREIGN KEY (product_id) REFERENCES %s (id)
);

CREATE TABLE IF NOT EXISTS %s (
    order_request_id BIGINT PRIMARY KEY,
    ext_ref VARCHAR(36) NOT NULL UNIQUE,
    status VARCHAR(16) NOT NULL,
    created_at DATETIME(6) NOT NULL,

    FOREIGN KEY (order_request_id) REFERENCES %s (id)
);
`,
		time.Now().Format(time.RFC3339),
		config.CustomersTable,
		config.ProductsTable,
		config.StockTable, config.ProductsTable,
		config.OrderRequestsTable, config.RecordsTable, config.CustomersTable, config.ProductsTable,
		config.OrderStatusesTable, config.OrderRequestsTable,
	)
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Order Ledger Migration
-- Generated: %s
-- Requires the log migration (topics/topitions/watermarks/records) first.

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    blocked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sku TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS %s (
    product_id INTEGER PRIMARY KEY REFERENCES %s (id),
    quantity INTEGER NOT NULL,

    CHECK (quantity >= 0)
);

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    topition_id INTEGER NOT NULL,
    record_offset INTEGER NOT NULL,
    customer_id INTEGER NOT NULL REFERENCES %s (id),
    product_id INTEGER NOT NULL REFERENCES %s (id),
    quantity INTEGER NOT NULL,

    UNIQUE (topition_id, record_offset),
    FOREIGN KEY (topition_id, record_offset) REFERENCES %s (topition_id, record_offset)
);

CREATE TABLE IF NOT EXISTS %s (
    order_request_id INTEGER PRIMARY KEY REFERENCES %s (id),
    ext_ref TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL CHECK (status IN ('accepted', 'rejected')),
    created_at TEXT NOT NULL
);
`,
		time.Now().Format(time.RFC3339),
		config.CustomersTable,
		config.ProductsTable,
		config.StockTable, config.ProductsTable,
		config.OrderRequestsTable, config.CustomersTable, config.ProductsTable, config.RecordsTable,
		config.OrderStatusesTable, config.OrderRequestsTable,
	)
}
