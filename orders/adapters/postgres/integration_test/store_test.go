// Package integration_test contains integration tests for the Postgres ledger
// adapter. These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./orders/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/tranq-io/tranq/orders"
	orderspostgres "github.com/tranq-io/tranq/orders/adapters/postgres"
	ordersmigrations "github.com/tranq-io/tranq/orders/migrations"
	"github.com/tranq-io/tranq/tq"
	tqpostgres "github.com/tranq-io/tranq/tq/adapters/postgres"
	tqmigrations "github.com/tranq-io/tranq/tq/migrations"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Default to localhost, but allow override via env var for CI
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "tranq_test"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	// Drop existing objects to ensure clean state
	_, err := db.Exec(`
		DROP TABLE IF EXISTS order_statuses CASCADE;
		DROP TABLE IF EXISTS order_requests CASCADE;
		DROP TABLE IF EXISTS stock CASCADE;
		DROP TABLE IF EXISTS products CASCADE;
		DROP TABLE IF EXISTS customers CASCADE;
		DROP TABLE IF EXISTS records CASCADE;
		DROP TABLE IF EXISTS watermarks CASCADE;
		DROP TABLE IF EXISTS topitions CASCADE;
		DROP TABLE IF EXISTS topics CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to drop tables: %v", err)
	}

	tmpDir := t.TempDir()

	logConfig := tqmigrations.Config{
		OutputFolder:    tmpDir,
		OutputFilename:  "log.sql",
		TopicsTable:     "topics",
		TopitionsTable:  "topitions",
		WatermarksTable: "watermarks",
		RecordsTable:    "records",
	}
	if err := tqmigrations.GeneratePostgres(&logConfig); err != nil {
		t.Fatalf("Failed to generate log migration: %v", err)
	}

	ledgerConfig := ordersmigrations.Config{
		OutputFolder:       tmpDir,
		OutputFilename:     "ledger.sql",
		CustomersTable:     "customers",
		ProductsTable:      "products",
		StockTable:         "stock",
		OrderRequestsTable: "order_requests",
		OrderStatusesTable: "order_statuses",
		RecordsTable:       "records",
	}
	if err := ordersmigrations.GeneratePostgres(&ledgerConfig); err != nil {
		t.Fatalf("Failed to generate ledger migration: %v", err)
	}

	for _, name := range []string{"log.sql", "ledger.sql"} {
		migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, name))
		if err != nil {
			t.Fatalf("Failed to read migration %s: %v", name, err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			t.Fatalf("Failed to execute migration %s: %v", name, err)
		}
	}
}

// seedLedger provisions one topic with one partition and one appended record
// (so order requests have valid source coordinates), one customer, and one
// product at the given stock level.
func seedLedger(t *testing.T, db *sql.DB, stock int64) (orders.Customer, orders.Product, *orderspostgres.Store) {
	t.Helper()

	ctx := context.Background()
	logStore := tqpostgres.NewStore(tqpostgres.DefaultStoreConfig())
	ledgerStore := orderspostgres.NewStore(orderspostgres.DefaultStoreConfig())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := logStore.CreateTopic(ctx, tx, "orders-json", 1); err != nil {
		t.Fatalf("Failed to create topic: %v", err)
	}
	if _, err := logStore.Append(ctx, tx, tq.Topition{Topic: "orders-json", Partition: 0}, tq.Record{
		Value: []byte(`{}`),
	}); err != nil {
		t.Fatalf("Failed to append seed record: %v", err)
	}
	customer, err := ledgerStore.CreateCustomer(ctx, tx, "ada@example.com", false)
	if err != nil {
		t.Fatalf("Failed to create customer: %v", err)
	}
	product, err := ledgerStore.CreateProduct(ctx, tx, "SKU-1", "widget", stock)
	if err != nil {
		t.Fatalf("Failed to create product: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit seed: %v", err)
	}

	return customer, product, ledgerStore
}

func TestReserveStock(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	customer, product, ledgerStore := seedLedger(t, db, 5)
	ctx := context.Background()

	tests := []struct {
		name     string
		quantity int64
		want     bool
		left     int64
	}{
		{name: "covered quantity accepted", quantity: 3, want: true, left: 2},
		{name: "exact remainder accepted", quantity: 2, want: true, left: 0},
		{name: "exhausted stock rejected", quantity: 1, want: false, left: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, _ := db.BeginTx(ctx, nil)
			reserved, err := ledgerStore.ReserveStock(ctx, tx, product.ID, customer.ID, tt.quantity)
			if err != nil {
				t.Fatalf("ReserveStock failed: %v", err)
			}
			if reserved != tt.want {
				t.Errorf("Expected reserved=%v, got %v", tt.want, reserved)
			}
			if err := tx.Commit(); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}

			tx2, _ := db.BeginTx(ctx, nil)
			defer tx2.Rollback()
			left, err := ledgerStore.StockQuantity(ctx, tx2, product.ID)
			if err != nil {
				t.Fatalf("StockQuantity failed: %v", err)
			}
			if left != tt.left {
				t.Errorf("Expected stock %d, got %d", tt.left, left)
			}
		})
	}
}

func TestReserveStock_BlockedCustomer(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	customer, product, ledgerStore := seedLedger(t, db, 5)
	ctx := context.Background()

	tx, _ := db.BeginTx(ctx, nil)
	if err := ledgerStore.SetBlocked(ctx, tx, "ada@example.com", true); err != nil {
		t.Fatalf("SetBlocked failed: %v", err)
	}

	reserved, err := ledgerStore.ReserveStock(ctx, tx, product.ID, customer.ID, 1)
	if err != nil {
		t.Fatalf("ReserveStock failed: %v", err)
	}
	if reserved {
		t.Error("Expected reservation to fail for blocked customer")
	}

	left, err := ledgerStore.StockQuantity(ctx, tx, product.ID)
	if err != nil {
		t.Fatalf("StockQuantity failed: %v", err)
	}
	if left != 5 {
		t.Errorf("Expected stock untouched at 5, got %d", left)
	}
	tx.Commit()
}

func TestCreateOrderRequest_DuplicateSourceCoordinates(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	customer, product, ledgerStore := seedLedger(t, db, 5)
	ctx := context.Background()

	request := orders.OrderRequest{
		Source:       tq.Topition{Topic: "orders-json", Partition: 0},
		SourceOffset: 0,
		CustomerID:   customer.ID,
		ProductID:    product.ID,
		Quantity:     1,
	}

	tx, _ := db.BeginTx(ctx, nil)
	persisted, err := ledgerStore.CreateOrderRequest(ctx, tx, request)
	if err != nil {
		t.Fatalf("CreateOrderRequest failed: %v", err)
	}
	if persisted.ID == 0 {
		t.Error("Expected a non-zero request id")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Same source record again: the unique constraint is the idempotency key.
	tx2, _ := db.BeginTx(ctx, nil)
	defer tx2.Rollback()
	_, err = ledgerStore.CreateOrderRequest(ctx, tx2, request)
	if !errors.Is(err, orders.ErrDuplicateRequest) {
		t.Errorf("Expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestOrderRequestHook_RunsInTransaction(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	customer, product, ledgerStore := seedLedger(t, db, 5)
	ctx := context.Background()

	var hooked []int64
	ledgerStore.RegisterOrderRequestHook(orders.OrderRequestHookFunc(
		func(ctx context.Context, tx tq.DBTX, request orders.PersistedOrderRequest) error {
			hooked = append(hooked, request.ID)
			return nil
		}))

	tx, _ := db.BeginTx(ctx, nil)
	persisted, err := ledgerStore.CreateOrderRequest(ctx, tx, orders.OrderRequest{
		Source:       tq.Topition{Topic: "orders-json", Partition: 0},
		SourceOffset: 0,
		CustomerID:   customer.ID,
		ProductID:    product.ID,
		Quantity:     1,
	})
	if err != nil {
		t.Fatalf("CreateOrderRequest failed: %v", err)
	}
	tx.Commit()

	if len(hooked) != 1 || hooked[0] != persisted.ID {
		t.Errorf("Expected hook invocation for request %d, got %v", persisted.ID, hooked)
	}
}

func TestCreateAndReadOrderStatus(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	customer, product, ledgerStore := seedLedger(t, db, 5)
	ctx := context.Background()

	tx, _ := db.BeginTx(ctx, nil)
	persisted, err := ledgerStore.CreateOrderRequest(ctx, tx, orders.OrderRequest{
		Source:       tq.Topition{Topic: "orders-json", Partition: 0},
		SourceOffset: 0,
		CustomerID:   customer.ID,
		ProductID:    product.ID,
		Quantity:     1,
	})
	if err != nil {
		t.Fatalf("CreateOrderRequest failed: %v", err)
	}

	extRef, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("Failed to generate ref: %v", err)
	}
	if err := ledgerStore.CreateOrderStatus(ctx, tx, persisted.ID, orders.StatusAccepted, extRef); err != nil {
		t.Fatalf("CreateOrderStatus failed: %v", err)
	}
	tx.Commit()

	tx2, _ := db.BeginTx(ctx, nil)
	defer tx2.Rollback()

	status, err := ledgerStore.StatusOf(ctx, tx2, persisted.ID)
	if err != nil {
		t.Fatalf("StatusOf failed: %v", err)
	}
	if status.Status != orders.StatusAccepted {
		t.Errorf("Expected accepted, got %s", status.Status)
	}
	if status.ExtRef != extRef {
		t.Errorf("Expected ref %s, got %s", extRef, status.ExtRef)
	}

	// Undecided requests report the sentinel.
	_, err = ledgerStore.StatusOf(ctx, tx2, persisted.ID+1)
	if !errors.Is(err, orders.ErrStatusNotFound) {
		t.Errorf("Expected ErrStatusNotFound, got: %v", err)
	}
}
