// Package integration_test contains end-to-end tests for the full cascade:
// append, dispatch, decode, order request, decision, downstream emission, all
// against an embedded SQLite database.
//
// Run with: go test -tags=integration ./pipeline/integration_test/...
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

	_ "modernc.org/sqlite"

	"github.com/tranq-io/tranq/orders"
	orderssqlite "github.com/tranq-io/tranq/orders/adapters/sqlite"
	ordersmigrations "github.com/tranq-io/tranq/orders/migrations"
	"github.com/tranq-io/tranq/pipeline"
	"github.com/tranq-io/tranq/tq"
	tqsqlite "github.com/tranq-io/tranq/tq/adapters/sqlite"
	tqmigrations "github.com/tranq-io/tranq/tq/migrations"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbFile := fmt.Sprintf("/tmp/tranq_pipeline_test_%d.db", time.Now().UnixNano())
	t.Cleanup(func() {
		os.Remove(dbFile)
	})

	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;")
	if err != nil {
		t.Fatalf("Failed to configure database: %v", err)
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

	tmpDir := t.TempDir()

	logConfig := tqmigrations.Config{
		OutputFolder:    tmpDir,
		OutputFilename:  "log.sql",
		TopicsTable:     "topics",
		TopitionsTable:  "topitions",
		WatermarksTable: "watermarks",
		RecordsTable:    "records",
	}
	if err := tqmigrations.GenerateSQLite(&logConfig); err != nil {
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
	if err := ordersmigrations.GenerateSQLite(&ledgerConfig); err != nil {
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

// fixture wires a complete pipeline over a fresh database with one customer
// ("ada@example.com", id fixture.customerID) and one product ("SKU-1",
// fixture.productID) at the given stock level.
type fixture struct {
	db         *sql.DB
	pipe       *pipeline.Pipeline
	ledger     *orderssqlite.Store
	customerID int64
	productID  int64
}

func setupFixture(t *testing.T, stock int64, opts ...pipeline.Option) *fixture {
	t.Helper()

	db := getTestDB(t)
	t.Cleanup(func() { db.Close() })
	setupTestTables(t, db)

	ctx := context.Background()

	logStore := tqsqlite.NewStore(tqsqlite.DefaultStoreConfig())
	ledgerStore := orderssqlite.NewStore(orderssqlite.DefaultStoreConfig())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin setup transaction: %v", err)
	}
	for _, topic := range []string{"orders-json", "orders-xml", "order-acks"} {
		if err := logStore.CreateTopic(ctx, tx, topic, 1); err != nil {
			t.Fatalf("Failed to create topic %q: %v", topic, err)
		}
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
		t.Fatalf("Failed to commit setup: %v", err)
	}

	opts = append([]pipeline.Option{
		pipeline.WithDispatcherOptions(
			orders.WithDecoder("orders-json", orders.JSONDecoder{}),
			orders.WithDecoder("orders-xml", orders.XMLDecoder{}),
		),
	}, opts...)

	return &fixture{
		db:         db,
		pipe:       pipeline.New(db, logStore, ledgerStore, opts...),
		ledger:     ledgerStore,
		customerID: customer.ID,
		productID:  product.ID,
	}
}

func (f *fixture) submitJSON(t *testing.T, email, sku string, quantity int64) (int64, error) {
	t.Helper()
	payload := fmt.Sprintf(`{"email":%q,"sku":%q,"quantity":%d}`, email, sku, quantity)
	return f.pipe.Submit(context.Background(), "orders-json", 0, nil, []byte(payload))
}

func (f *fixture) stockLeft(t *testing.T) int64 {
	t.Helper()
	tx, _ := f.db.BeginTx(context.Background(), nil)
	defer tx.Rollback()
	quantity, err := f.ledger.StockQuantity(context.Background(), tx, f.productID)
	if err != nil {
		t.Fatalf("Failed to read stock: %v", err)
	}
	return quantity
}

func (f *fixture) requestCount(t *testing.T) int64 {
	t.Helper()
	tx, _ := f.db.BeginTx(context.Background(), nil)
	defer tx.Rollback()
	count, err := f.ledger.CountOrderRequests(context.Background(), tx)
	if err != nil {
		t.Fatalf("Failed to count order requests: %v", err)
	}
	return count
}

func (f *fixture) statusOf(t *testing.T, requestID int64) orders.OrderStatus {
	t.Helper()
	tx, _ := f.db.BeginTx(context.Background(), nil)
	defer tx.Rollback()
	status, err := f.ledger.StatusOf(context.Background(), tx, requestID)
	if err != nil {
		t.Fatalf("Failed to read status of request %d: %v", requestID, err)
	}
	return status
}

func (f *fixture) ackCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	err := f.db.QueryRow(`
		SELECT COUNT(*)
		FROM records r
		JOIN topitions tp ON tp.id = r.topition_id
		JOIN topics tc ON tc.id = tp.topic_id
		WHERE tc.name = 'order-acks'
	`).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to count acks: %v", err)
	}
	return count
}

func TestSubmit_AcceptsUntilStockExhausted(t *testing.T) {
	f := setupFixture(t, 6)

	// Six units of stock, seven single-unit orders: six accepts, one reject.
	for i := 0; i < 7; i++ {
		offset, err := f.submitJSON(t, "ada@example.com", "SKU-1", 1)
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if offset != int64(i) {
			t.Errorf("Submit %d: expected offset %d, got %d", i, i, offset)
		}
	}

	if got := f.stockLeft(t); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}
	if got := f.requestCount(t); got != 7 {
		t.Errorf("Expected 7 order requests, got %d", got)
	}
	if got := f.ackCount(t); got != 6 {
		t.Errorf("Expected 6 acknowledgments, got %d", got)
	}

	// Request ids are assigned sequentially by the autoincrement column.
	for id := int64(1); id <= 6; id++ {
		if status := f.statusOf(t, id); status.Status != orders.StatusAccepted {
			t.Errorf("Request %d: expected accepted, got %s", id, status.Status)
		}
	}
	if status := f.statusOf(t, 7); status.Status != orders.StatusRejected {
		t.Errorf("Request 7: expected rejected, got %s", status.Status)
	}
}

func TestSubmit_OversizedOrderRejectedThenSmallerAccepted(t *testing.T) {
	f := setupFixture(t, 1)

	if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 2); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if status := f.statusOf(t, 1); status.Status != orders.StatusRejected {
		t.Errorf("Expected rejection of oversized order, got %s", status.Status)
	}
	if got := f.stockLeft(t); got != 1 {
		t.Errorf("Expected stock untouched at 1, got %d", got)
	}

	if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if status := f.statusOf(t, 2); status.Status != orders.StatusAccepted {
		t.Errorf("Expected acceptance, got %s", status.Status)
	}
	if got := f.stockLeft(t); got != 0 {
		t.Errorf("Expected stock 0, got %d", got)
	}
}

func TestSubmit_BlockedCustomerRejected(t *testing.T) {
	f := setupFixture(t, 10)

	ctx := context.Background()
	tx, _ := f.db.BeginTx(ctx, nil)
	if err := f.ledger.SetBlocked(ctx, tx, "ada@example.com", true); err != nil {
		t.Fatalf("Failed to block customer: %v", err)
	}
	tx.Commit()

	if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if status := f.statusOf(t, 1); status.Status != orders.StatusRejected {
		t.Errorf("Expected rejection for blocked customer, got %s", status.Status)
	}
	if got := f.stockLeft(t); got != 10 {
		t.Errorf("Expected stock untouched at 10, got %d", got)
	}
	if got := f.ackCount(t); got != 0 {
		t.Errorf("Expected no acknowledgments, got %d", got)
	}
}

func TestSubmit_UnknownSKUSkippedByDefault(t *testing.T) {
	f := setupFixture(t, 10)

	// Default policy retains the record but creates no order request.
	offset, err := f.submitJSON(t, "ada@example.com", "SKU-404", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("Expected offset 0, got %d", offset)
	}

	if got := f.requestCount(t); got != 0 {
		t.Errorf("Expected no order requests, got %d", got)
	}

	var records int64
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		t.Fatalf("Failed to count records: %v", err)
	}
	if records != 1 {
		t.Errorf("Expected the record retained in the log, got %d rows", records)
	}
}

func TestSubmit_UnknownCustomerFailsWithPolicy(t *testing.T) {
	f := setupFixture(t, 10, pipeline.WithDispatcherOptions(
		orders.WithUnresolvedPolicy(orders.FailUnresolved),
	))

	_, err := f.submitJSON(t, "nobody@example.com", "SKU-1", 1)
	if !errors.Is(err, orders.ErrCustomerNotFound) {
		t.Fatalf("Expected ErrCustomerNotFound, got: %v", err)
	}

	// The whole transaction rolled back: nothing entered the log.
	var records int64
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		t.Fatalf("Failed to count records: %v", err)
	}
	if records != 0 {
		t.Errorf("Expected no records after aborted submit, got %d", records)
	}
}

func TestSubmit_MalformedPayloadAborts(t *testing.T) {
	f := setupFixture(t, 10)

	_, err := f.pipe.Submit(context.Background(), "orders-json", 0, nil, []byte(`{"email":`))
	if err == nil {
		t.Fatal("Expected decode error, got nil")
	}
	if !orders.IsDecodeError(err) {
		t.Errorf("Expected a decode error, got: %v", err)
	}

	var records int64
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&records); err != nil {
		t.Fatalf("Failed to count records: %v", err)
	}
	if records != 0 {
		t.Errorf("Expected no records after aborted submit, got %d", records)
	}

	// The failed submission left no offset gap behind.
	offset, err := f.submitJSON(t, "ada@example.com", "SKU-1", 1)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("Expected offset 0, got %d", offset)
	}
}

func TestSubmit_XMLAndJSONConverge(t *testing.T) {
	f := setupFixture(t, 10)

	if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 2); err != nil {
		t.Fatalf("JSON submit failed: %v", err)
	}

	xmlPayload := `<order><email>ada@example.com</email><sku>SKU-1</sku><quantity>3</quantity></order>`
	if _, err := f.pipe.Submit(context.Background(), "orders-xml", 0, nil, []byte(xmlPayload)); err != nil {
		t.Fatalf("XML submit failed: %v", err)
	}

	if got := f.stockLeft(t); got != 5 {
		t.Errorf("Expected stock 5 after 2+3 units, got %d", got)
	}
	if got := f.requestCount(t); got != 2 {
		t.Errorf("Expected 2 order requests, got %d", got)
	}
}

func TestSubmit_UnrecognizedTopicIsPlainAppend(t *testing.T) {
	f := setupFixture(t, 10)

	// order-acks has no decoder: records land in the log and nothing else
	// happens. This is also why re-entrant acknowledgment appends terminate.
	offset, err := f.pipe.Submit(context.Background(), "order-acks", 0, nil, []byte(`{"ref":"x"}`))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if offset != 0 {
		t.Errorf("Expected offset 0, got %d", offset)
	}
	if got := f.requestCount(t); got != 0 {
		t.Errorf("Expected no order requests, got %d", got)
	}
}

func TestSubmit_RedeliveryDecrementsTwice(t *testing.T) {
	f := setupFixture(t, 10)

	// Two submissions with identical payloads are distinct records at
	// distinct offsets, so both decrement stock. Idempotency is keyed on the
	// record's log coordinates, not on payload content.
	for i := 0; i < 2; i++ {
		if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 3); err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
	}

	if got := f.stockLeft(t); got != 4 {
		t.Errorf("Expected stock 4 after double delivery, got %d", got)
	}
	if got := f.requestCount(t); got != 2 {
		t.Errorf("Expected 2 order requests, got %d", got)
	}
}

func TestSubmit_AcknowledgmentCarriesStatusRef(t *testing.T) {
	f := setupFixture(t, 10)

	if _, err := f.submitJSON(t, "ada@example.com", "SKU-1", 1); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	status := f.statusOf(t, 1)
	if status.Status != orders.StatusAccepted {
		t.Fatalf("Expected accepted, got %s", status.Status)
	}

	var value []byte
	err := f.db.QueryRow(`
		SELECT r.record_value
		FROM records r
		JOIN topitions tp ON tp.id = r.topition_id
		JOIN topics tc ON tc.id = tp.topic_id
		WHERE tc.name = 'order-acks'
	`).Scan(&value)
	if err != nil {
		t.Fatalf("Failed to read acknowledgment: %v", err)
	}

	expected := fmt.Sprintf(`{"ref":%q}`, status.ExtRef.String())
	if string(value) != expected {
		t.Errorf("Expected acknowledgment %s, got %s", expected, value)
	}
}
