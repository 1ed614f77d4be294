// Package postgres provides a PostgreSQL adapter for the order ledger.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tranq-io/tranq/orders"
	"github.com/tranq-io/tranq/tq"
)

// StoreConfig contains configuration for the Postgres ledger store.
// Configuration is immutable after construction.
type StoreConfig struct {
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

	// TopicsTable and TopitionsTable name the log tables used to resolve an
	// order request's source record coordinates. They must match the log
	// store's configuration.
	TopicsTable    string
	TopitionsTable string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		CustomersTable:     "customers",
		ProductsTable:      "products",
		StockTable:         "stock",
		OrderRequestsTable: "order_requests",
		OrderStatusesTable: "order_statuses",
		TopicsTable:        "topics",
		TopitionsTable:     "topitions",
	}
}

// Store is a PostgreSQL-backed ledger store implementation.
type Store struct {
	config StoreConfig
	hooks  []orders.OrderRequestHook
}

// Ensure Store satisfies the ledger contracts
var (
	_ orders.LedgerStore = (*Store)(nil)
	_ orders.LedgerAdmin = (*Store)(nil)
)

// NewStore creates a new Postgres ledger store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{
		config: config,
	}
}

// RegisterOrderRequestHook registers a hook invoked synchronously after every
// successful order request insert, inside the insert's transaction.
// Registration must happen during wiring, before the store serves inserts.
func (s *Store) RegisterOrderRequestHook(h orders.OrderRequestHook) {
	s.hooks = append(s.hooks, h)
}

// CustomerByEmail implements orders.LedgerStore.
func (s *Store) CustomerByEmail(ctx context.Context, tx tq.DBTX, email string) (orders.Customer, error) {
	query := fmt.Sprintf(`SELECT id, email, blocked FROM %s WHERE email = $1`, s.config.CustomersTable)

	var c orders.Customer
	err := tx.QueryRowContext(ctx, query, email).Scan(&c.ID, &c.Email, &c.Blocked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Customer{}, fmt.Errorf("%w: %s", orders.ErrCustomerNotFound, email)
		}
		return orders.Customer{}, fmt.Errorf("failed to query customer: %w", err)
	}
	return c, nil
}

// ProductBySKU implements orders.LedgerStore.
func (s *Store) ProductBySKU(ctx context.Context, tx tq.DBTX, sku string) (orders.Product, error) {
	query := fmt.Sprintf(`SELECT id, sku, description FROM %s WHERE sku = $1`, s.config.ProductsTable)

	var p orders.Product
	err := tx.QueryRowContext(ctx, query, sku).Scan(&p.ID, &p.SKU, &p.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, sku)
		}
		return orders.Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

// CreateOrderRequest implements orders.LedgerStore.
// The UNIQUE constraint on the source coordinates is the idempotency key: a
// second request for the same log record maps to ErrDuplicateRequest.
func (s *Store) CreateOrderRequest(ctx context.Context, tx tq.DBTX, request orders.OrderRequest) (orders.PersistedOrderRequest, error) {
	topitionID, err := s.resolveTopition(ctx, tx, request.Source)
	if err != nil {
		return orders.PersistedOrderRequest{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (topition_id, record_offset, customer_id, product_id, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, s.config.OrderRequestsTable)

	var id int64
	err = tx.QueryRowContext(ctx, query,
		topitionID,
		request.SourceOffset,
		request.CustomerID,
		request.ProductID,
		request.Quantity,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return orders.PersistedOrderRequest{}, orders.ErrDuplicateRequest
		}
		return orders.PersistedOrderRequest{}, fmt.Errorf("failed to insert order request: %w", err)
	}

	persisted := orders.PersistedOrderRequest{
		OrderRequest: request,
		ID:           id,
	}

	for _, h := range s.hooks {
		if err := h.OnOrderRequest(ctx, tx, persisted); err != nil {
			return orders.PersistedOrderRequest{}, fmt.Errorf("order request hook: %w", err)
		}
	}

	return persisted, nil
}

// ReserveStock implements orders.LedgerStore.
// One conditional UPDATE; the affected-row count is the accept/reject signal.
// Postgres takes a row lock on the stock row, so two concurrent requests
// against the same product serialize here and only one can win the last unit.
func (s *Store) ReserveStock(ctx context.Context, tx tq.DBTX, productID, customerID, quantity int64) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET quantity = quantity - $1
		WHERE product_id = $2
		  AND quantity >= $1
		  AND EXISTS (SELECT 1 FROM %s c WHERE c.id = $3 AND NOT c.blocked)
	`, s.config.StockTable, s.config.CustomersTable)

	result, err := tx.ExecContext(ctx, query, quantity, productID, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// CreateOrderStatus implements orders.LedgerStore.
func (s *Store) CreateOrderStatus(ctx context.Context, tx tq.DBTX, requestID int64, status orders.Status, extRef uuid.UUID) error {
	if !status.Valid() {
		return fmt.Errorf("invalid order status %q", status)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (order_request_id, ext_ref, status, created_at)
		VALUES ($1, $2, $3, NOW())
	`, s.config.OrderStatusesTable)

	_, err := tx.ExecContext(ctx, query, requestID, extRef, string(status))
	if err != nil {
		return fmt.Errorf("failed to insert order status: %w", err)
	}
	return nil
}

// CreateCustomer implements orders.LedgerAdmin.
func (s *Store) CreateCustomer(ctx context.Context, tx tq.DBTX, email string, blocked bool) (orders.Customer, error) {
	query := fmt.Sprintf(`INSERT INTO %s (email, blocked) VALUES ($1, $2) RETURNING id`, s.config.CustomersTable)

	var id int64
	if err := tx.QueryRowContext(ctx, query, email, blocked).Scan(&id); err != nil {
		return orders.Customer{}, fmt.Errorf("failed to insert customer: %w", err)
	}
	return orders.Customer{ID: id, Email: email, Blocked: blocked}, nil
}

// CreateProduct implements orders.LedgerAdmin.
func (s *Store) CreateProduct(ctx context.Context, tx tq.DBTX, sku, description string, quantity int64) (orders.Product, error) {
	productQuery := fmt.Sprintf(`INSERT INTO %s (sku, description) VALUES ($1, $2) RETURNING id`, s.config.ProductsTable)

	var id int64
	if err := tx.QueryRowContext(ctx, productQuery, sku, description).Scan(&id); err != nil {
		return orders.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}

	stockQuery := fmt.Sprintf(`INSERT INTO %s (product_id, quantity) VALUES ($1, $2)`, s.config.StockTable)
	if _, err := tx.ExecContext(ctx, stockQuery, id, quantity); err != nil {
		return orders.Product{}, fmt.Errorf("failed to insert stock: %w", err)
	}

	return orders.Product{ID: id, SKU: sku, Description: description}, nil
}

// SetBlocked implements orders.LedgerAdmin.
func (s *Store) SetBlocked(ctx context.Context, tx tq.DBTX, email string, blocked bool) error {
	query := fmt.Sprintf(`UPDATE %s SET blocked = $1 WHERE email = $2`, s.config.CustomersTable)

	result, err := tx.ExecContext(ctx, query, blocked, email)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", orders.ErrCustomerNotFound, email)
	}
	return nil
}

// StockQuantity implements orders.LedgerAdmin.
func (s *Store) StockQuantity(ctx context.Context, tx tq.DBTX, productID int64) (int64, error) {
	query := fmt.Sprintf(`SELECT quantity FROM %s WHERE product_id = $1`, s.config.StockTable)

	var quantity int64
	if err := tx.QueryRowContext(ctx, query, productID).Scan(&quantity); err != nil {
		return 0, fmt.Errorf("failed to query stock: %w", err)
	}
	return quantity, nil
}

// StatusOf implements orders.LedgerAdmin.
func (s *Store) StatusOf(ctx context.Context, tx tq.DBTX, requestID int64) (orders.OrderStatus, error) {
	query := fmt.Sprintf(`
		SELECT order_request_id, ext_ref, status, created_at
		FROM %s
		WHERE order_request_id = $1
	`, s.config.OrderStatusesTable)

	var st orders.OrderStatus
	var extRef, status string
	err := tx.QueryRowContext(ctx, query, requestID).Scan(&st.OrderRequestID, &extRef, &status, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orders.OrderStatus{}, fmt.Errorf("%w: request %d", orders.ErrStatusNotFound, requestID)
		}
		return orders.OrderStatus{}, fmt.Errorf("failed to query order status: %w", err)
	}

	st.ExtRef, err = uuid.Parse(extRef)
	if err != nil {
		return orders.OrderStatus{}, fmt.Errorf("failed to parse ext_ref: %w", err)
	}
	st.Status = orders.Status(status)
	return st, nil
}

// CountOrderRequests implements orders.LedgerAdmin.
func (s *Store) CountOrderRequests(ctx context.Context, tx tq.DBTX) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.config.OrderRequestsTable)

	var count int64
	if err := tx.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count order requests: %w", err)
	}
	return count, nil
}

func (s *Store) resolveTopition(ctx context.Context, tx tq.DBTX, topition tq.Topition) (int64, error) {
	query := fmt.Sprintf(`
		SELECT tp.id
		FROM %s tp
		JOIN %s t ON t.id = tp.topic_id
		WHERE t.name = $1 AND tp.partition_number = $2
	`, s.config.TopitionsTable, s.config.TopicsTable)

	var id int64
	if err := tx.QueryRowContext(ctx, query, topition.Topic, topition.Partition).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to resolve source topition %s: %w", topition.String(), err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}

	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}
