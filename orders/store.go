package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tranq-io/tranq/tq"
)

var (
	// ErrCustomerNotFound indicates no customer matches the decoded email.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrProductNotFound indicates no product matches the decoded SKU.
	ErrProductNotFound = errors.New("product not found")

	// ErrDuplicateRequest indicates an order request already exists for the
	// source record's (topition, offset) coordinates.
	ErrDuplicateRequest = errors.New("duplicate order request for source record")

	// ErrStatusNotFound indicates an order request has no recorded decision.
	ErrStatusNotFound = errors.New("order status not found")
)

// OrderRequestHook is invoked synchronously by a ledger store after every
// successful order request insert, inside the same transaction. A non-nil
// error aborts the insert and, transitively, the append that triggered it.
type OrderRequestHook interface {
	OnOrderRequest(ctx context.Context, tx tq.DBTX, request PersistedOrderRequest) error
}

// OrderRequestHookFunc adapts a function to the OrderRequestHook interface.
type OrderRequestHookFunc func(ctx context.Context, tx tq.DBTX, request PersistedOrderRequest) error

// OnOrderRequest implements OrderRequestHook.
func (f OrderRequestHookFunc) OnOrderRequest(ctx context.Context, tx tq.DBTX, request PersistedOrderRequest) error {
	return f(ctx, tx, request)
}

// LedgerStore defines the ledger operations used by the cascade.
type LedgerStore interface {
	// CustomerByEmail resolves a customer by unique email.
	// Returns ErrCustomerNotFound if no customer matches.
	CustomerByEmail(ctx context.Context, tx tq.DBTX, email string) (Customer, error)

	// ProductBySKU resolves a product by unique SKU.
	// Returns ErrProductNotFound if no product matches.
	ProductBySKU(ctx context.Context, tx tq.DBTX, sku string) (Product, error)

	// CreateOrderRequest inserts an order request and invokes the registered
	// order request hooks before returning, all within the transaction.
	// Returns ErrDuplicateRequest if the source coordinates are already taken.
	CreateOrderRequest(ctx context.Context, tx tq.DBTX, request OrderRequest) (PersistedOrderRequest, error)

	// ReserveStock decrements the product's stock by quantity, but only where
	// the owning customer is not blocked and the current quantity covers the
	// request. The mutation and its success signal are one statement: the
	// returned bool is the affected-row count, so there is no window between
	// checking and decrementing.
	ReserveStock(ctx context.Context, tx tq.DBTX, productID, customerID, quantity int64) (bool, error)

	// CreateOrderStatus records the terminal decision for an order request.
	// Called exactly once per request; a second call violates the primary key
	// and aborts the transaction.
	CreateOrderStatus(ctx context.Context, tx tq.DBTX, requestID int64, status Status, extRef uuid.UUID) error
}

// LedgerAdmin defines provisioning and inspection helpers.
// None of these operations participate in the cascade.
type LedgerAdmin interface {
	// CreateCustomer inserts a customer.
	CreateCustomer(ctx context.Context, tx tq.DBTX, email string, blocked bool) (Customer, error)

	// CreateProduct inserts a product together with its initial stock row.
	CreateProduct(ctx context.Context, tx tq.DBTX, sku, description string, quantity int64) (Product, error)

	// SetBlocked flips a customer's blocked flag.
	SetBlocked(ctx context.Context, tx tq.DBTX, email string, blocked bool) error

	// StockQuantity returns the current stock quantity of a product.
	StockQuantity(ctx context.Context, tx tq.DBTX, productID int64) (int64, error)

	// StatusOf returns the recorded decision for an order request.
	// Returns ErrStatusNotFound if the request is undecided or unknown.
	StatusOf(ctx context.Context, tx tq.DBTX, requestID int64) (OrderStatus, error)

	// CountOrderRequests returns the total number of order requests.
	CountOrderRequests(ctx context.Context, tx tq.DBTX) (int64, error)
}
