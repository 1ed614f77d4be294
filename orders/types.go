// Package orders provides the business ledger driven by the transactional log:
// decoding inbound order events, resolving them against customers and
// products, and deciding them against stock, all inside the transaction that
// appended the triggering record.
package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/tranq-io/tranq/tq"
)

// Customer is a ledger party identified by unique email.
// Customers are maintained administratively and are read-only to the cascade.
type Customer struct {
	ID      int64
	Email   string
	Blocked bool
}

// Product is a catalog entry identified by unique SKU.
type Product struct {
	ID          int64
	SKU         string
	Description string
}

// OrderRequest is a decoded inbound order, referencing the log record it was
// extracted from. Immutable once created.
type OrderRequest struct {
	// Source is the topition of the originating record
	Source tq.Topition

	// SourceOffset is the offset of the originating record within Source.
	// Together with Source it is the request's idempotency key: the store
	// enforces at most one order request per log record.
	SourceOffset int64

	// CustomerID is the resolved customer
	CustomerID int64

	// ProductID is the resolved product
	ProductID int64

	// Quantity is the requested quantity, always >= 1 after decoding
	Quantity int64
}

// PersistedOrderRequest is an order request that has been stored.
type PersistedOrderRequest struct {
	OrderRequest

	// ID is assigned by the ledger store upon persistence
	ID int64
}

// Status is the terminal outcome of an order request.
type Status string

const (
	// StatusAccepted means stock was reserved and an acknowledgment emitted.
	StatusAccepted Status = "accepted"

	// StatusRejected means the customer was blocked or stock was insufficient.
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusAccepted || s == StatusRejected
}

// OrderStatus is the decision recorded for an order request.
// Written exactly once, never updated.
type OrderStatus struct {
	// CreatedAt is when the decision was recorded
	CreatedAt time.Time

	// Status is the terminal outcome
	Status Status

	// ExtRef is the globally unique, time-ordered external reference
	// (a UUIDv7) under which the decision is known outside the system
	ExtRef uuid.UUID

	// OrderRequestID is the decided request
	OrderRequestID int64
}
