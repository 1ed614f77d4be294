package orders

import (
	"errors"
	"fmt"
)

// Line is the canonical record extracted from an inbound order payload.
// Every decoder produces the same shape, so the decision engine never needs
// to know which encoding an order request arrived in.
type Line struct {
	// Email identifies the ordering customer
	Email string

	// SKU identifies the ordered product
	SKU string

	// Quantity is the requested quantity, >= 1
	Quantity int64
}

// validate enforces the canonical-record invariants shared by all decoders.
func (l Line) validate() error {
	if l.Email == "" {
		return errors.New("missing email")
	}
	if l.SKU == "" {
		return errors.New("missing sku")
	}
	if l.Quantity < 1 {
		return fmt.Errorf("quantity must be at least 1, got %d", l.Quantity)
	}
	return nil
}

// Decoder extracts the canonical order line from opaque payload bytes.
// Implementations are registered per topic on the Dispatcher.
type Decoder interface {
	// Decode returns the canonical line or a *DecodeError.
	Decode(value []byte) (Line, error)
}

// DecodeError indicates a payload on a recognized topic failed to parse into
// the canonical order line. It aborts the append transaction: the record is
// never durably appended, so the producer correctly observes failure instead
// of the event being silently dropped.
type DecodeError struct {
	// Encoding names the decoder variant, e.g. "json" or "xml"
	Encoding string

	// Err is the underlying parse or validation failure
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s order payload: %v", e.Encoding, e.Err)
}

// Unwrap returns the underlying failure.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
