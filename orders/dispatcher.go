package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/tranq-io/tranq/tq"
)

// UnresolvedPolicy controls what the dispatcher does when a decoded order
// references an unknown customer or product.
type UnresolvedPolicy int

const (
	// SkipUnresolved retains the record in the log but creates no order
	// request. The append succeeds; unmatched orders are only visible in the
	// debug log. This mirrors the historical behavior and is the default.
	SkipUnresolved UnresolvedPolicy = iota

	// FailUnresolved aborts the append transaction, so the producer observes
	// the failure instead of the order silently vanishing.
	FailUnresolved
)

// Dispatcher routes every appended record to a decoder by exact topic-name
// match and turns decoded payloads into order requests. It implements
// tq.AppendHook and runs inside the append's transaction:
//
//   - topics with no registered decoder are no-ops (silent-ignore policy)
//   - a decode failure on a registered topic aborts the append
//   - unresolved customer/product references follow the configured policy
type Dispatcher struct {
	ledger   LedgerStore
	decoders map[string]Decoder
	policy   UnresolvedPolicy
	logger   tq.Logger
}

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDecoder registers a decoder for an exact topic name.
func WithDecoder(topic string, decoder Decoder) DispatcherOption {
	return func(d *Dispatcher) {
		d.decoders[topic] = decoder
	}
}

// WithUnresolvedPolicy sets the unknown customer/product policy.
func WithUnresolvedPolicy(policy UnresolvedPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithDispatcherLogger sets a logger for the dispatcher.
func WithDispatcherLogger(logger tq.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher writing through the given ledger store.
func NewDispatcher(ledger LedgerStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ledger:   ledger,
		decoders: make(map[string]Decoder),
		policy:   SkipUnresolved,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnAppend implements tq.AppendHook.
func (d *Dispatcher) OnAppend(ctx context.Context, tx tq.DBTX, record tq.PersistedRecord) error {
	decoder, ok := d.decoders[record.Topition.Topic]
	if !ok {
		if d.logger != nil {
			d.logger.Debug(ctx, "no decoder for topic, record ignored",
				"topition", record.Topition.String(),
				"offset", record.Offset)
		}
		return nil
	}

	line, err := decoder.Decode(record.Value)
	if err != nil {
		// Recognized topic, malformed payload: fail the append so the
		// producer's acknowledgment stays in step with system state.
		return err
	}

	customer, err := d.ledger.CustomerByEmail(ctx, tx, line.Email)
	if err != nil {
		return d.unresolved(ctx, record, "email", line.Email, err)
	}

	product, err := d.ledger.ProductBySKU(ctx, tx, line.SKU)
	if err != nil {
		return d.unresolved(ctx, record, "sku", line.SKU, err)
	}

	request := OrderRequest{
		Source:       record.Topition,
		SourceOffset: record.Offset,
		CustomerID:   customer.ID,
		ProductID:    product.ID,
		Quantity:     line.Quantity,
	}

	if _, err := d.ledger.CreateOrderRequest(ctx, tx, request); err != nil {
		return fmt.Errorf("create order request for %s@%d: %w",
			record.Topition.String(), record.Offset, err)
	}

	return nil
}

// unresolved applies the configured policy to a failed customer/product
// lookup. Lookup errors other than the not-found sentinels always propagate.
func (d *Dispatcher) unresolved(ctx context.Context, record tq.PersistedRecord, field, value string, err error) error {
	if !errors.Is(err, ErrCustomerNotFound) && !errors.Is(err, ErrProductNotFound) {
		return err
	}

	if d.policy == FailUnresolved {
		return fmt.Errorf("record %s@%d: %s %q: %w",
			record.Topition.String(), record.Offset, field, value, err)
	}

	if d.logger != nil {
		d.logger.Info(ctx, "order skipped: unresolved reference",
			"topition", record.Topition.String(),
			"offset", record.Offset,
			field, value)
	}
	return nil
}
