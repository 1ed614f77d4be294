package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tranq-io/tranq/tq"
	"github.com/tranq-io/tranq/tq/store"
)

// DefaultDownstreamTopic is the topic accepted orders are acknowledged on.
const DefaultDownstreamTopic = "order-acks"

// ackPayload is the value emitted downstream for an accepted order.
type ackPayload struct {
	Ref string `json:"ref"`
}

// Engine decides order requests. It implements OrderRequestHook and runs
// inside the transaction that created the request: the conditional stock
// decrement, the status row, and the downstream emission commit or roll back
// together with the triggering append.
type Engine struct {
	ledger     LedgerStore
	log        store.LogStore
	downstream string
	logger     tq.Logger
}

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*Engine)

// WithDownstreamTopic sets the topic acknowledgments are appended to.
func WithDownstreamTopic(topic string) EngineOption {
	return func(e *Engine) {
		e.downstream = topic
	}
}

// WithEngineLogger sets a logger for the engine.
func WithEngineLogger(logger tq.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a decision engine. Accepted orders re-enter logStore's
// Append on the downstream topic, at the same partition number as the source
// record so acknowledgments preserve per-partition causal order. The
// downstream topic must exist with at least as many partitions as every
// inbound topic, or the acceptance aborts.
func NewEngine(ledger LedgerStore, logStore store.LogStore, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:     ledger,
		log:        logStore,
		downstream: DefaultDownstreamTopic,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnOrderRequest implements OrderRequestHook.
// Either branch is terminal for the request: accepted-with-emission or
// rejected, decided exactly once, never revisited.
func (e *Engine) OnOrderRequest(ctx context.Context, tx tq.DBTX, request PersistedOrderRequest) error {
	reserved, err := e.ledger.ReserveStock(ctx, tx, request.ProductID, request.CustomerID, request.Quantity)
	if err != nil {
		return fmt.Errorf("reserve stock for request %d: %w", request.ID, err)
	}

	extRef, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate external reference: %w", err)
	}

	if !reserved {
		// Blocked customer or insufficient stock. Not an error, a terminal
		// outcome: record it and emit nothing.
		if err := e.ledger.CreateOrderStatus(ctx, tx, request.ID, StatusRejected, extRef); err != nil {
			return fmt.Errorf("record rejection of request %d: %w", request.ID, err)
		}
		if e.logger != nil {
			e.logger.Info(ctx, "order rejected",
				"request_id", request.ID,
				"ext_ref", extRef.String())
		}
		return nil
	}

	if err := e.ledger.CreateOrderStatus(ctx, tx, request.ID, StatusAccepted, extRef); err != nil {
		return fmt.Errorf("record acceptance of request %d: %w", request.ID, err)
	}

	value, err := json.Marshal(ackPayload{Ref: extRef.String()})
	if err != nil {
		return fmt.Errorf("marshal acknowledgment: %w", err)
	}

	ack := tq.Topition{Topic: e.downstream, Partition: request.Source.Partition}
	offset, err := e.log.Append(ctx, tx, ack, tq.Record{Value: value})
	if err != nil {
		return fmt.Errorf("emit acknowledgment for request %d: %w", request.ID, err)
	}

	if e.logger != nil {
		e.logger.Info(ctx, "order accepted",
			"request_id", request.ID,
			"ext_ref", extRef.String(),
			"ack_topition", ack.String(),
			"ack_offset", offset)
	}
	return nil
}
