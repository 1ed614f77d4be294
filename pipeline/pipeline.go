// Package pipeline wires the transactional log, the order dispatcher, the
// ledger, and the decision engine into a single submission surface. One
// Submit call is one SQL transaction: the record append, its dispatch into
// an order request, the stock decision, and any downstream acknowledgment
// commit or roll back together.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tranq-io/tranq/orders"
	"github.com/tranq-io/tranq/tq"
	"github.com/tranq-io/tranq/tq/store"
)

// DefaultMaxAttempts bounds transaction retries on offset allocation
// conflicts.
const DefaultMaxAttempts = 3

// LogStore is the log store contract the pipeline wires: append plus hook
// registration. All tq adapter stores satisfy it.
type LogStore interface {
	store.LogStore
	RegisterAppendHook(tq.AppendHook)
}

// LedgerStore is the ledger store contract the pipeline wires. All orders
// adapter stores satisfy it.
type LedgerStore interface {
	orders.LedgerStore
	RegisterOrderRequestHook(orders.OrderRequestHook)
}

// Pipeline owns the database handle and the transaction boundary around the
// append cascade.
type Pipeline struct {
	db          *sql.DB
	log         LogStore
	maxAttempts int
	logger      tq.Logger

	dispatcherOpts []orders.DispatcherOption
	engineOpts     []orders.EngineOption
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithMaxAttempts sets the retry bound for allocation conflicts. Values
// below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.maxAttempts = n
	}
}

// WithLogger sets a logger for the pipeline.
func WithLogger(logger tq.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithDispatcherOptions forwards options to the wired dispatcher, typically
// WithDecoder registrations and the unresolved-reference policy.
func WithDispatcherOptions(opts ...orders.DispatcherOption) Option {
	return func(p *Pipeline) {
		p.dispatcherOpts = append(p.dispatcherOpts, opts...)
	}
}

// WithEngineOptions forwards options to the wired decision engine.
func WithEngineOptions(opts ...orders.EngineOption) Option {
	return func(p *Pipeline) {
		p.engineOpts = append(p.engineOpts, opts...)
	}
}

// New wires the full cascade and returns a ready pipeline. The dispatcher is
// registered as an append hook on logStore and the decision engine as an
// order-request hook on ledgerStore, so every append flows
//
//	append → dispatch → decode → order request → decide → conditional append
//
// inside the caller-invisible transaction that Submit opens. Hook
// registration happens here, once; the stores must not already be serving
// traffic.
func New(db *sql.DB, logStore LogStore, ledgerStore LedgerStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		db:          db,
		log:         logStore,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}

	dispatcher := orders.NewDispatcher(ledgerStore, p.dispatcherOpts...)
	logStore.RegisterAppendHook(dispatcher)

	engine := orders.NewEngine(ledgerStore, logStore, p.engineOpts...)
	ledgerStore.RegisterOrderRequestHook(engine)

	return p
}

// Submit appends one record and drives the synchronous cascade to completion
// in a single transaction. On success it returns the offset assigned to the
// submitted record (not any downstream acknowledgment's offset).
//
// An offset allocation conflict rolls the transaction back and retries from
// scratch, up to the configured attempt bound. Every other error rolls back
// and is returned as-is: the producer can conclude the record never entered
// the log.
func (p *Pipeline) Submit(ctx context.Context, topic string, partition int32, key, value []byte) (int64, error) {
	topition := tq.Topition{Topic: topic, Partition: partition}
	record := tq.Record{Key: key, Value: value}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		offset, err := p.submitOnce(ctx, topition, record)
		if err == nil {
			return offset, nil
		}
		if !errors.Is(err, store.ErrAllocationConflict) {
			return 0, err
		}

		lastErr = err
		if p.logger != nil {
			p.logger.Info(ctx, "allocation conflict, retrying transaction",
				"topition", topition.String(),
				"attempt", attempt,
				"max_attempts", p.maxAttempts)
		}
	}

	return 0, fmt.Errorf("submit to %s: attempts exhausted (%d): %w",
		topition.String(), p.maxAttempts, lastErr)
}

func (p *Pipeline) submitOnce(ctx context.Context, topition tq.Topition, record tq.Record) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	offset, err := p.log.Append(ctx, tx, topition, record)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && p.logger != nil {
			p.logger.Error(ctx, "rollback failed",
				"topition", topition.String(),
				"error", rbErr.Error())
		}
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return offset, nil
}
