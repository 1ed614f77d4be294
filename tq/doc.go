// Package tq provides the core types for an append-only, partitioned event
// log embedded in a transactional SQL store.
//
// # Overview
//
// This package defines the fundamental types and interfaces:
//   - Topition: a (topic, partition) coordinate
//   - Record / PersistedRecord: immutable log entries
//   - Watermark: per-topition (low, high) offset bounds
//   - DBTX: database transaction abstraction
//   - AppendHook: synchronous, transaction-scoped append handlers
//
// # Design Philosophy
//
// Clean Architecture: Core interfaces are database-agnostic. Infrastructure
// concerns (like PostgreSQL) are isolated in adapter packages under
// tq/adapters.
//
// Transaction Control: The library uses DBTX instead of managing transactions.
// The append, the hook cascade it triggers, and any ledger work performed by
// the hooks all run on the caller's transaction, so a single commit either
// publishes everything or nothing. This is what removes the need for a
// separately-polled outbox table.
//
// Offset Allocation: Each adapter advances a topition's high watermark with a
// single atomic read-modify-write statement. Offsets within a topition are
// therefore contiguous from 0 with no gaps or duplicates, even under
// concurrent appenders; a conflicting insert surfaces as
// store.ErrAllocationConflict and the caller retries the whole transaction.
//
// # Quick Start
//
// 1. Generate database migrations:
//
//	go run github.com/tranq-io/tranq/cmd/migrate-gen -output migrations
//
// 2. Apply migrations to your database
//
// 3. Create a log store and append:
//
//	import (
//	    "github.com/tranq-io/tranq/tq"
//	    "github.com/tranq-io/tranq/tq/adapters/postgres"
//	)
//
//	logStore := postgres.NewStore(postgres.DefaultStoreConfig())
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//
//	offset, err := logStore.Append(ctx, tx,
//	    tq.Topition{Topic: "orders", Partition: 0},
//	    tq.Record{Value: payload})
//	if err != nil {
//	    // handle error
//	}
//	_ = tx.Commit()
//
// For the full ingest/decide cascade, see the orders and pipeline packages.
package tq
