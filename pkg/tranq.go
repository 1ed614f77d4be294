// Package tranq provides an embedded, partitioned, append-only log inside a
// transactional SQL store.
//
// This package serves as the main entry point for the tranq library.
// For the core functionality, see the tq and orders packages and their
// subpackages:
//
//	tq           - Core types and interfaces
//	tq/store     - Log store abstractions
//	tq/adapters/postgres - PostgreSQL implementation
//	tq/migrations - Log migration generation
//	orders       - Order dispatch and decision
//	orders/adapters/postgres - PostgreSQL ledger implementation
//	orders/migrations - Ledger migration generation
//	pipeline     - Composition root and transaction boundary
//
// Quick Start:
//
//  1. Generate migrations:
//     go run github.com/tranq-io/tranq/cmd/migrate-gen -output migrations
//
//  2. Wire the cascade and submit records:
//     logStore := postgres.NewStore(postgres.DefaultStoreConfig())
//     ledgerStore := orderspostgres.NewStore(orderspostgres.DefaultStoreConfig())
//     pipe := pipeline.New(db, logStore, ledgerStore,
//         pipeline.WithDispatcherOptions(orders.WithDecoder("orders-json", orders.JSONDecoder{})))
//     offset, err := pipe.Submit(ctx, "orders-json", 0, nil, payload)
//
// See the examples directory for complete working examples.
package tranq

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
