package tq

import "context"

// AppendHook is invoked synchronously by a log store after every successful
// record insert, inside the same transaction as the append. A non-nil error
// aborts the append: the caller's transaction must be rolled back, and the
// record is never durably part of the log.
//
// Hooks may re-enter the store's Append on the same DBTX; emission stays
// inside the triggering transaction rather than going through an outbox.
type AppendHook interface {
	OnAppend(ctx context.Context, tx DBTX, record PersistedRecord) error
}

// AppendHookFunc adapts a function to the AppendHook interface.
type AppendHookFunc func(ctx context.Context, tx DBTX, record PersistedRecord) error

// OnAppend implements AppendHook.
func (f AppendHookFunc) OnAppend(ctx context.Context, tx DBTX, record PersistedRecord) error {
	return f(ctx, tx, record)
}
