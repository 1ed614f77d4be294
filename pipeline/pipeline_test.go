package pipeline_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranq-io/tranq/orders"
	"github.com/tranq-io/tranq/pipeline"
	"github.com/tranq-io/tranq/tq"
)

type fakeLogStore struct {
	hooks []tq.AppendHook
}

func (f *fakeLogStore) Append(context.Context, tq.DBTX, tq.Topition, tq.Record) (int64, error) {
	return 0, nil
}

func (f *fakeLogStore) RegisterAppendHook(h tq.AppendHook) {
	f.hooks = append(f.hooks, h)
}

type fakeLedgerStore struct {
	hooks []orders.OrderRequestHook
}

func (f *fakeLedgerStore) CustomerByEmail(context.Context, tq.DBTX, string) (orders.Customer, error) {
	return orders.Customer{}, orders.ErrCustomerNotFound
}

func (f *fakeLedgerStore) ProductBySKU(context.Context, tq.DBTX, string) (orders.Product, error) {
	return orders.Product{}, orders.ErrProductNotFound
}

func (f *fakeLedgerStore) CreateOrderRequest(context.Context, tq.DBTX, orders.OrderRequest) (orders.PersistedOrderRequest, error) {
	return orders.PersistedOrderRequest{}, nil
}

func (f *fakeLedgerStore) ReserveStock(context.Context, tq.DBTX, int64, int64, int64) (bool, error) {
	return false, nil
}

func (f *fakeLedgerStore) CreateOrderStatus(context.Context, tq.DBTX, int64, orders.Status, uuid.UUID) error {
	return nil
}

func (f *fakeLedgerStore) RegisterOrderRequestHook(h orders.OrderRequestHook) {
	f.hooks = append(f.hooks, h)
}

func TestNew_WiresCascadeHooks(t *testing.T) {
	logStore := &fakeLogStore{}
	ledgerStore := &fakeLedgerStore{}

	p := pipeline.New(nil, logStore, ledgerStore,
		pipeline.WithDispatcherOptions(orders.WithDecoder("orders-json", orders.JSONDecoder{})),
		pipeline.WithEngineOptions(orders.WithDownstreamTopic("fulfilment")),
	)
	require.NotNil(t, p)

	// The dispatcher hangs off the log store, the engine off the ledger store.
	require.Len(t, logStore.hooks, 1)
	assert.IsType(t, &orders.Dispatcher{}, logStore.hooks[0])

	require.Len(t, ledgerStore.hooks, 1)
	assert.IsType(t, &orders.Engine{}, ledgerStore.hooks[0])
}
