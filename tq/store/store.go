// Package store provides log store abstractions shared by all adapters.
package store

import (
	"context"
	"errors"

	"github.com/tranq-io/tranq/tq"
)

var (
	// ErrAllocationConflict indicates two concurrent appends collided on the
	// same (topition, offset). The enclosing transaction must be rolled back
	// and the whole append retried, not just the insert.
	ErrAllocationConflict = errors.New("offset allocation conflict")

	// ErrTopitionNotFound indicates an append or read against a topic
	// partition that has not been created administratively.
	ErrTopitionNotFound = errors.New("topition not found")

	// ErrNoValue indicates an attempt to append a record with an empty value.
	ErrNoValue = errors.New("record has no value")
)

// LogStore defines the interface for appending records.
type LogStore interface {
	// Append atomically allocates the next offset for the topition, inserts
	// the record at it, and invokes the registered append hooks, all within
	// the provided transaction. It is the sole entry point for adding events.
	//
	// The offset is allocated by a single read-modify-write statement on the
	// topition's watermark row, so offsets form the contiguous sequence
	// 0, 1, 2, ... with no gaps or duplicates even under concurrent callers.
	//
	// Returns ErrTopitionNotFound if the topition does not exist,
	// ErrAllocationConflict if the insert hits the (topition, offset)
	// uniqueness constraint, and any error returned by an append hook.
	Append(ctx context.Context, tx tq.DBTX, topition tq.Topition, record tq.Record) (int64, error)
}

// RecordReader defines the interface for reading records sequentially.
type RecordReader interface {
	// ReadRecords reads records of a topition starting at fromOffset.
	// Returns up to limit records ordered by offset ascending.
	ReadRecords(ctx context.Context, tx tq.DBTX, topition tq.Topition, fromOffset int64, limit int) ([]tq.PersistedRecord, error)
}

// Admin defines the administrative surface used for provisioning.
// None of these operations participate in the append cascade.
type Admin interface {
	// CreateTopic creates a topic with partitions numbered 0..partitions-1.
	// Topics are immutable after creation.
	CreateTopic(ctx context.Context, tx tq.DBTX, name string, partitions int32) error

	// Topics returns the names of all topics.
	Topics(ctx context.Context, tx tq.DBTX) ([]string, error)

	// Watermark returns the (low, high) offset bounds of a topition.
	// A topition with no appended records yet reports (0, 0).
	Watermark(ctx context.Context, tx tq.DBTX, topition tq.Topition) (tq.Watermark, error)
}
