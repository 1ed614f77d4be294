// Package tq provides the core types for the embedded transactional log.
package tq

import (
	"fmt"
	"time"
)

// Topition identifies a single partition of a topic.
// The name follows the storage layer's vocabulary: topic + partition.
type Topition struct {
	// Topic is the name of the logical stream
	Topic string

	// Partition is the partition number within the topic, starting at 0
	Partition int32
}

// String returns the conventional topic-partition rendering, e.g. "orders-0".
func (tp Topition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Record represents an event to be appended to the log.
// Records are value objects without a position until persisted.
type Record struct {
	// CreatedAt is when the record was produced.
	// The zero value means the store assigns the append time.
	CreatedAt time.Time

	// Key is an opaque, optional routing/identity key
	Key []byte

	// Value is the opaque event payload
	Value []byte

	// Attributes carries producer-defined flag bits
	Attributes int16
}

// PersistedRecord is a record that has been appended and assigned an offset.
// Offsets within a topition are unique, contiguous, and start at 0.
type PersistedRecord struct {
	Record

	// Topition is the partition this record was appended to
	Topition Topition

	// Offset is the position assigned by the offset allocator
	Offset int64
}

// Watermark holds the retained-offset bounds of a topition.
// Low is the earliest retained offset; High is the next offset to assign
// (exclusive upper bound). Both are monotonically non-decreasing and are
// mutated only by the offset allocator.
type Watermark struct {
	Low  int64
	High int64
}

// Depth returns the number of offsets currently spanned by the watermark.
func (w Watermark) Depth() int64 {
	return w.High - w.Low
}

// IsEmpty returns true if the topition holds no retained records.
func (w Watermark) IsEmpty() bool {
	return w.High == w.Low
}
