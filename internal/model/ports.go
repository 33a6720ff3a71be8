package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These decouple the structure services from Redis and SQLite.

// BarWriter persists raw bars so the engine can be rebuilt by replay.
type BarWriter interface {
	// RunBars reads bars from barCh and writes them in batches.
	// Blocks until ctx is cancelled or barCh is closed.
	RunBars(ctx context.Context, barCh <-chan Bar)

	// Close releases underlying resources.
	Close() error
}

// BarReader reads persisted bars for backfill and backtests.
type BarReader interface {
	// ReadBars returns bars for one symbol with TS strictly after `after`, ascending.
	ReadBars(symbol string, after time.Time) ([]Bar, error)

	// Symbols lists every symbol with at least one stored bar.
	Symbols() ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// StructureWriter persists the derived structure of one symbol.
type StructureWriter interface {
	// SaveStructure replaces the merged series and segments stored for symbol.
	SaveStructure(ctx context.Context, symbol string, merged []MergedBar, segments []Segment) error

	// WriteEventBatch appends stroke events.
	WriteEventBatch(ctx context.Context, events []StrokeEvent) error
}

// EventPublisher fans stroke events out to live consumers.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []StrokeEvent)
}

// SnapshotStore reads and writes structure engine snapshots as raw JSON.
// Using []byte avoids a model→structure→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// BarConsumer consumes bars from a stream (e.g. Redis Streams).
type BarConsumer interface {
	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// RecoverPending processes any unACKed messages from a previous crash.
	RecoverPending(ctx context.Context, streams []string, out chan<- Bar) error

	// ConsumeBars reads bars via consumer groups. Blocks until ctx is cancelled.
	ConsumeBars(ctx context.Context, streams []string, out chan<- Bar) error

	// Close releases underlying resources.
	Close() error
}
