package redis

import (
	"context"
	"log"
	"sync"

	"chanlun-engine/internal/model"
)

// BufferedPublisher wraps a Writer with a circuit breaker. Events that cannot
// be published are held locally and flushed once the breaker closes again.
type BufferedPublisher struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []model.StrokeEvent
	maxBuf int

	OnBuffer func(count int) // called when events are buffered
	OnFlush  func(count int) // called after buffered events are flushed
}

// NewBufferedPublisher creates a BufferedPublisher. Once maxBufferSize events
// are held the oldest are dropped. ctx bounds the background flushes.
func NewBufferedPublisher(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[redis] circuit %s -> %s", from, to)
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishEvents publishes through the breaker, buffering on failure.
func (bp *BufferedPublisher) PublishEvents(ctx context.Context, events []model.StrokeEvent) {
	if len(events) == 0 {
		return
	}
	err := bp.cb.Execute(func() error {
		return bp.writer.publishEvents(ctx, events)
	})
	if err == nil {
		return
	}
	if err != ErrCircuitOpen {
		log.Printf("[redis] publish %d events failed, buffering: %v", len(events), err)
	}
	bp.bufferEvents(events)
}

func (bp *BufferedPublisher) bufferEvents(events []model.StrokeEvent) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.buffer = append(bp.buffer, events...)
	if over := len(bp.buffer) - bp.maxBuf; over > 0 {
		bp.buffer = append(bp.buffer[:0:0], bp.buffer[over:]...)
	}
	if bp.OnBuffer != nil {
		bp.OnBuffer(len(events))
	}
}

// flush republishes buffered events. A failed flush puts them back.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	pending := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()
	if len(pending) == 0 {
		return
	}

	if err := bp.writer.publishEvents(bp.ctx, pending); err != nil {
		log.Printf("[redis] flush of %d buffered events failed: %v", len(pending), err)
		bp.mu.Lock()
		bp.buffer = append(pending, bp.buffer...)
		bp.mu.Unlock()
		return
	}

	log.Printf("[redis] flushed %d buffered events", len(pending))
	if bp.OnFlush != nil {
		bp.OnFlush(len(pending))
	}
}

// PendingCount returns the number of buffered events.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
