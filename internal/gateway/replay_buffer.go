package gateway

import "sync"

// replayEntry is one broadcast envelope kept for gap backfill.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent envelopes of one symbol, oldest evicted
// first. Safe for concurrent use.
type ReplayBuffer struct {
	mu    sync.RWMutex
	buf   []replayEntry
	head  int // index of the oldest entry
	count int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends a copy of data under seq.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	e := replayEntry{Seq: seq, Data: append([]byte(nil), data...)}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.count < len(rb.buf) {
		rb.buf[(rb.head+rb.count)%len(rb.buf)] = e
		rb.count++
		return
	}
	rb.buf[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.buf)
}

// Range returns entries with fromSeq <= seq <= toSeq, oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := 0; i < rb.count; i++ {
		e := rb.buf[(rb.head+i)%len(rb.buf)]
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}
