// Package gateway serves stroke events to WebSocket clients and exposes the
// structure of each symbol over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"chanlun-engine/internal/model"

	"github.com/gorilla/websocket"
)

// Hub tracks WebSocket clients and fans stroke events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // by symbol
	seq     int64

	// Per-symbol sequence numbers for client gap detection.
	symbolSeqs map[string]int64
	replayBufs map[string]*ReplayBuffer

	replaySize int
}

type latestEntry struct {
	Envelope []byte
	TS       time.Time
}

// NewHub creates a Hub keeping replaySize envelopes per symbol for backfill.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = 500
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		latest:     make(map[string]latestEntry),
		symbolSeqs: make(map[string]int64),
		replayBufs: make(map[string]*ReplayBuffer),
		replaySize: replaySize,
	}
}

// Run broadcasts every event from ch until ctx is done or ch closes.
func (h *Hub) Run(ctx context.Context, ch <-chan model.StrokeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.BroadcastEvent(ev)
		}
	}
}

// HandleWSRequest registers an upgraded connection. symbols limits delivery
// (empty means all). Latest envelopes newer than lastTS are sent first.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, symbols []string, lastTS string) *Client {
	client := newClient(h, conn, symbols)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(lastTS)
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last envelope per symbol.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for sym, e := range h.latest {
		out[sym] = e.Envelope
	}
	return out
}

// ReplayRange returns buffered envelopes for symbol with symbol_seq in
// [fromSeq, toSeq].
func (h *Hub) ReplayRange(symbol string, fromSeq, toSeq int64) []json.RawMessage {
	h.mu.RLock()
	rb := h.replayBufs[symbol]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// SymbolSeq returns the current sequence number for symbol.
func (h *Hub) SymbolSeq(symbol string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.symbolSeqs[symbol]
}
