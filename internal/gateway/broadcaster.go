package gateway

import (
	"strconv"
	"time"

	"chanlun-engine/internal/model"
)

// Envelope types.
const (
	TypeStroke = "stroke"
	TypeReset  = "reset"
)

// BroadcastEvent sends a stroke event to every client subscribed to its symbol.
func (h *Hub) BroadcastEvent(ev model.StrokeEvent) {
	h.broadcast(TypeStroke, ev.Symbol, ev.JSON())
}

// BroadcastReset tells clients a symbol's structure was reinitialized.
func (h *Hub) BroadcastReset(symbol string) {
	h.broadcast(TypeReset, symbol, []byte("null"))
}

// broadcast builds the envelope
//
//	{"type":..,"symbol":..,"data":..,"ts":..,"seq":N,"symbol_seq":M}
//
// by hand, records it for replay and queues it on matching clients. Slow
// clients miss messages rather than block the hub.
func (h *Hub) broadcast(kind, symbol string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.symbolSeqs[symbol]++
	symSeq := h.symbolSeqs[symbol]

	buf := make([]byte, 0, len(symbol)+len(data)+128)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","symbol":`...)
	buf = strconv.AppendQuote(buf, symbol)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"symbol_seq":`...)
	buf = strconv.AppendInt(buf, symSeq, 10)
	buf = append(buf, '}')

	h.latest[symbol] = latestEntry{Envelope: buf, TS: now}
	rb, ok := h.replayBufs[symbol]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replayBufs[symbol] = rb
	}
	h.mu.Unlock()
	rb.Push(symSeq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- buf:
		default:
		}
	}
}
