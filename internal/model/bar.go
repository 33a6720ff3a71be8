package model

import (
	"encoding/json"
	"time"
)

// Bar is one raw OHLCV observation for a single instrument.
// Prices are plain float64; the structure engine never does arithmetic on them,
// only comparisons, so there is no drift to guard against.
type Bar struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar open time, strictly increasing per symbol
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key returns the instrument key the bar is routed by.
func (b *Bar) Key() string {
	return b.Symbol
}

// StreamKey returns the Redis stream key the bar is published on: "bar:{symbol}".
func (b *Bar) StreamKey() string {
	return BarStreamKey(b.Symbol)
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// BarStreamKey returns "bar:{symbol}".
func BarStreamKey(symbol string) string {
	return "bar:" + symbol
}

// SymbolFromBarStream is the inverse of BarStreamKey. ok is false for other keys.
func SymbolFromBarStream(key string) (string, bool) {
	const prefix = "bar:"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", false
	}
	return key[len(prefix):], true
}
