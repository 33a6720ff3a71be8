package model

import (
	"encoding/json"
	"time"
)

// EventKind names the stroke state transition an update produced.
type EventKind string

const (
	EventConfirmed EventKind = "confirmed"
	EventCorrected EventKind = "corrected"
	EventExtended  EventKind = "extended"
)

// PivotPoint identifies a pivot in an event payload. Index is the position of
// the pivot bar in the merged series.
type PivotPoint struct {
	Index int       `json:"index"`
	TS    time.Time `json:"ts"`
	Kind  PivotKind `json:"kind"`
	Price float64   `json:"price"`
}

// StrokeEvent is emitted whenever a new fractal changes the stroke state.
type StrokeEvent struct {
	Symbol    string      `json:"symbol"`
	TS        time.Time   `json:"ts"` // timestamp of the raw bar that triggered the event
	Kind      EventKind   `json:"kind"`
	Direction int         `json:"direction"` // +1 up, -1 down, 0 before the first stroke
	Valid     *PivotPoint `json:"valid,omitempty"`
	Candidate PivotPoint  `json:"candidate"`
	Popped    int         `json:"popped,omitempty"` // effective entries removed by a correction
}

// StreamKey returns the Redis stream key: "stroke:{symbol}".
func (e *StrokeEvent) StreamKey() string {
	return "stroke:" + e.Symbol
}

// LatestKey returns the key holding the most recent event for the symbol.
func (e *StrokeEvent) LatestKey() string {
	return "stroke:latest:" + e.Symbol
}

// PubSubChannel returns the channel live subscribers listen on.
func (e *StrokeEvent) PubSubChannel() string {
	return "pub:stroke:" + e.Symbol
}

// JSON returns the JSON-encoded event.
func (e *StrokeEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
