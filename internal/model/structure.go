package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// PivotKind labels a merged bar as the middle of a top or bottom fractal.
type PivotKind int8

const (
	PivotNone PivotKind = iota
	PivotUp             // top fractal
	PivotDown           // bottom fractal
)

func (k PivotKind) String() string {
	switch k {
	case PivotUp:
		return "up"
	case PivotDown:
		return "down"
	}
	return ""
}

// Opposite returns the other fractal kind. PivotNone maps to itself.
func (k PivotKind) Opposite() PivotKind {
	switch k {
	case PivotUp:
		return PivotDown
	case PivotDown:
		return PivotUp
	}
	return PivotNone
}

// Direction returns +1 for a top and -1 for a bottom.
func (k PivotKind) Direction() int {
	switch k {
	case PivotUp:
		return 1
	case PivotDown:
		return -1
	}
	return 0
}

// MarshalText encodes the kind as "up", "down" or "".
func (k PivotKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the forms produced by MarshalText.
func (k *PivotKind) UnmarshalText(b []byte) error {
	p, err := ParsePivotKind(string(b))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// ParsePivotKind parses "up", "down" or "" (none).
func ParsePivotKind(s string) (PivotKind, error) {
	switch s {
	case "up":
		return PivotUp, nil
	case "down":
		return PivotDown, nil
	case "":
		return PivotNone, nil
	}
	return PivotNone, fmt.Errorf("unknown pivot kind %q", s)
}

// MergedBar is a bar after containment merging, plus the labels the engine
// assigns to it.
type MergedBar struct {
	Bar
	Pivot    PivotKind `json:"pivot,omitempty"`
	IsStroke bool      `json:"is_stroke"`
}

// Extreme returns the price a pivot is measured at: High for tops, Low for bottoms.
func (m *MergedBar) Extreme() float64 {
	if m.Pivot == PivotDown {
		return m.Low
	}
	return m.High
}

// Segment is a higher-order move spanning several strokes.
// Direction is +1 for an up segment and -1 for a down segment.
type Segment struct {
	Symbol     string    `json:"symbol"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Direction  int       `json:"direction"`
	StartPrice float64   `json:"start_price"`
	EndPrice   float64   `json:"end_price"`
}

// JSON returns the JSON-encoded segment.
func (s *Segment) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
