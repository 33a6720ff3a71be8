package chanlun

import (
	"math"

	"chanlun-engine/internal/model"
)

// ValidateBar checks the structural sanity of a raw bar. It does not look at
// ordering; that is the engine's job.
func ValidateBar(b model.Bar) error {
	if b.TS.IsZero() {
		return &MalformedBarError{Bar: b, Field: "ts", Reason: "is zero"}
	}
	fields := [...]struct {
		name string
		v    float64
	}{
		{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}, {"volume", b.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &MalformedBarError{Bar: b, Field: f.name, Reason: "is not finite"}
		}
	}
	if b.High < b.Low {
		return &MalformedBarError{Bar: b, Field: "high", Reason: "below low"}
	}
	if b.High < math.Max(b.Open, b.Close) {
		return &MalformedBarError{Bar: b, Field: "high", Reason: "below open/close"}
	}
	if b.Low > math.Min(b.Open, b.Close) {
		return &MalformedBarError{Bar: b, Field: "low", Reason: "above open/close"}
	}
	return nil
}
