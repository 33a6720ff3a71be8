package chanlun

import (
	"testing"
	"time"

	"chanlun-engine/internal/model"
)

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

// levelBars builds one bar per level with range [level-0.5, level+0.5].
// Adjacent levels at least 1 apart never contain each other.
func levelBars(levels ...float64) []model.Bar {
	out := make([]model.Bar, len(levels))
	for i, l := range levels {
		out[i] = model.Bar{
			Symbol: "TEST",
			TS:     t0.Add(time.Duration(i) * time.Minute),
			Open:   l, High: l + 0.5, Low: l - 0.5, Close: l,
			Volume: 100,
		}
	}
	return out
}

func bar(i int, high, low float64) model.Bar {
	return model.Bar{
		Symbol: "TEST",
		TS:     t0.Add(time.Duration(i) * time.Minute),
		Open:   low, High: high, Low: low, Close: high,
		Volume: float64(10 * (i + 1)),
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine("TEST", Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// feed runs bars through e and returns every event. Any error fails the test.
func feed(t *testing.T, e *Engine, bars []model.Bar) []model.StrokeEvent {
	t.Helper()
	var events []model.StrokeEvent
	for i, b := range bars {
		ev, err := e.Update(b)
		if err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func countKind(events []model.StrokeEvent, kind model.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func strokePositions(merged []model.MergedBar) []int {
	var out []int
	for i, m := range merged {
		if m.IsStroke {
			out = append(out, i)
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
