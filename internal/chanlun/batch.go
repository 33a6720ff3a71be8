package chanlun

import (
	"fmt"

	"chanlun-engine/internal/model"
)

// Result is the full structure of a bar series.
type Result struct {
	Symbol   string
	Merged   []model.MergedBar
	Segments []model.Segment
	Events   []model.StrokeEvent
	State    StrokeState
}

// Process runs bars through a fresh engine. Batch and incremental modes share
// one implementation, so their labels agree by construction. On error the
// result holds everything computed before the failing bar.
func Process(symbol string, bars []model.Bar, cfg Config) (Result, error) {
	e, err := NewEngine(symbol, cfg)
	if err != nil {
		return Result{}, err
	}
	var events []model.StrokeEvent
	for i, b := range bars {
		ev, err := e.Update(b)
		if err != nil {
			return e.result(events), fmt.Errorf("bar %d: %w", i, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return e.result(events), nil
}

func (e *Engine) result(events []model.StrokeEvent) Result {
	return Result{
		Symbol:   e.symbol,
		Merged:   e.Merged(),
		Segments: e.Segments(),
		Events:   events,
		State:    e.State(),
	}
}
