package structengine

import (
	"sync"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
	"chanlun-engine/internal/structure"
)

// lockedEngine shares the routing engine between the process loop, the
// snapshot loop and the HTTP handlers.
type lockedEngine struct {
	mu sync.Mutex
	e  *structure.Engine

	onReset func(symbol string) // called after a successful Reset
}

func (l *lockedEngine) Process(bar model.Bar) (chanlun.Outcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.Process(bar)
}

func (l *lockedEngine) View(symbol string, withSeries bool) (structure.View, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.View(symbol, withSeries)
}

func (l *lockedEngine) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.e.Symbols()
}

func (l *lockedEngine) Reset(symbol string) bool {
	l.mu.Lock()
	ok := l.e.Reset(symbol)
	l.mu.Unlock()
	if ok && l.onReset != nil {
		l.onReset(symbol)
	}
	return ok
}

func (l *lockedEngine) Snapshot(streamID string) *structure.EngineSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return structure.SnapshotEngine(l.e, streamID)
}

// symbolStructure is one symbol's annotated series, copied out for storage.
type symbolStructure struct {
	symbol   string
	merged   []model.MergedBar
	segments []model.Segment
}

func (l *lockedEngine) Structures() []symbolStructure {
	l.mu.Lock()
	defer l.mu.Unlock()
	syms := l.e.Symbols()
	out := make([]symbolStructure, 0, len(syms))
	for _, s := range syms {
		se, _ := l.e.Get(s)
		out = append(out, symbolStructure{symbol: s, merged: se.Merged(), segments: se.Segments()})
	}
	return out
}
