// Package structure runs one chanlun engine per symbol behind a single
// routing engine, with snapshot and restore for the live service.
package structure

import (
	"context"
	"log"
	"sort"
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
)

// Engine routes bars to per-symbol chanlun engines.
// Designed for single-goroutine usage; callers that share it must lock.
type Engine struct {
	cfg     chanlun.Config
	allowed map[string]bool // nil accepts any symbol
	engines map[string]*chanlun.Engine
}

// NewEngine creates a router. An empty symbols list accepts any symbol.
func NewEngine(cfg chanlun.Config, symbols []string) *Engine {
	e := &Engine{cfg: cfg, engines: make(map[string]*chanlun.Engine, len(symbols))}
	if len(symbols) > 0 {
		e.allowed = make(map[string]bool, len(symbols))
		for _, s := range symbols {
			e.allowed[s] = true
		}
	}
	return e
}

// Config returns the per-symbol engine config.
func (e *Engine) Config() chanlun.Config { return e.cfg }

// Accepts reports whether bars for symbol are routed.
func (e *Engine) Accepts(symbol string) bool {
	return symbol != "" && (e.allowed == nil || e.allowed[symbol])
}

// Process feeds one bar to its symbol's engine, creating it on first sight.
// Bars for unrouted symbols return ok=false and no error.
func (e *Engine) Process(bar model.Bar) (out chanlun.Outcome, ok bool, err error) {
	if !e.Accepts(bar.Symbol) {
		return chanlun.Outcome{}, false, nil
	}
	se, err := e.engine(bar.Symbol)
	if err != nil {
		return chanlun.Outcome{}, true, err
	}
	out, err = se.Step(bar)
	return out, true, err
}

func (e *Engine) engine(symbol string) (*chanlun.Engine, error) {
	if se, ok := e.engines[symbol]; ok {
		return se, nil
	}
	se, err := chanlun.NewEngine(symbol, e.cfg)
	if err != nil {
		return nil, err
	}
	e.engines[symbol] = se
	return se, nil
}

// Run consumes bars and emits stroke events. Rejected bars are logged and
// skipped. Blocks until ctx is done or barCh is closed.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar, eventCh chan<- model.StrokeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			out, routed, err := e.Process(bar)
			if err != nil {
				log.Printf("[structure] %s: rejected bar at %s: %v", bar.Symbol, bar.TS.Format(time.RFC3339), err)
				continue
			}
			if !routed || out.Event == nil {
				continue
			}
			select {
			case eventCh <- *out.Event:
			default:
				// drop if channel full
			}
		}
	}
}

// Get returns the engine for symbol, if it has seen any bar.
func (e *Engine) Get(symbol string) (*chanlun.Engine, bool) {
	se, ok := e.engines[symbol]
	return se, ok
}

// Symbols returns the symbols with live engines, sorted.
func (e *Engine) Symbols() []string {
	out := make([]string, 0, len(e.engines))
	for s := range e.engines {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Reset clears one symbol's state. Reports whether the symbol was known.
func (e *Engine) Reset(symbol string) bool {
	se, ok := e.engines[symbol]
	if ok {
		se.Reset()
	}
	return ok
}

// LastTS returns the last accepted bar time for symbol, zero if unknown.
func (e *Engine) LastTS(symbol string) time.Time {
	if se, ok := e.engines[symbol]; ok {
		return se.LastTS()
	}
	return time.Time{}
}
