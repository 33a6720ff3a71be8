package structure

import (
	"log"
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
)

// BarSource is the read side needed for backfill.
type BarSource interface {
	ReadBars(symbol string, after time.Time) ([]model.Bar, error)
	Symbols() ([]string, error)
}

// Restorer orchestrates engine restoration on startup:
// snapshot → replay of bars stored after it → live stream.
type Restorer struct {
	cfg     chanlun.Config
	symbols []string
}

// NewRestorer creates a restorer for the given engine config and routed symbols.
func NewRestorer(cfg chanlun.Config, symbols []string) *Restorer {
	return &Restorer{cfg: cfg, symbols: symbols}
}

// RestoreFromSnap rebuilds an engine from snap. A nil snapshot cold-starts.
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) *Engine {
	if snap == nil {
		log.Println("[restorer] no snapshot found, cold starting structure engine")
		return NewEngine(r.cfg, r.symbols)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, symbols=%d)",
		snap.Version, snap.StreamID, len(snap.Symbols))
	e, cold := RestoreEngine(r.cfg, r.symbols, snap)
	if len(cold) > 0 {
		log.Printf("[restorer] %d symbols cold-started: %v", len(cold), cold)
	}
	return e
}

// ReplayBars feeds bars into the engine in order. Bars at or before a
// symbol's last accepted time are skipped, which makes replay idempotent.
// onOutcome, when set, sees every outcome. Returns the number of bars applied.
func (r *Restorer) ReplayBars(e *Engine, bars []model.Bar, onOutcome func(model.Bar, chanlun.Outcome)) int {
	count := 0
	for _, b := range bars {
		if last := e.LastTS(b.Symbol); !last.IsZero() && !b.TS.After(last) {
			continue
		}
		out, routed, err := e.Process(b)
		if !routed {
			continue
		}
		if err != nil {
			log.Printf("[restorer] %s: replay rejected bar at %s: %v", b.Symbol, b.TS.Format(time.RFC3339), err)
			continue
		}
		if onOutcome != nil {
			onOutcome(b, out)
		}
		count++
	}
	return count
}

// BackfillFromStore reads every routed symbol's bars newer than the engine's
// state and replays them. Returns the total number of bars applied.
func (r *Restorer) BackfillFromStore(e *Engine, src BarSource, onOutcome func(model.Bar, chanlun.Outcome)) int {
	if src == nil {
		return 0
	}
	symbols := r.symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = src.Symbols(); err != nil {
			log.Printf("[restorer] WARNING: failed to list stored symbols: %v", err)
			return 0
		}
	}

	total := 0
	for _, sym := range symbols {
		bars, err := src.ReadBars(sym, e.LastTS(sym))
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read bars for %s: %v", sym, err)
			continue
		}
		n := r.ReplayBars(e, bars, onOutcome)
		if n > 0 {
			log.Printf("[restorer] backfilled %d bars for %s", n, sym)
		}
		total += n
	}
	return total
}
