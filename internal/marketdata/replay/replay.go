// Package replay re-emits stored bars in timestamp order at a configurable
// speed, for demos and for exercising the live path offline.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"chanlun-engine/internal/model"
)

// Source is where bars are replayed from (SQLite reader, cached source, ...).
type Source interface {
	ReadBars(symbol string, after time.Time) ([]model.Bar, error)
	Symbols() ([]string, error)
}

// maxGap caps the sleep between two bars.
const maxGap = 5 * time.Second

// Replayer reads bars from a Source and replays them.
type Replayer struct {
	src Source
}

// New creates a Replayer.
func New(src Source) *Replayer {
	return &Replayer{src: src}
}

// Run replays bars for symbols (all stored symbols when empty) newer than
// from, merged into one timestamp-ordered sequence. speed 1.0 is real time,
// 10.0 ten times faster, 0 as fast as possible. Returns the number of bars
// emitted.
func (r *Replayer) Run(ctx context.Context, symbols []string, from time.Time, speed float64, out chan<- model.Bar) (int, error) {
	if len(symbols) == 0 {
		var err error
		if symbols, err = r.src.Symbols(); err != nil {
			return 0, err
		}
	}

	var all []model.Bar
	for _, sym := range symbols {
		bars, err := r.src.ReadBars(sym, from)
		if err != nil {
			return 0, err
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		log.Println("[replay] no bars found")
		return 0, nil
	}

	// Stable so each symbol keeps its stored order on equal timestamps.
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(all), len(symbols), speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range all {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(min(time.Duration(float64(gap)/speed), maxGap)):
				}
			}
		}
		prevTS = b.TS

		select {
		case out <- b:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
