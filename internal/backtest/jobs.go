package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chanlun-engine/internal/export"
	"chanlun-engine/internal/marketdata/replay"
	"chanlun-engine/internal/marketdata/synth"
	"chanlun-engine/internal/model"
)

// JobsFromMap turns bars grouped by symbol into jobs, keeping only symbols
// when it is non-empty.
func JobsFromMap(bars map[string][]model.Bar, symbols []string) []Job {
	keep := map[string]bool{}
	for _, s := range symbols {
		keep[s] = true
	}
	var jobs []Job
	for sym, bs := range bars {
		if len(keep) > 0 && !keep[sym] {
			continue
		}
		jobs = append(jobs, Job{Symbol: sym, Bars: bs})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Symbol < jobs[j].Symbol })
	return jobs
}

// JobsFromSource replays stored bars newer than from at full speed and
// splits them per symbol.
func JobsFromSource(ctx context.Context, src replay.Source, symbols []string, from time.Time) ([]Job, error) {
	out := make(chan model.Bar, 1024)
	errCh := make(chan error, 1)
	go func() {
		_, err := replay.New(src).Run(ctx, symbols, from, 0, out)
		close(out)
		errCh <- err
	}()

	grouped := map[string][]model.Bar{}
	for b := range out {
		grouped[b.Symbol] = append(grouped[b.Symbol], b)
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return JobsFromMap(grouped, nil), nil
}

// SyntheticJobs generates n random-walk bars per symbol, seeded by position.
func SyntheticJobs(symbols []string, n int) []Job {
	jobs := make([]Job, len(symbols))
	for i, s := range symbols {
		jobs[i] = Job{Symbol: s, Bars: synth.Generate(synth.Params{Symbol: s, Bars: n, Seed: int64(i + 1)})}
	}
	return jobs
}

// Save stores each report's annotated series, segments and events.
func Save(ctx context.Context, w model.StructureWriter, reports []Report) error {
	for _, r := range reports {
		if err := w.SaveStructure(ctx, r.Symbol, r.Result.Merged, r.Result.Segments); err != nil {
			return fmt.Errorf("%s: %w", r.Symbol, err)
		}
		if len(r.Result.Events) == 0 {
			continue
		}
		if err := w.WriteEventBatch(ctx, r.Result.Events); err != nil {
			return fmt.Errorf("%s: %w", r.Symbol, err)
		}
	}
	return nil
}

// Export writes every report's structure to dir with s.
func Export(s export.Saver, dir string, reports []Report) ([]export.Paths, error) {
	paths := make([]export.Paths, 0, len(reports))
	for _, r := range reports {
		p, err := export.WriteSymbol(s, dir, r.Symbol, r.Result.Merged, r.Result.Segments)
		if err != nil {
			return paths, fmt.Errorf("%s: %w", r.Symbol, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
