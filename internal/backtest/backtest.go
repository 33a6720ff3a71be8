// Package backtest runs the structure engine over many symbols in parallel,
// one fresh engine per job.
package backtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
)

// Job is one symbol's bar series.
type Job struct {
	Symbol string
	Bars   []model.Bar
}

// Report summarizes one job. Result holds whatever was computed before an
// error, so a failed job still exports its partial structure.
type Report struct {
	Symbol   string
	Bars     int
	Merged   int
	Pivots   int
	Strokes  int
	Segments int
	Events   map[model.EventKind]int
	Took     time.Duration
	Err      error
	Result   chanlun.Result
}

// Runner fans jobs out to a fixed pool of workers.
type Runner struct {
	cfg     chanlun.Config
	workers int

	// OnReport, when set, is called from worker goroutines as each job finishes.
	OnReport func(Report)
}

// NewRunner creates a runner. workers < 1 runs one worker.
func NewRunner(cfg chanlun.Config, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{cfg: cfg, workers: workers}
}

// Run processes every job and returns the reports sorted by symbol. Jobs not
// started before ctx is cancelled report ctx.Err().
func (r *Runner) Run(ctx context.Context, jobs []Job) []Report {
	pending := make(chan Job, len(jobs))
	for _, j := range jobs {
		pending <- j
	}
	close(pending)

	results := make(chan Report, len(jobs))
	var wg sync.WaitGroup
	wg.Add(r.workers)
	for i := 0; i < r.workers; i++ {
		go func() {
			defer wg.Done()
			for job := range pending {
				var rep Report
				if err := ctx.Err(); err != nil {
					rep = Report{Symbol: job.Symbol, Bars: len(job.Bars), Err: err}
				} else {
					rep = r.runOne(job)
				}
				if r.OnReport != nil {
					r.OnReport(rep)
				}
				results <- rep
			}
		}()
	}
	wg.Wait()
	close(results)

	reports := make([]Report, 0, len(jobs))
	for rep := range results {
		reports = append(reports, rep)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Symbol < reports[j].Symbol })
	return reports
}

func (r *Runner) runOne(job Job) Report {
	start := time.Now()
	res, err := chanlun.Process(job.Symbol, job.Bars, r.cfg)
	rep := Report{
		Symbol:   job.Symbol,
		Bars:     len(job.Bars),
		Merged:   len(res.Merged),
		Segments: len(res.Segments),
		Events:   make(map[model.EventKind]int),
		Took:     time.Since(start),
		Err:      err,
		Result:   res,
	}
	for _, m := range res.Merged {
		if m.Pivot != model.PivotNone {
			rep.Pivots++
		}
		if m.IsStroke {
			rep.Strokes++
		}
	}
	for _, ev := range res.Events {
		rep.Events[ev.Kind]++
	}
	if err != nil {
		log.Printf("[backtest] %s: %v", job.Symbol, err)
	}
	return rep
}

// Totals sums the counters of reports. Failed counts reports with an error.
type Totals struct {
	Symbols  int
	Failed   int
	Bars     int
	Merged   int
	Strokes  int
	Segments int
}

// Sum aggregates reports.
func Sum(reports []Report) Totals {
	var t Totals
	for _, r := range reports {
		t.Symbols++
		if r.Err != nil {
			t.Failed++
		}
		t.Bars += r.Bars
		t.Merged += r.Merged
		t.Strokes += r.Strokes
		t.Segments += r.Segments
	}
	return t
}

// WriteSummary prints one aligned row per report followed by the totals.
func WriteSummary(w io.Writer, reports []Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tBARS\tMERGED\tPIVOTS\tSTROKES\tSEGMENTS\tCONFIRMED\tCORRECTED\tTOOK\tERROR")
	for _, r := range reports {
		errStr := "-"
		if r.Err != nil {
			errStr = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Symbol, r.Bars, r.Merged, r.Pivots, r.Strokes, r.Segments,
			r.Events[model.EventConfirmed], r.Events[model.EventCorrected],
			r.Took.Round(time.Microsecond), errStr)
	}
	t := Sum(reports)
	fmt.Fprintf(tw, "TOTAL (%d, %d failed)\t%d\t%d\t\t%d\t%d\t\t\t\t\n",
		t.Symbols, t.Failed, t.Bars, t.Merged, t.Strokes, t.Segments)
	return tw.Flush()
}
