// cmd/backtest runs the structure engine over historical bars from CSV files,
// SQLite or a synthetic random walk, one symbol per worker, and prints a
// per-symbol summary.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/bars --workers=4 --export-dir=out --format=parquet
//	go run ./cmd/backtest --db=data/structure.db --symbols=AAPL,MSFT --save
//	go run ./cmd/backtest --synthetic=5000 --symbols=SYN1,SYN2 --gap=5 --trace
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"chanlun-engine/config"
	"chanlun-engine/internal/backtest"
	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/export"
	"chanlun-engine/internal/logger"
	"chanlun-engine/internal/marketdata/csvload"
	"chanlun-engine/internal/model"
	sqlitestore "chanlun-engine/internal/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "", "SQLite database to read bars from (and to write with --import/--save)")
	csvPath := flag.String("csv", "", "CSV file or directory of <SYMBOL>.csv files")
	importCSV := flag.Bool("import", false, "Write the CSV bars into --db before running")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols (default: all available)")
	synthetic := flag.Int("synthetic", 0, "Generate N random-walk bars per symbol instead of loading data")
	fromStr := flag.String("from", "", "Only use stored bars after this time (RFC3339, date or epoch)")
	gap := flag.Int("gap", chanlun.DefaultGapThreshold, "Stroke gap threshold in merged bars")
	workers := flag.Int("workers", runtime.NumCPU(), "Parallel workers")
	exportDir := flag.String("export-dir", "", "Write annotated merged bars and segments here")
	format := flag.String("format", "parquet", "Export format: parquet or csv")
	trace := flag.Bool("trace", false, "Log every stroke decision")
	save := flag.Bool("save", false, "Store annotations and stroke events in --db")
	flag.Parse()

	level := slog.LevelInfo
	if *trace {
		level = slog.LevelDebug
	}
	lg := logger.New(os.Stderr, "backtest", level, logger.Text)

	if *gap < 1 {
		log.Fatalf("[backtest] --gap must be at least 1, got %d", *gap)
	}
	var saver export.Saver
	if *exportDir != "" {
		if saver = export.NewSaver(*format); saver == nil {
			log.Fatalf("[backtest] unknown export format %q", *format)
		}
	}
	symbols := config.ParseList(*symbolsStr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var writer *sqlitestore.Writer
	if *dbPath != "" && (*importCSV || *save) {
		var err error
		if writer, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath}); err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer writer.Close()
	}

	jobs := loadJobs(ctx, *csvPath, *dbPath, *fromStr, *synthetic, symbols, *importCSV, writer)
	if len(jobs) == 0 {
		log.Fatal("[backtest] no bars to process; pass --csv, --db or --synthetic")
	}

	runner := backtest.NewRunner(chanlun.Config{GapThreshold: *gap, DecisionLog: *trace, Logger: lg}, *workers)
	runner.OnReport = func(r backtest.Report) {
		log.Printf("[backtest] %s: %d bars → %d merged, %d strokes in %s", r.Symbol, r.Bars, r.Merged, r.Strokes, r.Took.Round(time.Microsecond))
	}
	start := time.Now()
	reports := runner.Run(ctx, jobs)
	log.Printf("[backtest] %d symbols done in %s with %d workers", len(reports), time.Since(start).Round(time.Millisecond), *workers)

	if *save {
		if writer == nil {
			log.Fatal("[backtest] --save requires --db")
		}
		if err := backtest.Save(ctx, writer, reports); err != nil {
			log.Fatalf("[backtest] save failed: %v", err)
		}
		log.Printf("[backtest] annotations saved to %s", *dbPath)
	}
	if saver != nil {
		paths, err := backtest.Export(saver, *exportDir, reports)
		if err != nil {
			log.Fatalf("[backtest] export failed: %v", err)
		}
		log.Printf("[backtest] exported %d symbols to %s (%s)", len(paths), *exportDir, saver.Extension())
	}

	if err := backtest.WriteSummary(os.Stdout, reports); err != nil {
		log.Fatalf("[backtest] summary: %v", err)
	}
	if backtest.Sum(reports).Failed > 0 {
		os.Exit(1)
	}
}

// loadJobs picks the bar source: synthetic, then CSV, then SQLite.
func loadJobs(ctx context.Context, csvPath, dbPath, fromStr string, synthetic int, symbols []string, importCSV bool, writer *sqlitestore.Writer) []backtest.Job {
	if synthetic > 0 {
		if len(symbols) == 0 {
			symbols = []string{"SYN"}
		}
		return backtest.SyntheticJobs(symbols, synthetic)
	}

	if csvPath != "" {
		bars, err := csvload.Load(csvPath)
		if err != nil {
			log.Fatalf("[backtest] csv load failed: %v", err)
		}
		jobs := backtest.JobsFromMap(bars, symbols)
		if importCSV {
			if writer == nil {
				log.Fatal("[backtest] --import requires --db")
			}
			var all []model.Bar
			for _, j := range jobs {
				all = append(all, j.Bars...)
			}
			if err := writer.SaveBars(all); err != nil {
				log.Fatalf("[backtest] import failed: %v", err)
			}
			log.Printf("[backtest] imported %d bars into %s", len(all), dbPath)
		}
		return jobs
	}

	if dbPath == "" {
		return nil
	}
	var from time.Time
	if fromStr != "" {
		var err error
		if from, err = csvload.ParseTime(fromStr); err != nil {
			log.Fatalf("[backtest] invalid --from: %v", err)
		}
	}
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()
	jobs, err := backtest.JobsFromSource(ctx, reader, symbols, from)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	return jobs
}
