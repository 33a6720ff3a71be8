package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"chanlun-engine/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/structure.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS merged_bars (
			symbol    TEXT    NOT NULL,
			seq       INTEGER NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			pivot     TEXT    NOT NULL DEFAULT '',
			is_stroke INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, seq)
		);

		CREATE TABLE IF NOT EXISTS segments (
			symbol      TEXT    NOT NULL,
			seq         INTEGER NOT NULL,
			start_ts    INTEGER NOT NULL,
			end_ts      INTEGER NOT NULL,
			direction   INTEGER NOT NULL,
			start_price REAL    NOT NULL,
			end_price   REAL    NOT NULL,
			PRIMARY KEY (symbol, seq)
		);

		CREATE TABLE IF NOT EXISTS stroke_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			kind      TEXT    NOT NULL,
			direction INTEGER NOT NULL,
			data      TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stroke_events_symbol ON stroke_events (symbol, id);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// RunBars reads bars from barCh and inserts them in batched transactions.
// Flushes every batch size bars or every flush delay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) RunBars(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.SaveBars(batch); err != nil {
			log.Printf("[sqlite] bar batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case b, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, b)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveBars upserts bars in a single transaction.
func (w *Writer) SaveBars(bars []model.Bar) error {
	return w.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, b := range bars {
			if _, err := stmt.Exec(b.Symbol, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveStructure replaces the merged series and segments stored for symbol.
func (w *Writer) SaveStructure(ctx context.Context, symbol string, merged []model.MergedBar, segments []model.Segment) error {
	return w.inTxContext(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM merged_bars WHERE symbol = ?`, symbol); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE symbol = ?`, symbol); err != nil {
			return err
		}

		mstmt, err := tx.PrepareContext(ctx, `
			INSERT INTO merged_bars (symbol, seq, ts, open, high, low, close, volume, pivot, is_stroke)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer mstmt.Close()
		for i, m := range merged {
			if _, err := mstmt.ExecContext(ctx, symbol, i, m.TS.UnixMilli(), m.Open, m.High, m.Low, m.Close, m.Volume,
				m.Pivot.String(), m.IsStroke); err != nil {
				return err
			}
		}

		sstmt, err := tx.PrepareContext(ctx, `
			INSERT INTO segments (symbol, seq, start_ts, end_ts, direction, start_price, end_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer sstmt.Close()
		for i, s := range segments {
			if _, err := sstmt.ExecContext(ctx, symbol, i, s.Start.UnixMilli(), s.End.UnixMilli(), s.Direction,
				s.StartPrice, s.EndPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteEventBatch appends stroke events in one transaction.
func (w *Writer) WriteEventBatch(ctx context.Context, events []model.StrokeEvent) error {
	if len(events) == 0 {
		return nil
	}
	return w.inTxContext(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stroke_events (symbol, ts, kind, direction, data) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := range events {
			ev := &events[i]
			if _, err := stmt.ExecContext(ctx, ev.Symbol, ev.TS.UnixMilli(), string(ev.Kind), ev.Direction, string(ev.JSON())); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunEvents batches stroke events from eventCh into the database the same
// way RunBars does for bars.
func (w *Writer) RunEvents(ctx context.Context, eventCh <-chan model.StrokeEvent) {
	batch := make([]model.StrokeEvent, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// ctx may already be done here; the final flush must still land.
		if err := w.WriteEventBatch(context.Background(), batch); err != nil {
			log.Printf("[sqlite] event batch insert error (%d events): %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// SaveSnapshotJSON stores an engine snapshot and prunes all but the newest few.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO engine_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}
	_, err := w.db.Exec(`DELETE FROM engine_snapshots WHERE id NOT IN (SELECT id FROM engine_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil, nil if none.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(w.db)
}

// LastBarTime returns the newest stored bar time for symbol, zero if none.
func (w *Writer) LastBarTime(symbol string) (time.Time, error) {
	var ts sql.NullInt64
	if err := w.db.QueryRow(`SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

func (w *Writer) inTx(fn func(tx *sql.Tx) error) error {
	return w.inTxContext(context.Background(), fn)
}

func (w *Writer) inTxContext(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
