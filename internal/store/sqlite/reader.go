package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"chanlun-engine/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read access for backfill, backtests and the query API.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created if
// missing so a fresh path reads as empty rather than failing.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars returns bars for symbol with TS strictly after `after`, ascending.
// A zero `after` reads everything.
func (r *Reader) ReadBars(symbol string, after time.Time) ([]model.Bar, error) {
	afterMs := int64(-1 << 62)
	if !after.IsZero() {
		afterMs = after.UnixMilli()
	}
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsMs int64
		var vol sql.NullFloat64
		if err := rows.Scan(&b.Symbol, &tsMs, &b.Open, &b.High, &b.Low, &b.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(tsMs).UTC()
		b.Volume = vol.Float64
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists every symbol with stored bars, sorted.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadMerged returns the stored merged series for symbol in order.
func (r *Reader) ReadMerged(symbol string) ([]model.MergedBar, error) {
	rows, err := r.db.Query(`
		SELECT ts, open, high, low, close, volume, pivot, is_stroke
		FROM merged_bars WHERE symbol = ? ORDER BY seq ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query merged_bars: %w", err)
	}
	defer rows.Close()

	var out []model.MergedBar
	for rows.Next() {
		m := model.MergedBar{Bar: model.Bar{Symbol: symbol}}
		var tsMs int64
		var vol sql.NullFloat64
		var pivot string
		if err := rows.Scan(&tsMs, &m.Open, &m.High, &m.Low, &m.Close, &vol, &pivot, &m.IsStroke); err != nil {
			return nil, fmt.Errorf("sqlite scan merged_bars: %w", err)
		}
		if m.Pivot, err = model.ParsePivotKind(pivot); err != nil {
			return nil, err
		}
		m.TS = time.UnixMilli(tsMs).UTC()
		m.Volume = vol.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReadSegments returns the stored segments for symbol in order.
func (r *Reader) ReadSegments(symbol string) ([]model.Segment, error) {
	rows, err := r.db.Query(`
		SELECT start_ts, end_ts, direction, start_price, end_price
		FROM segments WHERE symbol = ? ORDER BY seq ASC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("sqlite query segments: %w", err)
	}
	defer rows.Close()

	var out []model.Segment
	for rows.Next() {
		s := model.Segment{Symbol: symbol}
		var startMs, endMs int64
		if err := rows.Scan(&startMs, &endMs, &s.Direction, &s.StartPrice, &s.EndPrice); err != nil {
			return nil, fmt.Errorf("sqlite scan segments: %w", err)
		}
		s.Start = time.UnixMilli(startMs).UTC()
		s.End = time.UnixMilli(endMs).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadEvents returns up to limit of the newest stroke events for symbol,
// oldest first.
func (r *Reader) ReadEvents(symbol string, limit int) ([]model.StrokeEvent, error) {
	rows, err := r.db.Query(`
		SELECT data FROM (
			SELECT id, data FROM stroke_events WHERE symbol = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query stroke_events: %w", err)
	}
	defer rows.Close()

	var out []model.StrokeEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var ev model.StrokeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal stroke event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReadLatestSnapshotJSON loads the newest engine snapshot. Returns nil, nil
// if none exists.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return latestSnapshot(r.db)
}

func latestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM engine_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
