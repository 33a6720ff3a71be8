// Package csvload reads OHLCV bars from CSV files.
//
// The first row must be a header. Columns are matched by name, case
// insensitively: a time column (ts, time, date, datetime or timestamp), open,
// high, low, close, and optionally volume and symbol. Times may be RFC 3339,
// "2006-01-02 15:04:05", "2006-01-02", or a unix epoch in seconds or
// milliseconds. Rows are returned in file order; ordering is the engine's
// concern.
package csvload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"chanlun-engine/internal/model"
)

var timeColumns = []string{"ts", "time", "date", "datetime", "timestamp"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type columns struct {
	ts, open, high, low, close, volume, symbol int
}

func parseHeader(header []string) (columns, error) {
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(names ...string) int {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i
			}
		}
		return -1
	}

	c := columns{
		ts:     get(timeColumns...),
		open:   get("open", "o"),
		high:   get("high", "h"),
		low:    get("low", "l"),
		close:  get("close", "c"),
		volume: get("volume", "vol", "v"),
		symbol: get("symbol", "ticker"),
	}
	for name, i := range map[string]int{"time": c.ts, "open": c.open, "high": c.high, "low": c.low, "close": c.close} {
		if i < 0 {
			return c, fmt.Errorf("csv header missing %s column", name)
		}
	}
	return c, nil
}

// Read parses bars from r. symbol fills rows without a symbol column value.
func Read(r io.Reader, symbol string) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bars, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		b, err := parseRow(rec, cols, symbol)
		if err != nil {
			return bars, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRow(rec []string, c columns, symbol string) (model.Bar, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var b model.Bar
	var err error
	if b.TS, err = ParseTime(field(c.ts)); err != nil {
		return b, err
	}
	prices := []struct {
		name string
		col  int
		dst  *float64
	}{
		{"open", c.open, &b.Open},
		{"high", c.high, &b.High},
		{"low", c.low, &b.Low},
		{"close", c.close, &b.Close},
	}
	for _, p := range prices {
		if *p.dst, err = strconv.ParseFloat(field(p.col), 64); err != nil {
			return b, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if v := field(c.volume); v != "" {
		if b.Volume, err = strconv.ParseFloat(v, 64); err != nil {
			return b, fmt.Errorf("volume: %w", err)
		}
	}
	b.Symbol = field(c.symbol)
	if b.Symbol == "" {
		b.Symbol = symbol
	}
	return b, nil
}

// ParseTime accepts the layouts listed in the package doc. Numeric values of
// 1e11 or more are read as milliseconds.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// LoadFile reads one file. The symbol defaults to the file name without its
// extension, e.g. AAPL.csv → AAPL.
func LoadFile(path string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bars, err := Read(f, SymbolFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// SymbolFromPath returns the base file name without extension.
func SymbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Load reads path, which may be a single file or a directory of *.csv files.
// Bars are grouped by symbol.
func Load(path string) (map[string][]model.Bar, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = filepath.Glob(filepath.Join(path, "*.csv")); err != nil {
			return nil, err
		}
		sort.Strings(files)
	}

	out := map[string][]model.Bar{}
	for _, f := range files {
		bars, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			out[b.Symbol] = append(out[b.Symbol], b)
		}
	}
	return out, nil
}
