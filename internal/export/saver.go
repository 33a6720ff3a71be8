// Package export writes annotated merged series and segments to disk as
// Parquet or CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chanlun-engine/internal/model"

	"github.com/parquet-go/parquet-go"
)

// Saver writes one symbol's structure in a given format.
type Saver interface {
	SaveMerged(rows []MergedRow, path string) error
	SaveSegments(rows []SegmentRow, path string) error
	Extension() string
}

// NewSaver returns the saver for format (parquet or csv), or nil.
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "parquet":
		return ParquetSaver{}
	case "csv":
		return CSVSaver{}
	default:
		return nil
	}
}

// ParquetSaver writes Parquet files.
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) SaveMerged(rows []MergedRow, path string) error {
	return parquet.WriteFile(path, rows)
}

func (ParquetSaver) SaveSegments(rows []SegmentRow, path string) error {
	return parquet.WriteFile(path, rows)
}

// CSVSaver writes CSV files with a header row.
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) SaveMerged(rows []MergedRow, path string) error {
	return writeCSV(path,
		[]string{"symbol", "ts", "open", "high", "low", "close", "volume", "pivot", "is_stroke"},
		len(rows), func(i int) []string {
			r := rows[i]
			return []string{
				r.Symbol, strconv.FormatInt(r.TS, 10),
				floatStr(r.Open), floatStr(r.High), floatStr(r.Low), floatStr(r.Close), floatStr(r.Volume),
				r.Pivot, strconv.FormatBool(r.IsStroke),
			}
		})
}

func (CSVSaver) SaveSegments(rows []SegmentRow, path string) error {
	return writeCSV(path,
		[]string{"symbol", "start", "end", "direction", "start_price", "end_price"},
		len(rows), func(i int) []string {
			r := rows[i]
			return []string{
				r.Symbol, strconv.FormatInt(r.Start, 10), strconv.FormatInt(r.End, 10),
				strconv.Itoa(int(r.Direction)), floatStr(r.StartPrice), floatStr(r.EndPrice),
			}
		})
}

func writeCSV(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Paths names the files written for one symbol.
type Paths struct {
	Merged   string
	Segments string
}

// WriteSymbol writes {dir}/{symbol}_merged.{ext} and {dir}/{symbol}_segments.{ext}.
func WriteSymbol(s Saver, dir, symbol string, merged []model.MergedBar, segments []model.Segment) (Paths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, err
	}
	p := Paths{
		Merged:   filepath.Join(dir, symbol+"_merged."+s.Extension()),
		Segments: filepath.Join(dir, symbol+"_segments."+s.Extension()),
	}
	if err := s.SaveMerged(MergedRows(merged), p.Merged); err != nil {
		return p, fmt.Errorf("export merged %s: %w", symbol, err)
	}
	if err := s.SaveSegments(SegmentRows(segments), p.Segments); err != nil {
		return p, fmt.Errorf("export segments %s: %w", symbol, err)
	}
	return p, nil
}
