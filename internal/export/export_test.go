package export

import (
	"encoding/csv"
	"os"
	"testing"
	"time"

	"chanlun-engine/internal/model"

	"github.com/parquet-go/parquet-go"
)

var t0 = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func sample() ([]model.MergedBar, []model.Segment) {
	merged := []model.MergedBar{
		{Bar: model.Bar{Symbol: "AAPL", TS: t0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100}, Pivot: model.PivotDown, IsStroke: true},
		{Bar: model.Bar{Symbol: "AAPL", TS: t0.Add(time.Minute), Open: 10.5, High: 12, Low: 10, Close: 11.5, Volume: 80}},
		{Bar: model.Bar{Symbol: "AAPL", TS: t0.Add(2 * time.Minute), Open: 11.5, High: 13, Low: 11, Close: 12, Volume: 90}, Pivot: model.PivotUp, IsStroke: true},
	}
	segments := []model.Segment{{Symbol: "AAPL", Start: t0, End: t0.Add(2 * time.Minute), Direction: 1, StartPrice: 9, EndPrice: 13}}
	return merged, segments
}

func TestNewSaver(t *testing.T) {
	if NewSaver("PARQUET") == nil || NewSaver(" csv ") == nil {
		t.Error("expected savers for parquet and csv")
	}
	if NewSaver("xlsx") != nil {
		t.Error("expected nil for unsupported format")
	}
}

func TestWriteSymbol_Parquet(t *testing.T) {
	merged, segments := sample()
	p, err := WriteSymbol(ParquetSaver{}, t.TempDir(), "AAPL", merged, segments)
	if err != nil {
		t.Fatalf("WriteSymbol: %v", err)
	}

	rows, err := parquet.ReadFile[MergedRow](p.Merged)
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Pivot != "down" || !rows[0].IsStroke || rows[1].Pivot != "" {
		t.Errorf("unexpected annotations: %+v", rows)
	}
	if rows[2].TS != t0.Add(2*time.Minute).UnixMilli() {
		t.Errorf("ts = %d", rows[2].TS)
	}

	segs, err := parquet.ReadFile[SegmentRow](p.Segments)
	if err != nil {
		t.Fatalf("read segments: %v", err)
	}
	if len(segs) != 1 || segs[0].Direction != 1 || segs[0].EndPrice != 13 {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestWriteSymbol_CSV(t *testing.T) {
	merged, segments := sample()
	p, err := WriteSymbol(CSVSaver{}, t.TempDir(), "AAPL", merged, segments)
	if err != nil {
		t.Fatalf("WriteSymbol: %v", err)
	}

	f, err := os.Open(p.Merged)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(recs))
	}
	if recs[3][7] != "up" || recs[3][8] != "true" {
		t.Errorf("last row = %v", recs[3])
	}
}
