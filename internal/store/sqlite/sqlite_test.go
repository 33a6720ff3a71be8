package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"chanlun-engine/internal/model"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "structure.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

func testBars(symbol string, n int) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Bar{
			Symbol: symbol, TS: t0.Add(time.Duration(i) * time.Minute),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: float64(i),
		}
	}
	return out
}

func TestBars_SaveAndRead(t *testing.T) {
	w, r := openPair(t)
	if err := w.SaveBars(append(testBars("AAA", 5), testBars("BBB", 3)...)); err != nil {
		t.Fatal(err)
	}
	// Upsert: saving again must not duplicate.
	if err := w.SaveBars(testBars("AAA", 5)); err != nil {
		t.Fatal(err)
	}

	bars, err := r.ReadBars("AAA", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 5 {
		t.Fatalf("len = %d, want 5", len(bars))
	}
	if want := testBars("AAA", 5)[2]; bars[2] != want {
		t.Errorf("bar 2 = %+v, want %+v", bars[2], want)
	}

	after, err := r.ReadBars("AAA", bars[2].TS)
	if err != nil || len(after) != 2 {
		t.Fatalf("after = %d bars, err %v", len(after), err)
	}

	syms, err := r.Symbols()
	if err != nil || len(syms) != 2 || syms[0] != "AAA" {
		t.Errorf("Symbols = %v, %v", syms, err)
	}

	last, err := w.LastBarTime("BBB")
	if err != nil || !last.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("LastBarTime = %s, %v", last, err)
	}
	if last, _ := w.LastBarTime("NONE"); !last.IsZero() {
		t.Errorf("LastBarTime of unknown symbol = %s", last)
	}
}

func TestRunBars_FlushesOnClose(t *testing.T) {
	w, r := openPair(t)
	ch := make(chan model.Bar, 10)
	for _, b := range testBars("AAA", 7) {
		ch <- b
	}
	close(ch)
	w.RunBars(context.Background(), ch)

	bars, err := r.ReadBars("AAA", time.Time{})
	if err != nil || len(bars) != 7 {
		t.Fatalf("stored %d bars, err %v", len(bars), err)
	}
}

func TestStructure_ReplaceAndRead(t *testing.T) {
	w, r := openPair(t)
	ctx := context.Background()

	merged := []model.MergedBar{
		{Bar: testBars("AAA", 3)[0]},
		{Bar: testBars("AAA", 3)[1], Pivot: model.PivotUp, IsStroke: true},
		{Bar: testBars("AAA", 3)[2], Pivot: model.PivotDown},
	}
	segs := []model.Segment{{Symbol: "AAA", Start: t0, End: t0.Add(time.Hour), Direction: 1, StartPrice: 99, EndPrice: 120}}
	if err := w.SaveStructure(ctx, "AAA", merged, segs); err != nil {
		t.Fatal(err)
	}
	// Second save replaces the first.
	if err := w.SaveStructure(ctx, "AAA", merged[:2], nil); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadMerged("AAA")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Pivot != model.PivotUp || !got[1].IsStroke || got[0].Pivot != model.PivotNone {
		t.Errorf("merged = %+v", got)
	}
	if !got[1].TS.Equal(merged[1].TS) || got[1].High != merged[1].High {
		t.Errorf("merged[1] = %+v", got[1])
	}

	gotSegs, err := r.ReadSegments("AAA")
	if err != nil || len(gotSegs) != 0 {
		t.Errorf("segments after replace = %+v, %v", gotSegs, err)
	}

	if err := w.SaveStructure(ctx, "AAA", merged, segs); err != nil {
		t.Fatal(err)
	}
	gotSegs, _ = r.ReadSegments("AAA")
	if len(gotSegs) != 1 || gotSegs[0].EndPrice != 120 || !gotSegs[0].End.Equal(segs[0].End) {
		t.Errorf("segments = %+v", gotSegs)
	}
}

func TestEvents_WriteAndReadNewest(t *testing.T) {
	w, r := openPair(t)
	var events []model.StrokeEvent
	for i := 0; i < 5; i++ {
		events = append(events, model.StrokeEvent{
			Symbol: "AAA", TS: t0.Add(time.Duration(i) * time.Minute),
			Kind: model.EventConfirmed, Direction: 1,
			Candidate: model.PivotPoint{Index: i, Kind: model.PivotUp, Price: float64(i)},
		})
	}
	events = append(events, model.StrokeEvent{Symbol: "BBB", Kind: model.EventExtended, TS: t0})
	if err := w.WriteEventBatch(context.Background(), events); err != nil {
		t.Fatal(err)
	}

	got, err := r.ReadEvents("AAA", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Candidate.Index != 2 || got[2].Candidate.Index != 4 {
		t.Errorf("events = %+v", got)
	}
	if got[0].Candidate.Kind != model.PivotUp {
		t.Errorf("kind lost in round trip: %+v", got[0].Candidate)
	}
}

func TestRunEvents_FlushesOnCancel(t *testing.T) {
	w, r := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan model.StrokeEvent, 4)
	ch <- model.StrokeEvent{Symbol: "AAA", TS: t0, Kind: model.EventCorrected, Popped: 2}

	done := make(chan struct{})
	go func() {
		w.RunEvents(ctx, ch)
		close(done)
	}()
	// Wait for the timer-driven flush, then stop.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := r.ReadEvents("AAA", 10)
		if len(got) == 1 {
			if got[0].Popped != 2 {
				t.Errorf("event = %+v", got[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never flushed")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestSnapshots_LatestAndPrune(t *testing.T) {
	w, r := openPair(t)
	if data, err := r.ReadLatestSnapshotJSON(); data != nil || err != nil {
		t.Fatalf("empty db: %s, %v", data, err)
	}
	for i := 0; i < keepSnapshots+5; i++ {
		if err := w.SaveSnapshotJSON([]byte(fmt.Sprintf(`{"version":1,"n":%d}`, i))); err != nil {
			t.Fatal(err)
		}
	}
	var count int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM engine_snapshots`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != keepSnapshots {
		t.Errorf("kept %d snapshots, want %d", count, keepSnapshots)
	}
	data, err := w.ReadLatestSnapshotJSON()
	if err != nil {
		t.Fatal(err)
	}
	if want := fmt.Sprintf(`{"version":1,"n":%d}`, keepSnapshots+4); string(data) != want {
		t.Errorf("latest = %s, want %s", data, want)
	}
}
