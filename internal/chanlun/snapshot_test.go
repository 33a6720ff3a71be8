package chanlun

import (
	"encoding/json"
	"errors"
	"testing"

	"chanlun-engine/internal/model"
)

func TestSnapshot_RoundTripMidStroke(t *testing.T) {
	bars := levelBars(correctionLevels...)
	e := newTestEngine(t)
	feed(t, e, bars[:len(bars)-1])

	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	r, err := Restore(snap, Config{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Symbol() != "TEST" || r.Accepted() != e.Accepted() || !r.LastTS().Equal(e.LastTS()) {
		t.Errorf("restored header: %s %d %s", r.Symbol(), r.Accepted(), r.LastTS())
	}
	if len(r.Pivots()) != len(e.Pivots()) {
		t.Errorf("pivots = %d, want %d", len(r.Pivots()), len(e.Pivots()))
	}

	// Both engines must react to the undercut the same way.
	want, err := e.Update(bars[len(bars)-1])
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Update(bars[len(bars)-1])
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Kind != want.Kind || got.Popped != want.Popped || got.Candidate.Index != want.Candidate.Index {
		t.Errorf("restored event = %+v, want %+v", got, want)
	}
}

func TestSnapshot_SharesNoMemory(t *testing.T) {
	e := newTestEngine(t)
	feed(t, e, levelBars(correctionLevels...))
	snap := e.Snapshot()
	snap.Merged[0].IsStroke = true
	snap.Stroke.Effective[0] = 99
	if e.Merged()[0].IsStroke || e.State().Effective[0] == 99 {
		t.Fatal("mutating a snapshot changed the engine")
	}
}

func TestRestore_RejectsMismatch(t *testing.T) {
	e := newTestEngine(t)
	feed(t, e, levelBars(correctionLevels...))

	snap := e.Snapshot()
	if _, err := Restore(snap, Config{GapThreshold: 5}); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("gap mismatch: err = %v", err)
	}

	snap = e.Snapshot()
	snap.Version = 99
	if _, err := Restore(snap, Config{}); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("version mismatch: err = %v", err)
	}

	snap = e.Snapshot()
	snap.Stroke.Candidate = 42
	if _, err := Restore(snap, Config{}); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("bad candidate: err = %v", err)
	}

	snap = e.Snapshot()
	snap.Merged[2].Pivot = model.PivotNone // drops a pivot the stroke state points at
	snap.Merged[6].Pivot = model.PivotNone
	if _, err := Restore(snap, Config{}); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("pivot view shrink: err = %v", err)
	}
}

func TestRestore_EmptySnapshot(t *testing.T) {
	e := newTestEngine(t)
	r, err := Restore(e.Snapshot(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	feed(t, r, levelBars(20, 19, 18, 17, 16, 15, 16, 17, 18, 19, 20, 21, 20, 19))
	if r.Accepted() != 14 {
		t.Errorf("accepted = %d", r.Accepted())
	}
}

func TestSnapshot_CarriesHalt(t *testing.T) {
	levels := append([]float64(nil), correctionLevels...)
	levels[10] = 22
	bars := levelBars(levels...)
	e := newTestEngine(t)
	feed(t, e, bars[:len(bars)-1])
	if _, err := e.Update(bars[len(bars)-1]); !errors.Is(err, ErrCorrectionExhausted) {
		t.Fatalf("err = %v, want ErrCorrectionExhausted", err)
	}

	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	r, err := Restore(snap, Config{})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Halted() == nil || r.Halted().Root.Index != 2 || r.Halted().At.Index != 12 {
		t.Fatalf("restored halt = %+v", r.Halted())
	}
	if _, err := r.Update(levelBars(append(levels, 12)...)[len(levels)]); !errors.Is(err, ErrHalted) {
		t.Errorf("restored engine accepted a bar: %v", err)
	}
}
