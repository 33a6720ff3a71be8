package chanlun

import (
	"testing"

	"chanlun-engine/internal/model"
)

// flatSeries returns n merged bars with range [16, 20] and no labels.
func flatSeries(n int) []model.MergedBar {
	s := make([]model.MergedBar, n)
	for i := range s {
		s[i] = model.MergedBar{Bar: bar(i, 20, 16)}
	}
	return s
}

func markPivot(s []model.MergedBar, idx int, kind model.PivotKind, high, low float64) Pivot {
	s[idx].High, s[idx].Low, s[idx].Pivot = high, low, kind
	return pivotAt(s, idx)
}

func TestRelocate_PicksTrueExtremum(t *testing.T) {
	s := flatSeries(14)
	pivots := []Pivot{
		markPivot(s, 2, model.PivotDown, 12, 10),
		markPivot(s, 5, model.PivotUp, 30, 26),
		markPivot(s, 8, model.PivotDown, 18, 14),
		markPivot(s, 12, model.PivotUp, 25, 21),
	}
	if got := relocate(pivots, 0, 3); got != 1 {
		t.Fatalf("relocate = %d, want 1 (the 30 top at merged 5)", got)
	}

	// Equal extremes resolve to the first occurrence.
	pivots[3] = markPivot(s, 12, model.PivotUp, 30, 26)
	if got := relocate(pivots, 0, 3); got != 1 {
		t.Fatalf("relocate on tie = %d, want 1", got)
	}
}

func TestStrokeValidator_DefersConfirmationNearValid(t *testing.T) {
	s := flatSeries(27)
	pivots := []Pivot{
		markPivot(s, 2, model.PivotDown, 12, 10),
		markPivot(s, 5, model.PivotUp, 30, 26),
	}
	v := NewStrokeValidator(DefaultGapThreshold, nil)
	// The candidate sits at the window's highest top, three bars from valid.
	v.state = StrokeState{Seeded: true, Effective: []int{0}, Valid: 0, Candidate: 1, Direction: 1}

	// A bottom far from the candidate would confirm, but the candidate is
	// too close to valid.
	pivots = append(pivots, markPivot(s, 16, model.PivotDown, 14, 12))
	d, err := v.Step(s, pivots)
	if err != nil || d.Kind != "" {
		t.Fatalf("step = %+v, %v, want no decision", d, err)
	}
	if st := v.State(); st.Candidate != 1 || st.Valid != 0 || !equalInts(st.Effective, []int{0}) {
		t.Fatalf("state moved: %+v", st)
	}

	// A higher top extends the candidate away from valid; the next bottom
	// confirms.
	pivots = append(pivots, markPivot(s, 20, model.PivotUp, 35, 31))
	if d, _ := v.Step(s, pivots); d.Kind != model.EventExtended {
		t.Fatalf("decision = %q, want extended", d.Kind)
	}
	pivots = append(pivots, markPivot(s, 25, model.PivotDown, 13, 11))
	if d, _ := v.Step(s, pivots); d.Kind != model.EventConfirmed {
		t.Fatalf("decision = %q, want confirmed", d.Kind)
	}
	st := v.State()
	if !equalInts(st.Effective, []int{0, 3}) || st.Valid != 3 || st.Candidate != 4 || st.Direction != -1 {
		t.Fatalf("state = %+v", st)
	}
	if !extremal(s, pivots[0], pivots[3]) {
		t.Error("chain pair 2..20 is not extremal")
	}
}

func TestStrokeValidator_BreachOfSingleRootExhausts(t *testing.T) {
	s := flatSeries(14)
	pivots := []Pivot{
		markPivot(s, 2, model.PivotDown, 12, 10),
		markPivot(s, 8, model.PivotUp, 30, 26),
	}
	v := NewStrokeValidator(DefaultGapThreshold, nil)
	v.state = StrokeState{Seeded: true, Effective: []int{0}, Valid: 0, Candidate: 1, Direction: 1}
	before := v.State()

	// A bottom below the root, too close to the candidate to confirm.
	pivots = append(pivots, markPivot(s, 10, model.PivotDown, 9, 7))
	_, err := v.Step(s, pivots)
	ce, ok := err.(*CorrectionExhaustedError)
	if !ok || ce.Root.Index != 2 || ce.At.Index != 10 {
		t.Fatalf("err = %v, want exhaustion of the root at merged 2", err)
	}
	if st := v.State(); st.Candidate != before.Candidate || st.Valid != before.Valid || !equalInts(st.Effective, before.Effective) {
		t.Errorf("state changed: %+v -> %+v", before, st)
	}
}
