package chanlun

import (
	"testing"

	"chanlun-engine/internal/model"
)

func merged(bars ...model.Bar) []model.MergedBar {
	out := make([]model.MergedBar, len(bars))
	for i, b := range bars {
		out[i] = model.MergedBar{Bar: b}
	}
	return out
}

func TestDetectLatest_Top(t *testing.T) {
	s := merged(bar(0, 11, 9), bar(1, 13, 11), bar(2, 12, 10))
	if !DetectLatest(s) {
		t.Fatal("expected a top fractal")
	}
	if s[1].Pivot != model.PivotUp {
		t.Errorf("middle pivot = %s, want up", s[1].Pivot)
	}
	if s[0].Pivot != model.PivotNone || s[2].Pivot != model.PivotNone {
		t.Error("only the middle bar may be labeled")
	}
}

func TestDetectLatest_Bottom(t *testing.T) {
	s := merged(bar(0, 13, 11), bar(1, 11, 9), bar(2, 12, 10))
	if !DetectLatest(s) || s[1].Pivot != model.PivotDown {
		t.Fatalf("expected bottom, got %s", s[1].Pivot)
	}
}

func TestDetectLatest_StrictComparisons(t *testing.T) {
	// Equal highs on the right: not a top.
	s := merged(bar(0, 11, 9), bar(1, 13, 11), bar(2, 13, 10))
	if DetectLatest(s) {
		t.Error("equal high must not form a top")
	}
	// Higher high but not higher low: not a top.
	s = merged(bar(0, 11, 9), bar(1, 13, 8), bar(2, 12, 10))
	if DetectLatest(s) {
		t.Error("top needs strictly higher lows too")
	}
}

func TestDetectLatest_TooShort(t *testing.T) {
	if DetectLatest(merged(bar(0, 11, 9), bar(1, 13, 11))) {
		t.Error("two bars cannot hold a fractal")
	}
}

func TestPivotView(t *testing.T) {
	s := merged(bar(0, 11, 9), bar(1, 13, 11), bar(2, 12, 10), bar(3, 11, 8))
	s[1].Pivot = model.PivotUp
	s[3].Pivot = model.PivotDown
	view := PivotView(s)
	if len(view) != 2 {
		t.Fatalf("len = %d, want 2", len(view))
	}
	if view[0].Index != 1 || view[0].Price() != 13 {
		t.Errorf("view[0] = %+v", view[0])
	}
	if view[1].Index != 3 || view[1].Price() != 8 {
		t.Errorf("view[1] = %+v", view[1])
	}
}
