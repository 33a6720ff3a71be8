package chanlun

import (
	"time"

	"chanlun-engine/internal/model"
)

// DetectLatest examines the last three merged bars and, if the middle one is a
// strict top or bottom fractal, labels it in place. Reports whether it did.
func DetectLatest(series []model.MergedBar) bool {
	n := len(series)
	if n < 3 {
		return false
	}
	l, m, r := &series[n-3], &series[n-2], &series[n-1]
	switch {
	case m.High > l.High && m.High > r.High && m.Low > l.Low && m.Low > r.Low:
		m.Pivot = model.PivotUp
		return true
	case m.High < l.High && m.High < r.High && m.Low < l.Low && m.Low < r.Low:
		m.Pivot = model.PivotDown
		return true
	}
	return false
}

// Pivot is one entry of the pivot view: a labeled merged bar and its position
// in the merged series.
type Pivot struct {
	Index int
	Kind  model.PivotKind
	TS    time.Time
	High  float64
	Low   float64
}

// Price returns High for tops and Low for bottoms.
func (p Pivot) Price() float64 {
	if p.Kind == model.PivotDown {
		return p.Low
	}
	return p.High
}

// Point converts the pivot into its event payload form.
func (p Pivot) Point() model.PivotPoint {
	return model.PivotPoint{Index: p.Index, TS: p.TS, Kind: p.Kind, Price: p.Price()}
}

func pivotAt(series []model.MergedBar, idx int) Pivot {
	b := &series[idx]
	return Pivot{Index: idx, Kind: b.Pivot, TS: b.TS, High: b.High, Low: b.Low}
}

// PivotView returns every labeled bar of series, in order.
func PivotView(series []model.MergedBar) []Pivot {
	var out []Pivot
	for i := range series {
		if series[i].Pivot != model.PivotNone {
			out = append(out, pivotAt(series, i))
		}
	}
	return out
}
