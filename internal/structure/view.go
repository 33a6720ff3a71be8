package structure

import (
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
)

// View is a read-only copy of one symbol's structure, shaped for JSON.
type View struct {
	Symbol    string             `json:"symbol"`
	Accepted  int                `json:"accepted"`
	LastTS    time.Time          `json:"last_ts"`
	Direction int                `json:"direction"`
	Strokes   []model.PivotPoint `json:"strokes"` // effective endpoints, oldest first
	Valid     *model.PivotPoint  `json:"valid,omitempty"`
	Candidate *model.PivotPoint  `json:"candidate,omitempty"`
	Segments  []model.Segment    `json:"segments"`
	Merged    []model.MergedBar  `json:"merged,omitempty"`
	Forming   *model.Bar         `json:"forming,omitempty"` // merge candidate not yet final
	Pivots    []model.PivotPoint `json:"pivots,omitempty"`

	Halted *chanlun.CorrectionExhaustedError `json:"halted,omitempty"` // set until reset
}

// NewView builds a view of se. withSeries adds the merged series and pivot
// list, which can be large.
func NewView(se *chanlun.Engine, withSeries bool) View {
	st := se.State()
	pv := se.Pivots()
	v := View{
		Symbol:    se.Symbol(),
		Accepted:  se.Accepted(),
		LastTS:    se.LastTS(),
		Direction: st.Direction,
		Segments:  se.Segments(),
	}
	if h := se.Halted(); h != nil {
		c := *h
		v.Halted = &c
	}
	if st.HasValid() {
		for _, k := range st.Effective {
			v.Strokes = append(v.Strokes, pv[k].Point())
		}
		vp := pv[st.Valid].Point()
		v.Valid = &vp
	}
	if st.Seeded {
		cp := pv[st.Candidate].Point()
		v.Candidate = &cp
	}
	if withSeries {
		v.Merged = se.Merged()
		for _, p := range pv {
			v.Pivots = append(v.Pivots, p.Point())
		}
		if c, ok := se.Candidate(); ok {
			v.Forming = &c
		}
	}
	return v
}

// View returns the view for symbol.
func (e *Engine) View(symbol string, withSeries bool) (View, bool) {
	se, ok := e.engines[symbol]
	if !ok {
		return View{}, false
	}
	return NewView(se, withSeries), true
}
