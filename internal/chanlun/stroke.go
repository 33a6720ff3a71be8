package chanlun

import (
	"context"
	"log/slog"

	"chanlun-engine/internal/model"
)

// StrokeState is the validator's working state. Candidate, Valid and Effective
// hold indices into the pivot view, not merged positions.
type StrokeState struct {
	Seeded    bool  `json:"seeded"`
	Candidate int   `json:"candidate"`
	Valid     int   `json:"valid"` // -1 until the first confirmation
	Effective []int `json:"effective"`
	Direction int   `json:"direction"`
}

func newStrokeState() StrokeState {
	return StrokeState{Valid: -1}
}

// HasValid reports whether a stroke has been confirmed yet.
func (s StrokeState) HasValid() bool { return s.Valid >= 0 }

// Clone returns a deep copy.
func (s StrokeState) Clone() StrokeState {
	s.Effective = append([]int(nil), s.Effective...)
	return s
}

// Decision is the outcome of one validator step. Kind is empty when the
// fractal changed nothing observable.
type Decision struct {
	Kind   model.EventKind
	Popped int
}

// StrokeValidator maintains the effective stroke list from the pivot view.
type StrokeValidator struct {
	gap   int
	state StrokeState
	trace *slog.Logger
}

// NewStrokeValidator creates a validator. trace may be nil.
func NewStrokeValidator(gap int, trace *slog.Logger) *StrokeValidator {
	return &StrokeValidator{gap: gap, state: newStrokeState(), trace: trace}
}

// State returns a copy of the current state.
func (v *StrokeValidator) State() StrokeState {
	return v.state.Clone()
}

// Step runs one decision against the newest pivot, pivots[len(pivots)-1].
// series is the merged series pivots were taken from. On error the state is
// unchanged.
func (v *StrokeValidator) Step(series []model.MergedBar, pivots []Pivot) (Decision, error) {
	i := len(pivots) - 1
	if i < 0 {
		return Decision{}, nil
	}
	s := &v.state

	if !s.Seeded {
		s.Effective = []int{s.Candidate}
		s.Seeded = true
		v.log("stroke seeded", slog.Int("root", pivots[s.Candidate].Index))
		return Decision{}, nil
	}

	cand, cur := pivots[s.Candidate], pivots[i]

	if cand.Kind == cur.Kind {
		if moreExtreme(cur, cand) {
			s.Candidate = i
			if !s.HasValid() {
				// Until a stroke confirms, the root follows the candidate.
				s.Effective[0] = i
			}
			v.log("stroke extended", slog.Int("candidate", cur.Index), slog.Float64("price", cur.Price()))
			return Decision{Kind: model.EventExtended}, nil
		}
		return Decision{}, nil
	}

	if cur.Index-cand.Index >= v.gap && extremal(series, cand, cur) && v.spacedFromValid(pivots, cand) {
		if n := len(s.Effective); n == 0 || s.Effective[n-1] != s.Candidate {
			s.Effective = append(s.Effective, s.Candidate)
		}
		s.Valid = s.Candidate
		s.Candidate = i
		s.Direction = cur.Kind.Direction()
		v.log("stroke confirmed",
			slog.Int("start", cand.Index), slog.Int("end", cur.Index),
			slog.Int("direction", s.Direction), slog.Int("effective", len(s.Effective)))
		return Decision{Kind: model.EventConfirmed}, nil
	}

	if s.HasValid() && breached(pivots[s.Valid], cur) {
		return v.correct(pivots, i)
	}
	return Decision{}, nil
}

// spacedFromValid defers confirmation while the candidate sits closer than
// gap to valid, so consecutive effective entries stay spaced.
func (v *StrokeValidator) spacedFromValid(pivots []Pivot, cand Pivot) bool {
	if !v.state.HasValid() {
		return true
	}
	return cand.Index-pivots[v.state.Valid].Index >= v.gap
}

// correct unwinds the effective list until its tail is no longer violated by
// any pivot up to i, then relocates the candidate. A root that is still
// violated exhausts the correction. Works on a copy so the exhausted case
// leaves state untouched.
func (v *StrokeValidator) correct(pivots []Pivot, i int) (Decision, error) {
	work := append([]int(nil), v.state.Effective...)
	popped := 0
	for len(work) > 1 {
		work = work[:len(work)-1]
		popped++
		vi := work[len(work)-1]
		if violated(pivots, vi, i) {
			continue
		}

		ci := relocate(pivots, vi, i)
		v.state.Effective = work
		v.state.Valid = vi
		v.state.Candidate = ci
		v.state.Direction = pivots[vi].Kind.Opposite().Direction()
		v.log("stroke corrected",
			slog.Int("valid", pivots[vi].Index), slog.Int("candidate", pivots[ci].Index),
			slog.Int("popped", popped), slog.Int("effective", len(work)))
		return Decision{Kind: model.EventCorrected, Popped: popped}, nil
	}

	root := pivots[work[0]]
	v.log("stroke correction exhausted", slog.Int("root", root.Index), slog.Int("at", pivots[i].Index))
	return Decision{}, &CorrectionExhaustedError{Root: root.Point(), At: pivots[i].Point()}
}

// relocate picks the most extreme pivot of the kind opposite to valid within
// (vi, i], first occurrence on ties.
func relocate(pivots []Pivot, vi, i int) int {
	want := pivots[vi].Kind.Opposite()
	best := -1
	for k := vi + 1; k <= i; k++ {
		if pivots[k].Kind == want && (best < 0 || moreExtreme(pivots[k], pivots[best])) {
			best = k
		}
	}
	if best < 0 {
		return i
	}
	return best
}

func (v *StrokeValidator) log(msg string, attrs ...slog.Attr) {
	if v.trace == nil {
		return
	}
	v.trace.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

// moreExtreme reports whether p strictly beats q as a pivot of q's kind.
func moreExtreme(p, q Pivot) bool {
	if q.Kind == model.PivotDown {
		return p.Low < q.Low
	}
	return p.High > q.High
}

// extremal checks that start holds the window's extreme on its own side and
// end holds it on the other, over merged bars start..end inclusive.
func extremal(series []model.MergedBar, start, end Pivot) bool {
	lo, hi := series[start.Index].Low, series[start.Index].High
	for k := start.Index; k <= end.Index; k++ {
		lo = min(lo, series[k].Low)
		hi = max(hi, series[k].High)
	}
	if start.Kind == model.PivotDown {
		return start.Low <= lo && end.High >= hi
	}
	return start.High >= hi && end.Low <= lo
}

// breached reports whether cur has moved beyond valid's extreme.
func breached(valid, cur Pivot) bool {
	if valid.Kind == model.PivotDown {
		return cur.Low < valid.Low
	}
	return cur.High > valid.High
}

// violated reports whether any pivot in [vi, i] goes beyond pivots[vi].
func violated(pivots []Pivot, vi, i int) bool {
	for k := vi; k <= i; k++ {
		if breached(pivots[vi], pivots[k]) {
			return true
		}
	}
	return false
}
