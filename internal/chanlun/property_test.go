package chanlun

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"chanlun-engine/internal/marketdata/synth"
	"chanlun-engine/internal/model"
)

// runWalk feeds a random walk through a fresh engine. A correction that
// exhausts ends the walk; the engine must then refuse the next bar as halted.
// Properties are checked on the state reached before the halt.
func runWalk(t *testing.T, seed int64, n int) (*Engine, []model.Bar, []model.StrokeEvent) {
	t.Helper()
	bars := synth.Generate(synth.Params{Symbol: "SYN", Bars: n, Seed: seed})
	e, err := NewEngine("SYN", Config{})
	if err != nil {
		t.Fatal(err)
	}
	var events []model.StrokeEvent
	for i, b := range bars {
		ev, err := e.Update(b)
		if errors.Is(err, ErrCorrectionExhausted) {
			if e.Halted() == nil {
				t.Fatalf("seed %d bar %d: exhaustion did not halt the engine", seed, i)
			}
			if i+1 < len(bars) {
				if _, err := e.Update(bars[i+1]); !errors.Is(err, ErrHalted) {
					t.Fatalf("seed %d bar %d: after exhaustion err = %v, want ErrHalted", seed, i+1, err)
				}
			}
			break
		}
		if err != nil {
			t.Fatalf("seed %d bar %d: %v", seed, i, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return e, bars, events
}

func TestProperty_NoContainmentAfterDirection(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		e, _, _ := runWalk(t, seed, 500)
		m := e.Merged()
		first := -1
		for k := 1; k < len(m); k++ {
			if !contained(m[k-1].Bar, m[k].Bar) {
				first = k
				break
			}
		}
		if first < 0 {
			continue
		}
		for k := first + 1; k < len(m); k++ {
			if contained(m[k-1].Bar, m[k].Bar) {
				t.Fatalf("seed %d: merged %d and %d contain each other", seed, k-1, k)
			}
		}
	}
}

func TestProperty_FractalsAreStrict(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		e, _, _ := runWalk(t, seed, 500)
		m := e.Merged()
		for k, b := range m {
			if b.Pivot == model.PivotNone {
				continue
			}
			if k == 0 || k == len(m)-1 {
				t.Fatalf("seed %d: pivot at series edge %d", seed, k)
			}
			l, r := m[k-1], m[k+1]
			switch b.Pivot {
			case model.PivotUp:
				if !(b.High > l.High && b.High > r.High && b.Low > l.Low && b.Low > r.Low) {
					t.Fatalf("seed %d: top at %d is not strict", seed, k)
				}
			case model.PivotDown:
				if !(b.High < l.High && b.High < r.High && b.Low < l.Low && b.Low < r.Low) {
					t.Fatalf("seed %d: bottom at %d is not strict", seed, k)
				}
			}
		}
	}
}

func TestProperty_EffectiveAlternatesAndIsSpaced(t *testing.T) {
	confirmed := 0
	for seed := int64(1); seed <= 30; seed++ {
		e, _, events := runWalk(t, seed, 800)
		confirmed += countKind(events, model.EventConfirmed)

		pv := e.Pivots()
		eff := e.State().Effective
		for k := 1; k < len(eff); k++ {
			a, b := pv[eff[k-1]], pv[eff[k]]
			if a.Kind == b.Kind {
				t.Fatalf("seed %d: effective %d and %d share kind %s", seed, k-1, k, a.Kind)
			}
			if b.Index-a.Index < DefaultGapThreshold {
				t.Fatalf("seed %d: effective %d and %d only %d bars apart", seed, k-1, k, b.Index-a.Index)
			}
		}

		// Stroke labels match the effective list exactly.
		// Nothing is labeled before the first confirmation.
		var want []int
		if e.State().HasValid() {
			for _, k := range eff {
				want = append(want, pv[k].Index)
			}
		}
		if got := strokePositions(e.Merged()); !equalInts(got, want) {
			t.Fatalf("seed %d: stroke positions %v, want %v", seed, got, want)
		}
	}
	if confirmed == 0 {
		t.Fatal("no seed produced a confirmed stroke; the walk is too quiet to test anything")
	}
}

func TestProperty_ConfirmedStrokesAreExtremal(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		e, _, events := runWalk(t, seed, 800)
		m := e.Merged()
		for _, ev := range events {
			if ev.Kind != model.EventConfirmed {
				continue
			}
			s, end := ev.Valid.Index, ev.Candidate.Index
			lo, hi := m[s].Low, m[s].High
			for k := s; k <= end; k++ {
				lo = min(lo, m[k].Low)
				hi = max(hi, m[k].High)
			}
			if ev.Valid.Kind == model.PivotDown {
				if m[s].Low != lo || m[end].High != hi {
					t.Fatalf("seed %d: up stroke %d..%d not extremal", seed, s, end)
				}
			} else if m[s].High != hi || m[end].Low != lo {
				t.Fatalf("seed %d: down stroke %d..%d not extremal", seed, s, end)
			}
			if end-s < DefaultGapThreshold {
				t.Fatalf("seed %d: stroke %d..%d shorter than gap", seed, s, end)
			}
		}

		// Every consecutive pair left in the chain still encloses its extremes.
		pv := e.Pivots()
		eff := e.State().Effective
		for k := 1; k < len(eff); k++ {
			a, b := pv[eff[k-1]], pv[eff[k]]
			if !extremal(m, a, b) {
				t.Fatalf("seed %d: chain pair %d..%d not extremal", seed, a.Index, b.Index)
			}
		}
	}
}

func TestProperty_BatchMatchesIncremental(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		bars := synth.Generate(synth.Params{Symbol: "SYN", Bars: 600, Seed: seed})

		inc, _ := NewEngine("SYN", Config{})
		stop := len(bars)
		for i, b := range bars {
			if _, err := inc.Update(b); err != nil {
				stop = i
				break
			}
		}

		res, err := Process("SYN", bars[:stop], Config{})
		if err != nil {
			t.Fatalf("seed %d: Process: %v", seed, err)
		}
		if !reflect.DeepEqual(res.Merged, inc.Merged()) {
			t.Fatalf("seed %d: batch labels differ from incremental", seed)
		}
		if !reflect.DeepEqual(res.State, inc.State()) {
			t.Fatalf("seed %d: batch state %+v, incremental %+v", seed, res.State, inc.State())
		}
		if !reflect.DeepEqual(res.Segments, inc.Segments()) {
			t.Fatalf("seed %d: segments differ", seed)
		}
	}
}

func TestProperty_SnapshotResumeMatchesUninterrupted(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		bars := synth.Generate(synth.Params{Symbol: "SYN", Bars: 600, Seed: seed})
		whole, _ := NewEngine("SYN", Config{})
		half, _ := NewEngine("SYN", Config{})

		for i, b := range bars {
			_, errW := whole.Update(b)
			_, errH := half.Update(b)
			if (errW == nil) != (errH == nil) {
				t.Fatalf("seed %d bar %d: errors diverge: %v vs %v", seed, i, errW, errH)
			}

			if i == len(bars)/2 {
				data, err := json.Marshal(half.Snapshot())
				if err != nil {
					t.Fatal(err)
				}
				var snap Snapshot
				if err := json.Unmarshal(data, &snap); err != nil {
					t.Fatal(err)
				}
				if half, err = Restore(snap, Config{}); err != nil {
					t.Fatalf("seed %d: Restore: %v", seed, err)
				}
			}
		}

		if !sameMerged(whole.Merged(), half.Merged()) {
			t.Fatalf("seed %d: resumed labels differ", seed)
		}
		if !reflect.DeepEqual(whole.State(), half.State()) {
			t.Fatalf("seed %d: resumed state differs", seed)
		}
	}
}

// sameMerged compares series field by field; JSON drops monotonic clock
// readings and locations, so time.Time is compared with Equal.
func sameMerged(a, b []model.MergedBar) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if !x.TS.Equal(y.TS) || x.Symbol != y.Symbol || x.Open != y.Open || x.High != y.High ||
			x.Low != y.Low || x.Close != y.Close || x.Volume != y.Volume ||
			x.Pivot != y.Pivot || x.IsStroke != y.IsStroke {
			return false
		}
	}
	return true
}
