package synth

import (
	"testing"
)

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(Params{Symbol: "X", Bars: 200, Seed: 7})
	b := Generate(Params{Symbol: "X", Bars: 200, Seed: 7})
	if len(a) != 200 {
		t.Fatalf("len = %d, want 200", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("bar %d differs between runs with the same seed", i)
		}
	}
}

func TestGenerate_WellFormed(t *testing.T) {
	bars := Generate(Params{Symbol: "X", Bars: 1000, Seed: 42})
	for i, b := range bars {
		if b.High < b.Low || b.High < b.Open || b.High < b.Close || b.Low > b.Open || b.Low > b.Close {
			t.Fatalf("bar %d malformed: %+v", i, b)
		}
		if i > 0 && !b.TS.After(bars[i-1].TS) {
			t.Fatalf("bar %d timestamp does not advance", i)
		}
		if b.Symbol != "X" {
			t.Fatalf("bar %d symbol = %q", i, b.Symbol)
		}
	}
}
