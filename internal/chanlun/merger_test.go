package chanlun

import (
	"testing"

	"chanlun-engine/internal/model"
)

func TestMerger_FirstBarBecomesCandidate(t *testing.T) {
	var m Merger
	if _, ok := m.Accept(bar(0, 12, 10)); ok {
		t.Fatal("first bar must not finalize anything")
	}
	c, ok := m.Candidate()
	if !ok || c.High != 12 || c.Low != 10 {
		t.Fatalf("candidate = %+v, %v", c, ok)
	}
	if m.Direction() != DirUnknown {
		t.Errorf("direction = %s, want unknown", m.Direction())
	}
}

func TestMerger_ContainedPrefixFinalizesUnmerged(t *testing.T) {
	var m Merger
	m.Accept(bar(0, 12, 10))
	// Inside the first bar, but no direction yet: the first bar is closed as is.
	closed, ok := m.Accept(bar(1, 11.5, 10.5))
	if !ok {
		t.Fatal("expected the first bar to finalize while direction is unknown")
	}
	if closed.High != 12 || closed.Low != 10 || !closed.TS.Equal(t0) {
		t.Errorf("closed = %+v, want the untouched first bar", closed.Bar)
	}
	if m.Direction() != DirUnknown {
		t.Errorf("contained pair must not set direction, got %s", m.Direction())
	}
}

func TestMerger_UpMerge(t *testing.T) {
	var m Merger
	m.Accept(bar(0, 12, 10))
	if closed, ok := m.Accept(bar(1, 13, 11)); !ok || closed.High != 12 {
		t.Fatalf("expected bar 0 to finalize, got %+v %v", closed, ok)
	}
	if m.Direction() != DirUp {
		t.Fatalf("direction = %s, want up", m.Direction())
	}

	inner := bar(2, 12.5, 11.5)
	inner.Close = 12
	if _, ok := m.Accept(inner); ok {
		t.Fatal("contained bar must merge, not finalize")
	}
	c, _ := m.Candidate()
	if c.High != 13 || c.Low != 11.5 {
		t.Errorf("up merge range = [%v, %v], want [11.5, 13]", c.Low, c.High)
	}
	// Bar 1 has the higher high, so it supplies timestamp and volume.
	if !c.TS.Equal(bar(1, 0, 0).TS) || c.Volume != 20 {
		t.Errorf("base fields = %s vol %v, want bar 1's", c.TS, c.Volume)
	}
	if c.Open != 11 || c.Close != 12 {
		t.Errorf("open/close = %v/%v, want 11/12", c.Open, c.Close)
	}

	closed, ok := m.Accept(bar(3, 15, 14))
	if !ok {
		t.Fatal("non-contained bar must finalize the merged candidate")
	}
	if closed.High != 13 || closed.Low != 11.5 || closed.Pivot != model.PivotNone || closed.IsStroke {
		t.Errorf("finalized = %+v", closed)
	}
}

func TestMerger_DownMergeTieUsesNewerBar(t *testing.T) {
	var m Merger
	m.Accept(bar(0, 20, 18))
	m.Accept(bar(1, 19, 17)) // down
	if m.Direction() != DirDown {
		t.Fatalf("direction = %s, want down", m.Direction())
	}

	// Same high as the candidate and inside it.
	if _, ok := m.Accept(bar(2, 19, 17.5)); ok {
		t.Fatal("contained bar must merge")
	}
	c, _ := m.Candidate()
	if c.High != 19 || c.Low != 17 {
		t.Errorf("down merge range = [%v, %v], want [17, 19]", c.Low, c.High)
	}
	if !c.TS.Equal(bar(2, 0, 0).TS) || c.Volume != 30 {
		t.Errorf("tie must take the newer bar as base, got ts %s vol %v", c.TS, c.Volume)
	}
}

func TestMerger_OuterBarMerges(t *testing.T) {
	var m Merger
	m.Accept(bar(0, 10, 9))
	m.Accept(bar(1, 11, 10)) // up
	// Engulfs the candidate: still containment.
	if _, ok := m.Accept(bar(2, 12, 9.5)); ok {
		t.Fatal("engulfing bar must merge")
	}
	c, _ := m.Candidate()
	if c.High != 12 || c.Low != 10 {
		t.Errorf("range = [%v, %v], want [10, 12]", c.Low, c.High)
	}
}
