package chanlun

import "chanlun-engine/internal/model"

// Direction is the trend the merger resolves containment with.
type Direction int8

const (
	DirUnknown Direction = iota
	DirUp
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	}
	return "unknown"
}

// Merger folds raw bars into a containment-free series. It holds one pending
// candidate that is only finalized once a non-contained successor arrives.
type Merger struct {
	candidate    model.Bar
	hasCandidate bool
	direction    Direction
}

// Candidate returns the bar still open for merging.
func (m *Merger) Candidate() (model.Bar, bool) {
	return m.candidate, m.hasCandidate
}

// Direction returns the current merge direction.
func (m *Merger) Direction() Direction {
	return m.direction
}

// Accept feeds one raw bar. When the previous candidate becomes final it is
// returned with ok=true, unlabeled.
func (m *Merger) Accept(bar model.Bar) (model.MergedBar, bool) {
	if !m.hasCandidate {
		m.candidate = bar
		m.hasCandidate = true
		return model.MergedBar{}, false
	}

	a := m.candidate
	if !contained(a, bar) || m.direction == DirUnknown {
		switch {
		case bar.High > a.High && bar.Low > a.Low:
			m.direction = DirUp
		case bar.High < a.High && bar.Low < a.Low:
			m.direction = DirDown
		}
		m.candidate = bar
		return model.MergedBar{Bar: a}, true
	}

	m.candidate = mergePair(a, bar, m.direction)
	return model.MergedBar{}, false
}

// contained reports whether either bar's range lies inside the other's.
func contained(a, b model.Bar) bool {
	return (b.High <= a.High && b.Low >= a.Low) || (a.High <= b.High && a.Low >= b.Low)
}

// mergePair combines a contained pair. The bar with the higher high (b on ties)
// supplies timestamp and volume; open comes from a and close from b.
func mergePair(a, b model.Bar, dir Direction) model.Bar {
	out := b
	if a.High > b.High {
		out = a
	}
	if dir == DirUp {
		out.High = max(a.High, b.High)
		out.Low = max(a.Low, b.Low)
	} else {
		out.High = min(a.High, b.High)
		out.Low = min(a.Low, b.Low)
	}
	out.Open = a.Open
	out.Close = b.Close
	return out
}
