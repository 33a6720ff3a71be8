package chanlun

import (
	"fmt"
	"time"

	"chanlun-engine/internal/model"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the serializable state of one Engine. The pivot view is not
// stored; it is rebuilt from the labels on Merged.
type Snapshot struct {
	Version        int                       `json:"version"`
	Symbol         string                    `json:"symbol"`
	GapThreshold   int                       `json:"gap_threshold"`
	Merged         []model.MergedBar         `json:"merged"`
	Candidate      *model.Bar                `json:"candidate,omitempty"`
	MergeDirection Direction                 `json:"merge_direction"`
	Stroke         StrokeState               `json:"stroke"`
	LastTS         time.Time                 `json:"last_ts"`
	Accepted       int                       `json:"accepted"`
	Halted         *CorrectionExhaustedError `json:"halted,omitempty"`
}

// Snapshot captures the engine state. The result shares no memory with e.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Version:        SnapshotVersion,
		Symbol:         e.symbol,
		GapThreshold:   e.cfg.GapThreshold,
		Merged:         e.Merged(),
		MergeDirection: e.merger.direction,
		Stroke:         e.State(),
		LastTS:         e.lastTS,
		Accepted:       e.accepted,
	}
	if e.halted != nil {
		h := *e.halted
		snap.Halted = &h
	}
	if c, ok := e.merger.Candidate(); ok {
		snap.Candidate = &c
	}
	return snap
}

// Restore rebuilds an engine from a snapshot. The snapshot must have been taken
// with the same gap threshold cfg resolves to, since labels already assigned
// depend on it.
func Restore(snap Snapshot, cfg Config) (*Engine, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrSnapshotMismatch, snap.Version, SnapshotVersion)
	}
	e, err := NewEngine(snap.Symbol, cfg)
	if err != nil {
		return nil, err
	}
	if snap.GapThreshold != e.cfg.GapThreshold {
		return nil, fmt.Errorf("%w: gap threshold %d, want %d", ErrSnapshotMismatch, snap.GapThreshold, e.cfg.GapThreshold)
	}

	e.series = append([]model.MergedBar(nil), snap.Merged...)
	e.pivots = PivotView(e.series)
	if err := checkStrokeState(snap.Stroke, len(e.pivots)); err != nil {
		return nil, err
	}
	e.stroke.state = snap.Stroke.Clone()
	if snap.Candidate != nil {
		e.merger = Merger{candidate: *snap.Candidate, hasCandidate: true, direction: snap.MergeDirection}
	}
	e.lastTS = snap.LastTS
	e.accepted = snap.Accepted
	if snap.Halted != nil {
		h := *snap.Halted
		e.halted = &h
	}
	return e, nil
}

func checkStrokeState(s StrokeState, pivots int) error {
	inRange := func(i int) bool { return i >= 0 && i < pivots }
	if !s.Seeded {
		if len(s.Effective) != 0 || s.HasValid() {
			return fmt.Errorf("%w: unseeded stroke state carries entries", ErrSnapshotMismatch)
		}
		return nil
	}
	if len(s.Effective) == 0 {
		return fmt.Errorf("%w: seeded stroke state has no root", ErrSnapshotMismatch)
	}
	if !inRange(s.Candidate) || (s.HasValid() && !inRange(s.Valid)) {
		return fmt.Errorf("%w: stroke indices outside %d pivots", ErrSnapshotMismatch, pivots)
	}
	for k, idx := range s.Effective {
		if !inRange(idx) || (k > 0 && idx <= s.Effective[k-1]) {
			return fmt.Errorf("%w: effective list not ascending within %d pivots", ErrSnapshotMismatch, pivots)
		}
	}
	return nil
}
