package structure

import (
	"encoding/json"
	"fmt"
	"log"

	"chanlun-engine/internal/chanlun"
)

// EngineSnapshot holds the full state of the routing engine.
type EngineSnapshot struct {
	StreamID string             `json:"stream_id"` // last consumed bar stream ID, if any
	Symbols  []chanlun.Snapshot `json:"symbols"`
	Version  int                `json:"version"`
}

// Marshal encodes the snapshot for a model.SnapshotStore.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// UnmarshalSnapshot decodes data written by Marshal. nil data yields nil.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	if data == nil {
		return nil, nil
	}
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// SnapshotEngine captures every per-symbol engine.
func SnapshotEngine(e *Engine, streamID string) *EngineSnapshot {
	snap := &EngineSnapshot{StreamID: streamID, Version: 1}
	for _, sym := range e.Symbols() {
		snap.Symbols = append(snap.Symbols, e.engines[sym].Snapshot())
	}
	return snap
}

// RestoreEngine rebuilds a routing engine from a snapshot. It is tolerant of
// config changes: symbols no longer routed are skipped, and symbols whose
// snapshot does not match the current config are left cold. The cold symbols
// are returned so the caller can backfill them.
func RestoreEngine(cfg chanlun.Config, symbols []string, snap *EngineSnapshot) (*Engine, []string) {
	e := NewEngine(cfg, symbols)
	var cold []string
	for _, s := range snap.Symbols {
		if !e.Accepts(s.Symbol) {
			continue
		}
		se, err := chanlun.Restore(s, cfg)
		if err != nil {
			log.Printf("[restorer] %s: %v; cold-starting", s.Symbol, err)
			cold = append(cold, s.Symbol)
			continue
		}
		e.engines[s.Symbol] = se
	}
	return e, cold
}
