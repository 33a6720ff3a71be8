package structengine

import (
	"context"
	"log"
	"strconv"
	"time"
)

// snapshotLoop periodically checkpoints the engine.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshot(ctx, "periodic")
		}
	}
}

// saveSnapshot writes the engine snapshot to Redis and SQLite, and refreshes
// the annotated series stored in SQLite.
func (svc *Service) saveSnapshot(ctx context.Context, reason string) {
	snap := svc.engine.Snapshot(strconv.FormatInt(time.Now().UnixMilli(), 10) + "-0")
	data, err := snap.Marshal()
	if err != nil {
		log.Printf("[structengine] snapshot encode error: %v", err)
		return
	}

	if err := svc.snapStore.SaveSnapshotJSON(data); err != nil {
		log.Printf("[structengine] redis snapshot write error: %v", err)
	} else {
		svc.prom.SnapshotsSaved.WithLabelValues("redis").Inc()
	}

	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveSnapshotJSON(data); err != nil {
			log.Printf("[structengine] sqlite snapshot write error: %v", err)
		} else {
			svc.prom.SnapshotsSaved.WithLabelValues("sqlite").Inc()
		}
		start := time.Now()
		for _, st := range svc.engine.Structures() {
			if err := svc.sqlWriter.SaveStructure(ctx, st.symbol, st.merged, st.segments); err != nil {
				log.Printf("[structengine] %s: save structure error: %v", st.symbol, err)
			}
		}
		svc.prom.SQLiteWriteDur.Observe(time.Since(start).Seconds())
	}

	log.Printf("[structengine] %s checkpoint saved (%d symbols)", reason, len(snap.Symbols))
}
