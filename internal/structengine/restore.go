package structengine

import (
	"context"
	"log"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"
	redisstore "chanlun-engine/internal/store/redis"
	"chanlun-engine/internal/structure"
)

// restore rebuilds the engine from the Redis snapshot, falling back to the
// newest SQLite snapshot and then to a cold start, and replays stored bars
// newer than each symbol's restored state.
func (svc *Service) restore(ctx context.Context) {
	restorer := structure.NewRestorer(svc.engineCfg, svc.cfg.Symbols)

	data, err := svc.snapStore.ReadLatestSnapshotJSON()
	if err != nil {
		log.Printf("[structengine] redis snapshot read error: %v", err)
	}
	if data == nil && svc.sqlReader != nil {
		if data, err = svc.sqlReader.ReadLatestSnapshotJSON(); err != nil {
			log.Printf("[structengine] sqlite snapshot read error: %v", err)
		}
	}
	snap, err := structure.UnmarshalSnapshot(data)
	if err != nil {
		log.Printf("[structengine] discarding unreadable snapshot: %v", err)
		snap = nil
	}
	e := restorer.RestoreFromSnap(snap)

	var events []model.StrokeEvent
	if src := svc.barSource(); src != nil {
		n := restorer.BackfillFromStore(e, src, func(_ model.Bar, out chanlun.Outcome) {
			svc.prom.ObserveOutcome(out, 0)
			if out.Event != nil {
				events = append(events, *out.Event)
			}
		})
		if n > 0 {
			log.Printf("[structengine] backfilled %d bars (%d stroke events)", n, len(events))
		}
	}

	for _, sym := range e.Symbols() {
		if se, _ := e.Get(sym); se.Halted() != nil {
			svc.setHalted(sym, true)
			log.Printf("[structengine] %s restored halted: %v", sym, se.Halted())
		}
	}

	svc.engine = &lockedEngine{e: e, onReset: func(sym string) { svc.setHalted(sym, false) }}
	if len(events) > 0 {
		svc.publisher.PublishEvents(ctx, events)
	}
}

// barSource is the backfill source: SQLite, read through the Redis bar cache
// when one is configured. nil when SQLite is unavailable.
func (svc *Service) barSource() structure.BarSource {
	if svc.sqlReader == nil {
		return nil
	}
	if svc.cfg.BarCacheTTL > 0 {
		return redisstore.NewCachedBarSource(svc.sqlReader, svc.rdb, svc.cfg.BarCacheTTL)
	}
	return svc.sqlReader
}
