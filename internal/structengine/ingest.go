package structengine

import (
	"context"
	"log"
	"strings"
	"time"

	"chanlun-engine/internal/marketdata/wsfeed"
	"chanlun-engine/internal/model"
)

const (
	pelInterval = 30 * time.Second
	pelMinIdle  = 60 * time.Second
)

// buildStreams returns the bar streams to consume: one per configured
// symbol, or every existing bar:* stream when no symbols are configured.
func (svc *Service) buildStreams(ctx context.Context) []string {
	if len(svc.cfg.Symbols) > 0 {
		streams := make([]string, len(svc.cfg.Symbols))
		for i, s := range svc.cfg.Symbols {
			streams[i] = model.BarStreamKey(s)
		}
		return streams
	}

	var streams []string
	iter := svc.rdb.Scan(ctx, 0, model.BarStreamKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if sym, ok := model.SymbolFromBarStream(key); ok && !strings.Contains(sym, ":") {
			streams = append(streams, key)
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[structengine] stream discovery error: %v", err)
	}
	return streams
}

// startConsumer sets up the consumer group, re-delivers anything left
// pending by a previous run, then follows the streams. Reclaimed and live
// bars go through the same ring as the feed.
func (svc *Service) startConsumer(ctx context.Context) {
	if len(svc.streams) == 0 {
		return
	}
	if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		log.Printf("[structengine] WARNING: consumer group setup: %v", err)
	}

	barCh := make(chan model.Bar, 1024)
	go svc.pump(ctx, barCh)

	go func() {
		if err := svc.redisReader.RecoverPending(ctx, svc.streams, barCh); err != nil {
			log.Printf("[structengine] pending recovery error: %v", err)
		}
		go svc.redisReader.StartPELReclaimer(ctx, svc.streams, pelInterval, pelMinIdle, barCh,
			func(count int) {
				svc.prom.PELMessagesReclaimed.Add(float64(count))
				log.Printf("[structengine] reclaimed %d stale PEL messages", count)
			})
		if err := svc.redisReader.ConsumeBars(ctx, svc.streams, barCh); err != nil && ctx.Err() == nil {
			log.Printf("[structengine] consumer error: %v", err)
		}
	}()
}

// startFeed connects the optional WebSocket bar feed.
func (svc *Service) startFeed(ctx context.Context) {
	if svc.cfg.BarFeedURL == "" {
		return
	}
	feed, err := wsfeed.New(wsfeed.Config{URL: svc.cfg.BarFeedURL})
	if err != nil {
		log.Printf("[structengine] WARNING: bar feed disabled: %v", err)
		svc.health.SetFeed(false, false)
		return
	}
	feed.OnConnect = func() { svc.health.SetFeed(true, true) }
	feed.OnReconnect = func() {
		svc.health.SetFeed(true, false)
		svc.prom.FeedReconnects.Inc()
	}
	feed.OnDrop = func(model.Bar) { svc.prom.FeedDropped.Inc() }

	barCh := make(chan model.Bar, 1024)
	go svc.pump(ctx, barCh)
	go feed.Start(ctx, barCh)
}

// pump moves bars from one producer into the ring.
func (svc *Service) pump(ctx context.Context, in <-chan model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-in:
			if !svc.push(ctx, bar) {
				return
			}
		}
	}
}

// push serializes producers on the single-producer ring. A full ring is
// counted once and retried until there is room, so stream bars that were
// already ACKed are not lost. Returns false only when ctx is done.
func (svc *Service) push(ctx context.Context, bar model.Bar) bool {
	svc.pushMu.Lock()
	defer svc.pushMu.Unlock()
	if svc.ring.Push(bar) {
		return true
	}
	svc.prom.RingBufOverflow.Inc()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
		if svc.ring.Push(bar) {
			return true
		}
	}
}
