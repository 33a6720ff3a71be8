package structengine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/logger"
	"chanlun-engine/internal/marketdata/bus"
	"chanlun-engine/internal/metrics"
	"chanlun-engine/internal/model"
	"chanlun-engine/internal/notification"
)

const publishBatch = 64

// processLoop is the only goroutine that feeds the engine.
func (svc *Service) processLoop(ctx context.Context, barCh <-chan model.Bar, eventCh chan<- model.StrokeEvent, sqlBarCh chan<- model.Bar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-barCh:
			svc.processBar(ctx, bar, eventCh, sqlBarCh)
		}
	}
}

func (svc *Service) processBar(ctx context.Context, bar model.Bar, eventCh chan<- model.StrokeEvent, sqlBarCh chan<- model.Bar) {
	start := time.Now()
	out, routed, err := svc.engine.Process(bar)
	if !routed {
		svc.prom.BarsRejected.WithLabelValues(metrics.ReasonUnroutedSym).Inc()
		return
	}
	if err != nil {
		svc.prom.ObserveRejection(err)
		if errors.Is(err, chanlun.ErrCorrectionExhausted) && !errors.Is(err, chanlun.ErrHalted) {
			svc.setHalted(bar.Symbol, true)
			log.Printf("[structengine] %s halted: %v (POST /reset?symbol=%s resumes it)", bar.Symbol, err, bar.Symbol)
		}
		tctx := logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Symbol, bar.TS))
		slog.WarnContext(tctx, "bar rejected",
			append(logger.LogWithTrace(tctx), "symbol", bar.Symbol, "ts", bar.TS, "reason", metrics.RejectionReason(err), "err", err)...)
		return
	}
	svc.prom.ObserveOutcome(out, time.Since(start))
	svc.health.SetLastBarTime(bar.TS)

	// Only accepted bars are stored, and none is skipped, so a backfill
	// replays exactly what the live engine saw.
	if sqlBarCh != nil {
		select {
		case sqlBarCh <- bar:
		default:
			svc.prom.SQLiteBarWaits.Inc()
			select {
			case sqlBarCh <- bar:
			case <-ctx.Done():
				log.Printf("[structengine] shutdown before %s@%s reached sqlite", bar.Symbol, bar.TS.Format(time.RFC3339))
			}
		}
	}
	if out.Event != nil {
		select {
		case eventCh <- *out.Event:
		default:
			svc.prom.FanoutDropsTotal.WithLabelValues("engine").Inc()
		}
	}
}

// startEventSinks fans events out to Redis, SQLite, the WebSocket hub and
// the notifiers. A slow sink loses events only for itself.
func (svc *Service) startEventSinks(ctx context.Context, eventCh <-chan model.StrokeEvent) {
	svc.events = bus.New[model.StrokeEvent](eventBufferSize)
	svc.events.OnDrop = func(name string) { svc.prom.FanoutDropsTotal.WithLabelValues(name).Inc() }

	redisCh := svc.events.Subscribe("redis")
	hubCh := svc.events.Subscribe("gateway")
	notifyCh := svc.events.Subscribe("notify")
	if svc.sqlWriter != nil {
		sqlCh := svc.events.Subscribe("sqlite")
		svc.sinks.Add(1)
		go func() {
			defer svc.sinks.Done()
			svc.sqlWriter.RunEvents(ctx, sqlCh)
		}()
	}

	go svc.publishLoop(ctx, redisCh)
	go svc.hub.Run(ctx, hubCh)
	go svc.dispatcher().Run(ctx, notifyCh)
	go svc.events.Run(ctx, eventCh)
}

func (svc *Service) dispatcher() *notification.Dispatcher {
	n := notification.Multi{notification.NewLogNotifier()}
	if svc.cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	return notification.NewDispatcher(n)
}

// publishLoop publishes events in small batches, taking whatever is already
// queued behind the first one.
func (svc *Service) publishLoop(ctx context.Context, ch <-chan model.StrokeEvent) {
	for ev := range ch {
		batch := []model.StrokeEvent{ev}
	drain:
		for len(batch) < publishBatch {
			select {
			case next, ok := <-ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		svc.publisher.PublishEvents(ctx, batch)
	}
}
