package metrics

import (
	"errors"
	"time"

	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label on BarsRejected.
const (
	ReasonMalformed   = "malformed"
	ReasonOutOfOrder  = "out_of_order"
	ReasonExhausted   = "correction_exhausted"
	ReasonHalted      = "halted"
	ReasonOther       = "other"
	ReasonUnroutedSym = "unrouted_symbol"
)

// Metrics holds all Prometheus metrics for the structure engine.
type Metrics struct {
	BarsAccepted    prometheus.Counter
	BarsRejected    *prometheus.CounterVec // labels: reason
	MergedFinalized prometheus.Counter
	Fractals        *prometheus.CounterVec // labels: kind
	StrokeEvents    *prometheus.CounterVec // labels: kind
	CorrectionDepth prometheus.Histogram
	UpdateDur       prometheus.Histogram
	Instruments     prometheus.Gauge
	SymbolHalted    *prometheus.GaugeVec // labels: symbol

	// Ingest
	RingBufOverflow      prometheus.Counter
	FeedReconnects       prometheus.Counter
	FeedDropped          prometheus.Counter
	PELMessagesReclaimed prometheus.Counter

	// Backpressure
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedEvents      prometheus.Counter

	SnapshotsSaved *prometheus.CounterVec // labels: store
	SQLiteWriteDur prometheus.Histogram
	SQLiteBarWaits prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	fast := []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005}

	m := &Metrics{
		BarsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_bars_accepted_total",
			Help: "Raw bars accepted by the structure engine",
		}),
		BarsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structengine_bars_rejected_total",
			Help: "Raw bars rejected (by reason)",
		}, []string{"reason"}),
		MergedFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_merged_bars_total",
			Help: "Merged bars finalized",
		}),
		Fractals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structengine_fractals_total",
			Help: "Fractals detected (by kind)",
		}, []string{"kind"}),
		StrokeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structengine_stroke_events_total",
			Help: "Stroke events emitted (by kind)",
		}, []string{"kind"}),
		CorrectionDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "structengine_correction_depth",
			Help:    "Effective-list entries popped per correction",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		UpdateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "structengine_update_duration_seconds",
			Help:    "Engine update latency per bar",
			Buckets: fast,
		}),
		Instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "structengine_instruments",
			Help: "Instruments with a live engine",
		}),
		SymbolHalted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "structengine_symbol_halted",
			Help: "1 while a symbol's engine is halted by an exhausted correction",
		}, []string{"symbol"}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped bars)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_feed_reconnects_total",
			Help: "WebSocket bar feed reconnection attempts",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_feed_dropped_total",
			Help: "Feed bars dropped because the ingest channel was full",
		}),
		PELMessagesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_pel_messages_reclaimed_total",
			Help: "Bar stream messages reclaimed from dead consumers via XCLAIM",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structengine_fanout_drops_total",
			Help: "Stroke events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "structengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "structengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_redis_buffered_events_total",
			Help: "Stroke events buffered locally while Redis was unavailable",
		}),

		SnapshotsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structengine_snapshots_saved_total",
			Help: "Engine snapshots saved (by store)",
		}, []string{"store"}),
		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "structengine_sqlite_write_duration_seconds",
			Help:    "SQLite structure/event write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteBarWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "structengine_sqlite_bar_waits_total",
			Help: "Accepted bars that waited for room in the SQLite bar queue",
		}),
	}

	reg.MustRegister(
		m.BarsAccepted,
		m.BarsRejected,
		m.MergedFinalized,
		m.Fractals,
		m.StrokeEvents,
		m.CorrectionDepth,
		m.UpdateDur,
		m.Instruments,
		m.SymbolHalted,
		m.RingBufOverflow,
		m.FeedReconnects,
		m.FeedDropped,
		m.PELMessagesReclaimed,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedEvents,
		m.SnapshotsSaved,
		m.SQLiteWriteDur,
		m.SQLiteBarWaits,
	)
	return m
}

// ObserveOutcome records one accepted bar.
func (m *Metrics) ObserveOutcome(out chanlun.Outcome, took time.Duration) {
	m.BarsAccepted.Inc()
	m.UpdateDur.Observe(took.Seconds())
	if out.Finalized {
		m.MergedFinalized.Inc()
	}
	if out.Pivot != model.PivotNone {
		m.Fractals.WithLabelValues(out.Pivot.String()).Inc()
	}
	if ev := out.Event; ev != nil {
		m.StrokeEvents.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Kind == model.EventCorrected {
			m.CorrectionDepth.Observe(float64(ev.Popped))
		}
	}
}

// ObserveRejection records a rejected bar under the reason err maps to.
func (m *Metrics) ObserveRejection(err error) {
	m.BarsRejected.WithLabelValues(RejectionReason(err)).Inc()
}

// RejectionReason maps an engine error to a metric label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, chanlun.ErrHalted):
		return ReasonHalted
	case errors.Is(err, chanlun.ErrMalformedBar):
		return ReasonMalformed
	case errors.Is(err, chanlun.ErrOutOfOrder):
		return ReasonOutOfOrder
	case errors.Is(err, chanlun.ErrCorrectionExhausted):
		return ReasonExhausted
	default:
		return ReasonOther
	}
}

// SetHalted records whether symbol's engine is halted.
func (m *Metrics) SetHalted(symbol string, halted bool) {
	v := 0.0
	if halted {
		v = 1
	}
	m.SymbolHalted.WithLabelValues(symbol).Set(v)
}

// SetChannelSaturation records len/cap of a named channel as a percentage.
func (m *Metrics) SetChannelSaturation(name string, length, capacity int) {
	if capacity <= 0 {
		return
	}
	m.ChannelSaturationPct.WithLabelValues(name).Set(float64(length) / float64(capacity) * 100)
}

// SetBreakerState records a circuit breaker transition. to is the numeric
// state; 1 (open) also counts a trip.
func (m *Metrics) SetBreakerState(to int) {
	m.RedisCircuitBreakerState.Set(float64(to))
	if to == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}
