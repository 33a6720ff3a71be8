// Package structengine is the live structure service: it restores the
// per-symbol engines, consumes bars from Redis streams and an optional
// WebSocket feed, and fans stroke events out to Redis, SQLite, WebSocket
// clients and notifiers.
package structengine

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chanlun-engine/config"
	"chanlun-engine/internal/chanlun"
	"chanlun-engine/internal/gateway"
	"chanlun-engine/internal/marketdata/bus"
	"chanlun-engine/internal/metrics"
	"chanlun-engine/internal/model"
	"chanlun-engine/internal/ringbuf"
	redisstore "chanlun-engine/internal/store/redis"
	sqlitestore "chanlun-engine/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	ringCapacity     = 8192
	eventBufferSize  = 1024
	replayBufferSize = 500
	maxBufferedEvts  = 10000
)

// Service is the top-level orchestrator for the structure engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg       *config.Config
	engineCfg chanlun.Config

	engine      *lockedEngine
	rdb         *goredis.Client
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	snapStore   *redisstore.SnapshotStore
	breaker     *redisstore.CircuitBreaker
	publisher   *redisstore.BufferedPublisher
	sqlReader   *sqlitestore.Reader
	sqlWriter   *sqlitestore.Writer

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	hub    *gateway.Hub
	events *bus.FanOut[model.StrokeEvent]

	ring   *ringbuf.Ring[model.Bar]
	pushMu sync.Mutex

	streams []string
	sinks   sync.WaitGroup
	ready   chan struct{}
}

// New connects to Redis (required) and SQLite (optional) and returns a
// service ready to Run.
func New(cfg *config.Config) (*Service, error) {
	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	var sqlW *sqlitestore.Writer
	var sqlR *sqlitestore.Reader
	if cfg.SQLitePath != "" {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Printf("[structengine] WARNING: cannot create sqlite dir %s: %v", dir, err)
			}
		}
		sqlW, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Printf("[structengine] WARNING: sqlite writer init failed: %v (continuing without SQLite)", err)
		} else if sqlR, err = sqlitestore.NewReader(cfg.SQLitePath); err != nil {
			log.Printf("[structengine] WARNING: sqlite reader init failed: %v (continuing without backfill)", err)
		}
	}

	return NewFromClients(cfg, reader.Client(), sqlW, sqlR), nil
}

// NewFromClients builds a service around existing connections. Either SQLite
// handle may be nil.
func NewFromClients(cfg *config.Config, rdb *goredis.Client, sqlW *sqlitestore.Writer, sqlR *sqlitestore.Reader) *Service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &Service{
		cfg: cfg,
		engineCfg: chanlun.Config{
			GapThreshold: cfg.GapThreshold,
			DecisionLog:  cfg.DecisionLog,
			Logger:       slog.Default(),
		},
		rdb:         rdb,
		redisReader: redisstore.NewReaderFromClient(rdb, cfg.ConsumerGroup, cfg.ConsumerName),
		redisWriter: redisstore.NewFromClient(rdb),
		snapStore:   redisstore.NewSnapshotStore(rdb, cfg.SnapshotKey, 0),
		breaker:     redisstore.NewCircuitBreaker(5, 10*time.Second),
		sqlReader:   sqlR,
		sqlWriter:   sqlW,
		reg:         reg,
		prom:        metrics.NewMetrics(reg),
		health:      metrics.NewHealthStatus(),
		hub:         gateway.NewHub(replayBufferSize),
		ring:        ringbuf.New[model.Bar](ringCapacity),
		ready:       make(chan struct{}),
	}
	svc.health.SetRedisConnected(true)
	svc.health.SetSQLite(cfg.SQLitePath != "", sqlW != nil)
	svc.health.SetFeed(cfg.BarFeedURL != "", false)
	svc.breaker.OnStateChange = func(from, to redisstore.State) {
		svc.prom.SetBreakerState(int(to))
		svc.health.SetRedisConnected(to != redisstore.StateOpen)
	}
	return svc
}

// Ready is closed once Run has restored the engine and started consuming.
func (svc *Service) Ready() <-chan struct{} { return svc.ready }

// Handler returns the HTTP API: health, metrics, WebSocket events and the
// structure endpoints. Valid once Ready is closed.
func (svc *Service) Handler() http.Handler {
	mux := metrics.Handler(svc.health, svc.reg)
	gateway.RegisterRoutes(mux, svc.hub, svc.engine)
	return mux
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	log.Println("[structengine] starting structure engine...")

	svc.publisher = redisstore.NewBufferedPublisher(ctx, svc.redisWriter, svc.breaker, maxBufferedEvts)
	svc.publisher.OnBuffer = func(n int) { svc.prom.RedisBufferedEvents.Add(float64(n)) }

	// ---- Restore engine from snapshot, then backfill ----
	svc.restore(ctx)

	// ---- Event fan-out ----
	eventCh := make(chan model.StrokeEvent, eventBufferSize)
	svc.startEventSinks(ctx, eventCh)

	// ---- Bar path: producers → ring → process loop ----
	var sqlBarCh chan model.Bar
	if svc.sqlWriter != nil {
		sqlBarCh = make(chan model.Bar, eventBufferSize)
		svc.sinks.Add(1)
		go func() {
			defer svc.sinks.Done()
			svc.sqlWriter.RunBars(ctx, sqlBarCh)
		}()
	}
	engineCh := make(chan model.Bar, 256)
	go svc.ring.Drain(ctx, engineCh, time.Millisecond)
	go svc.processLoop(ctx, engineCh, eventCh, sqlBarCh)

	// ---- Ingest ----
	svc.streams = svc.buildStreams(ctx)
	log.Printf("[structengine] consuming from %d streams: %v", len(svc.streams), svc.streams)
	svc.startConsumer(ctx)
	svc.startFeed(ctx)

	// ---- Periodic work ----
	go svc.snapshotLoop(ctx)
	go svc.gaugeLoop(ctx, 5*time.Second)
	var sqlDB *sql.DB
	if svc.sqlWriter != nil {
		sqlDB = svc.sqlWriter.DB()
	}
	svc.health.StartLivenessChecker(ctx, svc.rdb, sqlDB, 10*time.Second)

	// ---- HTTP ----
	httpSrv := svc.startHTTP()
	var metricsSrv *metrics.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.HTTPAddr {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.health, svc.reg)
		metricsSrv.Start()
	}

	close(svc.ready)
	log.Printf("[structengine] all systems running (gap=%d, snapshot every %s)", svc.engineCfg.GapThreshold, cfg.SnapshotInterval)

	<-ctx.Done()

	// ---- Graceful shutdown ----
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		httpSrv.Shutdown(shutCtx)
	}
	if metricsSrv != nil {
		metricsSrv.Stop(shutCtx)
	}
	svc.shutdown(shutCtx)
	return nil
}

func (svc *Service) startHTTP() *http.Server {
	if svc.cfg.HTTPAddr == "" {
		return nil
	}
	srv := &http.Server{Addr: svc.cfg.HTTPAddr, Handler: svc.Handler()}
	go func() {
		log.Printf("[structengine] HTTP API listening on %s", svc.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[structengine] HTTP server error: %v", err)
		}
	}()
	return srv
}

// shutdown waits for the SQLite sinks to flush, saves a final snapshot and
// closes connections.
func (svc *Service) shutdown(ctx context.Context) {
	log.Println("[structengine] shutdown signal received, saving final snapshot...")
	svc.sinks.Wait()
	svc.saveSnapshot(ctx, "shutdown")

	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	log.Println("[structengine] shutdown complete.")
}

// setHalted mirrors a symbol's halt into metrics and health.
func (svc *Service) setHalted(symbol string, halted bool) {
	svc.prom.SetHalted(symbol, halted)
	svc.health.SetHalted(symbol, halted)
}

// gaugeLoop refreshes saturation and instrument gauges.
func (svc *Service) gaugeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.prom.SetChannelSaturation("bar_ring", svc.ring.Len(), svc.ring.Cap())
			for _, st := range svc.events.ChannelStats() {
				svc.prom.SetChannelSaturation("events_"+st.Name, st.Len, st.Cap)
			}
			n := len(svc.engine.Symbols())
			svc.prom.Instruments.Set(float64(n))
			svc.health.SetInstruments(n)
		}
	}
}
