package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"chanlun-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stroke events are sparse; a few thousand per symbol covers a session.
	strokeStreamMaxLen = 5000
	barStreamMaxLen    = 20000
	defaultLatestTTL   = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes stroke events and bars to Redis.
type Writer struct {
	client *goredis.Client
}

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client) *Writer {
	return &Writer{client: client}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// PublishEvents writes events in one pipeline: XADD to stroke:{symbol},
// SET stroke:latest:{symbol} and PUBLISH on pub:stroke:{symbol}.
// Errors are logged, not returned.
func (w *Writer) PublishEvents(ctx context.Context, events []model.StrokeEvent) {
	if err := w.publishEvents(ctx, events); err != nil {
		log.Printf("[redis] stroke event pipeline error (%d events): %v", len(events), err)
	}
}

func (w *Writer) publishEvents(ctx context.Context, events []model.StrokeEvent) error {
	if len(events) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range events {
		ev := &events[i]
		data := string(ev.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ev.StreamKey(),
			MaxLen: strokeStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, ev.LatestKey(), data, defaultLatestTTL)
		pipe.Publish(ctx, ev.PubSubChannel(), data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PublishBars appends bars to their bar:{symbol} streams. Used by demo feeds
// and tests to drive the consumer side.
func (w *Writer) PublishBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range bars {
		b := &bars[i]
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: b.StreamKey(),
			MaxLen: barStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(b.JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %d bars: %w", len(bars), err)
	}
	return nil
}

// LatestEvent returns the last event stored for symbol, or nil if none.
func (w *Writer) LatestEvent(ctx context.Context, symbol string) ([]byte, error) {
	ev := model.StrokeEvent{Symbol: symbol}
	data, err := w.client.Get(ctx, ev.LatestKey()).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", ev.LatestKey(), err)
	}
	return data, nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
