package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"chanlun-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "structengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader consumes bars from bar:{symbol} streams via consumer groups and
// carries the control channel used for operator commands.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	block         time.Duration
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	r := NewReaderFromClient(client, cfg.ConsumerGroup, cfg.ConsumerName)
	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, r.consumerGroup, r.consumerName)
	return r, nil
}

// NewReaderFromClient wraps an existing client. Empty group and consumer
// names get defaults.
func NewReaderFromClient(client *goredis.Client, group, consumer string) *Reader {
	if group == "" {
		group = "structengine"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
		block:         2 * time.Second,
	}
}

// Client returns the underlying Redis client.
func (r *Reader) Client() *goredis.Client { return r.client }

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "$" so only bars published afterwards are delivered;
// history comes from the SQLite backfill.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeBars reads bars with XREADGROUP and sends them to out, ACKing each
// message once it has been handed off. Blocks until ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.Bar) error {
	if len(streams) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    r.block,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xreadgroup error: %v", err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
			}
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, r.consumerGroup, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending re-delivers messages this group read but never ACKed, e.g.
// after a crash between read and hand-off. Gives at-least-once delivery; the
// engine drops the duplicates as out of order.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}
			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-reader] xclaim error on %s: %v", stream, err)
				break
			}
			if err := r.deliver(ctx, stream, r.consumerGroup, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReclaimStaleMessages claims PEL entries idle longer than minIdle that belong
// to other consumers of the group.
func (r *Reader) ReclaimStaleMessages(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var stale []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: stale,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	log.Printf("[redis-reader] reclaimed %d stale PEL entries from %s", len(claimed), stream)
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale entries on all streams and
// re-delivers them to out. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.Bar, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.ReclaimStaleMessages(ctx, stream, minIdle, 50)
				if err != nil {
					log.Printf("[redis-reader] PEL reclaim error on %s: %v", stream, err)
					continue
				}
				if err := r.deliver(ctx, stream, r.consumerGroup, claimed, out); err != nil {
					return
				}
				total += len(claimed)
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// deliver decodes and forwards messages, ACKing each. Undecodable messages
// are ACKed and dropped so they cannot poison the group.
func (r *Reader) deliver(ctx context.Context, stream, group string, msgs []goredis.XMessage, out chan<- model.Bar) error {
	for _, msg := range msgs {
		bar, err := decodeBar(stream, msg)
		if err != nil {
			log.Printf("[redis-reader] %s %s: %v", stream, msg.ID, err)
			r.client.XAck(ctx, stream, group, msg.ID)
			continue
		}
		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, group, msg.ID)
	}
	return nil
}

func decodeBar(stream string, msg goredis.XMessage) (model.Bar, error) {
	var bar model.Bar
	data, ok := msg.Values["data"].(string)
	if !ok {
		return bar, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		return bar, fmt.Errorf("unmarshal bar: %w", err)
	}
	if bar.Symbol == "" {
		bar.Symbol, _ = model.SymbolFromBarStream(stream)
	}
	return bar, nil
}

// SubscribeChannel subscribes to a Pub/Sub channel and waits for the
// subscription to be confirmed. Returns nil on failure.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Publish publishes a message to a Pub/Sub channel.
func (r *Reader) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
