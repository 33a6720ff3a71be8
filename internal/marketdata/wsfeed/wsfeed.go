// Package wsfeed ingests bars from a plain-JSON WebSocket feed.
//
// Each text message is either one bar object or an array of them:
//
//	{"symbol":"AAPL","ts":"2024-01-15T09:30:00Z","open":185.1,"high":185.4,"low":184.9,"close":185.2,"volume":1200}
//
// ts may also be epoch milliseconds, and prices may be quoted strings.
package wsfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"chanlun-engine/internal/marketdata/csvload"
	"chanlun-engine/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the feed client.
type Config struct {
	// URL of the bar WebSocket server, e.g. "ws://localhost:9001/bars".
	URL string

	// ReconnectDelay is the initial delay before reconnecting. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed connects to a bar WebSocket and pushes parsed bars to a channel.
type Feed struct {
	cfg Config

	OnConnect   func()
	OnReconnect func()
	OnDrop      func(model.Bar) // bar dropped because the output channel was full
}

// New creates a Feed. Returns an error if the URL is not a ws:// or wss:// URL.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("wsfeed: unsupported scheme %q", u.Scheme)
	}
	return &Feed{cfg: cfg}, nil
}

// Start streams bars into out until ctx is cancelled, reconnecting with
// exponential backoff on disconnect. A bar is dropped rather than blocking
// when out is full.
func (f *Feed) Start(ctx context.Context, out chan<- model.Bar) error {
	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		log.Printf("[wsfeed] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes one connection and reads until disconnect. Returns a nil
// error only when ctx was cancelled.
func (f *Feed) runOnce(ctx context.Context, out chan<- model.Bar) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	log.Printf("[wsfeed] connected to %s", f.cfg.URL)
	if f.OnConnect != nil {
		f.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}

		bars, err := ParseMessage(raw)
		if err != nil {
			log.Printf("[wsfeed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		for _, b := range bars {
			select {
			case out <- b:
			default:
				if f.OnDrop != nil {
					f.OnDrop(b)
				}
			}
		}
	}
}

// ParseMessage decodes one wire message into bars. Entries without a symbol
// are rejected.
func ParseMessage(raw []byte) ([]model.Bar, error) {
	raw = bytes.TrimSpace(raw)
	var objs []map[string]interface{}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &objs); err != nil {
			return nil, err
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}

	bars := make([]model.Bar, 0, len(objs))
	for i, obj := range objs {
		b, err := parseBar(obj)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseBar(m map[string]interface{}) (model.Bar, error) {
	var b model.Bar
	b.Symbol, _ = m["symbol"].(string)
	if b.Symbol == "" {
		return b, fmt.Errorf("missing symbol")
	}

	switch ts := m["ts"].(type) {
	case string:
		t, err := csvload.ParseTime(ts)
		if err != nil {
			return b, err
		}
		b.TS = t
	case float64:
		b.TS = time.UnixMilli(int64(ts)).UTC()
	default:
		return b, fmt.Errorf("missing ts")
	}

	var err error
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
	} {
		if *f.dst, err = toFloat(m[f.key]); err != nil {
			return b, fmt.Errorf("%s: %w", f.key, err)
		}
	}
	if v, ok := m["volume"]; ok {
		if b.Volume, err = toFloat(v); err != nil {
			return b, fmt.Errorf("volume: %w", err)
		}
	}
	return b, nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
