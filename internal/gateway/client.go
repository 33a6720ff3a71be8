package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu   sync.RWMutex
	symbols map[string]bool // nil receives every symbol
}

func newClient(h *Hub, conn *websocket.Conn, symbols []string) *Client {
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}
	c.subscribe(symbols)
	return c
}

// clientMsg is what clients may send.
//
//	{"type":"SUBSCRIBE","symbols":["AAPL"]}
//	{"type":"UNSUBSCRIBE","symbols":["AAPL"]}
//	{"ping":1705311000000}
type clientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func (c *Client) wants(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.symbols == nil || c.symbols[symbol]
}

func (c *Client) subscribe(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	c.subMu.Lock()
	if c.symbols == nil {
		c.symbols = make(map[string]bool, len(symbols))
	}
	for _, s := range symbols {
		c.symbols[s] = true
	}
	c.subMu.Unlock()
}

// unsubscribe drops symbols. Unsubscribing everything leaves an empty, not
// nil, set so the client stops receiving.
func (c *Client) unsubscribe(symbols []string) {
	c.subMu.Lock()
	if c.symbols == nil {
		c.symbols = map[string]bool{}
	}
	for _, s := range symbols {
		delete(c.symbols, s)
	}
	c.subMu.Unlock()
}

// sendInitialState queues the latest envelope of each wanted symbol that is
// newer than lastTS (RFC 3339).
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = t
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for sym, e := range c.hub.latest {
		if !c.wants(sym) || (!cutoff.IsZero() && !e.TS.After(cutoff)) {
			continue
		}
		select {
		case c.send <- e.Envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Coalesce whatever is queued into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			for i, n := 0, len(c.send); i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subscribe(msg.Symbols)
			c.reply(map[string]interface{}{"type": "subscribed", "symbols": msg.Symbols})
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Symbols)
			c.reply(map[string]interface{}{"type": "unsubscribed", "symbols": msg.Symbols})
		default:
			if msg.Ping > 0 {
				c.reply(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

// reply queues a control message. Dropped if the client is backed up.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
