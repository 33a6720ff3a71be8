package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"chanlun-engine/internal/structure"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// StructureSource is the engine surface the HTTP API reads and resets.
// Implementations must be safe to call from HTTP goroutines.
type StructureSource interface {
	View(symbol string, withSeries bool) (structure.View, bool)
	Symbols() []string
	Reset(symbol string) bool
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// splitSymbols parses "A,B" query values.
func splitSymbols(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// RegisterRoutes registers the WebSocket and REST routes on mux.
//
//	GET  /ws?symbol=A,B&last_ts=...        stroke event stream
//	GET  /structure?symbol=A&series=1      structure view
//	GET  /symbols                          symbols with live engines
//	GET  /api/missed?symbol=A&from=N&to=M  envelopes for gap backfill
//	POST /reset?symbol=A                   reinitialize one symbol
func RegisterRoutes(mux *http.ServeMux, hub *Hub, src StructureSource) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		q := r.URL.Query()
		hub.HandleWSRequest(conn, splitSymbols(q.Get("symbol")), q.Get("last_ts"))
	})

	mux.HandleFunc("/structure", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		withSeries, _ := strconv.ParseBool(r.URL.Query().Get("series"))
		v, ok := src.View(symbol, withSeries)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown symbol "+symbol)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})

	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, src.Symbols())
	})

	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		q := r.URL.Query()
		symbol := q.Get("symbol")
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if symbol == "" || err1 != nil || err2 != nil || from > to {
			writeError(w, http.StatusBadRequest, "symbol, from and to are required")
			return
		}
		msgs := hub.ReplayRange(symbol, from, to)
		if msgs == nil {
			msgs = []json.RawMessage{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol":   symbol,
			"messages": msgs,
			"current":  hub.SymbolSeq(symbol),
		})
	})

	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		if !src.Reset(symbol) {
			writeError(w, http.StatusNotFound, "unknown symbol "+symbol)
			return
		}
		hub.BroadcastReset(symbol)
		log.Printf("[gateway] %s structure reset", symbol)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "symbol": symbol})
	})
}
