// Package telemetry streams simulation snapshots to websocket subscribers.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 2 * time.Second
	sendBuffer = 8
)

// Frame is the envelope every message is sent in.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	id   int64
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

// Hub fans frames out to every connected subscriber. Publishing never
// blocks: a subscriber whose buffer is full misses the frame.
type Hub struct {
	mu      sync.Mutex
	subs    map[int64]*subscriber
	last    []byte
	nextID  int64
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
	log     *zap.Logger

	upgrader websocket.Upgrader
}

// NewHub builds an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs: map[int64]*subscriber{},
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many frames were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Sent returns how many frames were queued for delivery.
func (h *Hub) Sent() int64 { return h.sent.Load() }

// Publish wraps v in a frame of the given type and queues it for every
// subscriber. New subscribers receive the latest frame on connect.
func (h *Hub) Publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("telemetry: marshal %s: %w", kind, err)
	}
	frame, err := json.Marshal(Frame{Type: kind, Data: data})
	if err != nil {
		return fmt.Errorf("telemetry: marshal frame: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = frame
	for _, sub := range h.subs {
		select {
		case sub.send <- frame:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams frames until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub, ok := h.subscribe(conn)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed")
		_ = conn.WriteMessage(websocket.CloseMessage, message)
		_ = conn.Close()
		return
	}
	h.log.Debug("subscriber joined", zap.Int64("id", sub.id), zap.String("remote", r.RemoteAddr))

	go h.writePump(sub)

	// Subscribers only listen; reading detects when they go away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unsubscribe(sub)
	h.log.Debug("subscriber left", zap.Int64("id", sub.id))
}

func (h *Hub) subscribe(conn *websocket.Conn) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.nextID++
	sub := &subscriber{id: h.nextID, conn: conn, send: make(chan []byte, sendBuffer)}
	if h.last != nil {
		sub.send <- h.last
	}
	h.subs[sub.id] = sub
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) writePump(sub *subscriber) {
	defer sub.conn.Close()
	for data := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("send failed", zap.Int64("id", sub.id), zap.Error(err))
			return
		}
	}
	_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = sub.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = map[int64]*subscriber{}
	h.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

// Serve runs an HTTP server exposing the hub on /ws until ctx is done.
func Serve(ctx context.Context, addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subscribers": h.Subscribers(),
			"sent":        h.Sent(),
			"dropped":     h.Dropped(),
		})
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry: serve %s: %w", addr, err)
	case <-ctx.Done():
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shutdown: %w", err)
		}
		return nil
	}
}
