package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Compile-time interface check.
var _ lootbox.Notifier = (*Hub)(nil)

const subscriberBuffer = 256

// Hub fans engine events out to websocket subscribers. A subscriber
// that falls behind loses events rather than stalling the engine.
type Hub struct {
	log *log.Logger

	mu   sync.Mutex
	subs map[uint64]*subscriber
	next atomic.Uint64

	upgrader websocket.Upgrader
	dropped  atomic.Uint64
}

type subscriber struct {
	kind string
	out  chan []byte
}

// NewHub creates an empty hub. checkOrigin may be nil to accept any
// origin; OriginChecker builds one from the CORS origin list.
func NewHub(logger *log.Logger, checkOrigin func(*http.Request) bool) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		log:  logger,
		subs: make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// OriginChecker accepts websocket upgrades from the same origins the
// CORS middleware allows: an exact origin, "*" for any, or a pattern
// with one "*" wildcard such as "http://localhost:*". Requests without
// an Origin header come from non-browser clients and are accepted.
func OriginChecker(origins []string) func(*http.Request) bool {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		allowed = append(allowed, strings.ToLower(strings.TrimSpace(o)))
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
			prefix, suffix, wild := strings.Cut(o, "*")
			if wild && len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}
}

// Notify encodes ev once and queues it for every matching subscriber.
func (h *Hub) Notify(_ context.Context, ev types.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if s.kind != "" && s.kind != ev.Kind {
			continue
		}
		select {
		case s.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) subscribe(kind string) (uint64, *subscriber) {
	s := &subscriber{kind: kind, out: make(chan []byte, subscriberBuffer)}
	id := h.next.Add(1)
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	return id, s
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until the client
// goes away. The optional "kind" query parameter filters by event kind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, sub := h.subscribe(r.URL.Query().Get("kind"))
	defer h.unsubscribe(id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				writeErr <- ctx.Err()
				return
			case b := <-sub.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					return
				}
			}
		}
	}()

	// Reader loop: the feed is one-way; reads only detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

	select {
	case err := <-writeErr:
		if err != nil && err != context.Canceled {
			h.log.Printf("lootbox: event stream %d: %v", id, err)
		}
	case <-time.After(500 * time.Millisecond):
	}
}
