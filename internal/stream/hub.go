// Package stream fans newly accepted events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/NikKowPHP/meetup/internal/models"
)

// Hub never blocks publishers: a subscriber whose buffer is full misses the
// event and the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan models.Event
	nextID  uint64
	dropped uint64
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{subs: map[uint64]chan models.Event{}, logger: logger}
}

// Subscribe registers a buffered channel; call the returned func to release it.
func (h *Hub) Subscribe(buf int) (<-chan models.Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan models.Event, buf)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(events ...models.Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ev := range events {
		for _, ch := range h.subs {
			select {
			case ch <- ev:
			default:
				atomic.AddUint64(&h.dropped, 1)
			}
		}
	}
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 {
	if h == nil {
		return 0
	}
	return atomic.LoadUint64(&h.dropped)
}

// Serve pushes events to conn as JSON until the client goes away or ctx ends.
// Pings keep idle connections alive through proxies.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	events, cancel := h.Subscribe(0)
	defer cancel()

	// The client never sends anything meaningful; CloseRead handles control
	// frames and cancels ctx once the peer closes.
	ctx = conn.CloseRead(ctx)
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, stop := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			stop()
			if err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			writeCtx, stop := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			stop()
			if err != nil {
				if h.logger != nil {
					h.logger.Debug("stream write failed", zap.Error(err))
				}
				return err
			}
		}
	}
}
