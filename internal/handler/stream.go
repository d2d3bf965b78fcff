package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/smart-parking/internal/events"
	"github.com/iliyamo/smart-parking/internal/model"
)

const (
	// streamBacklog is how many recent changes are kept for Last-Event-ID
	// replay.
	streamBacklog = 256

	streamKeepalive = 15 * time.Second
)

type streamEvent struct {
	ID    uint64
	Topic string
	Data  []byte
}

type streamClient struct {
	ch chan streamEvent
}

// Hub fans state changes out to connected event-stream clients. Publish is
// non-blocking; a client that falls behind loses events rather than
// stalling the poller.
type Hub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	nextID  uint64
	ring    [streamBacklog]streamEvent
	ringPos int
	ringLen int
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{log: logger, clients: make(map[*streamClient]struct{})}
}

// Publish records c and sends it to every client. Its signature matches
// the engine's change subscriber.
func (h *Hub) Publish(c model.StateChange) {
	data, err := json.Marshal(c)
	if err != nil {
		h.log.Warn().Err(err).Str("key", c.Key).Msg("stream: marshal change failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	evt := streamEvent{ID: h.nextID, Topic: events.TopicFor(c), Data: data}
	h.ring[h.ringPos] = evt
	h.ringPos = (h.ringPos + 1) % streamBacklog
	if h.ringLen < streamBacklog {
		h.ringLen++
	}
	for cl := range h.clients {
		select {
		case cl.ch <- evt:
		default:
		}
	}
}

func (h *Hub) subscribe(lastID uint64) (*streamClient, []streamEvent) {
	cl := &streamClient{ch: make(chan streamEvent, 64)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}

	var backlog []streamEvent
	if lastID > 0 {
		start := (h.ringPos - h.ringLen + streamBacklog) % streamBacklog
		for i := 0; i < h.ringLen; i++ {
			if evt := h.ring[(start+i)%streamBacklog]; evt.ID > lastID {
				backlog = append(backlog, evt)
			}
		}
	}
	return cl, backlog
}

func (h *Hub) unsubscribe(cl *streamClient) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stream handles GET /v1/events as a text/event-stream. A Last-Event-ID
// header replays buffered changes the client missed.
func (h *Hub) Stream(c echo.Context) error {
	w := c.Response()
	var lastID uint64
	if raw := c.Request().Header.Get("Last-Event-ID"); raw != "" {
		lastID, _ = strconv.ParseUint(raw, 10, 64)
	}
	cl, backlog := h.subscribe(lastID)
	defer h.unsubscribe(cl)

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	for _, evt := range backlog {
		writeStreamEvent(w, evt)
	}
	w.Flush()

	ctx := c.Request().Context()
	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-cl.ch:
			writeStreamEvent(w, evt)
			w.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			w.Flush()
		}
	}
}

func writeStreamEvent(w io.Writer, evt streamEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
