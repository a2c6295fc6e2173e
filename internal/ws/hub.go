// Package ws streams kernel events (task lifecycle, syscall channel slot
// transitions) to WebSocket subscribers.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/picokernel/kernel/internal/infrastructure/monitoring"
	"github.com/picokernel/kernel/internal/logging"
)

// Event types published by the hub.
const (
	EventTaskRegistered  = "task_registered"
	EventTaskExited      = "task_exited"
	EventSubmit          = "submit"
	EventFetch           = "fetch"
	EventOrphanReclaimed = "orphan_reclaimed"
)

// Event is one kernel event on the stream.
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is the proxy's concern
	},
}

// subscriberBuffer bounds a subscriber's event backlog. A subscriber that
// falls further behind is dropped rather than stalling the publisher.
const subscriberBuffer = 64

type subscriber struct {
	events chan Event
}

// Hub fans kernel events out to connected subscribers.
type Hub struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an event hub. metrics may be nil.
func NewHub(log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish delivers an event to every subscriber. Slow subscribers are
// disconnected.
func (h *Hub) Publish(eventType string, data interface{}) {
	evt := Event{Type: eventType, Time: time.Now(), Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSEvent(eventType)
	}
	for s := range h.subs {
		select {
		case s.events <- evt:
		default:
			delete(h.subs, s)
			close(s.events)
		}
	}
}

// HandleConnection upgrades the request and streams events until the
// client disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s := &subscriber{events: make(chan Event, subscriberBuffer)}
	if !h.add(s) {
		return
	}
	defer h.remove(s)

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	// Welcome frame, so clients can confirm the stream is live.
	welcome := Event{Type: "system", Time: time.Now(), Data: gin.H{"message": "connected to kernel event stream"}}
	if err := conn.WriteJSON(welcome); err != nil {
		return
	}

	// Reader goroutine: only there to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-s.events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// Close disconnects all subscribers and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.events)
	}
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ChannelRecorder adapts the hub to the syscall channel's Recorder
// interface so slot transitions appear on the event stream.
type ChannelRecorder struct {
	hub *Hub
}

// NewChannelRecorder wraps a hub.
func NewChannelRecorder(hub *Hub) *ChannelRecorder {
	return &ChannelRecorder{hub: hub}
}

func (r *ChannelRecorder) RecordSubmit(outcome string) {
	r.hub.Publish(EventSubmit, gin.H{"outcome": outcome})
}

func (r *ChannelRecorder) RecordFetch(outcome string) {
	r.hub.Publish(EventFetch, gin.H{"outcome": outcome})
}

func (r *ChannelRecorder) SetSlotOccupied(bool) {}

func (r *ChannelRecorder) RecordOrphanReclaim() {
	r.hub.Publish(EventOrphanReclaimed, nil)
}
