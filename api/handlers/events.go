package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/taskflowhq/taskflow/api"
	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/workflow"
	"go.uber.org/zap"
)

// eventBuffer is the per-subscriber queue depth. A subscriber that falls
// this far behind starts losing events rather than stalling the manager
// callbacks.
const eventBuffer = 64

// eventWriteTimeout bounds a single websocket write.
const eventWriteTimeout = 10 * time.Second

// EventsHandler serves GET /api/v1/events: a websocket feed of workflow
// lifecycle events fanned out from manager callbacks. Writes never block
// the workflow goroutines; slow subscribers drop frames.
type EventsHandler struct {
	logger         *zap.Logger
	originPatterns []string

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

type subscriber struct {
	ch chan api.Event
}

// NewEventsHandler creates an events handler. originPatterns restricts the
// websocket handshake to the given Origin hosts; "*" allows any origin.
func NewEventsHandler(logger *zap.Logger, originPatterns []string) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		logger:         logger.With(zap.String("component", "events_handler")),
		originPatterns: originPatterns,
		subs:           make(map[*subscriber]struct{}),
	}
}

// Bind subscribes the handler to a manager's lifecycle callbacks. Call once
// during wiring, before the manager starts workflows.
func (h *EventsHandler) Bind(m *workflow.Manager) {
	m.OnWorkflowStarted(func(id string) {
		h.publish(api.Event{Type: api.EventWorkflowStarted, WorkflowID: id, Timestamp: time.Now()})
	})
	m.OnTaskCompleted(func(id string, task graph.View) {
		h.publish(api.Event{Type: api.EventTaskCompleted, WorkflowID: id, Timestamp: time.Now(), Task: &task})
	})
	m.OnWorkflowCompleted(func(id string, res *workflow.Result) {
		h.publish(api.Event{Type: api.EventWorkflowCompleted, WorkflowID: id, Timestamp: time.Now(), Result: res})
	})
	m.OnWorkflowFailed(func(id string, errMsg string) {
		h.publish(api.Event{Type: api.EventWorkflowFailed, WorkflowID: id, Timestamp: time.Now(), Error: errMsg})
	})
}

// HandleEvents upgrades the request to a websocket and streams events until
// the client disconnects.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	h.logger.Debug("events subscriber connected",
		zap.String("remote", r.RemoteAddr),
		zap.Int("subscribers", h.subscriberCount()))

	// The feed is write-only. CloseRead keeps the read side drained and
	// cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-sub.ch:
			if err := h.writeEvent(ctx, conn, ev); err != nil {
				h.logger.Debug("events subscriber write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) writeEvent(ctx context.Context, conn *websocket.Conn, ev api.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func (h *EventsHandler) acceptOptions() *websocket.AcceptOptions {
	if len(h.originPatterns) == 0 {
		return nil
	}
	for _, p := range h.originPatterns {
		if p == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
}

func (h *EventsHandler) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan api.Event, eventBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *EventsHandler) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *EventsHandler) subscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many frames were discarded because a subscriber's
// queue was full.
func (h *EventsHandler) Dropped() int64 {
	return h.dropped.Load()
}

func (h *EventsHandler) publish(ev api.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}
