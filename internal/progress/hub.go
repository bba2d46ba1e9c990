// Package progress fans automation step events out to websocket listeners.
package progress

import (
	"sync"
	"time"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

type Event struct {
	Operation string    `json:"operation"`
	ProjectID string    `json:"projectId,omitempty"`
	Step      string    `json:"step"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// Hub is safe for concurrent use. A nil *Hub drops everything.
type Hub struct {
	mutex  sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event), buffer: 64, now: time.Now}
}

// Publish delivers ev to every subscriber. Subscribers that fell behind miss
// the event instead of blocking the automation.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns an event channel and the func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mutex.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mutex.Lock()
			delete(h.subs, id)
			h.mutex.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subs)
}

// Reporter publishes the steps of one operation run.
type Reporter struct {
	hub       *Hub
	operation string
	projectID string
}

func (h *Hub) Reporter(operation, projectID string) *Reporter {
	return &Reporter{hub: h, operation: operation, projectID: projectID}
}

func (r *Reporter) publish(step, status, message string) {
	r.hub.Publish(Event{
		Operation: r.operation,
		ProjectID: r.projectID,
		Step:      step,
		Status:    status,
		Message:   message,
	})
}

func (r *Reporter) Step(step string) { r.publish(step, StatusRunning, "") }

func (r *Reporter) Done(step, message string) { r.publish(step, StatusDone, message) }

func (r *Reporter) Fail(step string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.publish(step, StatusFailed, msg)
}
