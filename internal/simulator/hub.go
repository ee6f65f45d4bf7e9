package simulator

import (
	"sync"

	"github.com/haatos/runbatch/internal/store"
)

func NewEventHub(buffer int) *EventHub {
	return &EventHub{
		clients: make(map[int64]map[string]chan store.RunEvent),
		buffer:  buffer,
	}
}

// EventHub fans persisted run events out to the live subscribers of each
// run. A subscriber whose buffer is full is closed and removed; it resumes
// from its last seen sequence number.
type EventHub struct {
	m       sync.Mutex
	clients map[int64]map[string]chan store.RunEvent
	buffer  int
}

func (h *EventHub) AddClient(runID int64, uid string) <-chan store.RunEvent {
	h.m.Lock()
	defer h.m.Unlock()
	if h.clients[runID] == nil {
		h.clients[runID] = make(map[string]chan store.RunEvent)
	}
	ch := make(chan store.RunEvent, h.buffer)
	h.clients[runID][uid] = ch
	return ch
}

func (h *EventHub) RemoveClient(runID int64, uid string) {
	h.m.Lock()
	defer h.m.Unlock()
	h.removeLocked(runID, uid)
}

func (h *EventHub) removeLocked(runID int64, uid string) {
	ch, ok := h.clients[runID][uid]
	if !ok {
		return
	}
	close(ch)
	delete(h.clients[runID], uid)
	if len(h.clients[runID]) == 0 {
		delete(h.clients, runID)
	}
}

func (h *EventHub) Publish(re store.RunEvent) {
	h.m.Lock()
	defer h.m.Unlock()
	for uid, ch := range h.clients[re.EventRunID] {
		select {
		case ch <- re:
		default:
			h.removeLocked(re.EventRunID, uid)
		}
	}
}

// CloseRun disconnects every subscriber of runID.
func (h *EventHub) CloseRun(runID int64) {
	h.m.Lock()
	defer h.m.Unlock()
	for uid := range h.clients[runID] {
		h.removeLocked(runID, uid)
	}
}

func (h *EventHub) Len(runID int64) int {
	h.m.Lock()
	defer h.m.Unlock()
	return len(h.clients[runID])
}
