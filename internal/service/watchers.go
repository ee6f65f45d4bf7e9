package service

import (
	"sync"

	"github.com/haatos/runbatch/internal/store"
)

type UpdateKind string

const (
	RunUpdated   UpdateKind = "run_updated"
	RunFinalized UpdateKind = "run_finalized"
	BatchUpdated UpdateKind = "batch_updated"
	BatchDeleted UpdateKind = "batch_deleted"
	Notice       UpdateKind = "notice"
)

// Update is published to watchers after every state change of the
// controller. Run and Batch are copies. Subscribed reports whether the run
// still has a live event subscription.
type Update struct {
	Kind       UpdateKind
	BatchID    int64
	RunID      int64
	Run        *store.Run
	Batch      *store.Batch
	Result     *store.Result
	Subscribed bool
	Err        error
}

func NewWatcherMap[T any](buffer int) *WatcherMap[T] {
	return &WatcherMap[T]{
		clients: make(map[string]chan T),
		buffer:  buffer,
	}
}

// WatcherMap fans messages out to buffered client channels. A client that
// does not keep up misses messages instead of blocking the sender.
type WatcherMap[T any] struct {
	m       sync.Mutex
	clients map[string]chan T
	buffer  int
}

func (cm *WatcherMap[T]) AddClient(uid string) <-chan T {
	cm.m.Lock()
	defer cm.m.Unlock()
	ch := make(chan T, cm.buffer)
	cm.clients[uid] = ch
	return ch
}

func (cm *WatcherMap[T]) RemoveClient(uid string) {
	cm.m.Lock()
	defer cm.m.Unlock()
	if ch, ok := cm.clients[uid]; ok {
		close(ch)
		delete(cm.clients, uid)
	}
}

func (cm *WatcherMap[T]) RemoveAll() {
	cm.m.Lock()
	defer cm.m.Unlock()
	for uid, ch := range cm.clients {
		close(ch)
		delete(cm.clients, uid)
	}
}

// SendToClients returns the number of clients that missed the message.
func (cm *WatcherMap[T]) SendToClients(message T) int {
	cm.m.Lock()
	defer cm.m.Unlock()
	dropped := 0
	for _, ch := range cm.clients {
		select {
		case ch <- message:
		default:
			dropped++
		}
	}
	return dropped
}

func (cm *WatcherMap[T]) Len() int {
	cm.m.Lock()
	defer cm.m.Unlock()
	return len(cm.clients)
}
