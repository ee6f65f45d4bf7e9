package simulator

import (
	"context"
	"sync"
)

func NewCancelMap[K comparable]() *CancelMap[K] {
	return &CancelMap[K]{
		cancels: make(map[K]context.CancelFunc),
	}
}

type CancelMap[K comparable] struct {
	m       sync.Mutex
	cancels map[K]context.CancelFunc
}

func (m *CancelMap[K]) AddCancel(id K, cf context.CancelFunc) {
	m.m.Lock()
	defer m.m.Unlock()
	if prev, ok := m.cancels[id]; ok {
		prev()
	}
	m.cancels[id] = cf
}

func (m *CancelMap[K]) RemoveCancel(key K) {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.cancels, key)
}

func (m *CancelMap[K]) Has(key K) bool {
	m.m.Lock()
	defer m.m.Unlock()
	_, ok := m.cancels[key]
	return ok
}

// Call cancels and forgets key. Calling it for an unknown key is a no-op.
func (m *CancelMap[K]) Call(key K) bool {
	m.m.Lock()
	cf, ok := m.cancels[key]
	delete(m.cancels, key)
	m.m.Unlock()
	if ok {
		cf()
	}
	return ok
}

func (m *CancelMap[K]) CallAll() {
	m.m.Lock()
	cancels := m.cancels
	m.cancels = make(map[K]context.CancelFunc)
	m.m.Unlock()
	for _, cf := range cancels {
		cf()
	}
}
