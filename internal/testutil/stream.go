package testutil

import (
	"io"
	"sync"

	"github.com/haatos/runbatch/internal/events"
)

type streamItem struct {
	ev  events.Event
	err error
}

// ChanStream is an events.Stream fed by the test.
type ChanStream struct {
	ch     chan streamItem
	closed chan struct{}
	once   sync.Once
}

func NewChanStream() *ChanStream {
	return &ChanStream{
		ch:     make(chan streamItem),
		closed: make(chan struct{}),
	}
}

// Send blocks until the reader took ev or the stream was closed.
func (s *ChanStream) Send(ev events.Event) bool {
	select {
	case s.ch <- streamItem{ev: ev}:
		return true
	case <-s.closed:
		return false
	}
}

// Fail makes the reader's next call to Next return err.
func (s *ChanStream) Fail(err error) bool {
	select {
	case s.ch <- streamItem{err: err}:
		return true
	case <-s.closed:
		return false
	}
}

func (s *ChanStream) Next() (events.Event, error) {
	select {
	case it := <-s.ch:
		return it.ev, it.err
	case <-s.closed:
		return events.Event{}, io.EOF
	}
}

func (s *ChanStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *ChanStream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
