package service

import "github.com/haatos/runbatch/internal/events"

const DefaultEventLogCapacity = 120

// EventLog keeps the most recent events of a run in a fixed size ring.
// Older events are dropped once the capacity is reached.
type EventLog struct {
	buf   []events.Event
	start int
	n     int
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{buf: make([]events.Event, capacity)}
}

func (l *EventLog) Append(ev events.Event) {
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = ev
		l.n++
		return
	}
	l.buf[l.start] = ev
	l.start = (l.start + 1) % len(l.buf)
}

func (l *EventLog) Len() int {
	return l.n
}

func (l *EventLog) Cap() int {
	return len(l.buf)
}

// Events returns a copy of the log, newest first.
func (l *EventLog) Events() []events.Event {
	out := make([]events.Event, 0, l.n)
	for i := l.n - 1; i >= 0; i-- {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}
