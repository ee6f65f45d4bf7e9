package service

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
)

// subscriber owns one push subscription of a run. It only does I/O: every
// event and the final commit are handed to the controller loop.
type subscriber struct {
	c        *BatchController
	runID    int64
	since    int64
	declared store.RunStatus
	cancel   context.CancelFunc
}

func (s *subscriber) run(ctx context.Context) {
	stream, err := s.c.svc.SubscribeRunEvents(ctx, s.runID, s.since)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("err subscribing to run %d: %+v\n", s.runID, err)
		s.finalize(ctx, Trigger{RunID: s.runID, Declared: s.declared, Err: err})
		return
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, events.ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("run %d stream ended before a terminal event\n", s.runID)
			} else {
				log.Printf("err reading events of run %d: %+v\n", s.runID, err)
			}
			s.finalize(ctx, Trigger{RunID: s.runID, Declared: s.declared, Err: err})
			return
		}

		if status, ok := ev.DeclaredStatus(); ok && status.Rank() >= s.declared.Rank() {
			s.declared = status
		}
		if !s.c.post(ctx, func() { s.c.apply(ev) }) {
			return
		}
		if ev.IsTerminal() {
			stream.Close()
			s.finalize(ctx, Trigger{RunID: s.runID, Event: &ev, Declared: s.declared})
			return
		}
	}
}

func (s *subscriber) finalize(ctx context.Context, t Trigger) {
	commit := s.c.finalizer.Finalize(ctx, t)
	if ctx.Err() != nil {
		return
	}
	s.c.post(ctx, func() { s.c.commit(s, commit) })
}
