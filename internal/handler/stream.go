package handler

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/events"
	"github.com/haatos/runbatch/internal/store"
	"github.com/labstack/echo/v4"
)

var keepAliveInterval = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventWriter is one push transport for run events.
type eventWriter interface {
	writeEvent(store.RunEvent) error
	writeClosed(runID int64) error
	keepAlive() error
}

// GetRunEventStream streams the events of a run as text/event-stream. The
// stream resumes after the Last-Event-ID header or the since query
// parameter, whichever is larger.
func (h *RunHandler) GetRunEventStream(c echo.Context) error {
	rep := new(RunEventsParams)
	if err := c.Bind(rep); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id or since")
	}
	if id, err := strconv.ParseInt(c.Request().Header.Get(internal.LastEventIDHeader), 10, 64); err == nil {
		rep.Since = max(rep.Since, id)
	}

	r, err := h.sim.GetRun(c.Request().Context(), rep.RunID)
	if err != nil {
		return serviceError(err, "run not found", "unable to read run")
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	return h.streamRunEvents(c.Request().Context(), r, rep.Since, &sseWriter{w})
}

func (h *RunHandler) GetRunEventSocket(c echo.Context) error {
	rep := new(RunEventsParams)
	if err := c.Bind(rep); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id or since")
	}

	r, err := h.sim.GetRun(c.Request().Context(), rep.RunID)
	if err != nil {
		return serviceError(err, "run not found", "unable to read run")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Println("err upgrading event socket:", err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	return h.streamRunEvents(ctx, r, rep.Since, &wsWriter{conn})
}

// streamRunEvents replays the stored events after since and then forwards
// live events until the run finishes or ctx ends. The live subscription is
// opened before the replay and duplicates are dropped by sequence number.
func (h *RunHandler) streamRunEvents(
	ctx context.Context,
	r *store.Run,
	since int64,
	w eventWriter,
) error {
	uid, live := h.sim.SubscribeRunEvents(r.RunID)
	defer h.sim.UnsubscribeRunEvents(r.RunID, uid)

	backlog, err := h.sim.ListRunEvents(ctx, r.RunID, since)
	if err != nil {
		log.Printf("err listing events of run %d: %+v\n", r.RunID, err)
		return nil
	}

	last := since
	send := func(re store.RunEvent) (bool, error) {
		if re.Seq <= last {
			return false, nil
		}
		last = re.Seq
		if err := w.writeEvent(re); err != nil {
			return false, err
		}
		return re.Type == string(events.TypeRunFinished), nil
	}

	for _, re := range backlog {
		finished, err := send(re)
		if err != nil {
			return nil
		}
		if finished {
			return w.writeClosed(r.RunID)
		}
	}
	if r.Status.IsTerminal() {
		return w.writeClosed(r.RunID)
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case re, ok := <-live:
			if !ok {
				return nil
			}
			finished, err := send(re)
			if err != nil {
				return nil
			}
			if finished {
				return w.writeClosed(r.RunID)
			}
		case <-ticker.C:
			if err := w.keepAlive(); err != nil {
				return nil
			}
		}
	}
}

type sseWriter struct {
	w *echo.Response
}

func (sw *sseWriter) write(f *events.Frame) error {
	if err := f.MarshalTo(sw.w); err != nil {
		log.Println("err marshaling event data:", err)
		return err
	}
	sw.w.Flush()
	return nil
}

func (sw *sseWriter) writeEvent(re store.RunEvent) error {
	return sw.write(events.FrameOf(events.EnvelopeOf(re)))
}

func (sw *sseWriter) writeClosed(runID int64) error {
	return sw.write(events.FrameOf(events.ClosedEnvelope(runID)))
}

func (sw *sseWriter) keepAlive() error {
	return sw.write(&events.Frame{Comment: []byte("keepalive")})
}

type wsWriter struct {
	conn *websocket.Conn
}

func (ww *wsWriter) writeEvent(re store.RunEvent) error {
	return ww.conn.WriteJSON(events.EnvelopeOf(re))
}

func (ww *wsWriter) writeClosed(runID int64) error {
	if err := ww.conn.WriteJSON(events.ClosedEnvelope(runID)); err != nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ww.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return nil
}

func (ww *wsWriter) keepAlive() error {
	return ww.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}
