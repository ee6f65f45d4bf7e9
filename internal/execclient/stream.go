package execclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/haatos/runbatch/internal"
	"github.com/haatos/runbatch/internal/events"
)

type sseStream struct {
	runID  int64
	resp   *http.Response
	frames *events.FrameReader
}

func (c *Client) subscribeSSE(ctx context.Context, runID, since int64) (*sseStream, error) {
	path := fmt.Sprintf("/api/runs/%d/events/stream?since=%d", runID, since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req.Header)
	req.Header.Set("Accept", "text/event-stream")
	if since > 0 {
		req.Header.Set(internal.LastEventIDHeader, strconv.FormatInt(since, 10))
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("err opening event stream of run %d: %w", runID, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &sseStream{runID: runID, resp: resp, frames: events.NewFrameReader(resp.Body)}, nil
}

func (s *sseStream) Next() (events.Event, error) {
	f, err := s.frames.Next()
	if err != nil {
		return events.Event{}, err
	}
	name := string(f.Event)
	if name == "" {
		name = "message"
	}
	if events.Type(name) == events.TypeConnectionClosed {
		return events.Event{}, events.ErrConnectionClosed
	}
	var seq int64
	if len(f.ID) > 0 {
		seq, err = strconv.ParseInt(string(f.ID), 10, 64)
		if err != nil {
			return events.Event{}, fmt.Errorf("err parsing event id %q: %w", f.ID, err)
		}
	}
	return events.Decode(s.runID, seq, name, f.Data), nil
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

type wsStream struct {
	runID int64
	conn  *websocket.Conn
}

func (c *Client) subscribeWS(ctx context.Context, runID, since int64) (*wsStream, error) {
	u, err := c.wsURL(fmt.Sprintf("/api/runs/%d/events/ws?since=%d", runID, since))
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	c.authorize(h)
	conn, resp, err := c.dialer.DialContext(ctx, u, h)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("err dialing event socket of run %d: %w", runID, err)
	}
	return &wsStream{runID: runID, conn: conn}, nil
}

func (s *wsStream) Next() (events.Event, error) {
	var env events.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return events.Event{}, events.ErrConnectionClosed
		}
		return events.Event{}, err
	}
	if events.Type(env.Type) == events.TypeConnectionClosed {
		return events.Event{}, events.ErrConnectionClosed
	}
	if env.RunID == 0 {
		env.RunID = s.runID
	}
	if env.RunID != s.runID {
		return events.Event{}, errors.New("event of another run on the socket")
	}
	return env.Event(), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
