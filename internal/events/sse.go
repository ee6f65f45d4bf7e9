package events

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Frame is one text/event-stream message.
type Frame struct {
	ID      []byte
	Data    []byte
	Event   []byte
	Retry   []byte
	Comment []byte
}

func (f *Frame) MarshalTo(w io.Writer) error {
	if len(f.Data) == 0 && len(f.Comment) == 0 {
		return nil
	}

	if len(f.Data) > 0 {
		if len(f.ID) > 0 {
			if _, err := fmt.Fprintf(w, "id: %s\n", f.ID); err != nil {
				return err
			}
		}

		if len(f.Event) > 0 {
			if _, err := fmt.Fprintf(w, "event: %s\n", f.Event); err != nil {
				return err
			}
		}

		sd := bytes.Split(f.Data, []byte("\n"))
		for i := range sd {
			if _, err := fmt.Fprintf(w, "data: %s\n", sd[i]); err != nil {
				return err
			}
		}

		if len(f.Retry) > 0 {
			if _, err := fmt.Fprintf(w, "retry: %s\n", f.Retry); err != nil {
				return err
			}
		}
	}

	if len(f.Comment) > 0 {
		if _, err := fmt.Fprintf(w, ": %s\n", f.Comment); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return err
	}

	return nil
}

// FrameOf frames a run event for the SSE transport.
func FrameOf(env Envelope) *Frame {
	f := &Frame{Event: []byte(env.Type), Data: env.Data}
	if env.Seq > 0 {
		f.ID = fmt.Appendf(nil, "%d", env.Seq)
	}
	if len(f.Data) == 0 {
		f.Data = []byte("{}")
	}
	return f
}

// FrameReader parses frames from a text/event-stream body. Comment-only
// frames are skipped.
type FrameReader struct {
	s *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &FrameReader{s: s}
}

// Next returns the next frame carrying data. It returns io.EOF when the
// body ends.
func (fr *FrameReader) Next() (*Frame, error) {
	var f Frame
	var data [][]byte
	hasData := false
	for fr.s.Scan() {
		line := fr.s.Text()
		if line == "" {
			if hasData {
				f.Data = bytes.Join(data, []byte("\n"))
				return &f, nil
			}
			f = Frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			f.ID = []byte(value)
		case "event":
			f.Event = []byte(value)
		case "retry":
			f.Retry = []byte(value)
		case "data":
			data = append(data, []byte(value))
			hasData = true
		}
	}
	if err := fr.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
