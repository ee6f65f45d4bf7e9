// Package events holds the run event model shared by the execution service
// and its consumers: named event types, their decoded payloads and the wire
// framings (SSE and JSON envelopes) they travel in.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/haatos/runbatch/internal/store"
)

type Type string

const (
	TypeRunStarted       Type = "run_started"
	TypeTestStarted      Type = "test_started"
	TypeTestFinished     Type = "test_finished"
	TypeRunFailed        Type = "run_failed"
	TypeRunCancelled     Type = "run_cancelled"
	TypeRunFinished      Type = "run_finished"
	TypeConnectionClosed Type = "connection_closed"
)

// Event is one decoded event of a run's stream.
type Event struct {
	RunID      int64     `json:"run_id"`
	Seq        int64     `json:"seq"`
	Type       Type      `json:"type"`
	Payload    Payload   `json:"payload"`
	ReceivedOn time.Time `json:"received_on"`
}

// Payload is implemented by every event variant.
type Payload interface {
	eventType() Type
}

type RunStarted struct {
	ProgressTotal int64 `json:"progress_total"`
}

type TestStarted struct {
	TestName string `json:"test_name"`
}

type TestFinished struct {
	TestName       string           `json:"test_name"`
	TestStatus     store.TestStatus `json:"test_status"`
	DurationMs     int64            `json:"duration_ms"`
	ProgressDone   int64            `json:"progress_done"`
	ProgressPassed int64            `json:"progress_passed"`
	ProgressFailed int64            `json:"progress_failed"`
}

type RunFailed struct {
	Error string `json:"error"`
}

type RunCancelled struct {
	Reason string `json:"reason,omitempty"`
}

type RunFinished struct {
	Status  store.RunStatus      `json:"status"`
	Summary *store.ResultSummary `json:"summary,omitempty"`
}

type ConnectionClosed struct{}

// Diagnostic carries an event that could not be decoded into a known
// variant. It only ever feeds the event log.
type Diagnostic struct {
	Name string `json:"name"`
	Data string `json:"data"`
	Err  string `json:"err,omitempty"`
}

func (RunStarted) eventType() Type       { return TypeRunStarted }
func (TestStarted) eventType() Type      { return TypeTestStarted }
func (TestFinished) eventType() Type     { return TypeTestFinished }
func (RunFailed) eventType() Type        { return TypeRunFailed }
func (RunCancelled) eventType() Type     { return TypeRunCancelled }
func (RunFinished) eventType() Type      { return TypeRunFinished }
func (ConnectionClosed) eventType() Type { return TypeConnectionClosed }
func (Diagnostic) eventType() Type       { return "" }

// TypeOf returns the event type tag of p, or "" for a Diagnostic.
func TypeOf(p Payload) Type {
	return p.eventType()
}

// IsTerminal reports whether the event ends a run's lifecycle.
func (e Event) IsTerminal() bool {
	return e.Type == TypeRunFinished
}

// DeclaredStatus returns the run status implied by the event, if any.
func (e Event) DeclaredStatus() (store.RunStatus, bool) {
	switch p := e.Payload.(type) {
	case RunStarted, TestStarted, TestFinished:
		return store.StatusRunning, true
	case RunFinished:
		if p.Status.IsTerminal() {
			return p.Status, true
		}
	}
	return "", false
}

// Decode turns a named event and its JSON data into an Event. Unknown names
// and malformed data decode to a Diagnostic instead of failing.
func Decode(runID, seq int64, name string, data []byte) Event {
	ev := Event{
		RunID:      runID,
		Seq:        seq,
		Type:       Type(name),
		ReceivedOn: time.Now().UTC(),
	}

	var p Payload
	var err error
	switch Type(name) {
	case TypeRunStarted:
		p, err = unmarshal[RunStarted](data)
	case TypeTestStarted:
		p, err = unmarshal[TestStarted](data)
	case TypeTestFinished:
		p, err = unmarshal[TestFinished](data)
	case TypeRunFailed:
		p, err = unmarshal[RunFailed](data)
	case TypeRunCancelled:
		p, err = unmarshal[RunCancelled](data)
	case TypeRunFinished:
		p, err = unmarshal[RunFinished](data)
	case TypeConnectionClosed:
		p = ConnectionClosed{}
	default:
		err = fmt.Errorf("unknown event type %q", name)
	}
	if err != nil {
		p = Diagnostic{Name: name, Data: string(data), Err: err.Error()}
	}
	ev.Payload = p
	return ev
}

func unmarshal[T Payload](data []byte) (Payload, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode returns the JSON data of a payload.
func Encode(p Payload) ([]byte, error) {
	if d, ok := p.(Diagnostic); ok {
		return []byte(d.Data), nil
	}
	return json.Marshal(p)
}

// FromRunEvent decodes a persisted event row.
func FromRunEvent(re store.RunEvent) Event {
	ev := Decode(re.EventRunID, re.Seq, re.Type, []byte(re.Data))
	ev.ReceivedOn = re.CreatedOn
	return ev
}
