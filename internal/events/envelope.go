package events

import (
	"encoding/json"

	"github.com/haatos/runbatch/internal/store"
)

// Envelope is the JSON framing of an event on the websocket transport and
// in pull catch-up responses.
type Envelope struct {
	RunID int64           `json:"run_id"`
	Seq   int64           `json:"seq"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func EnvelopeOf(re store.RunEvent) Envelope {
	env := Envelope{RunID: re.EventRunID, Seq: re.Seq, Type: re.Type}
	if re.Data != "" {
		env.Data = json.RawMessage(re.Data)
	}
	return env
}

func (env Envelope) Event() Event {
	return Decode(env.RunID, env.Seq, env.Type, env.Data)
}

// ClosedEnvelope is the stream terminator for runID.
func ClosedEnvelope(runID int64) Envelope {
	return Envelope{RunID: runID, Type: string(TypeConnectionClosed)}
}
