package store

import "context"

type RunEventStore interface {
	AppendRunEvent(context.Context, int64, string, string) (*RunEvent, error)
	ListRunEvents(context.Context, int64, int64) ([]RunEvent, error)
}
