package store

import "context"

type RunTestStore interface {
	CreateRunTests(context.Context, int64, []string) error
	UpdateRunTest(context.Context, int64, *TestOutcome) error
	ListRunTests(context.Context, int64) ([]TestOutcome, error)
}
