package simulator

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFinished = errors.New("run has not finished")
	ErrRunNotActive   = errors.New("run is not queued or running")
	ErrNoRuns         = errors.New("batch has no runs")
)

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

// UnknownTargetError is returned for a target or version missing from the
// loaded suite.
type UnknownTargetError struct {
	Target  string
	Version string
}

func (e *UnknownTargetError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("unknown target %q", e.Target)
	}
	return fmt.Sprintf("unknown version %q of target %q", e.Version, e.Target)
}

type UnknownTestError struct {
	RunID    int64
	TestName string
}

func (e *UnknownTestError) Error() string {
	return fmt.Sprintf("run %d has no test %q", e.RunID, e.TestName)
}
