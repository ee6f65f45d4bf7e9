package service

import (
	"errors"
	"fmt"
)

var (
	ErrBatchNotFound    = errors.New("batch not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrRunFinalized     = errors.New("run is already finalized")
	ErrRunNotFinished   = errors.New("run has not finished")
	ErrControllerClosed = errors.New("batch controller is shut down")
	ErrEmptyBatchName   = errors.New("batch name is required")
)

type CreateBatchError struct {
	Message string
	Err     error
}

func (e *CreateBatchError) Error() string {
	if e.Err == nil {
		return "err creating batch: " + e.Message
	}
	return fmt.Sprintf("err creating batch: %s: %v", e.Message, e.Err)
}

func (e *CreateBatchError) Unwrap() error {
	return e.Err
}

type RetryError struct {
	RunID    int64
	TestName string
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("err retrying test %q of run %d: %v", e.TestName, e.RunID, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}
