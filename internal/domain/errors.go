package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("job not found")
	ErrDuplicateID      = errors.New("duplicate job id")
	ErrJobTerminal      = errors.New("job already terminal")
	ErrStatusRegression = errors.New("status regression")
)

// UnknownStatusError reports a status value the client does not recognize.
type UnknownStatusError struct {
	JobID  string
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("job %s: unknown status %q", e.JobID, e.Status)
}

// TransportError wraps a failed call to the generation API.
type TransportError struct {
	Op         string
	JobID      string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	if e.JobID != "" {
		return fmt.Sprintf("genapi: %s %s: %s", e.Op, e.JobID, msg)
	}
	return fmt.Sprintf("genapi: %s: %s", e.Op, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed load or save of the job history.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
