package worker

import (
	"errors"
	"fmt"
	"time"
)

// StartupError reports that a worker could not acquire a required resource
// during Start. Dependents of the failed worker are never started.
type StartupError struct {
	Worker string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker %q failed to start: %v", e.Worker, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// StepTimeoutError reports a step that exceeded its configured budget. A
// single overrun is logged; repeated consecutive overruns mark the worker
// Failed.
type StepTimeoutError struct {
	Worker string
	Took   time.Duration
	Budget time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("worker %q step took %s, budget %s", e.Worker, e.Took, e.Budget)
}

// fatalError marks an error that must fail the worker rather than be logged
// and retried. Tasks wrap driver/link failures with Fatal.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as fatal to the worker. Returning a fatal error from Step
// or OnEvent transitions the worker to Failed and triggers pipeline
// teardown.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// Unfatal returns the error underneath a Fatal marker, or err unchanged.
func Unfatal(err error) error {
	var fe *fatalError
	if errors.As(err, &fe) {
		return fe.err
	}
	return err
}
