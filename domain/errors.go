package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Only SourceDeviceError is recoverable.
type ErrorKind string

const (
	KindNoInputSource         ErrorKind = "no_input_source"
	KindNoUsableSource        ErrorKind = "no_usable_source"
	KindBackendStartupFailure ErrorKind = "backend_startup_failure"
	KindBackendIO             ErrorKind = "backend_io_error"
	KindSourceDevice          ErrorKind = "source_device_error"
	KindBackendUnsupported    ErrorKind = "backend_unsupported"
)

// Sentinels for errors.Is. A PipelineError matches any sentinel of the same kind.
var (
	ErrNoInputSource         = &PipelineError{Kind: KindNoInputSource}
	ErrNoUsableSource        = &PipelineError{Kind: KindNoUsableSource}
	ErrBackendStartupFailure = &PipelineError{Kind: KindBackendStartupFailure}
	ErrBackendIO             = &PipelineError{Kind: KindBackendIO}
	ErrSourceDevice          = &PipelineError{Kind: KindSourceDevice}
	ErrBackendUnsupported    = &PipelineError{Kind: KindBackendUnsupported}
)

// PipelineError is the error type surfaced by the capture and transcription pipeline
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewPipelineError wraps err with a kind and the operation that failed
func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

func (e *PipelineError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PipelineError of the same kind
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether the error must end the recording attempt
func (e *PipelineError) Fatal() bool {
	return e.Kind != KindSourceDevice
}

// KindOf returns the kind of the first PipelineError in err's chain, or "" if none
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
