package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies job and engine failures.
type ErrorKind string

const (
	EnumerationFailed       ErrorKind = "EnumerationFailed"
	ToolUnavailable         ErrorKind = "ToolUnavailable"
	InvalidDeviceIdentifier ErrorKind = "InvalidDeviceIdentifier"
	MissingSelection        ErrorKind = "MissingSelection"
	JobAlreadyRunning       ErrorKind = "JobAlreadyRunning"
	WriteFailed             ErrorKind = "WriteFailed"
	PartitionFailed         ErrorKind = "PartitionFailed"
	FormatFailed            ErrorKind = "FormatFailed"
	MountFailed             ErrorKind = "MountFailed"
	CopyFailed              ErrorKind = "CopyFailed"
	BootInstallFailed       ErrorKind = "BootInstallFailed"
	InsufficientPrivileges  ErrorKind = "InsufficientPrivileges"
	InvalidImage            ErrorKind = "InvalidImage"
	TargetInUse             ErrorKind = "TargetInUse"
	PreflightFailed         ErrorKind = "PreflightFailed"
)

// Error is a failure attributed to the stage where it happened. Written
// carries the bytes (or pipeline weight) already reported, Output the
// diagnostic text of the external tool if one was involved.
type Error struct {
	Kind    ErrorKind
	Stage   State
	Written int64
	Output  string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s in stage %s", e.Kind, e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += " (output: " + e.Output + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON flattens the wrapped error into text for API consumers.
func (e *Error) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    ErrorKind `json:"kind"`
		Stage   State     `json:"stage"`
		Written int64     `json:"written"`
		Output  string    `json:"output,omitempty"`
		Message string    `json:"message,omitempty"`
	}{e.Kind, e.Stage, e.Written, e.Output, cause})
}

// NewError builds an Error of the given kind at the given stage.
func NewError(kind ErrorKind, stage State, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Errorf builds an Error with a formatted cause.
func Errorf(kind ErrorKind, stage State, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr, true
	}
	return nil, false
}

// IsKind reports whether err carries a job error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	jobErr, ok := AsError(err)
	return ok && jobErr.Kind == kind
}

// StageOf returns the stage recorded in err, or StateIdle if none.
func StageOf(err error) State {
	if jobErr, ok := AsError(err); ok {
		return jobErr.Stage
	}
	return StateIdle
}
