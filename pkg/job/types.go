package job

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the flashing strategy of a job.
type Kind string

const (
	KindRaw      Kind = "Raw"
	KindBootable Kind = "Bootable"
)

// ParseKind converts user input such as "raw" or "bootable" into a Kind.
func ParseKind(s string) (Kind, error) {
	switch {
	case strings.EqualFold(s, string(KindRaw)):
		return KindRaw, nil
	case strings.EqualFold(s, string(KindBootable)):
		return KindBootable, nil
	default:
		return "", fmt.Errorf("unknown image kind %q, expected raw or bootable", s)
	}
}

// State is the phase of the flash state machine. A raw job passes through
// Writing, a bootable job through the Partitioning..Cleanup chain.
type State string

const (
	StateIdle               State = "Idle"
	StatePreflight          State = "Preflight"
	StateWriting            State = "Writing"
	StatePartitioning       State = "Partitioning"
	StateFormatting         State = "Formatting"
	StateMountingSource     State = "MountingSource"
	StateCopying            State = "Copying"
	StateInstallingBootCode State = "InstallingBootCode"
	StateCleanup            State = "Cleanup"
	StateSucceeded          State = "Succeeded"
	StateFailed             State = "Failed"
)

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Progress counts bytes written against the total. For bootable jobs the
// unit is pipeline weight instead of bytes.
type Progress struct {
	Written int64 `json:"written"`
	Total   int64 `json:"total"`
}

// Fraction returns written/total clamped to [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Written) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Event is emitted by the controller on every state or progress change.
type Event struct {
	JobID    string   `json:"jobID"`
	State    State    `json:"state"`
	Progress Progress `json:"progress"`
	Fraction float64  `json:"fraction"`
	Message  string   `json:"message,omitempty"`
	Err      *Error   `json:"error,omitempty"`
}

// Snapshot is a read-only copy of a job as seen by callers.
type Snapshot struct {
	ID        string    `json:"id"`
	ImagePath string    `json:"imagePath"`
	Device    string    `json:"device"`
	Kind      Kind      `json:"kind"`
	State     State     `json:"state"`
	Progress  Progress  `json:"progress"`
	Fraction  float64   `json:"fraction"`
	Err       *Error    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}
