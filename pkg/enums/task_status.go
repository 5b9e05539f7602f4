package enums

import "fmt"

// TaskStatus is the generation task state machine: pending is the only
// non-terminal state and transitions are never reversed.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusSuccess,
	TaskStatusFailed,
}

// String implements fmt.Stringer.
func (t TaskStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (t TaskStatus) IsTerminal() bool {
	return t == TaskStatusSuccess || t == TaskStatusFailed
}

// ParseTaskStatus converts raw input into a TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
