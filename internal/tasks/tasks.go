package tasks

import (
	"fmt"
	"time"

	"github.com/hpungsan/protkit/internal/errors"
	"github.com/hpungsan/protkit/internal/predict"
)

// Status is the prediction state of one sequence slot.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusSuccess, StatusError:
		return true
	}
	return false
}

// TaskError is the stored descriptor of a failed submission.
type TaskError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// NewTaskError converts err to a descriptor. Unknown errors become INTERNAL,
// and so does a nil err.
func NewTaskError(err error) *TaskError {
	pErr := errors.As(err)
	if pErr == nil {
		return &TaskError{Code: errors.ErrInternal, Message: "task failed without a cause"}
	}
	return &TaskError{Code: pErr.Code, Message: pErr.Message}
}

// Task is the prediction record for one slot.
type Task struct {
	Status      Status          `json:"status"`
	Result      *predict.Result `json:"result,omitempty"`
	Error       *TaskError      `json:"error,omitempty"`
	Sequence    string          `json:"sequence,omitempty"` // residues actually submitted
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Tracker holds one Task per sequence slot. It performs no I/O.
type Tracker struct {
	tasks []Task
	now   func() time.Time
}

// NewTracker creates a tracker with n idle slots.
func NewTracker(n int) *Tracker {
	t := &Tracker{now: time.Now}
	t.Ensure(n)
	return t
}

// FromTasks rebuilds a tracker from stored tasks.
func FromTasks(tasks []Task) *Tracker {
	t := &Tracker{now: time.Now}
	t.tasks = append(t.tasks, tasks...)
	for i := range t.tasks {
		if !t.tasks[i].Status.Valid() {
			t.tasks[i].Status = StatusIdle
		}
	}
	return t
}

// Ensure pads the table with idle tasks up to length n.
func (t *Tracker) Ensure(n int) {
	for len(t.tasks) < n {
		t.tasks = append(t.tasks, Task{Status: StatusIdle})
	}
}

// Len returns the number of slots.
func (t *Tracker) Len() int {
	return len(t.tasks)
}

func (t *Tracker) check(i int) error {
	if i < 0 || i >= len(t.tasks) {
		return errors.NewInvalidRequest(fmt.Sprintf("slot index %d out of range [0, %d)", i, len(t.tasks)))
	}
	return nil
}

// Submit marks slot i as running. A slot that is already running is left
// untouched; otherwise any previous result or error is discarded.
// It reports whether the slot changed.
func (t *Tracker) Submit(i int) (bool, error) {
	if err := t.check(i); err != nil {
		return false, err
	}
	if t.tasks[i].Status == StatusRunning {
		return false, nil
	}
	now := t.now()
	t.tasks[i] = Task{Status: StatusRunning, SubmittedAt: &now}
	return true, nil
}

// Complete records a successful result for slot i.
func (t *Tracker) Complete(i int, seq string, r *predict.Result) error {
	if err := t.check(i); err != nil {
		return err
	}
	now := t.now()
	task := &t.tasks[i]
	task.Status = StatusSuccess
	task.Result = r
	task.Error = nil
	task.Sequence = seq
	task.CompletedAt = &now
	return nil
}

// Fail records an error descriptor for slot i.
func (t *Tracker) Fail(i int, seq string, cause error) error {
	if err := t.check(i); err != nil {
		return err
	}
	now := t.now()
	task := &t.tasks[i]
	task.Status = StatusError
	task.Result = nil
	task.Error = NewTaskError(cause)
	task.Sequence = seq
	task.CompletedAt = &now
	return nil
}

// Remove deletes slot i; higher slots shift down by one.
func (t *Tracker) Remove(i int) error {
	if err := t.check(i); err != nil {
		return err
	}
	t.tasks = append(t.tasks[:i], t.tasks[i+1:]...)
	return nil
}

// Reset returns slot i to idle.
func (t *Tracker) Reset(i int) error {
	if err := t.check(i); err != nil {
		return err
	}
	t.tasks[i] = Task{Status: StatusIdle}
	return nil
}

// Get returns a copy of slot i.
func (t *Tracker) Get(i int) (Task, error) {
	if err := t.check(i); err != nil {
		return Task{}, err
	}
	return t.tasks[i], nil
}

// Tasks returns a copy of the table.
func (t *Tracker) Tasks() []Task {
	out := make([]Task, len(t.tasks))
	copy(out, t.tasks)
	return out
}

// Running returns the running slot indices in ascending order.
func (t *Tracker) Running() []int {
	var idx []int
	for i, task := range t.tasks {
		if task.Status == StatusRunning {
			idx = append(idx, i)
		}
	}
	return idx
}

// Counts tallies slots per status.
type Counts struct {
	Idle    int `json:"idle"`
	Running int `json:"running"`
	Success int `json:"success"`
	Error   int `json:"error"`
}

// Counts returns the per-status tally.
func (t *Tracker) Counts() Counts {
	var c Counts
	for _, task := range t.tasks {
		switch task.Status {
		case StatusIdle:
			c.Idle++
		case StatusRunning:
			c.Running++
		case StatusSuccess:
			c.Success++
		case StatusError:
			c.Error++
		}
	}
	return c
}
