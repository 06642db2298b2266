package fetch

import (
	"errors"
	"fmt"
	"time"
)

// Status is the scheduler-level lifecycle state of a Task.
type Status int

// Task states. StatusSucceeded is terminal across passes; StatusNew and
// StatusForbidden make the URL eligible for the next pass.
const (
	StatusNew Status = iota
	StatusInFlight
	StatusSucceeded
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInFlight:
		return "in_flight"
	case StatusSucceeded:
		return "succeeded"
	case StatusForbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Cause explains why a task ended forbidden.
type Cause int

// Forbidden causes.
const (
	CauseNone Cause = iota
	CauseForbidden
	CauseTransport
)

func (c Cause) String() string {
	switch c {
	case CauseForbidden:
		return "forbidden"
	case CauseTransport:
		return "transport"
	default:
		return "none"
	}
}

// CodeUnknown is recorded for succeeded tasks whose HTTP status is not one of
// the codes the scheduler distinguishes (200, 404, 410).
const CodeUnknown = 0

// Placeholder bodies recorded instead of the response text.
const (
	BodyNotFound  = "not found"
	BodyForbidden = "forbidden"
	BodyUnknown   = "unknown"
)

// ErrInvalidTransition is returned when a task is asked to move between states
// that the lifecycle does not connect.
var ErrInvalidTransition = errors.New("invalid task transition")

// Task is one URL plus the outcome of its current attempt.
type Task struct {
	url         string
	status      Status
	code        int
	rawStatus   int
	body        string
	hasBody     bool
	completedAt time.Time
	cause       Cause
}

// NewTask returns a task in StatusNew.
func NewTask(url string) *Task {
	return &Task{url: url}
}

// URL returns the task URL.
func (t *Task) URL() string { return t.url }

// Status returns the current state.
func (t *Task) Status() Status { return t.status }

// Code returns the recorded code for succeeded tasks (CodeUnknown for
// non-standard responses) and 403 for tasks forbidden by the server.
func (t *Task) Code() int { return t.code }

// RawStatus is the HTTP status actually received, or 0 when none was.
func (t *Task) RawStatus() int { return t.rawStatus }

// Body returns the recorded body text and whether one is present.
func (t *Task) Body() (string, bool) { return t.body, t.hasBody }

// CompletedAt is zero until a terminal outcome is recorded for the attempt.
func (t *Task) CompletedAt() time.Time { return t.completedAt }

// Cause returns why the task is forbidden, or CauseNone.
func (t *Task) Cause() Cause { return t.cause }

// Resolved reports whether the task reached the terminal succeeded state.
func (t *Task) Resolved() bool { return t.status == StatusSucceeded }

func (t *Task) begin() error {
	if t.status != StatusNew {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusInFlight)
	}
	t.status = StatusInFlight
	return nil
}

func (t *Task) succeed(code, rawStatus int, body string, at time.Time) error {
	if t.status != StatusInFlight {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusSucceeded)
	}
	t.status = StatusSucceeded
	t.code = code
	t.rawStatus = rawStatus
	t.body = body
	t.hasBody = true
	t.completedAt = at
	t.cause = CauseNone
	return nil
}

func (t *Task) forbid(at time.Time) error {
	if t.status != StatusInFlight {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusForbidden)
	}
	t.status = StatusForbidden
	t.code = 403
	t.rawStatus = 403
	t.body = BodyForbidden
	t.hasBody = true
	t.completedAt = at
	t.cause = CauseForbidden
	return nil
}

// fail records a transport failure. It is treated like a 403 but never
// carries a body.
func (t *Task) fail(at time.Time) error {
	if t.status != StatusInFlight {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusForbidden)
	}
	t.status = StatusForbidden
	t.code = 0
	t.rawStatus = 0
	t.body = ""
	t.hasBody = false
	t.completedAt = at
	t.cause = CauseTransport
	return nil
}

func (t *Task) reset() error {
	if t.status != StatusInFlight {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.status, StatusNew)
	}
	*t = Task{url: t.url}
	return nil
}

// Result is the exported record of a URL that reached StatusSucceeded.
type Result struct {
	URL         string    `json:"url"`
	Code        int       `json:"code"`
	RawStatus   int       `json:"raw_status"`
	Body        string    `json:"body"`
	CompletedAt time.Time `json:"completed_at"`
	Pass        int       `json:"pass"`
}

func newResult(t *Task, pass int) Result {
	return Result{
		URL:         t.url,
		Code:        t.code,
		RawStatus:   t.rawStatus,
		Body:        t.body,
		CompletedAt: t.completedAt,
		Pass:        pass,
	}
}

// Outcome labels the result the same way Outcome labels its task.
func (r Result) Outcome() string {
	if r.Code == CodeUnknown {
		return BodyUnknown
	}
	return fmt.Sprintf("%d", r.Code)
}

// Outcome labels a finished attempt for logs and metrics.
func Outcome(t *Task) string {
	switch t.status {
	case StatusSucceeded:
		if t.code == CodeUnknown {
			return BodyUnknown
		}
		return fmt.Sprintf("%d", t.code)
	case StatusForbidden:
		if t.cause == CauseTransport {
			return "transport"
		}
		return "403"
	case StatusNew:
		return "cancelled"
	default:
		return t.status.String()
	}
}
