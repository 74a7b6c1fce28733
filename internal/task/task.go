package task

import "strings"

// Kind identifies the type of background job
type Kind string

const (
	KindScan        Kind = "scan"
	KindUnsubscribe Kind = "unsubscribe"
)

// Valid reports whether k is a known job kind
func (k Kind) Valid() bool {
	return k == KindScan || k == KindUnsubscribe
}

// Mailbox is a linked third-party mailbox
type Mailbox struct {
	ID      uint   `json:"id"`
	Address string `json:"email"`
}

// Ref references a server-side job by its opaque id
type Ref struct {
	ID      string
	Kind    Kind
	Mailbox Mailbox
}

// Request describes a job submission.
// For unsubscribe jobs either All is set or Senders lists the senders to unsubscribe from.
type Request struct {
	Kind    Kind
	HowMany int
	Senders []string
	All     bool
}

// Running holds the ids of jobs the server still tracks for a mailbox
type Running struct {
	ScanTaskID        string `json:"scan_task_id,omitempty"`
	UnsubscribeTaskID string `json:"unsubscribe_task_id,omitempty"`
}

// For returns the running task id of the given kind, or "" when none
func (r Running) For(kind Kind) string {
	switch kind {
	case KindScan:
		return r.ScanTaskID
	case KindUnsubscribe:
		return r.UnsubscribeTaskID
	}
	return ""
}

// State is the tag of a Status
type State int

const (
	StateUnknown State = iota
	StateProgress
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateProgress:
		return "PROGRESS"
	case StateSuccess:
		return "SUCCESS"
	case StateFailure:
		return "FAILURE"
	default:
		return "PENDING"
	}
}

// ParseState maps a wire state to a State. Unrecognised states are StateUnknown.
func ParseState(wire string) State {
	switch strings.ToUpper(strings.TrimSpace(wire)) {
	case "PROGRESS":
		return StateProgress
	case "SUCCESS":
		return StateSuccess
	case "FAILURE", "REVOKED":
		return StateFailure
	default:
		return StateUnknown
	}
}

// Status is the result of a single poll. Current and Total are only meaningful for StateProgress.
type Status struct {
	State   State
	Current int
	Total   int
}

func Progressing(current, total int) Status {
	return Status{State: StateProgress, Current: current, Total: total}
}

func Succeeded() Status { return Status{State: StateSuccess} }
func Failed() Status    { return Status{State: StateFailure} }
func Unknown() Status   { return Status{State: StateUnknown} }
