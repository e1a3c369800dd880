package domain

import (
	"errors"
	"time"
)

// ErrNoRecord is returned by a RecordStore when no usable instance record
// exists. Missing, malformed and incomplete files all map to it.
var ErrNoRecord = errors.New("no instance record")

// InstanceRecord is the claim a running dev server makes on a project root.
type InstanceRecord struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Root      string    `json:"root"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
}

// Valid reports whether the record carries everything the negotiation needs.
func (r InstanceRecord) Valid() bool {
	return r.Port >= 1 && r.Port <= 65535 && r.Token != ""
}

// InstanceInfo is the payload served on the info endpoint.
type InstanceInfo struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Root string `json:"root"`
}

// StatusEntry is a recorded instance with its liveness state.
type StatusEntry struct {
	Path   string
	Record InstanceRecord
	Info   InstanceInfo
	Alive  bool
}

// ShutdownReply is what a prior instance answered to a shutdown request.
type ShutdownReply struct {
	Status int
	Body   string
}

// Outcome is the result of negotiating with a prior instance.
type Outcome int

const (
	OutcomeSkipped     Outcome = iota // negotiation disabled
	OutcomeNoRecord                   // nothing recorded for the root
	OutcomeSelf                       // record belongs to this process
	OutcomeUnreachable                // shutdown request got no answer
	OutcomeRejected                   // prior instance answered but did not accept
	OutcomeReleased                   // prior instance accepted and freed its port
	OutcomeStillBound                 // accepted, but the port was still answering at the deadline
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNoRecord:
		return "no-record"
	case OutcomeSelf:
		return "self"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeRejected:
		return "rejected"
	case OutcomeReleased:
		return "released"
	case OutcomeStillBound:
		return "still-bound"
	default:
		return "unknown"
	}
}

// State is a coordinator lifecycle state.
type State int

const (
	StateStarting State = iota
	StateNegotiating
	StateBound
	StateRunning
	StateShuttingDown
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateNegotiating:
		return "negotiating"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
