package reporter

import "time"

// State is the step a reporting cycle is currently in.
type State int32

const (
	StateIdle State = iota
	StateCheckingGate
	StateAcquiringToken
	StateVerifyingToken
	StateSubmitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingGate:
		return "checking_gate"
	case StateAcquiringToken:
		return "acquiring_token"
	case StateVerifyingToken:
		return "verifying_token"
	case StateSubmitting:
		return "submitting"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CycleResult summarizes a finished cycle.
type CycleResult struct {
	ID             string    `json:"id"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	KPIValue       *int      `json:"kpi_value,omitempty"`
	ExpiredRetries int       `json:"expired_retries"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Status is a point-in-time view of the reporter.
type Status struct {
	State     string       `json:"state"`
	Running   bool         `json:"running"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}
