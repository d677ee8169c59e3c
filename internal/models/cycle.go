package models

import "time"

// ErrorKind classifies a failure attached to a cycle result.
type ErrorKind string

const (
	ErrorValidation    ErrorKind = "VALIDATION"
	ErrorExecution     ErrorKind = "EXECUTION"
	ErrorEmergencyStop ErrorKind = "EMERGENCY_STOP"
	ErrorInProgress    ErrorKind = "CYCLE_IN_PROGRESS"
	ErrorInternal      ErrorKind = "INTERNAL"
)

// CycleError is the structured failure of a cycle.
type CycleError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// CycleResult represents every cycle outcome, including failures.
type CycleResult struct {
	Timestamp     time.Time       `json:"timestamp"`
	Forced        bool            `json:"forced"`
	MarketData    *MarketSnapshot `json:"market_data,omitempty"`
	Signal        Signal          `json:"signal"`
	Risk          *RiskDecision   `json:"risk,omitempty"`
	TradeExecuted *Trade          `json:"trade_executed"`
	CycleComplete bool            `json:"cycle_complete"`
	Report        *CycleReport    `json:"report,omitempty"`
	Session       *Session        `json:"session,omitempty"`
	Error         *CycleError     `json:"error,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Failed reports whether the cycle carries an error.
func (r *CycleResult) Failed() bool {
	return r.Error != nil
}

// Outcome returns a short label used for logging and metrics.
func (r *CycleResult) Outcome() string {
	switch {
	case r.Error != nil:
		return string(r.Error.Kind)
	case r.TradeExecuted != nil:
		return "TRADED"
	case r.Risk != nil && !r.Risk.Approved:
		return "RISK_REJECTED"
	default:
		return string(r.Signal.Action)
	}
}

// AnalysisResult is the read-only output of the analyze operation.
type AnalysisResult struct {
	Timestamp  time.Time       `json:"timestamp"`
	MarketData *MarketSnapshot `json:"market_data"`
	Signal     Signal          `json:"signal"`
	Session    *Session        `json:"session"`
	Metrics    RiskMetrics     `json:"metrics"`
}

// BotStatus is a non-blocking liveness snapshot of the controller.
type BotStatus struct {
	IsRunning           bool       `json:"is_running"`
	HasActiveSession    bool       `json:"has_active_session"`
	ConfigActive        bool       `json:"config_active"`
	ThreadAlive         bool       `json:"thread_alive"`
	CycleInFlight       bool       `json:"cycle_in_flight"`
	EmergencyStopped    bool       `json:"emergency_stopped"`
	EmergencyStopReason string     `json:"emergency_stop_reason,omitempty"`
	LastCycleAt         *time.Time `json:"last_cycle_at,omitempty"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	CycleCount          int64      `json:"cycle_count"`
}
