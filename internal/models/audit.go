package models

import "time"

// AuditOutcome is the terminal state of one admin cycle.
type AuditOutcome string

const (
	OutcomeText      AuditOutcome = "text"
	OutcomeExecuted  AuditOutcome = "executed"
	OutcomeRefused   AuditOutcome = "refused"
	OutcomeInvalid   AuditOutcome = "invalid"
	OutcomeFailed    AuditOutcome = "execution_failed"
	OutcomeExhausted AuditOutcome = "exhausted"
	OutcomeError     AuditOutcome = "error"
)

// AuditEntry records what the admin loop did for one prompt.
type AuditEntry struct {
	ID          string       `json:"id"`
	RequestID   string       `json:"requestId"`
	UserID      string       `json:"userId,omitempty"`
	Prompt      string       `json:"prompt"`
	EntityName  EntityName   `json:"entityName,omitempty"`
	Operation   Operation    `json:"operation,omitempty"`
	Filter      Document     `json:"filter,omitempty"`
	Update      Document     `json:"update,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
	Attempts    int          `json:"attempts"`
	Outcome     AuditOutcome `json:"outcome"`
	IsAction    bool         `json:"isAction"`
	Matched     int64        `json:"matched,omitempty"`
	Modified    int64        `json:"modified,omitempty"`
	Error       string       `json:"error,omitempty"`
	DurationMs  int64        `json:"durationMs"`
	Timestamp   time.Time    `json:"timestamp"`
}

// IsWrite reports whether the entry describes an executed update.
func (e *AuditEntry) IsWrite() bool {
	return e.Outcome == OutcomeExecuted && e.Operation.IsWrite()
}
