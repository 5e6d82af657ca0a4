package decision

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound is returned when a rule ID does not resolve.
	ErrRuleNotFound = errors.New("decision rule not found")

	// ErrRuleDisabled is returned when a single-rule evaluation targets a
	// disabled rule.
	ErrRuleDisabled = errors.New("decision rule is disabled")

	// ErrActionNotFound is returned when a plan step references a missing
	// action definition.
	ErrActionNotFound = errors.New("action definition not found")

	// ErrEntityNotFound is returned when no current state exists for a
	// logical ID.
	ErrEntityNotFound = errors.New("entity state not found")

	// ErrLogNotFound is returned when a decision log ID does not resolve.
	ErrLogNotFound = errors.New("decision log not found")

	// ErrNotPending is returned when confirmation is requested for a log
	// entry that is not in the fired_pending state.
	ErrNotPending = errors.New("decision log is not pending confirmation")

	// ErrAlreadyConfirmed is returned when confirmation is requested for a
	// fired_pending entry whose plan has already been run once.
	ErrAlreadyConfirmed = errors.New("pending decision has already been confirmed")
)

// ConditionError reports a malformed condition spec. The matcher catches it
// per rule, records decision "error", and continues with the other rules.
type ConditionError struct {
	RuleID string
	Msg    string
	Err    error
}

func (e *ConditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid conditions for rule %s: %s: %v", e.RuleID, e.Msg, e.Err)
	}
	return fmt.Sprintf("invalid conditions for rule %s: %s", e.RuleID, e.Msg)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// AuditWriteError reports that a decision log append failed after retries.
// Unlike per-rule and per-step failures it propagates to the pipeline
// caller; losing audit records is not acceptable to swallow.
type AuditWriteError struct {
	RuleID   string
	Attempts int
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("decision log write failed after %d attempts (rule %s): %v", e.Attempts, e.RuleID, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }
