package plan

import "fmt"

// Status is the plan's finite-state machine value (spec.md §3 "Plan status").
type Status string

const (
	StatusCreating          Status = "CREATING"
	StatusInitiating        Status = "INITIATING"
	StatusCreated           Status = "CREATED"
	StatusAvailable         Status = "AVAILABLE"
	StatusCloning           Status = "CLONING"
	StatusMigrating         Status = "MIGRATING"
	StatusDataTransFinished Status = "DATA_TRANS_FINISHED"
	StatusFinished          Status = "FINISHED"
	StatusError             Status = "ERROR"
	StatusDeleting          Status = "DELETING"
)

// transitions enumerates the legal edges of the status automaton (spec.md
// §3): CREATING → INITIATING → CREATED → AVAILABLE → CLONING|MIGRATING →
// DATA_TRANS_FINISHED → FINISHED; any state → ERROR;
// AVAILABLE|ERROR → DELETING.
var transitions = map[Status]map[Status]bool{
	StatusCreating:          {StatusInitiating: true, StatusError: true},
	StatusInitiating:        {StatusCreated: true, StatusError: true},
	StatusCreated:           {StatusAvailable: true, StatusError: true},
	StatusAvailable:         {StatusCloning: true, StatusMigrating: true, StatusError: true, StatusDeleting: true},
	StatusCloning:           {StatusDataTransFinished: true, StatusFinished: true, StatusError: true},
	StatusMigrating:         {StatusDataTransFinished: true, StatusFinished: true, StatusError: true},
	StatusDataTransFinished: {StatusFinished: true, StatusError: true},
	StatusFinished:          {StatusError: true},
	StatusError:             {StatusDeleting: true},
	StatusDeleting:          {StatusError: true},
}

// IsValidTransition reports whether moving from "from" to "to" is a legal
// edge of the status automaton.
func IsValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// ValidateTransition returns an error describing why the transition is
// illegal, or nil if it is allowed.
func ValidateTransition(from, to Status) error {
	if IsValidTransition(from, to) {
		return nil
	}
	return fmt.Errorf("illegal plan status transition %q -> %q", from, to)
}

// Mutable reports whether a plan in this status may accept mutation-engine
// edits (spec.md §3 "Lifecycle": "mutable only while plan_status ∈
// {AVAILABLE, ERROR}").
func (s Status) Mutable() bool {
	return s == StatusAvailable || s == StatusError
}

// Deletable reports whether a plan in this status may be deleted via the
// ordinary (non-force) delete operation (spec.md §4.2 "delete").
func (s Status) Deletable() bool {
	return s == StatusAvailable || s == StatusError
}
