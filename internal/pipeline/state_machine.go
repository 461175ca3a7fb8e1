package pipeline

import (
	"fmt"

	"github.com/rumor-ml/commons.systems/stmtimport/internal/domain"
)

// State is the lifecycle position of an import session
type State string

const (
	StateIdle              State = "idle"
	StateSizeChecked       State = "size_checked"
	StateFormatDetected    State = "format_detected"
	StateParsed            State = "parsed"
	StateEnriched          State = "enriched"
	StateDuplicatesFlagged State = "duplicates_flagged"
	StateReviewed          State = "reviewed"
	StateCommitted         State = "committed"
	StateAborted           State = "aborted"
)

// StateTransition represents a valid state transition
type StateTransition struct {
	From State
	To   State
}

// validTransitions defines all valid state transitions of an import session
var validTransitions = map[StateTransition]bool{
	// Staging flow
	{StateIdle, StateSizeChecked}:            true,
	{StateSizeChecked, StateFormatDetected}:  true,
	{StateFormatDetected, StateParsed}:       true,
	{StateParsed, StateEnriched}:             true,
	{StateEnriched, StateDuplicatesFlagged}:  true,
	{StateDuplicatesFlagged, StateReviewed}:  true,
	{StateReviewed, StateReviewed}:           true,
	{StateDuplicatesFlagged, StateCommitted}: true,
	{StateReviewed, StateCommitted}:          true,

	// Discard is allowed from any staged state
	{StateIdle, StateAborted}:              true,
	{StateSizeChecked, StateAborted}:       true,
	{StateFormatDetected, StateAborted}:    true,
	{StateParsed, StateAborted}:            true,
	{StateEnriched, StateAborted}:          true,
	{StateDuplicatesFlagged, StateAborted}: true,
	{StateReviewed, StateAborted}:          true,
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to State) error {
	transition := StateTransition{From: from, To: to}
	if !validTransitions[transition] {
		return fmt.Errorf("%w: from %s to %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

// CanReview checks if categories may still be edited
func CanReview(state State) bool {
	return state == StateDuplicatesFlagged || state == StateReviewed
}

// CanCommit checks if a session is ready to commit
func CanCommit(state State) bool {
	return CanTransitionTo(state, StateCommitted)
}

// IsTerminalState checks if a state is terminal (no further transitions)
func IsTerminalState(state State) bool {
	return state == StateCommitted || state == StateAborted
}

// CanTransitionTo checks if a session can move to a specific state from its current state
func CanTransitionTo(from, to State) bool {
	transition := StateTransition{From: from, To: to}
	return validTransitions[transition]
}
