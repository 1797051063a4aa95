// Package statemachine implements the closed set of review lifecycle
// states and the pure transition validator. Nothing in this package
// touches the store.
package statemachine

import (
	"fmt"

	"github.com/gsd-project/review-broker/internal/store"
)

var transitions = map[store.Status]map[store.Status]bool{
	store.StatusPending: {
		store.StatusClaimed: true,
		store.StatusClosed:  true,
	},
	store.StatusClaimed: {
		store.StatusInReview:         true,
		store.StatusApproved:        true,
		store.StatusChangesRequested: true,
		store.StatusPending:         true, // auto-reject on claim
		store.StatusClosed:          true,
	},
	store.StatusInReview: {
		store.StatusApproved:        true,
		store.StatusChangesRequested: true,
		store.StatusClosed:          true,
	},
	store.StatusApproved: {
		store.StatusClosed: true,
	},
	store.StatusChangesRequested: {
		store.StatusPending: true, // revision
		store.StatusClosed:  true,
	},
	store.StatusClosed: {},
}

// ErrInvalidTransition reports a move not present in the transition table.
type ErrInvalidTransition struct {
	From, To store.Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// Validate reports whether moving a review from current to target is
// allowed. It never consults the store; callers own persistence.
func Validate(current, target store.Status) error {
	allowed, ok := transitions[current]
	if !ok || !allowed[target] {
		return &ErrInvalidTransition{From: current, To: target}
	}
	return nil
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s store.Status) bool {
	return len(transitions[s]) == 0
}
