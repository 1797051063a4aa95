// Package broker implements the 15 RPC verbs that form the review
// broker's tool-call surface: input validation, orchestration across the
// store, state machine, diff validator, priority inferrer, write
// coordinator, and notification bus, and error shaping into the taxonomy
// the wire protocol exposes.
package broker

import "fmt"

// Kind is the closed set of error kinds the wire protocol can surface.
type Kind string

const (
	KindNotFound                     Kind = "not_found"
	KindInvalidTransition            Kind = "invalid_transition"
	KindInvalidState                 Kind = "invalid_state"
	KindDiffValidationFailed         Kind = "diff_validation_failed"
	KindDiffConflict                 Kind = "diff_conflict"
	KindCounterPatchValidationFailed Kind = "counter_patch_validation_failed"
	KindStaleCounterPatch            Kind = "stale_counter_patch"
	KindCounterPatchNotAllowed       Kind = "counter_patch_not_allowed"
	KindNoPendingCounterPatch        Kind = "no_pending_counter_patch"
	KindTurnViolation                Kind = "turn_violation"
	KindStaleClaimGeneration         Kind = "stale_claim_generation"
	KindInvalidArgument              Kind = "invalid_argument"
	KindDBError                      Kind = "db_error"
)

// Error is the structured error type every verb returns across the RPC
// boundary. It carries a Kind so handlers never need to pattern-match on
// message text.
type Error struct {
	Kind    Kind
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, message string, detail string) *Error {
	return &Error{Kind: kind, Message: message, Detail: detail}
}

func notFound(what string) *Error {
	return newError(KindNotFound, what+" not found", "")
}

func invalidArgument(message string) *Error {
	return newError(KindInvalidArgument, message, "")
}

func dbError(err error) *Error {
	return newError(KindDBError, "store operation failed", err.Error())
}
