package engine

import (
	"errors"
	"fmt"
)

var (
	ErrIssueNotFound         = errors.New("issue not found")
	ErrIllegalTransition     = errors.New("illegal transition")
	ErrDuplicateVerification = errors.New("verifier has already verified this issue")
	ErrTooFar                = errors.New("verifier is outside the geofence radius")
	ErrUnverifiedAccount     = errors.New("verifier account is not verified")
	ErrQuorumNotReached      = errors.New("verification quorum not reached")
	ErrDuplicateClaim        = errors.New("ngo has already claimed this issue")
	ErrDuplicateConfirmation = errors.New("confirmer has already confirmed this issue")
	ErrDuplicateAction       = errors.New("an active ministry action already exists for this cycle")
	ErrEmptyActionPlan       = errors.New("ministry action requires a non-empty action plan")
	// ErrStorageUnavailable marks a transient storage failure. It is the
	// only error the engine retries.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ForbiddenReason is the machine-readable cause of a denial. The UI has to
// explain why a button is blocked, so denials are never generic.
type ForbiddenReason string

const (
	ReasonWrongRole          ForbiddenReason = "WrongRole"
	ReasonWrongAuthority     ForbiddenReason = "WrongAuthority"
	ReasonNotAssigned        ForbiddenReason = "NotAssigned"
	ReasonNotAdmin           ForbiddenReason = "NotAdmin"
	ReasonNotReporter        ForbiddenReason = "NotReporter"
	ReasonUnverifiedAccount  ForbiddenReason = "UnverifiedAccount"
	ReasonSuspendedAccount   ForbiddenReason = "SuspendedAccount"
)

// ForbiddenError is returned when the authorizer rejects an action.
type ForbiddenError struct {
	Action Action
	Reason ForbiddenReason
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s (%s)", e.Action, e.Reason)
}

// Forbidden builds a reason-coded denial.
func Forbidden(action Action, reason ForbiddenReason) error {
	return &ForbiddenError{Action: action, Reason: reason}
}

// IsForbidden extracts a ForbiddenError from err, if any.
func IsForbidden(err error) (*ForbiddenError, bool) {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
