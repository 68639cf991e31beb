package engine

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/models"
)

// AnyCycle matches verifications from every cycle in HasVerified.
const AnyCycle = -1

// Actor is the identity attached to every engine call. It is built from the
// session token by the HTTP layer; the engine never trusts a client-side
// authorization decision.
type Actor struct {
	ID        primitive.ObjectID
	Role      models.Role
	Verified  bool
	Suspended bool
	Authority string
}

// QuorumStatus reports verification progress so the caller can render e.g.
// "2/3".
type QuorumStatus struct {
	Count     int          `json:"count"`
	Threshold int          `json:"threshold"`
	Reached   bool         `json:"reached"`
	// Completed marks the call that tipped the count to the threshold and
	// advanced the stage.
	Completed bool         `json:"completed"`
	Stage     models.Stage `json:"stage"`
}

// ConfirmStatus reports solution-confirmation progress.
type ConfirmStatus struct {
	Count     int          `json:"count"`
	Threshold int          `json:"threshold"`
	Archived  bool         `json:"archived"`
	Stage     models.Stage `json:"stage"`
}

// Progress is the read model behind the stepper UI.
type Progress struct {
	Issue        *models.Issue  `json:"issue"`
	Quorum       QuorumStatus   `json:"quorum"`
	// SLARemaining is nil for stages without a deadline; negative when the
	// deadline has passed.
	SLARemaining *time.Duration `json:"slaRemaining,omitempty"`
	CrisisMode   bool           `json:"crisisMode"`
}

// Store is the persistence boundary of the engine. Implementations must
// keep the transition log append-only and report transient failures as
// ErrStorageUnavailable (wrapped).
type Store interface {
	// CreateIssue inserts the issue and appends its creation transitions in
	// one commit.
	CreateIssue(ctx context.Context, issue *models.Issue, transitions []models.LifecycleTransition) error
	GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	// ApplyTransition appends the transition and persists the issue's
	// current stage fields.
	ApplyTransition(ctx context.Context, issue *models.Issue, tr models.LifecycleTransition) error
	ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.LifecycleTransition, error)
	// AppendAuditEvent records a transition-adjacent audit entry (crisis
	// toggles, SLA overrides, aid claims).
	AppendAuditEvent(ctx context.Context, tr models.LifecycleTransition) error

	// InsertVerification returns ErrDuplicateVerification when the
	// (issue, verifier) pair already exists. When advance is non-nil the
	// quorum advance commits with the verification in one operation: either
	// both land or neither does.
	InsertVerification(ctx context.Context, v *models.Verification, issue *models.Issue, advance *models.LifecycleTransition) error
	CountVerifications(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error)
	// HasVerified reports whether the verifier has a verification for the
	// issue in the given cycle; AnyCycle matches every cycle.
	HasVerified(ctx context.Context, issueID, verifierID primitive.ObjectID, cycle int) (bool, error)

	// InsertMinistryAction records the action and applies its stage advances
	// in one commit, same all-or-nothing contract as InsertVerification.
	InsertMinistryAction(ctx context.Context, ma *models.MinistryAction, issue *models.Issue, advances []models.LifecycleTransition) error
	// MinistryActionForCycle returns nil with no error when none exists.
	MinistryActionForCycle(ctx context.Context, issueID primitive.ObjectID, cycle int) (*models.MinistryAction, error)

	// InsertConfirmation returns ErrDuplicateConfirmation when the
	// confirmer already confirmed this cycle.
	InsertConfirmation(ctx context.Context, c *models.SolutionConfirmation) error
	CountConfirmations(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error)

	// InsertAidClaim returns ErrDuplicateClaim when the NGO already claimed
	// the issue.
	InsertAidClaim(ctx context.Context, claim *models.AidClaim) error
	ListAidClaims(ctx context.Context, issueID primitive.ObjectID) ([]models.AidClaim, error)

	GetCrisis(ctx context.Context) (models.CrisisState, error)
	SetCrisis(ctx context.Context, state models.CrisisState) error

	// MarkEscalated claims the single escalation emission for the issue's
	// current stage occupancy. It returns false when the breach was already
	// claimed or the issue has since moved on.
	MarkEscalated(ctx context.Context, issueID primitive.ObjectID, stage models.Stage, enteredAt time.Time) (bool, error)
	InsertEscalation(ctx context.Context, ev *models.EscalationEvent) error
	ListEscalations(ctx context.Context, issueID *primitive.ObjectID) ([]models.EscalationEvent, error)

	// ListOpenIssues returns every issue in a non-terminal stage.
	ListOpenIssues(ctx context.Context) ([]models.Issue, error)
}

// Notifier fans out committed state changes. Delivery is best-effort; a
// failed publish never blocks or rolls back a transition.
type Notifier interface {
	PublishTransition(ctx context.Context, tr models.LifecycleTransition) error
	PublishEscalation(ctx context.Context, ev models.EscalationEvent) error
}
