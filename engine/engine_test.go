package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/config"
	"civicflow-be/models"
)

const (
	issueLat = 23.7808
	issueLng = 90.4074
)

// testClock lets tests move engine time forward deterministically.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEngine(t *testing.T) (*Engine, *MemStore, *testClock) {
	t.Helper()
	store := NewMemStore()
	e, err := New(store, nil, config.DefaultWorkflow())
	require.NoError(t, err)
	clock := newTestClock()
	e.now = clock.Now
	e.retryInterval = time.Millisecond
	return e, store, clock
}

func citizen() Actor {
	return Actor{ID: primitive.NewObjectID(), Role: models.RoleCitizen, Verified: true}
}

func admin() Actor {
	return Actor{ID: primitive.NewObjectID(), Role: models.RoleAdmin, Verified: true}
}

func government(authority string) Actor {
	return Actor{ID: primitive.NewObjectID(), Role: models.RoleGovernment, Verified: true, Authority: authority}
}

func ngo() Actor {
	return Actor{ID: primitive.NewObjectID(), Role: models.RoleNGO, Verified: true}
}

func reportIssue(t *testing.T, e *Engine, reporter Actor) *models.Issue {
	t.Helper()
	issue, err := e.Report(context.Background(), reporter, ReportInput{
		Title:           "Burst water main on Elm Street",
		Description:     "Water flooding the intersection since morning",
		Category:        models.Water,
		Location:        "Elm Street / 4th Ave",
		Latitude:        issueLat,
		Longitude:       issueLng,
		TaggedAuthority: "water-board",
	})
	require.NoError(t, err)
	return issue
}

// completeQuorum records enough nearby verified-citizen attestations to
// advance the issue out of Community Verification, and returns the verifiers.
func completeQuorum(t *testing.T, e *Engine, clock *testClock, issueID primitive.ObjectID) []Actor {
	t.Helper()
	threshold := e.Config().QuorumThreshold
	verifiers := make([]Actor, 0, threshold)
	for i := 0; i < threshold; i++ {
		clock.Advance(time.Minute)
		v := citizen()
		_, err := e.RecordVerification(context.Background(), v, issueID, issueLat+0.001, issueLng)
		require.NoError(t, err)
		verifiers = append(verifiers, v)
	}
	return verifiers
}

func reachSolutionConfirmation(t *testing.T, e *Engine, clock *testClock, reporter Actor) (*models.Issue, []Actor) {
	t.Helper()
	issue := reportIssue(t, e, reporter)
	verifiers := completeQuorum(t, e, clock, issue.ID)
	clock.Advance(time.Hour)
	_, err := e.SubmitMinistryAction(context.Background(), government("water-board"), issue.ID, MinistryActionInput{
		AssignedOfficer:   "R. Haque",
		PlannedStart:      clock.Now().Add(24 * time.Hour),
		EstimatedDuration: models.DurationDays,
		ActionPlan:        "Replace the cracked main segment and resurface",
	})
	require.NoError(t, err)
	current, err := e.getIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	return current, verifiers
}

func TestReportOpensCommunityVerification(t *testing.T) {
	e, store, clock := newTestEngine(t)
	reporter := citizen()

	issue := reportIssue(t, e, reporter)

	assert.Equal(t, models.StageCommunityVerification, issue.Stage)
	assert.Equal(t, models.PriorityMedium, issue.Priority)
	assert.Equal(t, 0, issue.Cycle)
	assert.Equal(t, clock.Now(), issue.StageEnteredAt)

	trs, err := store.ListTransitions(context.Background(), issue.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, models.StagePosted, trs[0].To)
	assert.Equal(t, models.StagePosted, trs[1].From)
	assert.Equal(t, models.StageCommunityVerification, trs[1].To)
	assert.Equal(t, string(ActionReport), trs[1].Action)
	assert.Equal(t, reporter.ID, trs[1].Actor)
}

func TestReportIgnoresCitizenPriority(t *testing.T) {
	e, _, _ := newTestEngine(t)

	issue, err := e.Report(context.Background(), citizen(), ReportInput{
		Title:    "Pothole",
		Category: models.Road,
		Latitude: issueLat, Longitude: issueLng,
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, issue.Priority)

	issue, err = e.Report(context.Background(), admin(), ReportInput{
		Title:    "Substation fire",
		Category: models.Emergency,
		Latitude: issueLat, Longitude: issueLng,
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, issue.Priority)
}

func TestReportForbiddenForGovernment(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Report(context.Background(), government("water-board"), ReportInput{Title: "x"})
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonWrongRole, fe.Reason)
}

func TestQuorumAdvancesAtThreshold(t *testing.T) {
	e, store, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		clock.Advance(time.Minute)
		status, err := e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.001, issueLng)
		require.NoError(t, err)
		assert.Equal(t, i+1, status.Count)
		assert.Equal(t, 3, status.Threshold)
		assert.False(t, status.Reached)
		assert.False(t, status.Completed)
		assert.Equal(t, models.StageCommunityVerification, status.Stage)
	}

	clock.Advance(time.Minute)
	status, err := e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.001, issueLng)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
	assert.True(t, status.Reached)
	assert.True(t, status.Completed)
	assert.Equal(t, models.StageMinistryAction, status.Stage)

	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageMinistryAction, current.Stage)
	assert.Equal(t, clock.Now(), current.StageEnteredAt)

	// Only the tipping verification is flagged as quorum-completing.
	vs := store.Verifications(issue.ID)
	require.Len(t, vs, 3)
	assert.False(t, vs[0].QuorumCompleting)
	assert.False(t, vs[1].QuorumCompleting)
	assert.True(t, vs[2].QuorumCompleting)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, string(ActionAdvanceQuorum), last.Action)
	assert.Equal(t, models.StageCommunityVerification, last.From)
	assert.Equal(t, models.StageMinistryAction, last.To)
}

func TestDuplicateVerificationRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()
	v := citizen()

	_, err := e.RecordVerification(ctx, v, issue.ID, issueLat+0.001, issueLng)
	require.NoError(t, err)

	status, err := e.RecordVerification(ctx, v, issue.ID, issueLat+0.001, issueLng)
	assert.ErrorIs(t, err, ErrDuplicateVerification)
	assert.Equal(t, 1, status.Count)
}

func TestVerificationGeofence(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()

	// ~1.1km north: outside the 300m radius.
	_, err := e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.01, issueLng)
	assert.ErrorIs(t, err, ErrTooFar)

	// ~111m north: inside.
	_, err = e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.001, issueLng)
	assert.NoError(t, err)
}

func TestVerificationRequiresVerifiedAccount(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	unverified := Actor{ID: primitive.NewObjectID(), Role: models.RoleCitizen}
	_, err := e.RecordVerification(context.Background(), unverified, issue.ID, issueLat, issueLng)
	assert.ErrorIs(t, err, ErrUnverifiedAccount)
}

func TestVerificationWrongStage(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)

	_, err := e.RecordVerification(context.Background(), citizen(), issue.ID, issueLat, issueLng)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestVerificationForbiddenForNonCitizen(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	_, err := e.RecordVerification(context.Background(), ngo(), issue.ID, issueLat, issueLng)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonWrongRole, fe.Reason)
}

func TestVerificationUnknownIssue(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.RecordVerification(context.Background(), citizen(), primitive.NewObjectID(), issueLat, issueLng)
	assert.ErrorIs(t, err, ErrIssueNotFound)
}

func TestSuspendedActorBlockedEverywhere(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	suspended := citizen()
	suspended.Suspended = true

	_, err := e.Report(context.Background(), suspended, ReportInput{Title: "x"})
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSuspendedAccount, fe.Reason)

	_, err = e.RecordVerification(context.Background(), suspended, issue.ID, issueLat, issueLng)
	fe, ok = IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSuspendedAccount, fe.Reason)
}

func TestSubmitMinistryAction(t *testing.T) {
	e, store, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()

	clock.Advance(time.Hour)
	officer := government("water-board")
	ma, err := e.SubmitMinistryAction(ctx, officer, issue.ID, MinistryActionInput{
		AssignedOfficer:   "R. Haque",
		Priority:          models.PriorityHigh,
		PlannedStart:      clock.Now().Add(24 * time.Hour),
		EstimatedDuration: models.DurationWeeks,
		ActionPlan:        "Excavate and replace the main",
		Evidence:          []string{"media/plan-001"},
	})
	require.NoError(t, err)
	assert.Equal(t, officer.ID, ma.Officer)
	assert.Equal(t, "water-board", ma.Authority)
	assert.Equal(t, 0, ma.Cycle)

	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageSolutionConfirmation, current.Stage)
	assert.Equal(t, models.PriorityHigh, current.Priority)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(trs), 2)
	submitted := trs[len(trs)-2]
	opened := trs[len(trs)-1]
	assert.Equal(t, string(ActionSubmitMinistryAction), submitted.Action)
	assert.Equal(t, models.StageSolutionSubmitted, submitted.To)
	assert.Equal(t, "media/plan-001", submitted.Evidence)
	assert.Equal(t, string(ActionOpenConfirmation), opened.Action)
	assert.Equal(t, models.StageSolutionConfirmation, opened.To)
}

func TestSubmitMinistryActionBeforeQuorum(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	_, err := e.SubmitMinistryAction(context.Background(), government("water-board"), issue.ID, MinistryActionInput{
		ActionPlan: "too early",
	})
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestSubmitMinistryActionWrongAuthority(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()

	_, err := e.SubmitMinistryAction(ctx, government("roads-dept"), issue.ID, MinistryActionInput{ActionPlan: "x"})
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotAssigned, fe.Reason)

	// An NGO acting on an issue tagged to someone else is also NotAssigned,
	// not WrongRole.
	_, err = e.SubmitMinistryAction(ctx, ngo(), issue.ID, MinistryActionInput{ActionPlan: "x"})
	fe, ok = IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotAssigned, fe.Reason)

	// The stage must not have moved.
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageMinistryAction, current.Stage)
}

func TestSubmitMinistryActionEmptyPlan(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)

	_, err := e.SubmitMinistryAction(context.Background(), government("water-board"), issue.ID, MinistryActionInput{})
	assert.ErrorIs(t, err, ErrEmptyActionPlan)
}

func TestMinistryActionScopedToCycle(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := citizen()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)

	// Reopen and re-run quorum so the issue is back in Ministry Action on a
	// new cycle; the cycle-0 action must not block cycle 1.
	_, err := e.ConfirmSolution(context.Background(), reporter, issue.ID)
	require.NoError(t, err)
	_, err = e.Reopen(context.Background(), admin(), issue.ID)
	require.NoError(t, err)
	completeQuorum(t, e, clock, issue.ID)

	_, err = e.SubmitMinistryAction(context.Background(), government("water-board"), issue.ID, MinistryActionInput{
		ActionPlan: "second cycle plan",
	})
	require.NoError(t, err)
}

func TestConfirmSolutionByReporterArchives(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := citizen()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)

	status, err := e.ConfirmSolution(context.Background(), reporter, issue.ID)
	require.NoError(t, err)
	assert.True(t, status.Archived)
	assert.Equal(t, models.StageArchived, status.Stage)
}

func TestConfirmSolutionByVerifierQuorum(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue, verifiers := reachSolutionConfirmation(t, e, clock, citizen())
	ctx := context.Background()

	for i, v := range verifiers[:2] {
		status, err := e.ConfirmSolution(ctx, v, issue.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, status.Count)
		assert.False(t, status.Archived)
	}

	status, err := e.ConfirmSolution(ctx, verifiers[2], issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
	assert.True(t, status.Archived)
	assert.Equal(t, models.StageArchived, status.Stage)
}

func TestConfirmSolutionByStrangerForbidden(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue, _ := reachSolutionConfirmation(t, e, clock, citizen())

	_, err := e.ConfirmSolution(context.Background(), citizen(), issue.ID)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotReporter, fe.Reason)
}

func TestConfirmSolutionDuplicate(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue, verifiers := reachSolutionConfirmation(t, e, clock, citizen())
	ctx := context.Background()

	_, err := e.ConfirmSolution(ctx, verifiers[0], issue.ID)
	require.NoError(t, err)
	_, err = e.ConfirmSolution(ctx, verifiers[0], issue.ID)
	assert.ErrorIs(t, err, ErrDuplicateConfirmation)
}

func TestConfirmSolutionWrongStage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	reporter := citizen()
	issue := reportIssue(t, e, reporter)

	_, err := e.ConfirmSolution(context.Background(), reporter, issue.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReopenStartsFreshCycle(t *testing.T) {
	e, store, clock := newTestEngine(t)
	reporter := citizen()
	issue, verifiers := reachSolutionConfirmation(t, e, clock, reporter)
	ctx := context.Background()

	_, err := e.ConfirmSolution(ctx, reporter, issue.ID)
	require.NoError(t, err)

	reopened, err := e.Reopen(ctx, admin(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCommunityVerification, reopened.Stage)
	assert.Equal(t, 1, reopened.Cycle)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, string(ActionReopen), last.Action)
	assert.True(t, last.Reopened)

	// Quorum progress starts from zero on the new cycle.
	p, err := e.Progress(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quorum.Count)

	// A cycle-0 verifier is still blocked: uniqueness spans the issue's
	// whole life.
	_, err = e.RecordVerification(ctx, verifiers[0], issue.ID, issueLat+0.001, issueLng)
	assert.ErrorIs(t, err, ErrDuplicateVerification)

	// Fresh verifiers can re-run the quorum.
	completeQuorum(t, e, clock, issue.ID)
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageMinistryAction, current.Stage)
}

func TestReopenRequiresArchivedStage(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	_, err := e.Reopen(context.Background(), admin(), issue.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestReopenAdminOnly(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := citizen()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)
	ctx := context.Background()
	_, err := e.ConfirmSolution(ctx, reporter, issue.ID)
	require.NoError(t, err)

	_, err = e.Reopen(ctx, reporter, issue.ID)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotAdmin, fe.Reason)
}

func TestClaimForAid(t *testing.T) {
	e, store, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()
	org := ngo()

	claim, err := e.ClaimForAid(ctx, org, issue.ID, "distributing bottled water")
	require.NoError(t, err)
	assert.Equal(t, org.ID, claim.NGO)

	// The claim never moves the stage, but it is audited.
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCommunityVerification, current.Stage)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, string(ActionClaimForAid), last.Action)
	assert.Equal(t, current.Stage, last.From)
	assert.Equal(t, current.Stage, last.To)

	_, err = e.ClaimForAid(ctx, org, issue.ID, "again")
	assert.ErrorIs(t, err, ErrDuplicateClaim)

	claims, err := e.AidClaims(ctx, issue.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestClaimForAidOnArchivedIssue(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := citizen()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)
	ctx := context.Background()
	_, err := e.ConfirmSolution(ctx, reporter, issue.ID)
	require.NoError(t, err)

	_, err = e.ClaimForAid(ctx, ngo(), issue.ID, "late")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestClaimForAidWrongRole(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	_, err := e.ClaimForAid(context.Background(), citizen(), issue.ID, "")
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonWrongRole, fe.Reason)
}

func TestToggleCrisisMode(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()
	root := admin()

	state, err := e.ToggleCrisisMode(ctx, root, true)
	require.NoError(t, err)
	assert.True(t, state.Enabled)
	assert.Equal(t, root.ID, state.ToggledBy)

	// Toggling to the current value is a no-op: no second audit entry.
	_, err = e.ToggleCrisisMode(ctx, root, true)
	require.NoError(t, err)

	audits := 0
	for _, tr := range store.transitions {
		if tr.Action == string(ActionToggleCrisisMode) {
			audits++
		}
	}
	assert.Equal(t, 1, audits)
}

func TestToggleCrisisModeAdminOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ToggleCrisisMode(context.Background(), citizen(), true)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotAdmin, fe.Reason)
}

func TestCrisisModeFloorsReportPriority(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.ToggleCrisisMode(ctx, admin(), true)
	require.NoError(t, err)

	issue := reportIssue(t, e, citizen())
	assert.Equal(t, models.PriorityHigh, issue.Priority)

	// An admin report above the floor is untouched.
	issue, err = e.Report(ctx, admin(), ReportInput{
		Title:    "Dam breach",
		Category: models.Emergency,
		Latitude: issueLat, Longitude: issueLng,
		Priority: models.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityCritical, issue.Priority)
}

func TestOverrideSLA(t *testing.T) {
	e, store, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()

	ev, err := e.OverrideSLA(ctx, admin(), issue.ID)
	require.NoError(t, err)
	assert.True(t, ev.Forced)
	assert.Equal(t, models.StageMinistryAction, ev.Stage)

	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, current.Escalated)
	assert.Equal(t, models.StageMinistryAction, current.Stage)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, string(ActionOverrideSLA), last.Action)

	evs, err := e.Escalations(ctx, &issue.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestOverrideSLAAdminOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	issue := reportIssue(t, e, citizen())

	_, err := e.OverrideSLA(context.Background(), government("water-board"), issue.ID)
	fe, ok := IsForbidden(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotAdmin, fe.Reason)
}

func TestProgress(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()

	_, err := e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.001, issueLng)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	p, err := e.Progress(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Quorum.Count)
	assert.Equal(t, 3, p.Quorum.Threshold)
	assert.False(t, p.Quorum.Reached)
	require.NotNil(t, p.SLARemaining)
	assert.Equal(t, 6*24*time.Hour, *p.SLARemaining)
}

// fakeNotifier fakes the notifier with overridable func fields.
type fakeNotifier struct {
	publishTransition func(ctx context.Context, tr models.LifecycleTransition) error
	publishEscalation func(ctx context.Context, ev models.EscalationEvent) error
}

func (f *fakeNotifier) PublishTransition(ctx context.Context, tr models.LifecycleTransition) error {
	if f.publishTransition != nil {
		return f.publishTransition(ctx, tr)
	}
	return nil
}

func (f *fakeNotifier) PublishEscalation(ctx context.Context, ev models.EscalationEvent) error {
	if f.publishEscalation != nil {
		return f.publishEscalation(ctx, ev)
	}
	return nil
}

func TestNotifierFailureNeverFailsTransition(t *testing.T) {
	e, _, _ := newTestEngine(t)
	published := make(chan models.LifecycleTransition, 4)
	e.notifier = &fakeNotifier{
		publishTransition: func(ctx context.Context, tr models.LifecycleTransition) error {
			published <- tr
			return assert.AnError
		},
	}

	issue := reportIssue(t, e, citizen())
	assert.Equal(t, models.StageCommunityVerification, issue.Stage)

	select {
	case tr := <-published:
		assert.Equal(t, issue.ID, tr.Issue)
	case <-time.After(time.Second):
		t.Fatal("transition was never published")
	}
}

func TestStorageRetryRecovers(t *testing.T) {
	e, store, _ := newTestEngine(t)

	store.FailNext = 2
	issue := reportIssue(t, e, citizen())
	assert.Equal(t, models.StageCommunityVerification, issue.Stage)
	assert.Zero(t, store.FailNext)
}

// commitFailStore fails selected combined commits, for exercising the
// all-or-nothing contract of InsertVerification and InsertMinistryAction.
type commitFailStore struct {
	*MemStore
	failAdvance bool
	failAction  bool
}

func (s *commitFailStore) InsertVerification(ctx context.Context, v *models.Verification, issue *models.Issue, advance *models.LifecycleTransition) error {
	if advance != nil && s.failAdvance {
		return fmt.Errorf("append transition: %w", ErrStorageUnavailable)
	}
	return s.MemStore.InsertVerification(ctx, v, issue, advance)
}

func (s *commitFailStore) InsertMinistryAction(ctx context.Context, ma *models.MinistryAction, issue *models.Issue, advances []models.LifecycleTransition) error {
	if s.failAction {
		return fmt.Errorf("append transitions: %w", ErrStorageUnavailable)
	}
	return s.MemStore.InsertMinistryAction(ctx, ma, issue, advances)
}

func newCommitFailEngine(t *testing.T) (*Engine, *commitFailStore, *testClock) {
	t.Helper()
	store := &commitFailStore{MemStore: NewMemStore()}
	e, err := New(store, nil, config.DefaultWorkflow())
	require.NoError(t, err)
	clock := newTestClock()
	e.now = clock.Now
	e.retryInterval = time.Millisecond
	return e, store, clock
}

func TestQuorumAdvanceAtomicWithVerification(t *testing.T) {
	e, store, clock := newCommitFailEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		clock.Advance(time.Minute)
		_, err := e.RecordVerification(ctx, citizen(), issue.ID, issueLat+0.001, issueLng)
		require.NoError(t, err)
	}

	// The advance write keeps failing: the tipping verification must not
	// land either, so the quorum never sits met with the stage behind.
	store.failAdvance = true
	tipper := citizen()
	_, err := e.RecordVerification(ctx, tipper, issue.ID, issueLat+0.001, issueLng)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	assert.Len(t, store.Verifications(issue.ID), 2)
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCommunityVerification, current.Stage)

	// The tipping verifier is not wedged: once storage recovers their retry
	// records the verification and advances the stage in one commit.
	store.failAdvance = false
	status, err := e.RecordVerification(ctx, tipper, issue.ID, issueLat+0.001, issueLng)
	require.NoError(t, err)
	assert.True(t, status.Completed)
	assert.Equal(t, models.StageMinistryAction, status.Stage)

	vs := store.Verifications(issue.ID)
	require.Len(t, vs, 3)
	assert.True(t, vs[2].QuorumCompleting)
}

func TestMinistryActionAtomicWithAdvance(t *testing.T) {
	e, store, clock := newCommitFailEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()
	officer := government("water-board")

	store.failAction = true
	_, err := e.SubmitMinistryAction(ctx, officer, issue.ID, MinistryActionInput{ActionPlan: "replace the main"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// Neither the action nor the advances landed.
	ma, err := store.MinistryActionForCycle(ctx, issue.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, ma)
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageMinistryAction, current.Stage)

	store.failAction = false
	_, err = e.SubmitMinistryAction(ctx, officer, issue.ID, MinistryActionInput{ActionPlan: "replace the main"})
	require.NoError(t, err)
	current, err = e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageSolutionConfirmation, current.Stage)
}

func TestConfirmSolutionByAdminReporter(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := admin()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)

	status, err := e.ConfirmSolution(context.Background(), reporter, issue.ID)
	require.NoError(t, err)
	assert.True(t, status.Archived)
	assert.Equal(t, models.StageArchived, status.Stage)
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultWorkflow()
	cfg.QuorumThreshold = 0
	_, err := New(NewMemStore(), nil, cfg)
	assert.Error(t, err)
}
