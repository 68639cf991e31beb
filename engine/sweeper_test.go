package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicflow-be/models"
)

func TestSweepEscalatesOnceAfterDeadline(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()

	// Inside the 72h ministry deadline: nothing fires.
	clock.Advance(71 * time.Hour)
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	clock.Advance(2 * time.Hour)
	events, err = e.CheckDeadlines(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, issue.ID, events[0].Issue)
	assert.Equal(t, models.StageMinistryAction, events[0].Stage)
	assert.False(t, events[0].Forced)
	assert.Equal(t, 72*time.Hour, events[0].Deadline)
	assert.Greater(t, events[0].Elapsed, events[0].Deadline)

	// The breach stays escalated: later sweeps must not emit a duplicate.
	clock.Advance(8 * time.Hour)
	events, err = e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.True(t, current.Escalated)
	assert.Equal(t, models.StageMinistryAction, current.Stage)
}

func TestSweepRearmsOnStageChange(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	ctx := context.Background()

	// Breach the 7-day Community Verification deadline first.
	clock.Advance(8 * 24 * time.Hour)
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StageCommunityVerification, events[0].Stage)

	// Quorum completion clears the flag; the ministry deadline is watched
	// fresh from the new stage entry.
	completeQuorum(t, e, clock, issue.ID)
	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.False(t, current.Escalated)

	events, err = e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	clock.Advance(73 * time.Hour)
	events, err = e.CheckDeadlines(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StageMinistryAction, events[0].Stage)

	evs, err := e.Escalations(ctx, &issue.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestSweepCrisisModeShortensDeadlines(t *testing.T) {
	e, _, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()

	_, err := e.ToggleCrisisMode(ctx, admin(), true)
	require.NoError(t, err)

	// 40h into a 72h deadline would be fine, but the 0.5 crisis multiplier
	// brings the effective deadline down to 36h.
	clock.Advance(40 * time.Hour)
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, issue.ID, events[0].Issue)
	assert.Equal(t, 36*time.Hour, events[0].Deadline)
}

func TestSweepAutoArchivesStaleConfirmation(t *testing.T) {
	e, store, clock := newTestEngine(t)
	issue, _ := reachSolutionConfirmation(t, e, clock, citizen())
	ctx := context.Background()

	// Inside the 5-day confirmation window: untouched.
	clock.Advance(4 * 24 * time.Hour)
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	clock.Advance(2 * 24 * time.Hour)
	events, err = e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	current, err := e.getIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageArchived, current.Stage)

	trs, err := store.ListTransitions(ctx, issue.ID)
	require.NoError(t, err)
	last := trs[len(trs)-1]
	assert.Equal(t, string(ActionAutoArchive), last.Action)
	assert.True(t, last.Actor.IsZero())
}

func TestSweepSkipsStagesWithoutDeadline(t *testing.T) {
	e, _, clock := newTestEngine(t)
	reporter := citizen()
	issue, _ := reachSolutionConfirmation(t, e, clock, reporter)
	ctx := context.Background()
	_, err := e.ConfirmSolution(ctx, reporter, issue.ID)
	require.NoError(t, err)

	// Archived issues are never swept, no matter how long they sit.
	clock.Advance(365 * 24 * time.Hour)
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSweepDefersOnStorageFailure(t *testing.T) {
	e, store, clock := newTestEngine(t)
	issue := reportIssue(t, e, citizen())
	completeQuorum(t, e, clock, issue.ID)
	ctx := context.Background()
	clock.Advance(73 * time.Hour)

	// Exhaust the retry budget of the first storage call. The sweep reports
	// the failure instead of silently dropping the breach.
	store.FailNext = 10
	_, err := e.CheckDeadlines(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// The next sweep picks the breach up.
	store.FailNext = 0
	events, err := e.CheckDeadlines(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, issue.ID, events[0].Issue)
}
