package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicflow-be/models"
)

func TestDefaultWorkflowIsValid(t *testing.T) {
	w := DefaultWorkflow()
	require.NoError(t, w.Validate())

	assert.Equal(t, 3, w.QuorumThreshold)
	assert.Equal(t, 300.0, w.GeofenceRadiusMeters)
	assert.Equal(t, 72*time.Hour, w.StageDeadlines[models.StageMinistryAction])
	assert.Equal(t, 7*24*time.Hour, w.StageDeadlines[models.StageCommunityVerification])
	assert.Equal(t, 5*24*time.Hour, w.ConfirmationTimeout)
	assert.Equal(t, models.PriorityHigh, w.CrisisPriorityFloor)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Workflow)
	}{
		{"zero quorum", func(w *Workflow) { w.QuorumThreshold = 0 }},
		{"zero quorum override", func(w *Workflow) { w.QuorumOverrides["emergency"] = 0 }},
		{"negative radius", func(w *Workflow) { w.GeofenceRadiusMeters = -1 }},
		{"zero stage deadline", func(w *Workflow) { w.StageDeadlines[models.StageMinistryAction] = 0 }},
		{"zero confirmation timeout", func(w *Workflow) { w.ConfirmationTimeout = 0 }},
		{"zero sweep interval", func(w *Workflow) { w.SweepInterval = 0 }},
		{"zero crisis multiplier", func(w *Workflow) { w.CrisisDeadlineMultiplier = 0 }},
		{"crisis multiplier above one", func(w *Workflow) { w.CrisisDeadlineMultiplier = 1.5 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := DefaultWorkflow()
			tc.mutate(&w)
			assert.Error(t, w.Validate())
		})
	}
}

func TestLoadWorkflowFromEnv(t *testing.T) {
	t.Setenv("QUORUM_THRESHOLD", "5")
	t.Setenv("QUORUM_OVERRIDES", "emergency=2, critical=2")
	t.Setenv("GEOFENCE_RADIUS_METERS", "500")
	t.Setenv("DEADLINE_MINISTRY_ACTION", "48h")
	t.Setenv("CONFIRMATION_TIMEOUT", "96h")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("CRISIS_DEADLINE_MULTIPLIER", "0.25")
	t.Setenv("CRISIS_PRIORITY_FLOOR", "critical")

	w, err := LoadWorkflow()
	require.NoError(t, err)

	assert.Equal(t, 5, w.QuorumThreshold)
	assert.Equal(t, 2, w.QuorumOverrides["emergency"])
	assert.Equal(t, 2, w.QuorumOverrides["critical"])
	assert.Equal(t, 500.0, w.GeofenceRadiusMeters)
	assert.Equal(t, 48*time.Hour, w.StageDeadlines[models.StageMinistryAction])
	// Untouched deadlines keep their defaults.
	assert.Equal(t, 7*24*time.Hour, w.StageDeadlines[models.StageCommunityVerification])
	assert.Equal(t, 96*time.Hour, w.ConfirmationTimeout)
	assert.Equal(t, time.Minute, w.SweepInterval)
	assert.Equal(t, 0.25, w.CrisisDeadlineMultiplier)
	assert.Equal(t, models.PriorityCritical, w.CrisisPriorityFloor)
}

func TestLoadWorkflowRejectsBadValues(t *testing.T) {
	t.Setenv("QUORUM_THRESHOLD", "0")
	_, err := LoadWorkflow()
	assert.Error(t, err)
}

func TestLoadWorkflowRejectsMalformedOverride(t *testing.T) {
	t.Setenv("QUORUM_OVERRIDES", "emergency")
	_, err := LoadWorkflow()
	assert.Error(t, err)
}

func TestQuorumForPrecedence(t *testing.T) {
	w := DefaultWorkflow()
	w.QuorumOverrides = map[string]int{
		"emergency": 2,
		"critical":  4,
	}

	// Category override wins over priority override.
	assert.Equal(t, 2, w.QuorumFor(models.Emergency, models.PriorityCritical))
	assert.Equal(t, 4, w.QuorumFor(models.Road, models.PriorityCritical))
	assert.Equal(t, 3, w.QuorumFor(models.Road, models.PriorityLow))
}

func TestDeadlineForCrisisScaling(t *testing.T) {
	w := DefaultWorkflow()

	d, ok := w.DeadlineFor(models.StageMinistryAction, false)
	require.True(t, ok)
	assert.Equal(t, 72*time.Hour, d)

	d, ok = w.DeadlineFor(models.StageMinistryAction, true)
	require.True(t, ok)
	assert.Equal(t, 36*time.Hour, d)

	_, ok = w.DeadlineFor(models.StageArchived, false)
	assert.False(t, ok)

	assert.Equal(t, 5*24*time.Hour, w.ConfirmationDeadline(false))
	assert.Equal(t, 60*time.Hour, w.ConfirmationDeadline(true))
}
