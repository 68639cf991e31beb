package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"civicflow-be/models"
)

// Workflow holds the tunable parameters of the lifecycle engine. Defaults
// match the numbers the product surfaces (quorum of 3, 72-hour ministry
// deadline, 300m geofence); all of them are overridable from the
// environment.
type Workflow struct {
	// QuorumThreshold is the default number of distinct qualifying
	// verifications needed to leave Community Verification.
	QuorumThreshold int
	// QuorumOverrides maps a category or priority name (lowercased) to a
	// threshold that takes precedence over the default. Category overrides
	// win over priority overrides.
	QuorumOverrides map[string]int
	// GeofenceRadiusMeters is the maximum verifier distance from the issue.
	GeofenceRadiusMeters float64
	// StageDeadlines holds the per-stage response deadlines watched by the
	// SLA sweep. Stages absent from the map carry no deadline.
	StageDeadlines map[models.Stage]time.Duration
	// ConfirmationTimeout auto-archives an undisputed issue sitting in
	// Solution Confirmation.
	ConfirmationTimeout time.Duration
	// SweepInterval is the cadence of the SLA sweep.
	SweepInterval time.Duration
	// CrisisDeadlineMultiplier scales every deadline while crisis mode is
	// on. Must be in (0, 1].
	CrisisDeadlineMultiplier float64
	// CrisisPriorityFloor is the minimum priority assigned to new issues
	// while crisis mode is on.
	CrisisPriorityFloor models.Priority
}

// DefaultWorkflow returns the stock configuration.
func DefaultWorkflow() Workflow {
	return Workflow{
		QuorumThreshold:      3,
		QuorumOverrides:      map[string]int{},
		GeofenceRadiusMeters: 300,
		StageDeadlines: map[models.Stage]time.Duration{
			models.StageCommunityVerification: 7 * 24 * time.Hour,
			models.StageMinistryAction:        72 * time.Hour,
		},
		ConfirmationTimeout:      5 * 24 * time.Hour,
		SweepInterval:            5 * time.Minute,
		CrisisDeadlineMultiplier: 0.5,
		CrisisPriorityFloor:      models.PriorityHigh,
	}
}

// LoadWorkflow builds the workflow configuration from the environment on
// top of the defaults, then validates it.
func LoadWorkflow() (Workflow, error) {
	w := DefaultWorkflow()

	if v := os.Getenv("QUORUM_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return w, fmt.Errorf("invalid QUORUM_THRESHOLD %q: %w", v, err)
		}
		w.QuorumThreshold = n
	}

	// QUORUM_OVERRIDES is a comma list like "emergency=2,critical=2".
	if v := os.Getenv("QUORUM_OVERRIDES"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			key, val, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found {
				return w, fmt.Errorf("invalid QUORUM_OVERRIDES entry %q", pair)
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				return w, fmt.Errorf("invalid QUORUM_OVERRIDES entry %q: %w", pair, err)
			}
			w.QuorumOverrides[strings.ToLower(key)] = n
		}
	}

	if v := os.Getenv("GEOFENCE_RADIUS_METERS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return w, fmt.Errorf("invalid GEOFENCE_RADIUS_METERS %q: %w", v, err)
		}
		w.GeofenceRadiusMeters = f
	}

	stageEnvs := map[string]models.Stage{
		"DEADLINE_COMMUNITY_VERIFICATION": models.StageCommunityVerification,
		"DEADLINE_MINISTRY_ACTION":        models.StageMinistryAction,
	}
	for env, stage := range stageEnvs {
		if v := os.Getenv(env); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return w, fmt.Errorf("invalid %s %q: %w", env, v, err)
			}
			w.StageDeadlines[stage] = dur
		}
	}
	for env, target := range map[string]*time.Duration{
		"CONFIRMATION_TIMEOUT": &w.ConfirmationTimeout,
		"SWEEP_INTERVAL":       &w.SweepInterval,
	} {
		if v := os.Getenv(env); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return w, fmt.Errorf("invalid %s %q: %w", env, v, err)
			}
			*target = dur
		}
	}

	if v := os.Getenv("CRISIS_DEADLINE_MULTIPLIER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return w, fmt.Errorf("invalid CRISIS_DEADLINE_MULTIPLIER %q: %w", v, err)
		}
		w.CrisisDeadlineMultiplier = f
	}

	if v := os.Getenv("CRISIS_PRIORITY_FLOOR"); v != "" {
		if !models.ValidPriority(v) {
			return w, fmt.Errorf("invalid CRISIS_PRIORITY_FLOOR %q", v)
		}
		w.CrisisPriorityFloor = models.Priority(v)
	}

	if err := w.Validate(); err != nil {
		return w, err
	}
	return w, nil
}

// Validate rejects unusable configuration. A quorum threshold of zero would
// advance issues with no community backing, so it is illegal.
func (w Workflow) Validate() error {
	if w.QuorumThreshold < 1 {
		return fmt.Errorf("quorum threshold must be at least 1, got %d", w.QuorumThreshold)
	}
	for key, n := range w.QuorumOverrides {
		if n < 1 {
			return fmt.Errorf("quorum override for %q must be at least 1, got %d", key, n)
		}
	}
	if w.GeofenceRadiusMeters <= 0 {
		return fmt.Errorf("geofence radius must be positive, got %v", w.GeofenceRadiusMeters)
	}
	for stage, d := range w.StageDeadlines {
		if d <= 0 {
			return fmt.Errorf("deadline for stage %q must be positive, got %v", stage, d)
		}
	}
	if w.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive, got %v", w.ConfirmationTimeout)
	}
	if w.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", w.SweepInterval)
	}
	if w.CrisisDeadlineMultiplier <= 0 || w.CrisisDeadlineMultiplier > 1 {
		return fmt.Errorf("crisis deadline multiplier must be in (0, 1], got %v", w.CrisisDeadlineMultiplier)
	}
	return nil
}

// QuorumFor resolves the threshold for an issue. Category overrides take
// precedence over priority overrides, which take precedence over the
// default.
func (w Workflow) QuorumFor(category models.IssueCategory, priority models.Priority) int {
	if n, ok := w.QuorumOverrides[strings.ToLower(string(category))]; ok {
		return n
	}
	if n, ok := w.QuorumOverrides[strings.ToLower(string(priority))]; ok {
		return n
	}
	return w.QuorumThreshold
}

// DeadlineFor returns the effective response deadline for a stage, scaled
// by the crisis multiplier when crisis mode is on. The second return is
// false for stages with no deadline.
func (w Workflow) DeadlineFor(stage models.Stage, crisis bool) (time.Duration, bool) {
	d, ok := w.StageDeadlines[stage]
	if !ok {
		return 0, false
	}
	if crisis {
		d = time.Duration(float64(d) * w.CrisisDeadlineMultiplier)
	}
	return d, true
}

// ConfirmationDeadline returns the auto-archive timeout for Solution
// Confirmation, scaled in crisis mode.
func (w Workflow) ConfirmationDeadline(crisis bool) time.Duration {
	d := w.ConfirmationTimeout
	if crisis {
		d = time.Duration(float64(d) * w.CrisisDeadlineMultiplier)
	}
	return d
}
