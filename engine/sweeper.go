package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/metrics"
	"civicflow-be/models"
)

// CheckDeadlines sweeps every open issue once. For each issue whose
// time-in-stage exceeds its deadline it emits exactly one escalation event;
// issues sitting in Solution Confirmation past the confirmation timeout are
// auto-archived. Failures on individual issues are collected and reported,
// never swallowed: a deferred escalation is picked up by the next sweep.
func (e *Engine) CheckDeadlines(ctx context.Context) ([]models.EscalationEvent, error) {
	crisis, err := e.crisisEnabled(ctx)
	if err != nil {
		return nil, err
	}

	var open []models.Issue
	err = e.withRetry(ctx, func() error {
		var innerErr error
		open, innerErr = e.store.ListOpenIssues(ctx)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	now := e.now()
	var events []models.EscalationEvent
	var sweepErrs []error
	for i := range open {
		ev, err := e.sweepIssue(ctx, open[i].ID, crisis, now)
		if err != nil {
			sweepErrs = append(sweepErrs, fmt.Errorf("issue %s: %w", open[i].ID.Hex(), err))
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, errors.Join(sweepErrs...)
}

// sweepIssue re-reads the issue under its lock so the sweep cannot race a
// human transition that landed after the listing.
func (e *Engine) sweepIssue(ctx context.Context, issueID primitive.ObjectID, crisis bool, now time.Time) (*models.EscalationEvent, error) {
	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if Terminal(issue.Stage) {
		return nil, nil
	}

	if issue.Stage == models.StageSolutionConfirmation {
		timeout := e.cfg.ConfirmationDeadline(crisis)
		if now.Sub(issue.StageEnteredAt) > timeout {
			tr := e.advance(issue, models.StageArchived, ActionAutoArchive, Actor{}, "", false, now)
			if err := e.commitTransition(ctx, issue, tr); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	deadline, ok := e.cfg.DeadlineFor(issue.Stage, crisis)
	if !ok || issue.Escalated {
		return nil, nil
	}
	if now.Sub(issue.StageEnteredAt) <= deadline {
		return nil, nil
	}

	claimed, err := e.claimEscalation(ctx, issue)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return e.emitEscalation(ctx, issue, deadline, now, false)
}

// claimEscalation marks the current stage occupancy as escalated so a
// re-sweep never emits a duplicate.
func (e *Engine) claimEscalation(ctx context.Context, issue *models.Issue) (bool, error) {
	var claimed bool
	err := e.withRetry(ctx, func() error {
		var innerErr error
		claimed, innerErr = e.store.MarkEscalated(ctx, issue.ID, issue.Stage, issue.StageEnteredAt)
		return innerErr
	})
	if err != nil {
		return false, err
	}
	if claimed {
		issue.Escalated = true
	}
	return claimed, nil
}

func (e *Engine) emitEscalation(ctx context.Context, issue *models.Issue, deadline time.Duration, now time.Time, forced bool) (*models.EscalationEvent, error) {
	ev := &models.EscalationEvent{
		ID:             uuid.NewString(),
		Issue:          issue.ID,
		Stage:          issue.Stage,
		StageEnteredAt: issue.StageEnteredAt,
		Deadline:       deadline,
		Elapsed:        now.Sub(issue.StageEnteredAt),
		Forced:         forced,
		CreatedAt:      now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.InsertEscalation(ctx, ev) }); err != nil {
		return nil, err
	}
	metrics.EscalationsTotal.Inc()
	e.notifyEscalation(*ev)
	logrus.WithFields(logrus.Fields{
		"issue":   issue.ID.Hex(),
		"stage":   issue.Stage,
		"elapsed": ev.Elapsed,
		"forced":  forced,
	}).Warn("SLA deadline breached")
	return ev, nil
}

// Sweeper runs the deadline check on a fixed cadence.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(e *Engine) *Sweeper {
	return &Sweeper{engine: e, interval: e.cfg.SweepInterval}
}

// Run blocks until ctx is done. Each tick retries transient failures with
// exponential backoff; anything still failing is logged and deferred to
// the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	op := func() error {
		_, err := s.engine.CheckDeadlines(ctx)
		if err != nil && !errors.Is(err, ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		logrus.WithError(err).Error("SLA sweep incomplete; deferred to next cycle")
	}
}
