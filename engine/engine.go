// Package engine implements the civic issue lifecycle: an append-only
// progression of a reported issue through fixed stages, gated by
// quorum-based community verification, government-response SLAs, and
// role-scoped actions.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/config"
	"civicflow-be/metrics"
	"civicflow-be/models"
)

type Engine struct {
	store    Store
	notifier Notifier
	cfg      config.Workflow
	locks    *issueLocks
	now      func() time.Time
	// retryInterval seeds the exponential backoff for transient storage
	// failures.
	retryInterval time.Duration
}

// New validates the workflow configuration and builds an engine.
func New(store Store, notifier Notifier, cfg config.Workflow) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:         store,
		notifier:      notifier,
		cfg:           cfg,
		locks:         newIssueLocks(),
		now:           time.Now,
		retryInterval: 500 * time.Millisecond,
	}, nil
}

// Config exposes the workflow configuration to read surfaces.
func (e *Engine) Config() config.Workflow {
	return e.cfg
}

// withRetry retries op with exponential backoff while it keeps failing
// with ErrStorageUnavailable. Validation errors are terminal and returned
// immediately.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.retryInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, 5), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// ReportInput carries a citizen report.
type ReportInput struct {
	Title           string
	Description     string
	Category        models.IssueCategory
	Location        string
	Latitude        float64
	Longitude       float64
	TaggedAuthority string
	// Priority is honored for admin reporters only; everyone else gets the
	// default (or the crisis floor).
	Priority models.Priority
}

// Report creates an issue at Posted and immediately advances it into
// Community Verification. Both transitions are audited.
func (e *Engine) Report(ctx context.Context, actor Actor, input ReportInput) (*models.Issue, error) {
	if err := Authorize(actor, ActionReport, nil); err != nil {
		return nil, err
	}

	crisis, err := e.crisisEnabled(ctx)
	if err != nil {
		return nil, err
	}

	priority := models.PriorityMedium
	if input.Priority != "" && actor.Role == models.RoleAdmin {
		priority = input.Priority
	}
	if crisis && !priority.AtLeast(e.cfg.CrisisPriorityFloor) {
		priority = e.cfg.CrisisPriorityFloor
	}

	now := e.now()
	issue := &models.Issue{
		ID:              primitive.NewObjectID(),
		Title:           input.Title,
		Description:     input.Description,
		Category:        input.Category,
		Location:        input.Location,
		Latitude:        input.Latitude,
		Longitude:       input.Longitude,
		ReportedBy:      actor.ID,
		TaggedAuthority: input.TaggedAuthority,
		Stage:           models.StagePosted,
		StageEnteredAt:  now,
		Priority:        priority,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	posted := models.LifecycleTransition{
		Issue:     issue.ID,
		To:        models.StagePosted,
		Action:    string(ActionReport),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		CreatedAt: now,
	}
	opened := e.advance(issue, models.StageCommunityVerification, ActionReport, actor, "", false, now)

	err = e.withRetry(ctx, func() error {
		return e.store.CreateIssue(ctx, issue, []models.LifecycleTransition{posted, opened})
	})
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(ActionReport)).Inc()
	e.notifyTransition(opened)
	return issue, nil
}

// RecordVerification records one community attestation and, when it
// completes the quorum, advances the issue to Ministry Action in the same
// serialized commit. The returned status always carries count/threshold so
// the caller can render progress.
func (e *Engine) RecordVerification(ctx context.Context, actor Actor, issueID primitive.ObjectID, lat, lng float64) (QuorumStatus, error) {
	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return QuorumStatus{}, err
	}
	if err := Authorize(actor, ActionVerify, issue); err != nil {
		return QuorumStatus{}, err
	}
	if issue.Stage != models.StageCommunityVerification {
		return QuorumStatus{Stage: issue.Stage}, ErrIllegalTransition
	}

	threshold := e.cfg.QuorumFor(issue.Category, issue.Priority)
	count, err := e.countVerifications(ctx, issueID, issue.Cycle)
	if err != nil {
		return QuorumStatus{}, err
	}
	status := QuorumStatus{Count: count, Threshold: threshold, Stage: issue.Stage}

	verified, err := e.hasVerified(ctx, issueID, actor.ID, AnyCycle)
	if err != nil {
		return status, err
	}
	if verified {
		return status, ErrDuplicateVerification
	}
	if !WithinRadius(issue.Latitude, issue.Longitude, lat, lng, e.cfg.GeofenceRadiusMeters) {
		return status, ErrTooFar
	}
	if !actor.Verified {
		return status, ErrUnverifiedAccount
	}

	now := e.now()
	completing := count+1 >= threshold
	v := &models.Verification{
		Issue:            issueID,
		Verifier:         actor.ID,
		Latitude:         lat,
		Longitude:        lng,
		Cycle:            issue.Cycle,
		QuorumCompleting: completing,
		CreatedAt:        now,
	}

	// The quorum-completing verification and the stage advance are one
	// commit: either both land or neither does, so a failed advance never
	// leaves the quorum met with the stage behind.
	var advIssue *models.Issue
	var advance *models.LifecycleTransition
	if completing {
		tr := e.advance(issue, models.StageMinistryAction, ActionAdvanceQuorum, actor, "", false, now)
		advIssue, advance = issue, &tr
	}
	if err := e.withRetry(ctx, func() error { return e.store.InsertVerification(ctx, v, advIssue, advance) }); err != nil {
		return status, err
	}
	metrics.VerificationsTotal.Inc()

	status.Count = count + 1
	status.Reached = status.Count >= threshold
	status.Completed = completing

	if completing {
		metrics.TransitionsTotal.WithLabelValues(string(ActionAdvanceQuorum)).Inc()
		e.notifyTransition(*advance)
	}
	status.Stage = issue.Stage
	return status, nil
}

// MinistryActionInput carries the government response plan and evidence.
type MinistryActionInput struct {
	AssignedOfficer   string
	Priority          models.Priority
	PlannedStart      time.Time
	EstimatedDuration models.DurationBucket
	ActionPlan        string
	Evidence          []string
}

// SubmitMinistryAction records the government response and advances the
// issue through Solution Submitted into Solution Confirmation. At most one
// ministry action exists per issue per cycle.
func (e *Engine) SubmitMinistryAction(ctx context.Context, actor Actor, issueID primitive.ObjectID, input MinistryActionInput) (*models.MinistryAction, error) {
	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionSubmitMinistryAction, issue); err != nil {
		return nil, err
	}
	if issue.Stage == models.StageCommunityVerification {
		return nil, ErrQuorumNotReached
	}
	if issue.Stage != models.StageMinistryAction {
		return nil, ErrIllegalTransition
	}
	if input.ActionPlan == "" {
		return nil, ErrEmptyActionPlan
	}

	var existing *models.MinistryAction
	err = e.withRetry(ctx, func() error {
		var innerErr error
		existing, innerErr = e.store.MinistryActionForCycle(ctx, issueID, issue.Cycle)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateAction
	}

	now := e.now()
	ma := &models.MinistryAction{
		Issue:             issueID,
		Officer:           actor.ID,
		Authority:         actor.Authority,
		AssignedOfficer:   input.AssignedOfficer,
		Priority:          input.Priority,
		PlannedStart:      input.PlannedStart,
		EstimatedDuration: input.EstimatedDuration,
		ActionPlan:        input.ActionPlan,
		Evidence:          input.Evidence,
		Cycle:             issue.Cycle,
		CreatedAt:         now,
	}
	if input.Priority != "" {
		issue.Priority = input.Priority
	}

	evidence := ""
	if len(input.Evidence) > 0 {
		evidence = input.Evidence[0]
	}
	submitted := e.advance(issue, models.StageSolutionSubmitted, ActionSubmitMinistryAction, actor, evidence, false, now)
	confirming := e.advance(issue, models.StageSolutionConfirmation, ActionOpenConfirmation, actor, "", false, now)
	advances := []models.LifecycleTransition{submitted, confirming}
	if err := e.withRetry(ctx, func() error { return e.store.InsertMinistryAction(ctx, ma, issue, advances) }); err != nil {
		return nil, err
	}

	for _, tr := range advances {
		metrics.TransitionsTotal.WithLabelValues(tr.Action).Inc()
		e.notifyTransition(tr)
	}
	return ma, nil
}

// ConfirmSolution records a resolution confirmation. The original reporter
// archives the issue alone; confirmations from current-cycle verifiers
// accumulate until they reach the quorum threshold.
func (e *Engine) ConfirmSolution(ctx context.Context, actor Actor, issueID primitive.ObjectID) (ConfirmStatus, error) {
	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return ConfirmStatus{}, err
	}
	if err := Authorize(actor, ActionConfirmSolution, issue); err != nil {
		return ConfirmStatus{}, err
	}
	if issue.Stage != models.StageSolutionConfirmation {
		return ConfirmStatus{Stage: issue.Stage}, ErrIllegalTransition
	}

	threshold := e.cfg.QuorumFor(issue.Category, issue.Priority)
	now := e.now()

	if actor.ID == issue.ReportedBy {
		tr := e.advance(issue, models.StageArchived, ActionConfirmSolution, actor, "", false, now)
		if err := e.commitTransition(ctx, issue, tr); err != nil {
			return ConfirmStatus{}, err
		}
		return ConfirmStatus{Threshold: threshold, Archived: true, Stage: issue.Stage}, nil
	}

	verified, err := e.hasVerified(ctx, issueID, actor.ID, issue.Cycle)
	if err != nil {
		return ConfirmStatus{}, err
	}
	if !verified {
		return ConfirmStatus{}, Forbidden(ActionConfirmSolution, ReasonNotReporter)
	}

	conf := &models.SolutionConfirmation{
		Issue:     issueID,
		Confirmer: actor.ID,
		Cycle:     issue.Cycle,
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.InsertConfirmation(ctx, conf) }); err != nil {
		return ConfirmStatus{}, err
	}

	var count int
	err = e.withRetry(ctx, func() error {
		var innerErr error
		count, innerErr = e.store.CountConfirmations(ctx, issueID, issue.Cycle)
		return innerErr
	})
	if err != nil {
		return ConfirmStatus{}, err
	}

	status := ConfirmStatus{Count: count, Threshold: threshold, Stage: issue.Stage}
	if count >= threshold {
		tr := e.advance(issue, models.StageArchived, ActionConfirmSolution, actor, "", false, now)
		if err := e.commitTransition(ctx, issue, tr); err != nil {
			return status, err
		}
		status.Archived = true
		status.Stage = issue.Stage
	}
	return status, nil
}

// Reopen moves an archived issue back to Community Verification. Admin
// only; the transition is flagged reopened and the issue starts a new
// cycle, so quorum needs fresh verifiers.
func (e *Engine) Reopen(ctx context.Context, actor Actor, issueID primitive.ObjectID) (*models.Issue, error) {
	if err := Authorize(actor, ActionReopen, nil); err != nil {
		return nil, err
	}

	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Stage != models.StageArchived {
		return nil, ErrIllegalTransition
	}

	issue.Cycle++
	tr := e.advance(issue, models.StageCommunityVerification, ActionReopen, actor, "", true, e.now())
	if err := e.commitTransition(ctx, issue, tr); err != nil {
		return nil, err
	}
	return issue, nil
}

// ClaimForAid records an NGO aid-coordination claim. Claims are a parallel
// annotation track and never gate the lifecycle.
func (e *Engine) ClaimForAid(ctx context.Context, actor Actor, issueID primitive.ObjectID, note string) (*models.AidClaim, error) {
	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, ActionClaimForAid, issue); err != nil {
		return nil, err
	}
	if Terminal(issue.Stage) {
		return nil, ErrIllegalTransition
	}

	now := e.now()
	claim := &models.AidClaim{
		Issue:     issueID,
		NGO:       actor.ID,
		Note:      note,
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.InsertAidClaim(ctx, claim) }); err != nil {
		return nil, err
	}

	audit := models.LifecycleTransition{
		Issue:     issueID,
		From:      issue.Stage,
		To:        issue.Stage,
		Action:    string(ActionClaimForAid),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		Detail:    note,
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.AppendAuditEvent(ctx, audit) }); err != nil {
		return nil, err
	}
	return claim, nil
}

// ToggleCrisisMode flips the process-wide crisis flag. Admin only; the
// change is audited before it is acknowledged.
func (e *Engine) ToggleCrisisMode(ctx context.Context, actor Actor, enable bool) (models.CrisisState, error) {
	if err := Authorize(actor, ActionToggleCrisisMode, nil); err != nil {
		return models.CrisisState{}, err
	}

	var state models.CrisisState
	err := e.withRetry(ctx, func() error {
		var innerErr error
		state, innerErr = e.store.GetCrisis(ctx)
		return innerErr
	})
	if err != nil {
		return models.CrisisState{}, err
	}
	if state.Enabled == enable {
		return state, nil
	}

	now := e.now()
	detail := "disabled"
	if enable {
		detail = "enabled"
	}
	audit := models.LifecycleTransition{
		Action:    string(ActionToggleCrisisMode),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		Detail:    detail,
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.AppendAuditEvent(ctx, audit) }); err != nil {
		return models.CrisisState{}, err
	}

	state = models.CrisisState{
		ID:        models.CrisisSingletonID,
		Enabled:   enable,
		ToggledBy: actor.ID,
		ToggledAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.SetCrisis(ctx, state) }); err != nil {
		return models.CrisisState{}, err
	}

	logrus.WithFields(logrus.Fields{"enabled": enable, "actor": actor.ID.Hex()}).Warn("crisis mode toggled")
	return state, nil
}

// OverrideSLA force-emits an escalation for a stuck issue. Admin only; the
// override is audited and the event is flagged as forced.
func (e *Engine) OverrideSLA(ctx context.Context, actor Actor, issueID primitive.ObjectID) (*models.EscalationEvent, error) {
	if err := Authorize(actor, ActionOverrideSLA, nil); err != nil {
		return nil, err
	}

	mu := e.locks.lock(issueID.Hex())
	defer mu.Unlock()

	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if Terminal(issue.Stage) {
		return nil, ErrIllegalTransition
	}

	crisis, err := e.crisisEnabled(ctx)
	if err != nil {
		return nil, err
	}
	deadline, _ := e.cfg.DeadlineFor(issue.Stage, crisis)

	now := e.now()
	if _, err := e.claimEscalation(ctx, issue); err != nil {
		return nil, err
	}
	ev, err := e.emitEscalation(ctx, issue, deadline, now, true)
	if err != nil {
		return nil, err
	}

	audit := models.LifecycleTransition{
		Issue:     issueID,
		From:      issue.Stage,
		To:        issue.Stage,
		Action:    string(ActionOverrideSLA),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		Detail:    string(issue.Stage),
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, func() error { return e.store.AppendAuditEvent(ctx, audit) }); err != nil {
		return nil, err
	}
	return ev, nil
}

// Progress assembles the stepper read model: quorum count/threshold and
// remaining SLA time for the current stage.
func (e *Engine) Progress(ctx context.Context, issueID primitive.ObjectID) (Progress, error) {
	issue, err := e.getIssue(ctx, issueID)
	if err != nil {
		return Progress{}, err
	}
	crisis, err := e.crisisEnabled(ctx)
	if err != nil {
		return Progress{}, err
	}

	threshold := e.cfg.QuorumFor(issue.Category, issue.Priority)
	count, err := e.countVerifications(ctx, issueID, issue.Cycle)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		Issue: issue,
		Quorum: QuorumStatus{
			Count:     count,
			Threshold: threshold,
			Reached:   count >= threshold,
			Stage:     issue.Stage,
		},
		CrisisMode: crisis,
	}

	var deadline time.Duration
	var hasDeadline bool
	if issue.Stage == models.StageSolutionConfirmation {
		deadline, hasDeadline = e.cfg.ConfirmationDeadline(crisis), true
	} else {
		deadline, hasDeadline = e.cfg.DeadlineFor(issue.Stage, crisis)
	}
	if hasDeadline {
		remaining := issue.StageEnteredAt.Add(deadline).Sub(e.now())
		p.SLARemaining = &remaining
	}
	return p, nil
}

// History returns the full ordered transition log for an issue.
func (e *Engine) History(ctx context.Context, issueID primitive.ObjectID) ([]models.LifecycleTransition, error) {
	var trs []models.LifecycleTransition
	err := e.withRetry(ctx, func() error {
		var innerErr error
		trs, innerErr = e.store.ListTransitions(ctx, issueID)
		return innerErr
	})
	return trs, err
}

// AidClaims lists the NGO claims on an issue.
func (e *Engine) AidClaims(ctx context.Context, issueID primitive.ObjectID) ([]models.AidClaim, error) {
	var claims []models.AidClaim
	err := e.withRetry(ctx, func() error {
		var innerErr error
		claims, innerErr = e.store.ListAidClaims(ctx, issueID)
		return innerErr
	})
	return claims, err
}

// Escalations lists emitted escalation events, optionally scoped to one
// issue.
func (e *Engine) Escalations(ctx context.Context, issueID *primitive.ObjectID) ([]models.EscalationEvent, error) {
	var evs []models.EscalationEvent
	err := e.withRetry(ctx, func() error {
		var innerErr error
		evs, innerErr = e.store.ListEscalations(ctx, issueID)
		return innerErr
	})
	return evs, err
}

// CrisisState returns the current crisis singleton.
func (e *Engine) CrisisState(ctx context.Context) (models.CrisisState, error) {
	var state models.CrisisState
	err := e.withRetry(ctx, func() error {
		var innerErr error
		state, innerErr = e.store.GetCrisis(ctx)
		return innerErr
	})
	return state, err
}

// advance mutates the issue into the target stage and returns the audit
// transition describing the move.
func (e *Engine) advance(issue *models.Issue, to models.Stage, action Action, actor Actor, evidence string, reopened bool, now time.Time) models.LifecycleTransition {
	tr := models.LifecycleTransition{
		Issue:     issue.ID,
		From:      issue.Stage,
		To:        to,
		Action:    string(action),
		Actor:     actor.ID,
		ActorRole: actor.Role,
		Evidence:  evidence,
		Reopened:  reopened,
		CreatedAt: now,
	}
	issue.Stage = to
	issue.StageEnteredAt = now
	issue.Escalated = false
	issue.UpdatedAt = now
	return tr
}

// commitTransition durably appends the transition and the issue's new
// stage, then fans out the notification. Nothing is acknowledged to the
// caller before the audit write lands.
func (e *Engine) commitTransition(ctx context.Context, issue *models.Issue, tr models.LifecycleTransition) error {
	err := e.withRetry(ctx, func() error { return e.store.ApplyTransition(ctx, issue, tr) })
	if err != nil {
		return err
	}
	metrics.TransitionsTotal.WithLabelValues(tr.Action).Inc()
	e.notifyTransition(tr)
	return nil
}

func (e *Engine) getIssue(ctx context.Context, issueID primitive.ObjectID) (*models.Issue, error) {
	var issue *models.Issue
	err := e.withRetry(ctx, func() error {
		var innerErr error
		issue, innerErr = e.store.GetIssue(ctx, issueID)
		return innerErr
	})
	return issue, err
}

func (e *Engine) countVerifications(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error) {
	var count int
	err := e.withRetry(ctx, func() error {
		var innerErr error
		count, innerErr = e.store.CountVerifications(ctx, issueID, cycle)
		return innerErr
	})
	return count, err
}

func (e *Engine) hasVerified(ctx context.Context, issueID, verifierID primitive.ObjectID, cycle int) (bool, error) {
	var ok bool
	err := e.withRetry(ctx, func() error {
		var innerErr error
		ok, innerErr = e.store.HasVerified(ctx, issueID, verifierID, cycle)
		return innerErr
	})
	return ok, err
}

func (e *Engine) crisisEnabled(ctx context.Context) (bool, error) {
	var state models.CrisisState
	err := e.withRetry(ctx, func() error {
		var innerErr error
		state, innerErr = e.store.GetCrisis(ctx)
		return innerErr
	})
	return state.Enabled, err
}

func (e *Engine) notifyTransition(tr models.LifecycleTransition) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.PublishTransition(ctx, tr); err != nil {
			logrus.WithError(err).WithField("issue", tr.Issue.Hex()).Warn("transition notification failed")
		}
	}()
}

func (e *Engine) notifyEscalation(ev models.EscalationEvent) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.PublishEscalation(ctx, ev); err != nil {
			logrus.WithError(err).WithField("issue", ev.Issue.Hex()).Warn("escalation notification failed")
		}
	}()
}
