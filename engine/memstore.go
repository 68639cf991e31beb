package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/models"
)

// MemStore is an in-memory Store used by tests and by dev mode when no
// MongoDB is configured. All collections live behind a single RWMutex,
// which is fine at this scale; the engine serializes per-issue mutations
// above it anyway.
type MemStore struct {
	mu            sync.RWMutex
	issues        map[primitive.ObjectID]models.Issue
	transitions   []models.LifecycleTransition
	verifications []models.Verification
	actions       []models.MinistryAction
	confirmations []models.SolutionConfirmation
	claims        []models.AidClaim
	escalations   []models.EscalationEvent
	crisis        models.CrisisState

	// FailNext makes the next n operations fail with ErrStorageUnavailable,
	// for exercising the retry path.
	FailNext int
}

func NewMemStore() *MemStore {
	return &MemStore{issues: make(map[primitive.ObjectID]models.Issue)}
}

// failNext must be called with mu held.
func (s *MemStore) failNext() error {
	if s.FailNext > 0 {
		s.FailNext--
		return fmt.Errorf("memstore: %w", ErrStorageUnavailable)
	}
	return nil
}

func (s *MemStore) CreateIssue(ctx context.Context, issue *models.Issue, transitions []models.LifecycleTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.issues[issue.ID] = *issue
	s.transitions = append(s.transitions, transitions...)
	return nil
}

func (s *MemStore) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	issue, ok := s.issues[id]
	if !ok {
		return nil, ErrIssueNotFound
	}
	return &issue, nil
}

func (s *MemStore) ApplyTransition(ctx context.Context, issue *models.Issue, tr models.LifecycleTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.transitions = append(s.transitions, tr)
	s.issues[issue.ID] = *issue
	return nil
}

func (s *MemStore) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.LifecycleTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	var out []models.LifecycleTransition
	for _, tr := range s.transitions {
		if tr.Issue == issueID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *MemStore) AppendAuditEvent(ctx context.Context, tr models.LifecycleTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.transitions = append(s.transitions, tr)
	return nil
}

func (s *MemStore) InsertVerification(ctx context.Context, v *models.Verification, issue *models.Issue, advance *models.LifecycleTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	for _, existing := range s.verifications {
		if existing.Issue == v.Issue && existing.Verifier == v.Verifier {
			return ErrDuplicateVerification
		}
	}
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	s.verifications = append(s.verifications, *v)
	if advance != nil {
		s.transitions = append(s.transitions, *advance)
		s.issues[issue.ID] = *issue
	}
	return nil
}

func (s *MemStore) CountVerifications(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return 0, err
	}
	count := 0
	for _, v := range s.verifications {
		if v.Issue == issueID && v.Cycle == cycle {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) HasVerified(ctx context.Context, issueID, verifierID primitive.ObjectID, cycle int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return false, err
	}
	for _, v := range s.verifications {
		if v.Issue == issueID && v.Verifier == verifierID && (cycle == AnyCycle || v.Cycle == cycle) {
			return true, nil
		}
	}
	return false, nil
}

// Verifications returns every verification for an issue, for test
// assertions and the detail read surface.
func (s *MemStore) Verifications(issueID primitive.ObjectID) []models.Verification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Verification
	for _, v := range s.verifications {
		if v.Issue == issueID {
			out = append(out, v)
		}
	}
	return out
}

func (s *MemStore) InsertMinistryAction(ctx context.Context, ma *models.MinistryAction, issue *models.Issue, advances []models.LifecycleTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	if ma.ID.IsZero() {
		ma.ID = primitive.NewObjectID()
	}
	s.actions = append(s.actions, *ma)
	s.transitions = append(s.transitions, advances...)
	s.issues[issue.ID] = *issue
	return nil
}

func (s *MemStore) MinistryActionForCycle(ctx context.Context, issueID primitive.ObjectID, cycle int) (*models.MinistryAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	for _, ma := range s.actions {
		if ma.Issue == issueID && ma.Cycle == cycle {
			found := ma
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemStore) InsertConfirmation(ctx context.Context, c *models.SolutionConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	for _, existing := range s.confirmations {
		if existing.Issue == c.Issue && existing.Confirmer == c.Confirmer && existing.Cycle == c.Cycle {
			return ErrDuplicateConfirmation
		}
	}
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	s.confirmations = append(s.confirmations, *c)
	return nil
}

func (s *MemStore) CountConfirmations(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return 0, err
	}
	count := 0
	for _, c := range s.confirmations {
		if c.Issue == issueID && c.Cycle == cycle {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) InsertAidClaim(ctx context.Context, claim *models.AidClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	for _, existing := range s.claims {
		if existing.Issue == claim.Issue && existing.NGO == claim.NGO {
			return ErrDuplicateClaim
		}
	}
	if claim.ID.IsZero() {
		claim.ID = primitive.NewObjectID()
	}
	s.claims = append(s.claims, *claim)
	return nil
}

func (s *MemStore) ListAidClaims(ctx context.Context, issueID primitive.ObjectID) ([]models.AidClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	var out []models.AidClaim
	for _, claim := range s.claims {
		if claim.Issue == issueID {
			out = append(out, claim)
		}
	}
	return out, nil
}

func (s *MemStore) GetCrisis(ctx context.Context) (models.CrisisState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return models.CrisisState{}, err
	}
	return s.crisis, nil
}

func (s *MemStore) SetCrisis(ctx context.Context, state models.CrisisState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.crisis = state
	return nil
}

func (s *MemStore) MarkEscalated(ctx context.Context, issueID primitive.ObjectID, stage models.Stage, enteredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return false, err
	}
	issue, ok := s.issues[issueID]
	if !ok || issue.Stage != stage || !issue.StageEnteredAt.Equal(enteredAt) || issue.Escalated {
		return false, nil
	}
	issue.Escalated = true
	s.issues[issueID] = issue
	return true, nil
}

func (s *MemStore) InsertEscalation(ctx context.Context, ev *models.EscalationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext(); err != nil {
		return err
	}
	s.escalations = append(s.escalations, *ev)
	return nil
}

func (s *MemStore) ListEscalations(ctx context.Context, issueID *primitive.ObjectID) ([]models.EscalationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	var out []models.EscalationEvent
	for _, ev := range s.escalations {
		if issueID == nil || ev.Issue == *issueID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemStore) ListOpenIssues(ctx context.Context) ([]models.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failNext(); err != nil {
		return nil, err
	}
	var out []models.Issue
	for _, issue := range s.issues {
		if !Terminal(issue.Stage) {
			out = append(out, issue)
		}
	}
	return out, nil
}
