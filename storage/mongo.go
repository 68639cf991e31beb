// Package storage provides the MongoDB persistence adapter for the
// workflow engine.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"civicflow-be/engine"
	"civicflow-be/models"
)

// MongoStore implements engine.Store over the collections laid out in the
// service database. The transitions collection is append-only: nothing
// here ever updates or deletes a transition document.
type MongoStore struct {
	issues        *mongo.Collection
	transitions   *mongo.Collection
	verifications *mongo.Collection
	actions       *mongo.Collection
	confirmations *mongo.Collection
	claims        *mongo.Collection
	escalations   *mongo.Collection
	crisis        *mongo.Collection
}

// NewMongoStore wires the collections and ensures the uniqueness indexes
// the engine's invariants rely on.
func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{
		issues:        db.Collection("issues"),
		transitions:   db.Collection("transitions"),
		verifications: db.Collection("verifications"),
		actions:       db.Collection("ministry_actions"),
		confirmations: db.Collection("confirmations"),
		claims:        db.Collection("aid_claims"),
		escalations:   db.Collection("escalations"),
		crisis:        db.Collection("crisis"),
	}
	if err := models.EnsureVerificationIndex(s.verifications); err != nil {
		return nil, fmt.Errorf("verification index: %w", err)
	}
	if err := models.EnsureConfirmationIndex(s.confirmations); err != nil {
		return nil, fmt.Errorf("confirmation index: %w", err)
	}
	if err := ensureClaimIndex(s.claims); err != nil {
		return nil, fmt.Errorf("aid claim index: %w", err)
	}
	return s, nil
}

func ensureClaimIndex(collection *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "issue", Value: 1}, {Key: "ngo", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// storageErr classifies driver failures: network and timeout problems are
// transient and surface as ErrStorageUnavailable so the engine retries
// them.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return fmt.Errorf("%s: %v: %w", op, err, engine.ErrStorageUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *MongoStore) CreateIssue(ctx context.Context, issue *models.Issue, transitions []models.LifecycleTransition) error {
	if _, err := s.issues.InsertOne(ctx, issue); err != nil {
		return storageErr("insert issue", err)
	}
	docs := make([]interface{}, len(transitions))
	for i := range transitions {
		transitions[i].ID = primitive.NewObjectID()
		docs[i] = transitions[i]
	}
	if _, err := s.transitions.InsertMany(ctx, docs); err != nil {
		return storageErr("append transitions", err)
	}
	return nil
}

func (s *MongoStore) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	err := s.issues.FindOne(ctx, bson.M{"_id": id}).Decode(&issue)
	if err == mongo.ErrNoDocuments {
		return nil, engine.ErrIssueNotFound
	}
	if err != nil {
		return nil, storageErr("get issue", err)
	}
	return &issue, nil
}

func (s *MongoStore) ApplyTransition(ctx context.Context, issue *models.Issue, tr models.LifecycleTransition) error {
	// Audit first: no stage change is visible without its log entry.
	tr.ID = primitive.NewObjectID()
	if _, err := s.transitions.InsertOne(ctx, tr); err != nil {
		return storageErr("append transition", err)
	}
	update := bson.M{"$set": bson.M{
		"stage":          issue.Stage,
		"stageEnteredAt": issue.StageEnteredAt,
		"escalated":      issue.Escalated,
		"cycle":          issue.Cycle,
		"priority":       issue.Priority,
		"updatedAt":      issue.UpdatedAt,
	}}
	if _, err := s.issues.UpdateOne(ctx, bson.M{"_id": issue.ID}, update); err != nil {
		return storageErr("update issue stage", err)
	}
	return nil
}

func (s *MongoStore) ListTransitions(ctx context.Context, issueID primitive.ObjectID) ([]models.LifecycleTransition, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.transitions.Find(ctx, bson.M{"issue": issueID}, findOptions)
	if err != nil {
		return nil, storageErr("list transitions", err)
	}
	defer cursor.Close(ctx)

	var out []models.LifecycleTransition
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode transitions", err)
	}
	return out, nil
}

func (s *MongoStore) AppendAuditEvent(ctx context.Context, tr models.LifecycleTransition) error {
	tr.ID = primitive.NewObjectID()
	if _, err := s.transitions.InsertOne(ctx, tr); err != nil {
		return storageErr("append audit event", err)
	}
	return nil
}

func (s *MongoStore) InsertVerification(ctx context.Context, v *models.Verification, issue *models.Issue, advance *models.LifecycleTransition) error {
	v.ID = primitive.NewObjectID()
	if _, err := s.verifications.InsertOne(ctx, v); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return engine.ErrDuplicateVerification
		}
		return storageErr("insert verification", err)
	}
	if advance == nil {
		return nil
	}
	if err := s.ApplyTransition(ctx, issue, *advance); err != nil {
		// Roll the verification back so the quorum never sits met with the
		// stage behind; a compensated verifier simply verifies again.
		if _, derr := s.verifications.DeleteOne(ctx, bson.M{"_id": v.ID}); derr != nil {
			return fmt.Errorf("%w (verification rollback failed: %v)", err, derr)
		}
		return err
	}
	return nil
}

func (s *MongoStore) CountVerifications(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error) {
	count, err := s.verifications.CountDocuments(ctx, bson.M{"issue": issueID, "cycle": cycle})
	if err != nil {
		return 0, storageErr("count verifications", err)
	}
	return int(count), nil
}

func (s *MongoStore) HasVerified(ctx context.Context, issueID, verifierID primitive.ObjectID, cycle int) (bool, error) {
	filter := bson.M{"issue": issueID, "verifier": verifierID}
	if cycle != engine.AnyCycle {
		filter["cycle"] = cycle
	}
	count, err := s.verifications.CountDocuments(ctx, filter)
	if err != nil {
		return false, storageErr("check verification", err)
	}
	return count > 0, nil
}

func (s *MongoStore) InsertMinistryAction(ctx context.Context, ma *models.MinistryAction, issue *models.Issue, advances []models.LifecycleTransition) error {
	ma.ID = primitive.NewObjectID()
	if _, err := s.actions.InsertOne(ctx, ma); err != nil {
		return storageErr("insert ministry action", err)
	}
	if err := s.applyAdvances(ctx, issue, advances); err != nil {
		if _, derr := s.actions.DeleteOne(ctx, bson.M{"_id": ma.ID}); derr != nil {
			return fmt.Errorf("%w (ministry action rollback failed: %v)", err, derr)
		}
		return err
	}
	return nil
}

// applyAdvances appends the transitions and persists the issue's final stage
// fields once, audit first.
func (s *MongoStore) applyAdvances(ctx context.Context, issue *models.Issue, advances []models.LifecycleTransition) error {
	docs := make([]interface{}, len(advances))
	for i := range advances {
		advances[i].ID = primitive.NewObjectID()
		docs[i] = advances[i]
	}
	if _, err := s.transitions.InsertMany(ctx, docs); err != nil {
		return storageErr("append transitions", err)
	}
	update := bson.M{"$set": bson.M{
		"stage":          issue.Stage,
		"stageEnteredAt": issue.StageEnteredAt,
		"escalated":      issue.Escalated,
		"cycle":          issue.Cycle,
		"priority":       issue.Priority,
		"updatedAt":      issue.UpdatedAt,
	}}
	if _, err := s.issues.UpdateOne(ctx, bson.M{"_id": issue.ID}, update); err != nil {
		return storageErr("update issue stage", err)
	}
	return nil
}

func (s *MongoStore) MinistryActionForCycle(ctx context.Context, issueID primitive.ObjectID, cycle int) (*models.MinistryAction, error) {
	var ma models.MinistryAction
	err := s.actions.FindOne(ctx, bson.M{"issue": issueID, "cycle": cycle}).Decode(&ma)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get ministry action", err)
	}
	return &ma, nil
}

func (s *MongoStore) InsertConfirmation(ctx context.Context, c *models.SolutionConfirmation) error {
	c.ID = primitive.NewObjectID()
	if _, err := s.confirmations.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return engine.ErrDuplicateConfirmation
		}
		return storageErr("insert confirmation", err)
	}
	return nil
}

func (s *MongoStore) CountConfirmations(ctx context.Context, issueID primitive.ObjectID, cycle int) (int, error) {
	count, err := s.confirmations.CountDocuments(ctx, bson.M{"issue": issueID, "cycle": cycle})
	if err != nil {
		return 0, storageErr("count confirmations", err)
	}
	return int(count), nil
}

func (s *MongoStore) InsertAidClaim(ctx context.Context, claim *models.AidClaim) error {
	claim.ID = primitive.NewObjectID()
	if _, err := s.claims.InsertOne(ctx, claim); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return engine.ErrDuplicateClaim
		}
		return storageErr("insert aid claim", err)
	}
	return nil
}

func (s *MongoStore) ListAidClaims(ctx context.Context, issueID primitive.ObjectID) ([]models.AidClaim, error) {
	cursor, err := s.claims.Find(ctx, bson.M{"issue": issueID})
	if err != nil {
		return nil, storageErr("list aid claims", err)
	}
	defer cursor.Close(ctx)

	var out []models.AidClaim
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode aid claims", err)
	}
	return out, nil
}

func (s *MongoStore) GetCrisis(ctx context.Context) (models.CrisisState, error) {
	var state models.CrisisState
	err := s.crisis.FindOne(ctx, bson.M{"_id": models.CrisisSingletonID}).Decode(&state)
	if err == mongo.ErrNoDocuments {
		return models.CrisisState{ID: models.CrisisSingletonID}, nil
	}
	if err != nil {
		return models.CrisisState{}, storageErr("get crisis state", err)
	}
	return state, nil
}

func (s *MongoStore) SetCrisis(ctx context.Context, state models.CrisisState) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.crisis.ReplaceOne(ctx, bson.M{"_id": models.CrisisSingletonID}, state, opts); err != nil {
		return storageErr("set crisis state", err)
	}
	return nil
}

func (s *MongoStore) MarkEscalated(ctx context.Context, issueID primitive.ObjectID, stage models.Stage, enteredAt time.Time) (bool, error) {
	filter := bson.M{
		"_id":            issueID,
		"stage":          stage,
		"stageEnteredAt": enteredAt,
		"escalated":      false,
	}
	result, err := s.issues.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"escalated": true}})
	if err != nil {
		return false, storageErr("mark escalated", err)
	}
	return result.ModifiedCount == 1, nil
}

func (s *MongoStore) InsertEscalation(ctx context.Context, ev *models.EscalationEvent) error {
	if _, err := s.escalations.InsertOne(ctx, ev); err != nil {
		return storageErr("insert escalation", err)
	}
	return nil
}

func (s *MongoStore) ListEscalations(ctx context.Context, issueID *primitive.ObjectID) ([]models.EscalationEvent, error) {
	filter := bson.M{}
	if issueID != nil {
		filter["issue"] = *issueID
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.escalations.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, storageErr("list escalations", err)
	}
	defer cursor.Close(ctx)

	var out []models.EscalationEvent
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode escalations", err)
	}
	return out, nil
}

func (s *MongoStore) ListOpenIssues(ctx context.Context) ([]models.Issue, error) {
	cursor, err := s.issues.Find(ctx, bson.M{"stage": bson.M{"$ne": models.StageArchived}})
	if err != nil {
		return nil, storageErr("list open issues", err)
	}
	defer cursor.Close(ctx)

	var out []models.Issue
	if err := cursor.All(ctx, &out); err != nil {
		return nil, storageErr("decode open issues", err)
	}
	return out, nil
}
