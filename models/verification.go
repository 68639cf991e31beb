package models

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Verification is one community attestation that an issue is genuine.
// Records are append-only and never mutated.
type Verification struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue    primitive.ObjectID `bson:"issue" json:"issue"`
	Verifier primitive.ObjectID `bson:"verifier" json:"verifier"`
	// Verifier geolocation at the time of verification.
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
	// Cycle of the issue the verification was recorded in.
	Cycle int `bson:"cycle" json:"cycle"`
	// QuorumCompleting marks the verification that tipped the count to the
	// threshold and advanced the issue to Ministry Action.
	QuorumCompleting bool      `bson:"quorumCompleting" json:"quorumCompleting"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
}

// EnsureVerificationIndex creates a unique compound index for (issue, verifier).
// The pair stays unique across the issue's whole life, reopens included.
func EnsureVerificationIndex(collection *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "issue", Value: 1}, {Key: "verifier", Value: 1}},
		Options: options.Index().SetUnique(true),
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// SolutionConfirmation records one confirmation of a submitted solution,
// by the original reporter or by a current-cycle verifier.
type SolutionConfirmation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue     primitive.ObjectID `bson:"issue" json:"issue"`
	Confirmer primitive.ObjectID `bson:"confirmer" json:"confirmer"`
	Cycle     int                `bson:"cycle" json:"cycle"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// EnsureConfirmationIndex creates a unique compound index for
// (issue, confirmer, cycle).
func EnsureConfirmationIndex(collection *mongo.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "issue", Value: 1},
			{Key: "confirmer", Value: 1},
			{Key: "cycle", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err := collection.Indexes().CreateOne(ctx, indexModel)
	return err
}
