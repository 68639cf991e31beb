package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LifecycleTransition is one immutable audit entry. The ordered sequence of
// transitions for an issue reconstructs its full history; entries are never
// edited or deleted. Crisis-mode toggles and SLA overrides are written to
// the same log with an empty issue reference.
type LifecycleTransition struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue     primitive.ObjectID `bson:"issue,omitempty" json:"issue,omitempty"`
	From      Stage              `bson:"from,omitempty" json:"from,omitempty"`
	To        Stage              `bson:"to,omitempty" json:"to,omitempty"`
	Action    string             `bson:"action" json:"action"`
	Actor     primitive.ObjectID `bson:"actor,omitempty" json:"actor,omitempty"`
	ActorRole Role               `bson:"actorRole" json:"actorRole"`
	// Evidence is an opaque media-store reference.
	Evidence string `bson:"evidence,omitempty" json:"evidence,omitempty"`
	Reopened bool   `bson:"reopened,omitempty" json:"reopened,omitempty"`
	// Detail carries the human-readable note for non-stage audit events
	// (crisis toggles, overrides).
	Detail    string    `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// CrisisState is the process-wide crisis-mode singleton.
type CrisisState struct {
	ID        string             `bson:"_id" json:"-"`
	Enabled   bool               `bson:"enabled" json:"enabled"`
	ToggledBy primitive.ObjectID `bson:"toggledBy,omitempty" json:"toggledBy,omitempty"`
	ToggledAt time.Time          `bson:"toggledAt" json:"toggledAt"`
}

// CrisisSingletonID is the fixed _id of the crisis record.
const CrisisSingletonID = "crisis"

// EscalationEvent is emitted when an issue sits in a stage past its
// configured deadline. At most one is emitted per breach.
type EscalationEvent struct {
	ID             string             `bson:"_id" json:"id"`
	Issue          primitive.ObjectID `bson:"issue" json:"issue"`
	Stage          Stage              `bson:"stage" json:"stage"`
	StageEnteredAt time.Time          `bson:"stageEnteredAt" json:"stageEnteredAt"`
	Deadline       time.Duration      `bson:"deadline" json:"deadline"`
	Elapsed        time.Duration      `bson:"elapsed" json:"elapsed"`
	// Forced marks an admin SLA override rather than a sweep detection.
	Forced    bool      `bson:"forced,omitempty" json:"forced,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
