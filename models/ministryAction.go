package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DurationBucket enum for the estimated-duration field of a ministry action.
type DurationBucket string

const (
	DurationDays   DurationBucket = "days"
	DurationWeeks  DurationBucket = "weeks"
	DurationMonths DurationBucket = "months"
)

// ValidDurationBucket reports whether s names a known duration bucket.
func ValidDurationBucket(s string) bool {
	switch DurationBucket(s) {
	case DurationDays, DurationWeeks, DurationMonths:
		return true
	}
	return false
}

// MinistryAction is a government response record. At most one exists per
// issue per cycle; creating one is only legal from the Ministry Action stage.
type MinistryAction struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue             primitive.ObjectID `bson:"issue" json:"issue"`
	Officer           primitive.ObjectID `bson:"officer" json:"officer"`
	Authority         string             `bson:"authority" json:"authority"`
	AssignedOfficer   string             `bson:"assignedOfficer" json:"assignedOfficer"`
	Priority          Priority           `bson:"priority" json:"priority"`
	PlannedStart      time.Time          `bson:"plannedStart" json:"plannedStart"`
	EstimatedDuration DurationBucket     `bson:"estimatedDuration" json:"estimatedDuration"`
	ActionPlan        string             `bson:"actionPlan" json:"actionPlan"`
	// Evidence references are opaque media-store identifiers; contents are
	// never inspected here.
	Evidence  []string  `bson:"evidence,omitempty" json:"evidence,omitempty"`
	Cycle     int       `bson:"cycle" json:"cycle"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// AidClaim is an NGO annotation on an issue. It is a parallel track and
// never gates the lifecycle.
type AidClaim struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Issue     primitive.ObjectID `bson:"issue" json:"issue"`
	NGO       primitive.ObjectID `bson:"ngo" json:"ngo"`
	Note      string             `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
