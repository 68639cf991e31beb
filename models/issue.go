package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueCategory enum
type IssueCategory string

const (
	Water          IssueCategory = "Water"
	Electricity    IssueCategory = "Electricity"
	Road           IssueCategory = "Road"
	Sanitation     IssueCategory = "Sanitation"
	Emergency      IssueCategory = "Emergency"
	Infrastructure IssueCategory = "Infrastructure"
	Other          IssueCategory = "Other"
)

// ValidCategory reports whether s names a known issue category.
func ValidCategory(s string) bool {
	switch IssueCategory(s) {
	case Water, Electricity, Road, Sanitation, Emergency, Infrastructure, Other:
		return true
	}
	return false
}

// Stage enum. Issues move through these in fixed order; only an admin
// reopen ever moves one backwards (Archived -> CommunityVerification).
type Stage string

const (
	StagePosted                Stage = "Posted"
	StageCommunityVerification Stage = "Community Verification"
	StageMinistryAction        Stage = "Ministry Action"
	StageSolutionSubmitted     Stage = "Solution Submitted"
	StageSolutionConfirmation  Stage = "Solution Confirmation"
	StageArchived              Stage = "Issue Archived"
)

// Priority enum
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank orders priorities for floor comparisons.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// ValidPriority reports whether s names a known priority.
func ValidPriority(s string) bool {
	_, ok := priorityRank[Priority(s)]
	return ok
}

// AtLeast reports whether p is at or above floor.
func (p Priority) AtLeast(floor Priority) bool {
	return priorityRank[p] >= priorityRank[floor]
}

// Issue represents a civic issue reported by a citizen
type Issue struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title           string             `bson:"title" json:"title"`
	Description     string             `bson:"description" json:"description"`
	Category        IssueCategory      `bson:"category" json:"category"`
	Location        string             `bson:"location" json:"location"`
	Latitude        float64            `bson:"latitude" json:"latitude"`
	Longitude       float64            `bson:"longitude" json:"longitude"`
	ReportedBy      primitive.ObjectID `bson:"reportedBy" json:"reportedBy"`
	TaggedAuthority string             `bson:"taggedAuthority" json:"taggedAuthority"`
	Stage           Stage              `bson:"stage" json:"stage"`
	StageEnteredAt  time.Time          `bson:"stageEnteredAt" json:"stageEnteredAt"`
	Priority        Priority           `bson:"priority" json:"priority"`
	// Cycle counts reopens; verifications and ministry actions are scoped
	// to the cycle they were recorded in.
	Cycle int `bson:"cycle" json:"cycle"`
	// Escalated marks that the current stage occupancy has already emitted
	// its escalation event. Cleared on every stage change.
	Escalated bool      `bson:"escalated" json:"escalated"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
