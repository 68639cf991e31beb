package controllers

import (
	"net/http"
	"time"

	"civicflow-be/engine"
	"civicflow-be/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VerifyIssue records a community verification. The response always
// carries count/threshold so the stepper can render progress.
func VerifyIssue(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	var input struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := workflowEngine.RecordVerification(c.Request.Context(), actor, issueID, *input.Latitude, *input.Longitude)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// SubmitMinistryAction records the government response plan and advances
// the issue toward citizen confirmation.
func SubmitMinistryAction(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	var input struct {
		AssignedOfficer   string    `json:"assignedOfficer" binding:"required,max=100"`
		Priority          string    `json:"priority" binding:"required"`
		PlannedStart      time.Time `json:"plannedStart" binding:"required"`
		EstimatedDuration string    `json:"estimatedDuration" binding:"required"`
		ActionPlan        string    `json:"actionPlan" binding:"required,max=2000"`
		Evidence          []string  `json:"evidence,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !models.ValidPriority(input.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid priority"})
		return
	}
	if !models.ValidDurationBucket(input.EstimatedDuration) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid estimated duration"})
		return
	}

	ma, err := workflowEngine.SubmitMinistryAction(c.Request.Context(), actor, issueID, engine.MinistryActionInput{
		AssignedOfficer:   input.AssignedOfficer,
		Priority:          models.Priority(input.Priority),
		PlannedStart:      input.PlannedStart,
		EstimatedDuration: models.DurationBucket(input.EstimatedDuration),
		ActionPlan:        input.ActionPlan,
		Evidence:          input.Evidence,
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ma)
}

// ConfirmSolution records a resolution confirmation from the reporter or a
// verifier.
func ConfirmSolution(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	status, err := workflowEngine.ConfirmSolution(c.Request.Context(), actor, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ClaimForAid records an NGO aid-coordination claim on an issue.
func ClaimForAid(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	var input struct {
		Note string `json:"note,omitempty" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claim, err := workflowEngine.ClaimForAid(c.Request.Context(), actor, issueID, input.Note)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, claim)
}

// GetEscalations lists emitted escalation events, optionally filtered by
// issue, for the crisis dashboard.
func GetEscalations(c *gin.Context) {
	var issueID *primitive.ObjectID
	if idParam := c.Query("issue"); idParam != "" {
		id, err := primitive.ObjectIDFromHex(idParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue ID"})
			return
		}
		issueID = &id
	}

	events, err := workflowEngine.Escalations(c.Request.Context(), issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escalations": events})
}

// GetCrisisMode returns the crisis flag for the dashboard banner.
func GetCrisisMode(c *gin.Context) {
	state, err := workflowEngine.CrisisState(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
