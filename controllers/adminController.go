package controllers

import (
	"context"
	"net/http"
	"time"

	"civicflow-be/engine"
	"civicflow-be/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToggleCrisisMode flips the process-wide crisis flag. The engine enforces
// the admin-only rule and audits the change.
func ToggleCrisisMode(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var input struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := workflowEngine.ToggleCrisisMode(c.Request.Context(), actor, *input.Enabled)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

// ReopenIssue moves an archived issue back into Community Verification.
func ReopenIssue(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	issue, err := workflowEngine.Reopen(c.Request.Context(), actor, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, issue)
}

// OverrideSLA force-emits an escalation for a stuck issue.
func OverrideSLA(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	event, err := workflowEngine.OverrideSLA(c.Request.Context(), actor, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// VerifyUserAccount marks a user as a verified account so their
// verifications start counting toward quorum.
func VerifyUserAccount(c *gin.Context) {
	setUserFlag(c, "verified", true)
}

// SuspendUser blocks a user from acting; UnsuspendUser lifts the block.
func SuspendUser(c *gin.Context) {
	setUserFlag(c, "suspended", true)
}

func UnsuspendUser(c *gin.Context) {
	setUserFlag(c, "suspended", false)
}

func setUserFlag(c *gin.Context, field string, value bool) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if actor.Role != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only", "reason": engine.ReasonNotAdmin})
		return
	}

	targetID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{field: value, "updatedAt": time.Now()}}
	result, err := userCollection.UpdateOne(ctx, bson.M{"_id": targetID}, update)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}
	if result.MatchedCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User updated", "field": field, "value": value})
}
