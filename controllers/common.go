package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicflow-be/engine"
	"civicflow-be/metrics"
	"civicflow-be/models"
)

var workflowEngine *engine.Engine

// Setup injects the engine instance the controllers dispatch to.
func Setup(e *engine.Engine) {
	workflowEngine = e
}

// actorFromContext rebuilds the engine actor from the claims the auth
// middleware stored on the request.
func actorFromContext(c *gin.Context) (engine.Actor, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return engine.Actor{}, false
	}
	id, err := primitive.ObjectIDFromHex(userID.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return engine.Actor{}, false
	}

	actor := engine.Actor{ID: id, Role: models.RoleCitizen}
	if role, ok := c.Get("role"); ok {
		if s, ok := role.(string); ok && models.ValidRole(s) {
			actor.Role = models.Role(s)
		}
	}
	if verified, ok := c.Get("verified"); ok {
		actor.Verified, _ = verified.(bool)
	}
	if authority, ok := c.Get("authority"); ok {
		actor.Authority, _ = authority.(string)
	}
	return actor, true
}

func issueIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	issueID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue ID"})
		return primitive.NilObjectID, false
	}
	return issueID, true
}

// respondEngineError maps engine errors onto HTTP statuses. Forbidden
// denials carry their reason code so the UI can explain the blocked
// action.
func respondEngineError(c *gin.Context, err error) {
	if fe, ok := engine.IsForbidden(err); ok {
		metrics.RejectionsTotal.WithLabelValues("forbidden").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "reason": fe.Reason})
		return
	}

	switch {
	case errors.Is(err, engine.ErrIssueNotFound):
		metrics.RejectionsTotal.WithLabelValues("not_found").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "Issue not found"})
	case errors.Is(err, engine.ErrIllegalTransition),
		errors.Is(err, engine.ErrQuorumNotReached),
		errors.Is(err, engine.ErrDuplicateAction):
		metrics.RejectionsTotal.WithLabelValues("conflict").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrDuplicateVerification),
		errors.Is(err, engine.ErrDuplicateConfirmation),
		errors.Is(err, engine.ErrDuplicateClaim):
		metrics.RejectionsTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrTooFar):
		metrics.RejectionsTotal.WithLabelValues("geofence").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrUnverifiedAccount):
		metrics.RejectionsTotal.WithLabelValues("unverified").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "reason": engine.ReasonUnverifiedAccount})
	case errors.Is(err, engine.ErrEmptyActionPlan):
		metrics.RejectionsTotal.WithLabelValues("bad_request").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrStorageUnavailable):
		metrics.RejectionsTotal.WithLabelValues("storage").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage temporarily unavailable"})
	default:
		metrics.RejectionsTotal.WithLabelValues("internal").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
	}
}
