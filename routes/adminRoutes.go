package routes

import (
	"civicflow-be/controllers"
	"civicflow-be/middlewares"

	"github.com/gin-gonic/gin"
)

// AdminRoutes sets up the admin moderation routes. Role checks happen in
// the engine's authorizer, not here.
func AdminRoutes(r *gin.Engine) {
	admin := r.Group("/api/admin", middlewares.AuthMiddleware())
	{
		admin.POST("/crisis", controllers.ToggleCrisisMode)
		admin.POST("/issue/:id/reopen", controllers.ReopenIssue)
		admin.POST("/issue/:id/escalate", controllers.OverrideSLA)
		admin.POST("/user/:id/verify", controllers.VerifyUserAccount)
		admin.POST("/user/:id/suspend", controllers.SuspendUser)
		admin.POST("/user/:id/unsuspend", controllers.UnsuspendUser)
	}
}
