package routes

import (
	"civicflow-be/controllers"
	"civicflow-be/middlewares"

	"github.com/gin-gonic/gin"
)

// WorkflowRoutes sets up the lifecycle action routes
func WorkflowRoutes(r *gin.Engine) {
	wf := r.Group("/api/issue", middlewares.AuthMiddleware())
	{
		wf.POST("/:id/verify",
			middlewares.ActionRateLimiter("verify", 20),
			controllers.VerifyIssue)
		wf.POST("/:id/ministry-action", controllers.SubmitMinistryAction)
		wf.POST("/:id/confirm", controllers.ConfirmSolution)
		wf.POST("/:id/claim", controllers.ClaimForAid)
	}

	r.GET("/api/escalations", middlewares.AuthMiddleware(), controllers.GetEscalations)
	r.GET("/api/crisis", controllers.GetCrisisMode)
}
