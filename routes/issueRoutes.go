package routes

import (
	"civicflow-be/controllers"
	"civicflow-be/middlewares"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the issue report and browse routes
func IssueRoutes(r *gin.Engine) {
	issue := r.Group("/api/issue")
	{
		issue.POST("/create",
			middlewares.AuthMiddleware(),
			middlewares.ActionRateLimiter("report", 5),
			controllers.CreateIssue)
		issue.GET("", controllers.GetAllIssues)
		issue.GET("/recent", controllers.RecentIssues)
		issue.GET("/analytics", controllers.GetIssueAnalytics)
		issue.GET("/:id", middlewares.AuthMiddleware(), controllers.GetIssue)
	}
}
