package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"civicflow-be/config"
	"civicflow-be/engine"
	"civicflow-be/models"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var issueCollection *mongo.Collection = config.GetCollection("issues")
var verificationCollection *mongo.Collection = config.GetCollection("verifications")
var escalationCollection *mongo.Collection = config.GetCollection("escalations")
var userCollection *mongo.Collection = config.GetCollection("users")

// CreateIssue handles a citizen report. The issue enters the lifecycle at
// Posted and immediately opens for community verification.
func CreateIssue(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	var input struct {
		Title           string   `json:"title" binding:"required,max=200"`
		Description     string   `json:"description" binding:"required,max=1000"`
		Category        string   `json:"category" binding:"required"`
		Location        string   `json:"location" binding:"required,max=200"`
		Latitude        *float64 `json:"latitude" binding:"required"`
		Longitude       *float64 `json:"longitude" binding:"required"`
		TaggedAuthority string   `json:"taggedAuthority" binding:"required,max=100"`
		Priority        string   `json:"priority,omitempty"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !models.ValidCategory(input.Category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
		return
	}
	if input.Priority != "" && !models.ValidPriority(input.Priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid priority"})
		return
	}

	issue, err := workflowEngine.Report(c.Request.Context(), actor, engine.ReportInput{
		Title:           input.Title,
		Description:     input.Description,
		Category:        models.IssueCategory(input.Category),
		Location:        input.Location,
		Latitude:        *input.Latitude,
		Longitude:       *input.Longitude,
		TaggedAuthority: input.TaggedAuthority,
		Priority:        models.Priority(input.Priority),
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, issue)
}

// GetIssue retrieves an issue with its stepper progress, transition
// history, and aid claims.
func GetIssue(c *gin.Context) {
	issueID, ok := issueIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	progress, err := workflowEngine.Progress(ctx, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	history, err := workflowEngine.History(ctx, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	claims, err := workflowEngine.AidClaims(ctx, issueID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	issue := progress.Issue

	// Get reporter info
	var reporter models.User
	reportedByMap := map[string]interface{}{
		"id": issue.ReportedBy,
	}
	dbCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := userCollection.FindOne(dbCtx, bson.M{"_id": issue.ReportedBy}).Decode(&reporter); err == nil {
		reportedByMap["name"] = reporter.Name
		reportedByMap["email"] = reporter.Email
	}

	response := gin.H{
		"issue":        issue,
		"reportedBy":   reportedByMap,
		"stages":       engine.Stages(),
		"quorum":       progress.Quorum,
		"slaRemaining": progress.SLARemaining,
		"crisisMode":   progress.CrisisMode,
		"history":      history,
		"aidClaims":    claims,
	}

	c.JSON(http.StatusOK, response)
}

// GetAllIssues handles retrieving all issues with filtering, pagination,
// and quorum progress
func GetAllIssues(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Parse query parameters
	category := c.Query("category")
	stage := c.Query("stage")
	search := c.Query("search")
	sortParam := c.DefaultQuery("sort", "newest")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	// Build query filter
	filter := bson.M{}

	if category != "" && category != "all" {
		filter["category"] = category
	}

	if stage != "" && stage != "all" {
		filter["stage"] = stage
	}

	if search != "" {
		filter["$or"] = []bson.M{
			{"title": bson.M{"$regex": search, "$options": "i"}},
			{"description": bson.M{"$regex": search, "$options": "i"}},
		}
	}

	// Calculate pagination
	skip := (page - 1) * limit

	// Sort options
	var sortOptions bson.D
	switch sortParam {
	case "oldest":
		sortOptions = bson.D{{Key: "createdAt", Value: 1}}
	case "newest":
		fallthrough
	default:
		sortOptions = bson.D{{Key: "createdAt", Value: -1}}
	}

	// Get total count for pagination
	totalCount, err := issueCollection.CountDocuments(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count issues"})
		return
	}

	findOptions := options.Find().
		SetSort(sortOptions).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := issueCollection.Find(ctx, filter, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve issues"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode issues"})
		return
	}

	// Enhance issues with verification counts for the progress badge
	cfg := workflowEngine.Config()

	type IssueWithProgress struct {
		models.Issue
		Verifications   int64 `json:"verifications"`
		QuorumThreshold int   `json:"quorumThreshold"`
	}

	issuesWithProgress := make([]IssueWithProgress, 0, len(issues))

	for _, issue := range issues {
		count, err := verificationCollection.CountDocuments(ctx, bson.M{
			"issue": issue.ID,
			"cycle": issue.Cycle,
		})
		if err != nil {
			count = 0
		}

		issuesWithProgress = append(issuesWithProgress, IssueWithProgress{
			Issue:           issue,
			Verifications:   count,
			QuorumThreshold: cfg.QuorumFor(issue.Category, issue.Priority),
		})
	}

	// Calculate pagination info
	totalPages := int((totalCount + int64(limit) - 1) / int64(limit))

	response := gin.H{
		"issues":      issuesWithProgress,
		"totalIssues": totalCount,
		"totalPages":  totalPages,
		"currentPage": page,
	}

	c.JSON(http.StatusOK, response)
}

// RecentIssues returns the most recent issues for the map feed
func RecentIssues(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	limit := 19

	projection := bson.M{
		"_id":       1,
		"title":     1,
		"latitude":  1,
		"longitude": 1,
		"location":  1,
		"category":  1,
		"stage":     1,
		"priority":  1,
		"createdAt": 1,
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(projection)

	cursor, err := issueCollection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve recent issues"})
		return
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode recent issues"})
		return
	}

	c.JSON(http.StatusOK, issues)
}

// GetIssueAnalytics returns the dashboard aggregates
func GetIssueAnalytics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Get issues by category using aggregation
	categoryPipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$category",
				"count": bson.M{"$sum": 1},
			},
		},
		{
			"$project": bson.M{
				"name":  "$_id",
				"value": "$count",
				"_id":   0,
			},
		},
	}

	categoryCursor, err := issueCollection.Aggregate(ctx, categoryPipeline)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get category analytics"})
		return
	}
	defer categoryCursor.Close(ctx)

	var issuesByCategory []bson.M
	if err := categoryCursor.All(ctx, &issuesByCategory); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode category analytics"})
		return
	}

	// Get issues by stage for the stepper distribution
	stagePipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$stage",
				"count": bson.M{"$sum": 1},
			},
		},
		{
			"$project": bson.M{
				"name":  "$_id",
				"value": "$count",
				"_id":   0,
			},
		},
	}

	stageCursor, err := issueCollection.Aggregate(ctx, stagePipeline)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stage analytics"})
		return
	}
	defer stageCursor.Close(ctx)

	var issuesByStage []bson.M
	if err := stageCursor.All(ctx, &issuesByStage); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode stage analytics"})
		return
	}

	// Get last 7 days data
	var last7Days []gin.H
	for i := 6; i >= 0; i-- {
		date := time.Now().AddDate(0, 0, -i)
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

		nextDate := date.AddDate(0, 0, 1)

		count, err := issueCollection.CountDocuments(ctx, bson.M{
			"createdAt": bson.M{
				"$gte": date,
				"$lt":  nextDate,
			},
		})
		if err != nil {
			count = 0
		}

		last7Days = append(last7Days, gin.H{
			"date":  date.Format("2006-01-02"),
			"count": count,
		})
	}

	// Get total counts
	totalIssues, err := issueCollection.CountDocuments(ctx, bson.M{})
	if err != nil {
		totalIssues = 0
	}

	totalVerifications, err := verificationCollection.CountDocuments(ctx, bson.M{})
	if err != nil {
		totalVerifications = 0
	}

	totalEscalations, err := escalationCollection.CountDocuments(ctx, bson.M{})
	if err != nil {
		totalEscalations = 0
	}

	openIssues, err := issueCollection.CountDocuments(ctx, bson.M{
		"stage": bson.M{"$ne": models.StageArchived},
	})
	if err != nil {
		openIssues = 0
	}

	// Return analytics response
	response := gin.H{
		"issuesByCategory":   issuesByCategory,
		"issuesByStage":      issuesByStage,
		"last7Days":          last7Days,
		"totalIssues":        totalIssues,
		"totalVerifications": totalVerifications,
		"totalEscalations":   totalEscalations,
		"openIssues":         openIssues,
	}

	c.JSON(http.StatusOK, response)
}
