package main

import (
	"context"
	"net/http"
	"os"

	"civicflow-be/config"
	"civicflow-be/controllers"
	"civicflow-be/engine"
	"civicflow-be/metrics"
	"civicflow-be/notify"
	"civicflow-be/routes"
	"civicflow-be/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	workflowCfg, err := config.LoadWorkflow()
	if err != nil {
		logrus.Fatalf("Invalid workflow configuration: %v", err)
	}

	db := config.ConnectDB()
	if db == nil {
		logrus.Fatal("Failed to connect to MongoDB")
	}

	store, err := storage.NewMongoStore(db)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	// Without Redis the service still runs: events go to the log and the
	// per-user rate limits are off.
	var notifier engine.Notifier = notify.LogNotifier{}
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedis()
		notifier = notify.NewRedisNotifier(config.RedisClient, "civicflow:events")
	} else {
		logrus.Warn("REDIS_ADDRESS not set; publishing events to the log and disabling rate limits")
	}

	eng, err := engine.New(store, notifier, workflowCfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize engine: %v", err)
	}
	controllers.Setup(eng)

	// SLA sweep runs for the lifetime of the process.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go engine.NewSweeper(eng).Run(sweepCtx)

	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	if origin := os.Getenv("CORS_ORIGIN"); origin != "" {
		corsCfg.AllowOrigins = []string{origin}
		corsCfg.AllowCredentials = true
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	routes.AuthRoutes(r)
	routes.IssueRoutes(r)
	routes.WorkflowRoutes(r)
	routes.AdminRoutes(r)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		logrus.Fatalf("Failed to start server: %v", err)
	}
}
