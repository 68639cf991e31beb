package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	db     *mongo.Database
	client *mongo.Client
	once   sync.Once
)

// ConnectDB initializes and returns a MongoDB database connection
func ConnectDB() *mongo.Database {
	once.Do(func() {
		mongoURI := os.Getenv("MONGODB_URI")
		if mongoURI == "" {
			logrus.Fatal("Please define the MONGODB_URI environment variable")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
		if err != nil {
			logrus.Fatalf("Failed to connect to MongoDB: %v", err)
		}

		if err := c.Ping(ctx, nil); err != nil {
			logrus.Fatalf("Failed to ping MongoDB: %v", err)
		}

		logrus.Info("Connected to MongoDB!")

		dbName := os.Getenv("MONGODB_DATABASE")
		if dbName == "" {
			dbName = "civicflow"
		}

		client = c
		db = client.Database(dbName)
	})

	return db
}

// GetCollection returns a MongoDB collection by name
func GetCollection(name string) *mongo.Collection {
	return ConnectDB().Collection(name)
}
