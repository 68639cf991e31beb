package authUtils

import (
	"fmt"
	"os"
	"time"

	"github.com/dgrijalva/jwt-go"

	"civicflow-be/models"
)

// GenerateAndSetToken generates a JWT for a user. Role, verified-account
// status, and authority ride in the claims so the engine's authorizer can
// run without a user lookup on every call.
func GenerateAndSetToken(user *models.User) (string, error) {
	secretStr := os.Getenv("JWT_SECRET")
	if secretStr == "" {
		return "", fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	jwtSecret := []byte(secretStr)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   user.ID.Hex(),
		"role":      string(user.Role),
		"verified":  user.Verified,
		"authority": user.Authority,
		"exp":       time.Now().Add(time.Hour * 72).Unix(), // Token expires in 72 hours
	})

	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
