package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

// Role enum
type Role string

const (
	RoleCitizen    Role = "citizen"
	RoleGovernment Role = "government"
	RoleNGO        Role = "ngo"
	RoleAdmin      Role = "admin"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleCitizen, RoleGovernment, RoleNGO, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name     string             `bson:"name" json:"name"`
	Email    string             `bson:"email" json:"email"`
	Password string             `bson:"password,omitempty" json:"-"`
	Role     Role               `bson:"role" json:"role"`
	// Verified marks a verified-account identity; only verified accounts
	// may submit verifications.
	Verified bool `bson:"verified" json:"verified"`
	// Authority names the government body a government actor belongs to.
	// Empty for other roles.
	Authority string    `bson:"authority,omitempty" json:"authority,omitempty"`
	Suspended bool      `bson:"suspended" json:"suspended"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) HashPassword() error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashed)
	return nil
}

func (u *User) ComparePassword(candidate string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(candidate))
	return err == nil
}
