package domain

import (
	"fmt"
	"time"

	"github.com/bouclier/residence-access/internal/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleResident = "resident"
	RoleSecurity = "security"
	RoleAdmin    = "admin"
)

const (
	StatusTemporary = "temporary"
	StatusActive    = "active"
	StatusInactive  = "inactive"
)

// User is an identity record. It is created as a temporary shell on the first
// email-existence check and promoted to an active resident/security identity
// once the profile is completed.
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password,omitempty" json:"-"`
	FullName     string             `bson:"fullName,omitempty" json:"fullName,omitempty"`
	Role         string             `bson:"role,omitempty" json:"role,omitempty"`
	Status       string             `bson:"status" json:"status"`
	IsTemporary  bool               `bson:"isTemporary" json:"isTemporary"`
	BuildingID   string             `bson:"buildingId,omitempty" json:"buildingId,omitempty"`
	BlockID      string             `bson:"blockId,omitempty" json:"blockId,omitempty"`
	ApartmentID  string             `bson:"apartmentId,omitempty" json:"apartmentId,omitempty"`
	ProfileImage string             `bson:"profileImage,omitempty" json:"profileImage,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// HasPassword reports whether the identity finished password setup.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsAssignableRole reports whether role may be chosen during profile
// completion. Admin is provisioned out of band, never self-assigned.
func IsAssignableRole(role string) bool {
	return role == RoleResident || role == RoleSecurity
}

type CheckEmailRequest struct {
	Email string `json:"email"`
}

type CheckEmailResponse struct {
	Exists      bool `json:"exists"`
	HasPassword bool `json:"hasPassword"`
}

type SetPasswordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" || r.Password == "" {
		return fmt.Errorf("email and password are required")
	}
	if !utils.IsValidEmail(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	Status       string `json:"status"`
	IsTemporary  bool   `json:"isTemporary"`
	Role         string `json:"role,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type UpdateProfileRequest struct {
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

func (r *UpdateProfileRequest) Normalize() {
	r.FullName = utils.NormalizeString(r.FullName)
	r.Role = utils.NormalizeString(r.Role)
}

func (r *UpdateProfileRequest) Validate() error {
	if r.FullName == "" || r.Role == "" {
		return fmt.Errorf("full name and role are required")
	}
	if !IsAssignableRole(r.Role) {
		return fmt.Errorf("invalid role: %s", r.Role)
	}
	return nil
}

type AssignResidenceRequest struct {
	BuildingID  string `json:"buildingId"`
	BlockID     string `json:"blockId"`
	ApartmentID string `json:"apartmentId"`
}

func (r *AssignResidenceRequest) Validate() error {
	if r.BuildingID == "" {
		return fmt.Errorf("buildingId is required")
	}
	return nil
}
