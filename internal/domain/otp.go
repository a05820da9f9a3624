package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OtpCode is a single-use numeric passcode bound to an identity's email.
// At most one unused, unexpired code exists per email: issuing a new code
// deletes every earlier one. The raw code is never stored, only a bcrypt hash.
type OtpCode struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	CodeHash  string             `bson:"codeHash"`
	ExpiresAt time.Time          `bson:"expiresAt"`
	Used      bool               `bson:"used"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// Live reports whether the code can still be redeemed at the given instant.
func (o *OtpCode) Live(now time.Time) bool {
	return !o.Used && now.Before(o.ExpiresAt)
}

type SendOtpRequest struct {
	Email string `json:"email"`
}

type VerifyOtpRequest struct {
	Email string `json:"email"`
	Otp   string `json:"otp"`
}
