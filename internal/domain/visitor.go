package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bouclier/residence-access/internal/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PassStatus string

const (
	PassActive  PassStatus = "active"
	PassExpired PassStatus = "expired"
	PassUsed    PassStatus = "used"
)

// Redemption failures surfaced by the gate protocol. Both are terminal,
// idempotent conditions: repeating the scan yields the same error.
var (
	ErrPassAlreadyUsed = errors.New("pass already redeemed")
	ErrPassExpired     = errors.New("pass expired")
)

// VisitorPass is a time-bounded, single-use access grant a resident issues
// for one named visitor. AccessID is the QR payload presented at the gate;
// GroupID ties together every pass created in the same invitation.
type VisitorPass struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name       string             `bson:"name" json:"name"`
	Phone      string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Reason     string             `bson:"reason,omitempty" json:"reason,omitempty"`
	PhotoURL   string             `bson:"photoUrl,omitempty" json:"photoUrl,omitempty"`
	ValidUntil time.Time          `bson:"validUntil" json:"validUntil"`
	Status     PassStatus         `bson:"status" json:"status"`
	CreatedBy  primitive.ObjectID `bson:"createdBy" json:"createdBy"`
	BuildingID string             `bson:"buildingId" json:"buildingId"`
	AccessID   string             `bson:"accessId" json:"accessId"`
	GroupID    string             `bson:"groupId" json:"groupId"`
	RedeemedBy string             `bson:"redeemedBy,omitempty" json:"redeemedBy,omitempty"`
	RedeemedAt *time.Time         `bson:"redeemedAt,omitempty" json:"redeemedAt,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// EffectiveStatus derives the authoritative status at the given instant.
// A stored "active" past validUntil reads as expired: the stored flag is
// housekeeping, never the source of truth for expiry.
func (p *VisitorPass) EffectiveStatus(now time.Time) PassStatus {
	if p.Status == PassUsed {
		return PassUsed
	}
	if now.After(p.ValidUntil) {
		return PassExpired
	}
	return p.Status
}

// WithEffectiveStatus returns a copy whose Status field carries the derived
// status, for handing to clients.
func (p VisitorPass) WithEffectiveStatus(now time.Time) VisitorPass {
	p.Status = p.EffectiveStatus(now)
	return p
}

type VisitorInput struct {
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	ValidUntil time.Time `json:"validUntil"`
}

// CreateVisitorGroupRequest is one invitation: one or more visitors admitted
// under a shared group id, each with their own single-use pass.
type CreateVisitorGroupRequest struct {
	Visitors []VisitorInput `json:"visitors"`
}

func (r *CreateVisitorGroupRequest) Normalize() {
	for i := range r.Visitors {
		r.Visitors[i].Name = utils.NormalizeString(r.Visitors[i].Name)
		r.Visitors[i].Phone = utils.NormalizePhone(r.Visitors[i].Phone)
		r.Visitors[i].Reason = utils.NormalizeString(r.Visitors[i].Reason)
	}
}

func (r *CreateVisitorGroupRequest) Validate(now time.Time) error {
	if len(r.Visitors) == 0 {
		return fmt.Errorf("at least one visitor is required")
	}
	for i, v := range r.Visitors {
		if v.Name == "" {
			return fmt.Errorf("visitor %d: name is required", i+1)
		}
		if v.ValidUntil.IsZero() {
			return fmt.Errorf("visitor %d: validUntil is required", i+1)
		}
		if !v.ValidUntil.After(now) {
			return fmt.Errorf("visitor %d: validUntil must be in the future", i+1)
		}
		if v.Phone != "" && !utils.IsValidPhone(v.Phone) {
			return fmt.Errorf("visitor %d: invalid phone number", i+1)
		}
	}
	return nil
}

type RedeemResponse struct {
	Pass    VisitorPass `json:"pass"`
	Outcome string      `json:"outcome"`
}
