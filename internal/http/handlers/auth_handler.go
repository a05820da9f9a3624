package handlers

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/bouclier/residence-access/internal/domain"
	mw "github.com/bouclier/residence-access/internal/http/middleware"
	"github.com/bouclier/residence-access/internal/http/response"
	"github.com/bouclier/residence-access/internal/platform/auth"
	"github.com/bouclier/residence-access/internal/platform/mailer"
	"github.com/bouclier/residence-access/internal/repo/mongodb"
	"github.com/bouclier/residence-access/internal/utils"
	"github.com/bouclier/residence-access/pkg/config"
	"github.com/bouclier/residence-access/pkg/events"
	"github.com/bouclier/residence-access/pkg/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	Users    mongodb.UsersRepo
	Otps     mongodb.OtpRepo
	EmailSvc mailer.Service
	Bus      events.Publisher
	Cfg      *config.Config
}

func NewAuthHandler(users mongodb.UsersRepo, otps mongodb.OtpRepo, emailSvc mailer.Service, bus events.Publisher, cfg *config.Config) *AuthHandler {
	return &AuthHandler{Users: users, Otps: otps, EmailSvc: emailSvc, Bus: bus, Cfg: cfg}
}

// CheckEmail reports whether an identity exists and has finished password
// setup. When the email is unknown it provisions a temporary identity as a
// side effect: this upsert-on-read is the documented entry point of the
// activation flow, and repeated calls are idempotent.
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var in domain.CheckEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	email := utils.NormalizeEmail(in.Email)
	if !utils.IsValidEmail(email) {
		response.BadRequest(w, "Invalid email format")
		return
	}

	user, created, err := h.Users.FindOrCreateTemporary(r.Context(), email)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to find or create identity", "error", err)
		response.InternalError(w, "Failed to check email")
		return
	}

	response.WriteJSON(w, http.StatusOK, domain.CheckEmailResponse{
		Exists:      !created,
		HasPassword: user.HasPassword(),
	})
}

// SendOtp issues a fresh sign-in code for an existing identity and mails it.
// Any previously issued code for the email is invalidated.
func (h *AuthHandler) SendOtp(w http.ResponseWriter, r *http.Request) {
	var in domain.SendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	email := utils.NormalizeEmail(in.Email)
	if !utils.IsValidEmail(email) {
		response.BadRequest(w, "Invalid email format")
		return
	}

	user, err := h.Users.FindByEmail(r.Context(), email)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to look up identity", "error", err)
		response.InternalError(w, "Failed to send code")
		return
	}
	if user == nil {
		response.NotFound(w, "Unknown email")
		return
	}

	code, err := generateOtpCode()
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to generate code", "error", err)
		response.InternalError(w, "Failed to send code")
		return
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		response.InternalError(w, "Failed to send code")
		return
	}

	expiresAt := time.Now().Add(h.Cfg.Auth.OtpTTL)
	if err := h.Otps.Create(r.Context(), email, string(hashBytes), expiresAt); err != nil {
		logger.ErrorContext(r.Context(), "failed to store code", "error", err)
		response.InternalError(w, "Failed to send code")
		return
	}

	if err := h.EmailSvc.SendOtp(email, code); err != nil {
		// The code is stored; delivery failure shouldn't invalidate it.
		logger.ErrorContext(r.Context(), "failed to send code email", "error", err, "email", email)
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// VerifyOtp redeems a sign-in code. A code verifies successfully exactly
// once; replays and expired codes are rejected.
func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var in domain.VerifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	email := utils.NormalizeEmail(in.Email)
	code := strings.TrimSpace(in.Otp)
	if email == "" || code == "" {
		response.BadRequest(w, "Email and code are required")
		return
	}
	if len(code) != 6 {
		response.BadRequest(w, "Code must be 6 digits")
		return
	}

	ok, err := h.Otps.Consume(r.Context(), email, code)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to verify code", "error", err)
		response.InternalError(w, "Failed to verify code")
		return
	}
	if !ok {
		response.WriteError(w, http.StatusUnauthorized, "Invalid or expired code", response.CodeInvalidOtp)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// SetPassword stores a salted one-way hash of the password for an existing
// identity. The plaintext is never persisted.
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var in domain.SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	email := utils.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		response.BadRequest(w, "Email and password are required")
		return
	}

	hash, err := argon2id.CreateHash(in.Password, argon2id.DefaultParams)
	if err != nil {
		response.InternalError(w, "Failed to set password")
		return
	}

	if err := h.Users.SetPassword(r.Context(), email, hash); err != nil {
		if err == mongodb.ErrNotFound {
			response.NotFound(w, "Unknown email")
			return
		}
		logger.ErrorContext(r.Context(), "failed to set password", "error", err)
		response.InternalError(w, "Failed to set password")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// Login exchanges credentials for an access/refresh token pair. Unknown
// email and wrong password produce the same response, so the endpoint
// cannot be used to probe which accounts exist.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.Users.FindByEmail(r.Context(), in.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to look up identity", "error", err)
		response.InternalError(w, "Failed to log in")
		return
	}
	if user == nil || !user.HasPassword() {
		response.Unauthorized(w, "invalid email or password")
		return
	}

	ok, err := argon2id.ComparePasswordAndHash(in.Password, user.PasswordHash)
	if err != nil || !ok {
		response.Unauthorized(w, "invalid email or password")
		return
	}

	sub := user.ID.Hex()
	accessToken, err := auth.NewAccessToken(sub, user.Email, h.Cfg.Auth.JWTSecret, h.Cfg.Auth.AccessTokenTTL)
	if err != nil {
		response.InternalError(w, "Failed to create access token")
		return
	}
	refreshToken, err := auth.NewRefreshToken(sub, user.Email, h.Cfg.Auth.JWTSecret, h.Cfg.Auth.RefreshTokenTTL)
	if err != nil {
		response.InternalError(w, "Failed to create refresh token")
		return
	}

	response.WriteJSON(w, http.StatusOK, domain.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(h.Cfg.Auth.AccessTokenTTL.Seconds()),
		Status:       user.Status,
		IsTemporary:  user.IsTemporary,
		Role:         user.Role,
	})
}

// RefreshToken exchanges a valid refresh token for a fresh access token.
// The refresh token itself stays valid until its natural expiry.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in domain.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	if in.RefreshToken == "" {
		response.Unauthorized(w, "refresh token required")
		return
	}

	claims, err := auth.Parse(in.RefreshToken, h.Cfg.Auth.JWTSecret, auth.TypeRefresh)
	if err != nil {
		code := response.CodeInvalidToken
		if err == auth.ErrExpired {
			code = response.CodeExpiredToken
		}
		response.WriteError(w, http.StatusForbidden, "invalid or expired refresh token", code)
		return
	}

	accessToken, err := auth.NewAccessToken(claims.Sub, claims.Email, h.Cfg.Auth.JWTSecret, h.Cfg.Auth.AccessTokenTTL)
	if err != nil {
		response.InternalError(w, "Failed to create access token")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"accessToken": accessToken})
}

// UpdateProfile completes a temporary identity: assigns the full name and a
// resident/security role and flips the account to active.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := mw.Claims(r)
	if claims == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	var in domain.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	id, err := primitive.ObjectIDFromHex(claims.Sub)
	if err != nil {
		response.WriteError(w, http.StatusForbidden, "invalid token subject", response.CodeInvalidToken)
		return
	}

	user, err := h.Users.CompleteProfile(r.Context(), id, in.FullName, in.Role)
	if err != nil {
		if err == mongodb.ErrNotFound {
			response.NotFound(w, "Unknown identity")
			return
		}
		logger.ErrorContext(r.Context(), "failed to complete profile", "error", err)
		response.InternalError(w, "Failed to update profile")
		return
	}

	if err := h.Bus.Publish(r.Context(), events.IdentityActivated, events.IdentityActivatedEvent{
		UserID: user.ID.Hex(),
		Email:  user.Email,
		Role:   user.Role,
	}); err != nil {
		logger.WarnContext(r.Context(), "failed to publish activation event", "error", err)
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "profile updated",
		"user":    user,
	})
}

// Me returns the caller's identity record.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := mw.Claims(r)
	if claims == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	id, err := primitive.ObjectIDFromHex(claims.Sub)
	if err != nil {
		response.WriteError(w, http.StatusForbidden, "invalid token subject", response.CodeInvalidToken)
		return
	}

	user, err := h.Users.FindByID(r.Context(), id)
	if err != nil {
		logger.ErrorContext(r.Context(), "failed to look up identity", "error", err)
		response.InternalError(w, "Failed to load profile")
		return
	}
	if user == nil {
		response.NotFound(w, "Unknown identity")
		return
	}

	response.WriteJSON(w, http.StatusOK, user)
}

// AssignResidence links the caller to a building, and optionally a block and
// apartment.
func (h *AuthHandler) AssignResidence(w http.ResponseWriter, r *http.Request) {
	claims := mw.Claims(r)
	if claims == nil {
		response.Unauthorized(w, "access token required")
		return
	}

	var in domain.AssignResidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	if err := in.Validate(); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	id, err := primitive.ObjectIDFromHex(claims.Sub)
	if err != nil {
		response.WriteError(w, http.StatusForbidden, "invalid token subject", response.CodeInvalidToken)
		return
	}

	user, err := h.Users.AssignResidence(r.Context(), id, in.BuildingID, in.BlockID, in.ApartmentID)
	if err != nil {
		if err == mongodb.ErrNotFound {
			response.NotFound(w, "Unknown identity")
			return
		}
		logger.ErrorContext(r.Context(), "failed to assign residence", "error", err)
		response.InternalError(w, "Failed to assign residence")
		return
	}

	response.WriteJSON(w, http.StatusOK, user)
}

func generateOtpCode() (string, error) {
	// Uniform 6-digit code, 100000-999999.
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
