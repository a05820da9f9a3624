package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bouclier/residence-access/internal/domain"
	"github.com/bouclier/residence-access/internal/http/response"
	"github.com/bouclier/residence-access/internal/platform/auth"
	"github.com/bouclier/residence-access/internal/repo/mongodb"
	"github.com/bouclier/residence-access/pkg/logger"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ctxKey string

const (
	CtxClaims ctxKey = "claims"
	CtxUser   ctxKey = "user"
)

// RequireAuth validates the Bearer access token. A missing token is 401;
// a present but invalid, expired or wrong-type token is 403.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(authz, "Bearer ") {
				response.Unauthorized(w, "access token required")
				return
			}
			raw := strings.TrimPrefix(authz, "Bearer ")

			claims, err := auth.Parse(raw, secret, auth.TypeAccess)
			if err != nil {
				code := response.CodeInvalidToken
				if err == auth.ErrExpired {
					code = response.CodeExpiredToken
				}
				response.WriteError(w, http.StatusForbidden, "invalid or expired token", code)
				return
			}

			ctx := context.WithValue(r.Context(), CtxClaims, claims)
			ctx = context.WithValue(ctx, logger.UserIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole loads the caller's identity and rejects roles outside the
// allowed set. Role lives in the store, not the token, so revoking or
// changing a role takes effect immediately.
func RequireRole(users mongodb.UsersRepo, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := Claims(r)
			if claims == nil {
				response.Unauthorized(w, "access token required")
				return
			}

			id, err := primitive.ObjectIDFromHex(claims.Sub)
			if err != nil {
				response.WriteError(w, http.StatusForbidden, "invalid token subject", response.CodeInvalidToken)
				return
			}

			user, err := users.FindByID(r.Context(), id)
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to load identity for role check", "error", err)
				response.InternalError(w, "failed to verify identity")
				return
			}
			if user == nil {
				response.WriteError(w, http.StatusForbidden, "unknown identity", response.CodeForbidden)
				return
			}

			allowed := false
			for _, role := range roles {
				if user.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				response.Forbidden(w, "insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), CtxUser, user)
			if user.BuildingID != "" {
				ctx = context.WithValue(ctx, logger.BuildingIDKey, user.BuildingID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Claims returns the access-token claims stashed by RequireAuth, or nil.
func Claims(r *http.Request) *auth.Claims {
	v := r.Context().Value(CtxClaims)
	if v == nil {
		return nil
	}
	return v.(*auth.Claims)
}

// User returns the identity loaded by RequireRole, or nil.
func User(r *http.Request) *domain.User {
	v := r.Context().Value(CtxUser)
	if v == nil {
		return nil
	}
	return v.(*domain.User)
}
