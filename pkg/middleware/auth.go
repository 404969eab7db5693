package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/identity"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/tokens"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
)

// Context keys set by Authenticate.
const (
	ContextUserKey  = "user"
	ContextTokenKey = "access_token"
)

// UserResolver is the minimal interface the middleware depends on
type UserResolver interface {
	Resolve(ctx context.Context, raw string) (*models.User, error)
}

// SubscriberGate answers the entitlement gating query.
type SubscriberGate interface {
	IsActiveSubscriber(ctx context.Context, userID string) (bool, error)
}

// Abort writes err as the JSON error body and stops the chain.
func Abort(c *gin.Context, err error) {
	he := apperrors.FromError(err)
	if he.Status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(he.Status, he.Response())
}

func unauthorized(c *gin.Context, err error) {
	code, msg := "unauthenticated", "authentication required"
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		code, msg = "account_not_found", "account no longer exists"
	case errors.Is(err, tokens.ErrExpired):
		code, msg = tokens.Kind(err), "session expired"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.ErrorResponse{Error: msg, Code: code})
}

// Authenticate resolves the Bearer credential into the current user record.
// Expired credentials answer 401 token_expired so clients can refresh.
func Authenticate(r UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := identity.BearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			unauthorized(c, apperrors.ErrUnauthenticated)
			return
		}
		u, err := r.Resolve(c.Request.Context(), raw)
		if err != nil {
			if errors.Is(err, apperrors.ErrUnauthenticated) || errors.Is(err, identity.ErrUserNotFound) {
				unauthorized(c, err)
				return
			}
			Abort(c, err)
			return
		}
		c.Set(ContextUserKey, u)
		c.Set(ContextTokenKey, raw)
		c.Next()
	}
}

// CurrentUser returns the user set by Authenticate, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// RequireRole rejects users without role. Admins pass every role check.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			unauthorized(c, apperrors.ErrUnauthenticated)
			return
		}
		if u.Role != role && !u.IsAdmin() {
			Abort(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireActiveSubscriber gates paid features on the stored entitlement.
func RequireActiveSubscriber(gate SubscriberGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := CurrentUser(c)
		if u == nil {
			unauthorized(c, apperrors.ErrUnauthenticated)
			return
		}
		ok, err := gate.IsActiveSubscriber(c.Request.Context(), u.ID)
		if err != nil {
			Abort(c, err)
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, apperrors.ErrorResponse{Error: "active subscription required", Code: "subscription_required"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request; 4xx at warn and 5xx at error.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		log := logger.With("method", c.Request.Method, "path", c.Request.URL.Path,
			"status", status, "latency_ms", time.Since(start).Milliseconds())
		if u := CurrentUser(c); u != nil {
			log = log.With("user_id", u.ID)
		}
		switch {
		case status >= 500:
			log.Error("request")
		case status >= 400:
			log.Warn("request")
		default:
			log.Info("request")
		}
	}
}
