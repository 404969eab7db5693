package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/config"
	"github.com/lookmax/lookmax/backend/go-services/internal/identity"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/oidc"
	"github.com/lookmax/lookmax/backend/go-services/internal/sessions"
	"github.com/lookmax/lookmax/backend/go-services/internal/tokens"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
)

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"max=100"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest signs in with email and password.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// OIDCLoginRequest signs in with an ID token from the external provider.
type OIDCLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is returned by every sign-in endpoint.
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user,omitempty"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	tokenSvc    *tokens.Service
	oidc        oidc.TokenVerifier
	blacklist   *sessions.Blacklist
}

type AuthOption func(*AuthHandler)

// WithOIDC enables POST /auth/oidc.
func WithOIDC(v oidc.TokenVerifier) AuthOption { return func(h *AuthHandler) { h.oidc = v } }

// WithBlacklist revokes the caller's access token on logout.
func WithBlacklist(b *sessions.Blacklist) AuthOption {
	return func(h *AuthHandler) { h.blacklist = b }
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service, t *tokens.Service, opts ...AuthOption) *AuthHandler {
	h := &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s, tokenSvc: t}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register routes under /auth. auth is the Authenticate middleware.
func (h *AuthHandler) Register(rg gin.IRouter, auth gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/register", h.SignUp)
	a.POST("/login", h.Login)
	a.POST("/oidc", h.OIDCLogin)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	a.GET("/me", auth, h.Me)
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.Abort(c, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
		return false
	}
	return true
}

// SignUp creates a password account and signs it in.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.usersSvc.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	h.issue(c, http.StatusCreated, u)
}

// Login implements password sign-in.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.usersSvc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
}

// OIDCLogin verifies an ID token and upserts the linked account.
func (h *AuthHandler) OIDCLogin(c *gin.Context) {
	if h.oidc == nil {
		c.JSON(http.StatusNotImplemented, apperrors.ErrorResponse{Error: "external sign-in not configured", Code: "oidc_disabled"})
		return
	}
	var req OIDCLoginRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := oidc.IdentityFrom(c.Request.Context(), h.oidc, req.IDToken)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	u, err := h.usersSvc.UpsertExternal(c.Request.Context(), h.cfg.OIDC.Provider, id.Subject, id.Email, id.Name)
	if err != nil {
		logger.Errorf("user upsert error: %v", err)
		middleware.Abort(c, err)
		return
	}
	h.issue(c, http.StatusOK, u)
}

func (h *AuthHandler) issue(c *gin.Context, status int, u *models.User) {
	ctx := c.Request.Context()
	refresh, _, err := h.sessionsSvc.CreateSession(ctx, u.ID, h.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		middleware.Abort(c, err)
		return
	}
	resp, err := h.accessToken(u.ID, refresh)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	resp.User = u
	c.JSON(status, resp)
}

func (h *AuthHandler) accessToken(userID, refresh string) (*TokenResponse, error) {
	access, exp, err := h.tokenSvc.Issue(userID, h.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(time.Until(exp).Round(time.Second).Seconds()),
		RefreshToken: refresh,
	}, nil
}

// Refresh rotates the refresh token and returns a new access token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	next, _, sess, err := h.sessionsSvc.Rotate(ctx, req.RefreshToken, h.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	// the account may have been deleted since the session was created
	if _, err := h.usersSvc.GetByID(ctx, sess.UserID); err != nil {
		_ = h.sessionsSvc.DeleteRefresh(ctx, next)
		if apperrors.FromError(err).Status == http.StatusNotFound {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.ErrorResponse{Error: "account no longer exists", Code: "account_not_found"})
			return
		}
		middleware.Abort(c, err)
		return
	}
	resp, err := h.accessToken(sess.UserID, next)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout invalidates the refresh token and, when a Bearer token is sent,
// blacklists it for the rest of its lifetime.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if err := h.revokeAccess(ctx, c.GetHeader("Authorization")); err != nil {
		logger.Warnf("blacklist access token: %v", err)
	}
	if err := h.sessionsSvc.DeleteRefresh(ctx, req.RefreshToken); err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) revokeAccess(ctx context.Context, header string) error {
	raw := identity.BearerToken(header)
	if raw == "" || h.blacklist == nil {
		return nil
	}
	// only tokens we issued and that are still valid are worth storing
	if _, err := h.tokenSvc.Verify(raw); err != nil {
		return nil
	}
	return h.blacklist.Revoke(ctx, raw, h.cfg.JWT.AccessTokenTTL+tokens.DefaultLeeway)
}

// Me returns the resolved user, including the effective entitlement.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, userView(middleware.CurrentUser(c), time.Now()))
}
