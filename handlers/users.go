package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
)

// Invalidator drops a cached user after a profile or role change.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// EntitlementView is the subscription as clients see it.
type EntitlementView struct {
	Status            entitlement.Status `json:"status"`
	EffectiveStatus   entitlement.Status `json:"effectiveStatus"`
	IsActive          bool               `json:"isActive"`
	PeriodEndsAt      *time.Time         `json:"periodEndsAt,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
}

// UserView is the public user representation.
type UserView struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Name        string          `json:"name"`
	Role        models.Role     `json:"role"`
	IsPremium   bool            `json:"isPremium"`
	HasPassword bool            `json:"hasPassword"`
	Entitlement EntitlementView `json:"entitlement"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func userView(u *models.User, now time.Time) UserView {
	e := u.Entitlement
	st := e.Status
	if st == "" {
		st = entitlement.StatusNone
	}
	return UserView{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		IsPremium:   e.IsActive(now),
		HasPassword: u.HasPassword(),
		Entitlement: EntitlementView{
			Status:            st,
			EffectiveStatus:   e.EffectiveStatus(now),
			IsActive:          e.IsActive(now),
			PeriodEndsAt:      e.PeriodEndsAt,
			CancelAtPeriodEnd: e.CancelAtPeriodEnd,
		},
		CreatedAt: u.CreatedAt,
	}
}

type updateProfileRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// UsersHandler serves the caller's own profile.
type UsersHandler struct {
	usersSvc *users.Service
	cache    Invalidator
}

func NewUsersHandler(u *users.Service, cache Invalidator) *UsersHandler {
	return &UsersHandler{usersSvc: u, cache: cache}
}

// Register mounts /users under an authenticated group.
func (h *UsersHandler) Register(rg gin.IRouter) {
	rg.GET("/users/me", h.GetMe)
	rg.PUT("/users/me", h.UpdateMe)
}

func (h *UsersHandler) GetMe(c *gin.Context) {
	c.JSON(http.StatusOK, userView(middleware.CurrentUser(c), time.Now()))
}

func (h *UsersHandler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	me := middleware.CurrentUser(c)
	u, err := h.usersSvc.UpdateProfile(c.Request.Context(), me.ID, req.Name)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	invalidate(c.Request.Context(), h.cache, u.ID)
	c.JSON(http.StatusOK, userView(u, time.Now()))
}

func invalidate(ctx context.Context, cache Invalidator, userID string) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx, userID); err != nil {
		logger.Warnf("invalidate cached user %s: %v", userID, err)
	}
}
