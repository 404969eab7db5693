package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/internal/sessions"
	"github.com/lookmax/lookmax/backend/go-services/internal/users"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
	"github.com/lookmax/lookmax/backend/go-services/pkg/middleware"
)

type setRoleRequest struct {
	Role models.Role `json:"role" binding:"required,oneof=user admin"`
}

// AdminHandler exposes user administration. Mount it behind
// RequireRole(models.RoleAdmin).
type AdminHandler struct {
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
	cache       Invalidator
}

func NewAdminHandler(u *users.Service, s *sessions.Service, cache Invalidator) *AdminHandler {
	return &AdminHandler{usersSvc: u, sessionsSvc: s, cache: cache}
}

func (h *AdminHandler) Register(rg gin.IRouter) {
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PUT("/users/:id/role", h.SetRole)
	rg.DELETE("/users/:id", h.DeleteUser)
}

func queryInt(c *gin.Context, key string) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", apperrors.ErrInvalidInput, key)
	}
	return n, nil
}

// ListUsers supports ?q=, ?role=, ?status=, ?limit= and ?offset=.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	f := users.ListFilter{Query: c.Query("q"), Role: models.Role(c.Query("role"))}
	if f.Role != "" && !f.Role.Valid() {
		middleware.Abort(c, fmt.Errorf("%w: unknown role", apperrors.ErrInvalidInput))
		return
	}
	if s := c.Query("status"); s != "" {
		st, err := entitlement.ParseStatus(s)
		if err != nil {
			middleware.Abort(c, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err))
			return
		}
		f.Status = st
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		middleware.Abort(c, err)
		return
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		middleware.Abort(c, err)
		return
	}
	list, total, err := h.usersSvc.List(c.Request.Context(), f)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	now := time.Now()
	out := make([]UserView, 0, len(list))
	for _, u := range list {
		out = append(out, userView(u, now))
	}
	c.JSON(http.StatusOK, gin.H{"users": out, "total": total})
}

func (h *AdminHandler) GetUser(c *gin.Context) {
	u, err := h.usersSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, userView(u, time.Now()))
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	var req setRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	actor := middleware.CurrentUser(c)
	u, err := h.usersSvc.SetRole(c.Request.Context(), actor.ID, c.Param("id"), req.Role)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	invalidate(c.Request.Context(), h.cache, u.ID)
	c.JSON(http.StatusOK, userView(u, time.Now()))
}

// DeleteUser removes the account and its refresh sessions. Outstanding
// access tokens then resolve to account_not_found.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	actor := middleware.CurrentUser(c)
	if err := h.usersSvc.Delete(ctx, actor.ID, id); err != nil {
		middleware.Abort(c, err)
		return
	}
	if err := h.sessionsSvc.RevokeUser(ctx, id); err != nil {
		logger.Warnf("revoke sessions of deleted user %s: %v", id, err)
	}
	invalidate(ctx, h.cache, id)
	c.Status(http.StatusNoContent)
}
