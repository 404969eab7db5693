package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
)

// MemoryUserRepository is an in-memory UserRepository used by tests and
// local runs without MongoDB.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]*models.User)}
}

func clone(u *models.User) *models.User {
	c := *u
	c.ExternalIdentities = append([]models.ExternalIdentity(nil), u.ExternalIdentities...)
	if u.Entitlement.PeriodEndsAt != nil {
		t := *u.Entitlement.PeriodEndsAt
		c.Entitlement.PeriodEndsAt = &t
	}
	return &c
}

func (r *MemoryUserRepository) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.users {
		if x.Email == u.Email {
			return ErrEmailTaken
		}
		if c := u.Entitlement.ProviderCustomerID; c != "" && c == x.Entitlement.ProviderCustomerID {
			return fmt.Errorf("%w: payment customer linked to another account", apperrors.ErrConflict)
		}
		for _, ei := range u.ExternalIdentities {
			if sub, ok := x.ExternalSubject(ei.Provider); ok && sub == ei.SubjectID {
				return fmt.Errorf("%w: external identity linked to another account", apperrors.ErrConflict)
			}
		}
	}
	if _, ok := r.users[u.ID]; ok {
		return fmt.Errorf("%w: duplicate id", apperrors.ErrConflict)
	}
	r.users[u.ID] = clone(u)
	return nil
}

func (r *MemoryUserRepository) find(match func(*models.User) bool) *models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return clone(u)
		}
	}
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return clone(u), nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	return r.find(func(u *models.User) bool { return u.Email == email }), nil
}

func (r *MemoryUserRepository) GetByExternal(_ context.Context, provider, subjectID string) (*models.User, error) {
	return r.find(func(u *models.User) bool {
		sub, ok := u.ExternalSubject(provider)
		return ok && sub == subjectID
	}), nil
}

func (r *MemoryUserRepository) LinkExternal(_ context.Context, userID string, ei models.ExternalIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.users {
		if sub, ok := u.ExternalSubject(ei.Provider); ok && sub == ei.SubjectID && id != userID {
			return fmt.Errorf("%w: external identity linked to another account", apperrors.ErrConflict)
		}
	}
	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	if _, linked := u.ExternalSubject(ei.Provider); linked {
		return nil
	}
	u.ExternalIdentities = append(u.ExternalIdentities, ei)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryUserRepository) List(_ context.Context, f ListFilter) ([]*models.User, int64, error) {
	r.mu.RLock()
	var out []*models.User
	q := strings.ToLower(f.Query)
	for _, u := range r.users {
		if q != "" && !strings.Contains(strings.ToLower(u.Email), q) && !strings.Contains(strings.ToLower(u.Name), q) {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Entitlement.Status != f.Status {
			continue
		}
		out = append(out, clone(u))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if f.Offset > 0 {
		if f.Offset >= total {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && int64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MemoryUserRepository) SetRole(_ context.Context, id string, role models.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, nil
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryUserRepository) UpdateName(_ context.Context, id, name string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u.Name = name
	u.UpdatedAt = time.Now().UTC()
	return clone(u), nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return false, nil
	}
	delete(r.users, id)
	return true, nil
}

func (r *MemoryUserRepository) GetSubscription(_ context.Context, userID string) (*entitlement.Subscription, error) {
	u, _ := r.GetByID(context.Background(), userID)
	if u == nil {
		return nil, nil
	}
	return &u.Entitlement, nil
}

func (r *MemoryUserRepository) SaveSubscription(_ context.Context, userID string, sub entitlement.Subscription, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return entitlement.ErrUserNotFound
	}
	if u.Entitlement.Version != expectedVersion {
		return entitlement.ErrVersionConflict
	}
	sub.Version = expectedVersion + 1
	u.Entitlement = sub
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryUserRepository) FindUserIDByCustomerID(_ context.Context, customerID string) (string, error) {
	u := r.find(func(u *models.User) bool { return u.Entitlement.ProviderCustomerID == customerID })
	if u == nil {
		return "", nil
	}
	return u.ID, nil
}

func (r *MemoryUserRepository) SetCustomerIDIfAbsent(_ context.Context, userID, customerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return "", entitlement.ErrUserNotFound
	}
	if u.Entitlement.ProviderCustomerID == "" {
		u.Entitlement.ProviderCustomerID = customerID
		u.Entitlement.Version++
		u.UpdatedAt = time.Now().UTC()
	}
	return u.Entitlement.ProviderCustomerID, nil
}

func (r *MemoryUserRepository) ListLapsedCancellations(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, u := range r.users {
		e := u.Entitlement
		if e.Status == entitlement.StatusActive && e.CancelAtPeriodEnd && e.PeriodEndsAt != nil && e.PeriodEndsAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
