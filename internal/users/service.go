package users

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lookmax/lookmax/backend/go-services/internal/apperrors"
	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
	"github.com/lookmax/lookmax/backend/go-services/internal/models"
	"github.com/lookmax/lookmax/backend/go-services/pkg/logger"
)

var (
	ErrUserNotFound       = fmt.Errorf("%w: user not found", apperrors.ErrNotFound)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperrors.ErrUnauthenticated)
)

const MinPasswordLength = 8

// Service encapsulates user-related business logic
type Service struct {
	repo UserRepository
	cost int
	now  func() time.Time
}

type Option func(*Service)

// WithBcryptCost lowers the hash cost in tests.
func WithBcryptCost(c int) Option { return func(s *Service) { s.cost = c } }

func NewService(r UserRepository, opts ...Option) *Service {
	s := &Service{repo: r, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) newUser(email, name string) *models.User {
	now := s.now().UTC()
	return &models.User{
		ID:          uuid.NewString(),
		Email:       models.NormalizeEmail(email),
		Name:        strings.TrimSpace(name),
		Role:        models.RoleUser,
		Entitlement: entitlement.Subscription{Status: entitlement.StatusNone},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func validEmail(email string) bool {
	a, err := mail.ParseAddress(email)
	return err == nil && a.Address == email
}

// Register creates a password account.
func (s *Service) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: invalid email", apperrors.ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrInvalidInput, MinPasswordLength)
	}
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}
	u := s.newUser(email, name)
	u.CredentialHash = &hash
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.Infof("registered user %s", u.ID)
	return u, nil
}

// Authenticate checks a password login.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.HasPassword() {
		return nil, ErrInvalidCredentials
	}
	if err := ComparePassword(*u.CredentialHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// UpsertExternal finds or creates the account for an external identity. An
// existing account with the same email gets the identity linked.
func (s *Service) UpsertExternal(ctx context.Context, provider, subjectID, email, name string) (*models.User, error) {
	if provider == "" || subjectID == "" {
		return nil, fmt.Errorf("%w: missing external subject", apperrors.ErrInvalidInput)
	}
	email = models.NormalizeEmail(email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: external identity has no usable email", apperrors.ErrInvalidInput)
	}
	u, err := s.repo.GetByExternal(ctx, provider, subjectID)
	if err != nil || u != nil {
		return u, err
	}
	ei := models.ExternalIdentity{Provider: provider, SubjectID: subjectID}
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if _, linked := existing.ExternalSubject(provider); linked {
			return nil, fmt.Errorf("%w: account already linked to another %s identity", apperrors.ErrConflict, provider)
		}
		if err := s.repo.LinkExternal(ctx, existing.ID, ei); err != nil {
			return nil, err
		}
		return s.repo.GetByID(ctx, existing.ID)
	}
	u = s.newUser(email, name)
	u.ExternalIdentities = []models.ExternalIdentity{ei}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.Infof("created user %s from %s identity", u.ID, provider)
	return u, nil
}

// GetByID returns ErrUserNotFound when the account does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*models.User, int64, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// SetRole changes a user's role. Admins cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, actorID, userID string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, role)
	}
	if actorID == userID && role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: cannot change your own role", apperrors.ErrForbidden)
	}
	ok, err := s.repo.SetRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	logger.Infof("user %s role set to %s by %s", userID, role, actorID)
	return s.GetByID(ctx, userID)
}

// Delete removes an account. Admins cannot delete themselves.
func (s *Service) Delete(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return fmt.Errorf("%w: cannot delete your own account", apperrors.ErrForbidden)
	}
	ok, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	logger.Infof("user %s deleted by %s", userID, actorID)
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, fmt.Errorf("%w: name must be 1-100 characters", apperrors.ErrInvalidInput)
	}
	u, err := s.repo.UpdateName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}
