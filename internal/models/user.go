package models

import (
	"strings"
	"time"

	"github.com/lookmax/lookmax/backend/go-services/internal/entitlement"
)

// Role controls access to administrative operations.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ExternalIdentity links a user to an external identity provider subject.
type ExternalIdentity struct {
	Provider  string `bson:"provider" json:"provider"`
	SubjectID string `bson:"subjectId" json:"subjectId"`
}

// User is the identity and entitlement aggregate.
// Entitlement is only written through the entitlement service.
type User struct {
	ID                 string                   `bson:"_id" json:"id"`
	Email              string                   `bson:"email" json:"email"`
	Name               string                   `bson:"name" json:"name"`
	CredentialHash     *string                  `bson:"credentialHash,omitempty" json:"-"`
	ExternalIdentities []ExternalIdentity       `bson:"externalIdentities,omitempty" json:"externalIdentities,omitempty"`
	Role               Role                     `bson:"role" json:"role"`
	Entitlement        entitlement.Subscription `bson:"entitlement" json:"entitlement"`
	CreatedAt          time.Time                `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time                `bson:"updatedAt" json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool { return u != nil && u.CredentialHash != nil && *u.CredentialHash != "" }

// ExternalSubject returns the subject id linked for provider, if any.
func (u *User) ExternalSubject(provider string) (string, bool) {
	for _, ei := range u.ExternalIdentities {
		if ei.Provider == provider {
			return ei.SubjectID, true
		}
	}
	return "", false
}

// NormalizeEmail is the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
