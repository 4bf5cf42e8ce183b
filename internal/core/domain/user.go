package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID            string
	Name          string
	Email         string
	EmailVerified bool
	Role          Role
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NormalizeEmail lower-cases and trims an address so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserUpdate holds the profile fields a caller may change.
type UserUpdate struct {
	Name  string
	Email string
}

func (u UserUpdate) Validate() error {
	if strings.TrimSpace(u.Name) == "" || strings.TrimSpace(u.Email) == "" {
		return fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}

// Registration creates a user with a password credential.
type Registration struct {
	Name     string
	Email    string
	Password string
}

func (r Registration) Validate() error {
	if err := (UserUpdate{Name: r.Name, Email: r.Email}).Validate(); err != nil {
		return err
	}
	if len(r.Password) < 6 {
		return fmt.Errorf("%w: password must have at least 6 characters", ErrValidation)
	}
	return nil
}

// Account is the provider-owned credential record of a user.
type Account struct {
	ID         string
	UserID     string
	ProviderID string
	Password   string
	CreatedAt  time.Time
}

const CredentialProvider = "credential"
