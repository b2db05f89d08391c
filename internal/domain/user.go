// Package domain contains core domain types for the formtrack application.
package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Validation errors returned by the domain types.
var (
	ErrNameRequired  = errors.New("name is required")
	ErrEmailRequired = errors.New("email is required")
	ErrEmailInvalid  = errors.New("email is invalid")
)

// User is a person whose workout sessions are recorded.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// Validate checks the fields required to store a user.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ErrNameRequired
	}
	return validateEmail(u.Email)
}

// Apply copies the set fields of upd onto u.
func (u *User) Apply(upd UserUpdate) {
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = NormalizeEmail(*upd.Email)
	}
}

// Normalize puts the email in its stored form.
func (u *User) Normalize() {
	u.Email = NormalizeEmail(u.Email)
}

// NormalizeEmail lower-cases and trims an address. Every backend stores
// emails in this form so uniqueness is case-insensitive everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Empty reports whether the update changes nothing.
func (upd UserUpdate) Empty() bool {
	return upd.Name == nil && upd.Email == nil
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmailRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrEmailInvalid
	}
	return nil
}
