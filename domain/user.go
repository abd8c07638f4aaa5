package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxEmailLength    = 256
	MaxFullNameLength = 100
)

// User is referenced by tasks as creator or assignee. The id comes from the
// identity provider; PasswordHash is opaque to this service.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"fullName"`
	PasswordHash string `json:"-"`
}

func NewUser(id, email, fullName, passwordHash string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &ValidationError{Field: "id", Message: "user id is required"}
	}
	u := &User{ID: id, PasswordHash: passwordHash}
	if err := u.ChangeEmail(email); err != nil {
		return nil, err
	}
	if err := u.ChangeName(fullName); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) ChangeEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return &ValidationError{Field: "email", Message: "email cannot be empty"}
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		return &ValidationError{Field: "email", Message: fmt.Sprintf("email cannot exceed %d characters", MaxEmailLength)}
	}
	u.Email = email
	return nil
}

func (u *User) ChangeName(fullName string) error {
	if strings.TrimSpace(fullName) == "" {
		return &ValidationError{Field: "fullName", Message: "full name cannot be empty"}
	}
	if utf8.RuneCountInString(fullName) > MaxFullNameLength {
		return &ValidationError{Field: "fullName", Message: fmt.Sprintf("full name cannot exceed %d characters", MaxFullNameLength)}
	}
	u.FullName = fullName
	return nil
}
