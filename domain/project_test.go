package domain

import (
	"strings"
	"testing"
)

func TestNewProject(t *testing.T) {
	p, err := NewProject("Backend")
	if err != nil {
		t.Fatalf("new project: %v", err)
	}
	if p.ID == "" || p.Name != "Backend" {
		t.Fatalf("unexpected project %+v", p)
	}
	if _, err := NewProject(" "); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewProject(strings.Repeat("p", 101)); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProjectRenameKeepsNameOnError(t *testing.T) {
	p, _ := NewProject("Backend")
	if err := p.Rename(""); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if p.Name != "Backend" {
		t.Fatalf("name changed to %q", p.Name)
	}
}

func TestNewUser(t *testing.T) {
	u, err := NewUser("auth0|1", "a@example.com", "Ada", "")
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if u.FullName != "Ada" {
		t.Fatalf("unexpected user %+v", u)
	}
	if _, err := NewUser("auth0|1", "", "Ada", ""); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewUser("auth0|1", "a@example.com", strings.Repeat("n", 101), ""); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
