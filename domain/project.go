package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxProjectNameLength = 100

// Project groups tasks. TaskCount is the number of tasks referencing it and
// is filled in by the store on reads.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	TaskCount int       `json:"taskItemsCount"`
}

func NewProject(name string) (*Project, error) {
	if err := validateProjectName(name); err != nil {
		return nil, err
	}
	return &Project{ID: uuid.NewString(), Name: name, CreatedAt: now()}, nil
}

func (p *Project) Rename(name string) error {
	if err := validateProjectName(name); err != nil {
		return err
	}
	p.Name = name
	return nil
}

func validateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Message: "project name cannot be empty"}
	}
	if utf8.RuneCountInString(name) > MaxProjectNameLength {
		return &ValidationError{Field: "name", Message: fmt.Sprintf("project name cannot exceed %d characters", MaxProjectNameLength)}
	}
	return nil
}
