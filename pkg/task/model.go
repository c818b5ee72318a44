// Package task is the task domain: the model and its validation rules, the
// query keys tasks are cached under, the repository contract and the Service
// that runs cached queries and optimistic mutations for tasks.
package task

import (
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/tasksync/pkg/apierr"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusComplete   Status = "complete"
)

// Statuses lists every known status in display order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusComplete}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusComplete:
		return true
	default:
		return false
	}
}

// Label returns the display label for s.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusInProgress:
		return "In Progress"
	case StatusComplete:
		return "Completed"
	default:
		return "Unknown"
	}
}

// Task is one entity of the remote collection. ID and CreatedAt never change
// after creation.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
}

// Input is the payload for creating a task.
type Input struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Validation limits.
const (
	TitleMinLen       = 3
	TitleMaxLen       = 50
	DescriptionMaxLen = 200
)

// letters, digits, whitespace and Latin-1 Supplement / Latin Extended-A
var titlePattern = regexp.MustCompile(`^[a-zA-Z0-9\s\x{00C0}-\x{017F}]+$`)

// Validate checks in against the form rules.
func (in Input) Validate() error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if !in.Status.Valid() {
		return apierr.Validation("status", "must be one of pending, inProgress, complete")
	}
	return nil
}

// Validate checks the fields set on p. An empty patch is rejected.
func (p Patch) Validate() error {
	if p.Title == nil && p.Description == nil && p.Status == nil {
		return apierr.Validation("patch", "no fields to update")
	}
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return apierr.Validation("status", "must be one of pending, inProgress, complete")
	}
	return nil
}

// Apply returns t with p's fields merged in.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	return t
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	switch {
	case n < TitleMinLen:
		return apierr.Validation("title", "must be at least 3 characters")
	case n > TitleMaxLen:
		return apierr.Validation("title", "must be at most 50 characters")
	case !titlePattern.MatchString(title):
		return apierr.Validation("title", "only letters, numbers and spaces are allowed")
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > DescriptionMaxLen {
		return apierr.Validation("description", "must be at most 200 characters")
	}
	return nil
}
