package service

import (
	"errors"
	"fmt"
	"html/template"
	"time"
)

var (
	// ErrForbidden is returned when an actor attempts a privileged
	// operation without the privilege.
	ErrForbidden = errors.New("forbidden")

	// ErrPageInConflict is returned when a commit is attempted against a
	// page whose conflict has not been resolved yet.
	ErrPageInConflict = errors.New("page has an unresolved edit conflict")
)

// ValidationError rejects a request before any state mutation.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// LockHeldError reports that another user holds a valid lock. It is
// user-facing and names the holder and the expiry.
type LockHeldError struct {
	OwnerID   string
	OwnerName string
	ExpiresAt time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("locked by %s until %s", e.OwnerName, e.ExpiresAt.Format(time.RFC3339))
}

// EditConflictError reports that the three-way conflict check rejected a
// commit. The page has been moved to conflict status; the payload carries
// what the client needs to render the 409 response.
type EditConflictError struct {
	Editors               []string
	Diff                  template.HTML
	HasSignificantChanges bool
}

func (e *EditConflictError) Error() string { return "edit conflict detected" }
