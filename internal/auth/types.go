package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by the authentication subsystem.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

// Permissions understood by the orchestrator API.
const (
	// PermissionRunsWrite allows starting runs and reading threads and jobs.
	PermissionRunsWrite = "runs:write"
	// PermissionRunsApprove allows answering pending interrupts.
	PermissionRunsApprove = "runs:approve"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config configures the token service.
type Config struct {
	Mode     Mode
	Secret   string
	Issuer   string
	Audience string
	TokenTTL time.Duration
}

// Subject is the authenticated caller carried in the request context.
type Subject struct {
	Name        string
	Permissions []string
	ExpiresAt   time.Time

	permissionsSet map[string]struct{}
}

// NewSubject builds a subject with a precomputed permission set.
func NewSubject(name string, permissions []string) *Subject {
	s := &Subject{Name: name, Permissions: append([]string(nil), permissions...)}
	s.normalise()
	return s
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// ParsePermissions splits a comma separated permission list.
func ParsePermissions(raw string) []string {
	var perms []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			perms = append(perms, p)
		}
	}
	return perms
}
