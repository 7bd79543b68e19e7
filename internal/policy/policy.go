// Package policy enforces scope-based authorization and per-user rate
// limits. Authorization failures carry structured reasons naming the
// specific missing scopes so callers can self-diagnose.
package policy

import (
	"fmt"
	"strings"

	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
)

// AuthorizationError is a terminal denial for one action. It names the
// missing scopes and the user's actual scopes.
type AuthorizationError struct {
	ServiceID     string
	MissingScopes []string
	UserScopes    []string
	Reason        string
}

func (e *AuthorizationError) Error() string {
	if len(e.MissingScopes) > 0 {
		return fmt.Sprintf("access to service %q denied: missing scopes [%s]; user has [%s]",
			e.ServiceID,
			strings.Join(e.MissingScopes, ", "),
			strings.Join(e.UserScopes, ", "))
	}
	return fmt.Sprintf("access to service %q denied: %s", e.ServiceID, e.Reason)
}

// ServiceDirectory is the registry surface the enforcer needs.
type ServiceDirectory interface {
	Get(serviceID string) (*models.ServiceEntry, bool)
}

// Enforcer answers authorization questions against the service directory.
type Enforcer struct {
	services ServiceDirectory
}

// NewEnforcer creates a policy enforcer backed by the given directory.
func NewEnforcer(services ServiceDirectory) *Enforcer {
	return &Enforcer{services: services}
}

// CanAccessService checks whether the user may touch the service at all:
// the service must exist, be enabled, and (when it declares scopes) the
// user must hold at least one of them. Admin and wildcard scopes always
// pass.
func (e *Enforcer) CanAccessService(auth *models.AuthContext, serviceID string) error {
	entry, ok := e.services.Get(serviceID)
	if !ok {
		return &AuthorizationError{ServiceID: serviceID, Reason: "unknown service"}
	}
	if !entry.Enabled {
		return &AuthorizationError{ServiceID: serviceID, Reason: "service is disabled"}
	}
	if auth.IsAdmin() || len(entry.Scopes) == 0 {
		return nil
	}
	for _, scope := range entry.Scopes {
		if auth.HasScope(scope) {
			return nil
		}
	}
	return &AuthorizationError{
		ServiceID:     serviceID,
		MissingScopes: entry.Scopes,
		UserScopes:    auth.Scopes,
	}
}

// CanPerformAction additionally requires every action-specific scope,
// unless the user holds the admin scope.
func (e *Enforcer) CanPerformAction(auth *models.AuthContext, serviceID string, actionScopes []string) error {
	if err := e.CanAccessService(auth, serviceID); err != nil {
		return err
	}
	if auth.IsAdmin() {
		return nil
	}
	var missing []string
	for _, scope := range actionScopes {
		if !auth.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return &AuthorizationError{
			ServiceID:     serviceID,
			MissingScopes: missing,
			UserScopes:    auth.Scopes,
		}
	}
	return nil
}
