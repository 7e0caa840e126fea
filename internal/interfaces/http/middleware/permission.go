package middleware

import (
	"net/http"

	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/auth/rbac"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

// PermissionChecker resolves workflow permissions.  A nil case asks about
// roles that do not depend on case assignment.
type PermissionChecker interface {
	HasPermission(actorID string, c *domain.Case, perm rbac.Permission) bool
}

// RequirePermission rejects actors lacking perm with 403.  It must run after
// RequireActor.
func RequirePermission(checker PermissionChecker, perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ContextGetActorID(r.Context())
			if actor == "" {
				writeError(w, r, errors.ErrCodeUnauthorized, HeaderActorID+" header is required")
				return
			}
			if !checker.HasPermission(actor, nil, perm) {
				writeError(w, r, errors.ErrCodeForbidden, "actor lacks permission "+string(perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
