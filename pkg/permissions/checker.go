// Package permissions maps token roles to permissions and checks them
// with wildcard support.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "evidence.*")
//   - "resource.action" - Specific action (e.g., "evidence.review")
package permissions

import (
	"net/http"
	"strings"

	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
)

// Capture permissions
const (
	// CaptureOperate covers sessions, photos and annotations
	CaptureOperate = "capture.operate"
	EvidenceRead   = "evidence.read"
	EvidenceReview = "evidence.review"
	EvidenceCommit = "evidence.commit"
)

// Kitchen roles as carried in access tokens
const (
	RoleAdmin     = "admin"
	RoleChef      = "chef"
	RoleCook      = "cook"
	RoleInspector = "inspector"
)

var rolePermissions = map[string][]string{
	RoleAdmin:     {"*"},
	RoleChef:      {"capture.*", "evidence.*"},
	RoleCook:      {CaptureOperate, EvidenceRead},
	RoleInspector: {EvidenceRead, EvidenceReview},
}

// ForRole returns the permissions granted to a role. Unknown roles get none.
func ForRole(role string) []string {
	return rolePermissions[role]
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "evidence.*" matches "evidence.read", "evidence.review", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// RoleHas reports whether role grants the required permission
func RoleHas(role, required string) bool {
	return HasPermission(ForRole(role), required)
}

// Require rejects requests whose authenticated role lacks the permission.
// It must run after httputil.Authenticator.
func Require(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !RoleHas(httputil.GetUserRole(r.Context()), required) {
				httputil.Error(w, errors.Forbidden("missing permission "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
