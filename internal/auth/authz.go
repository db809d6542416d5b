package auth

import (
	_ "embed"
	"fmt"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/goccy/go-json"

	"github.com/sakif/community-library/internal/apperror"
)

// Roles. Every signed-up user is a member; IsManager promotes to manager,
// which inherits every member permission.
const (
	RoleMember  = "member"
	RoleManager = "manager"
)

// Objects and actions named in policy.csv.
const (
	ObjCatalog      = "catalog"
	ObjProfile      = "profile"
	ObjLoan         = "loan"
	ObjFeedback     = "feedback"
	ObjNotification = "notification"
	ObjRequest      = "request"
	ObjUser         = "user"
	ObjReport       = "report"
	ObjAdmin        = "admin"

	ActRead    = "read"
	ActWrite   = "write"
	ActRequest = "request"
	ActCreate  = "create"
	ActManage  = "manage"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// RoleFunc resolves a uid to RoleMember or RoleManager.
type RoleFunc func(uid string) string

// Authorizer answers "may this uid do act on obj" with a casbin RBAC model.
//
// A nil *Authorizer allows everything. The server uses nil when no JWT secret
// is configured, which is only meant for local development.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	role     RoleFunc
}

// NewAuthorizer loads the embedded model and policy.
func NewAuthorizer(role RoleFunc) (*Authorizer, error) {
	if role == nil {
		return nil, fmt.Errorf("auth: role resolver is required")
	}

	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("auth: loading casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("auth: creating casbin enforcer: %w", err)
	}
	if err := loadPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	return &Authorizer{enforcer: enforcer, role: role}, nil
}

// loadPolicy feeds policy.csv lines ("p, sub, obj, act" and "g, user, role")
// into the enforcer. There is no persisted adapter; the policy ships with the
// binary.
func loadPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) == 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("auth: adding policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) == 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("auth: adding grouping policy %v: %w", parts[1:], err)
			}
		default:
			return fmt.Errorf("auth: malformed policy line %q", line)
		}
	}
	return nil
}

// Role returns the role of uid.
func (a *Authorizer) Role(uid string) string {
	if a == nil {
		return RoleManager
	}
	if a.role(uid) == RoleManager {
		return RoleManager
	}
	return RoleMember
}

// Allowed reports whether uid may perform act on obj.
func (a *Authorizer) Allowed(uid, obj, act string) (bool, error) {
	if a == nil {
		return true, nil
	}
	ok, err := a.enforcer.Enforce(a.Role(uid), obj, act)
	if err != nil {
		return false, fmt.Errorf("auth: enforcing %s %s: %w", obj, act, err)
	}
	return ok, nil
}

// Check is Allowed for the uid carried by r's context. It returns an
// apperror.Forbidden when the caller is anonymous or lacks the permission.
func (a *Authorizer) Check(r *http.Request, obj, act string) error {
	if a == nil {
		return nil
	}
	uid, ok := UIDFromContext(r.Context())
	if !ok {
		return apperror.Forbidden("authentication required")
	}
	allowed, err := a.Allowed(uid, obj, act)
	if err != nil {
		return apperror.Internal("checking permissions", err)
	}
	if !allowed {
		return apperror.Forbidden(fmt.Sprintf("not allowed to %s %s", act, obj))
	}
	return nil
}

// CheckSelf allows the caller to act on their own resources with the member
// permission (obj, act), and on anybody's resources as a manager.
func (a *Authorizer) CheckSelf(r *http.Request, target, obj, act string) error {
	if a == nil {
		return nil
	}
	uid, ok := UIDFromContext(r.Context())
	if !ok {
		return apperror.Forbidden("authentication required")
	}
	if uid == target {
		return a.Check(r, obj, act)
	}
	if err := a.Check(r, ObjUser, ActManage); err != nil {
		return apperror.Forbidden("only managers can act for another user")
	}
	return nil
}

// Require is middleware form of Check for routes that need one permission.
func (a *Authorizer) Require(obj, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.Check(r, obj, act); err != nil {
				status := http.StatusForbidden
				if apperror.Kind(err) == apperror.CodeInternal {
					status = http.StatusInternalServerError
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   apperror.Kind(err),
					"message": apperror.PublicMessage(err),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
