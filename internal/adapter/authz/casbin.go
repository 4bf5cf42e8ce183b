package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Resources and actions checked by the transport layer.
const (
	ResourceProducts  = "products"
	ResourceMovements = "movements"
	ResourceUsers     = "users"

	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// defaultPolicy grants regular users the inventory and read access to the
// user directory; admins inherit it and may do anything.
var defaultPolicy = [][]string{
	{string(domain.RoleUser), ResourceProducts, "*"},
	{string(domain.RoleUser), ResourceMovements, "*"},
	{string(domain.RoleUser), ResourceUsers, ActionRead},
	{string(domain.RoleAdmin), "*", "*"},
}

type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if _, err := e.AddPolicies(defaultPolicy); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}
	if _, err := e.AddGroupingPolicy(string(domain.RoleAdmin), string(domain.RoleUser)); err != nil {
		return nil, fmt.Errorf("load casbin role hierarchy: %w", err)
	}
	return &Enforcer{enforcer: e}, nil
}

func (e *Enforcer) Authorize(identity domain.Identity, resource, action string) (bool, error) {
	role := identity.Role
	if !role.Valid() {
		role = domain.RoleUser
	}
	ok, err := e.enforcer.Enforce(string(role), resource, action)
	if err != nil {
		return false, fmt.Errorf("enforce %s %s: %w", resource, action, err)
	}
	return ok, nil
}
