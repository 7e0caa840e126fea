// Package rbac resolves the roles an actor holds for the case workflow.
// Role membership comes from configuration and can be replaced at runtime.
package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"

	applifecycle "github.com/turtacn/karin-compliance/internal/application/lifecycle"
	"github.com/turtacn/karin-compliance/internal/config"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
)

// Role is a workflow role.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleAdmin        Role = "admin"
	RoleInvestigator Role = "investigator"
)

// Permission is a fine-grained workflow permission.
type Permission string

const (
	PermExtensionDecide Permission = "extension:decide"
	PermAlertScan       Permission = "alert:scan"
)

// RolePermissionMapping maps roles to the permissions they grant.
type RolePermissionMapping map[Role][]Permission

// DefaultRolePermissionMapping returns the built-in mapping.  Super admins
// hold every permission regardless of the mapping.
func DefaultRolePermissionMapping() RolePermissionMapping {
	return RolePermissionMapping{
		RoleAdmin:        {PermExtensionDecide, PermAlertScan},
		RoleInvestigator: {PermExtensionDecide},
	}
}

// Directory answers role questions from the configured member lists.  The
// investigator role is relative to a case: it is held by the case's assigned
// investigator only.
type Directory struct {
	mu      sync.RWMutex
	members map[Role]map[string]struct{}
	mapping RolePermissionMapping
	logger  logging.Logger
}

var _ applifecycle.RoleDirectory = (*Directory)(nil)

// NewDirectory builds a directory from the roles section.
func NewDirectory(cfg config.RolesConfig, log logging.Logger) *Directory {
	if log == nil {
		log = logging.NewNopLogger()
	}
	d := &Directory{mapping: DefaultRolePermissionMapping(), logger: log.Named("rbac")}
	d.Update(cfg)
	return d
}

// Update replaces the member lists, e.g. after a configuration reload.
func (d *Directory) Update(cfg config.RolesConfig) {
	members := map[Role]map[string]struct{}{
		RoleAdmin:      toSet(cfg.Admins),
		RoleSuperAdmin: toSet(cfg.SuperAdmins),
	}
	d.mu.Lock()
	d.members = members
	d.mu.Unlock()
	d.logger.Info("role directory updated",
		logging.Int("admins", len(members[RoleAdmin])),
		logging.Int("super_admins", len(members[RoleSuperAdmin])))
}

// UpdateMapping replaces the role to permission mapping.
func (d *Directory) UpdateMapping(mapping RolePermissionMapping) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapping = mapping
}

// RolesFor returns the roles actorID holds, including the investigator role
// when c is assigned to them.  c may be nil.
func (d *Directory) RolesFor(actorID string, c *domain.Case) []Role {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var roles []Role
	for role, set := range d.members {
		if _, ok := set[actorID]; ok {
			roles = append(roles, role)
		}
	}
	if c != nil && c.InvestigatorID != "" && c.InvestigatorID == actorID {
		roles = append(roles, RoleInvestigator)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// HasPermission reports whether actorID holds perm, in the context of c.
func (d *Directory) HasPermission(actorID string, c *domain.Case, perm Permission) bool {
	roles := d.RolesFor(actorID, c)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range roles {
		if r == RoleSuperAdmin {
			return true
		}
		for _, p := range d.mapping[r] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// CanApproveExtension reports whether actorID may decide extension requests
// on c: admins, super admins and the case's assigned investigator.
func (d *Directory) CanApproveExtension(_ context.Context, actorID string, c *domain.Case) (bool, error) {
	return d.HasPermission(actorID, c, PermExtensionDecide), nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
