package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of a fixed, ordered set. Roles are process-wide
// configuration, not per-user data.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleAnalyst  Role = "analyst"
	RoleOperator Role = "operator"
	RoleReadonly Role = "readonly"
	RoleGuest    Role = "guest"
)

// roleOrder lists roles from least to most privileged. Resolution walks
// this slice, so the hierarchy is acyclic by construction and flattening
// is O(depth).
var roleOrder = []Role{RoleGuest, RoleReadonly, RoleOperator, RoleAnalyst, RoleManager, RoleAdmin}

// ParseRole validates a role name against the configured set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range roleOrder {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Level returns the role's position in the privilege order, higher
// meaning more privileged. Unknown roles sit below guest.
func (r Role) Level() int {
	for i, known := range roleOrder {
		if r == known {
			return i + 1
		}
	}
	return 0
}

// Permission names a capability as a resource:action pair.
const (
	PermClientsCreate = "clients:create"
	PermClientsRead   = "clients:read"
	PermClientsUpdate = "clients:update"
	PermClientsDelete = "clients:delete"
	PermClientsList   = "clients:list"
	PermClientsExport = "clients:export"

	PermTransactionsCreate  = "transactions:create"
	PermTransactionsRead    = "transactions:read"
	PermTransactionsUpdate  = "transactions:update"
	PermTransactionsDelete  = "transactions:delete"
	PermTransactionsList    = "transactions:list"
	PermTransactionsApprove = "transactions:approve"
	PermTransactionsExport  = "transactions:export"

	PermLogsCreate = "logs:create"
	PermLogsRead   = "logs:read"
	PermLogsDelete = "logs:delete"
	PermLogsList   = "logs:list"
	PermLogsExport = "logs:export"

	PermMonitoringRead    = "monitoring:read"
	PermMonitoringMetrics = "monitoring:metrics"
	PermMonitoringAlerts  = "monitoring:alerts"
	PermMonitoringConfig  = "monitoring:config"

	PermIntegrationsCEP           = "integrations:cep"
	PermIntegrationsBanking       = "integrations:banking"
	PermIntegrationsNotifications = "integrations:notifications"

	PermAdminUsers    = "admin:users"
	PermAdminRoles    = "admin:roles"
	PermAdminSystem   = "admin:system"
	PermAdminDatabase = "admin:database"
	PermAdminBackup   = "admin:backup"

	PermAuditRead   = "audit:read"
	PermAuditExport = "audit:export"
)

// roleGrants holds each role's own grants on top of what it inherits
// from the role below it in roleOrder.
var roleGrants = map[Role][]string{
	RoleGuest: {
		PermClientsRead,
		PermTransactionsRead,
	},
	RoleReadonly: {
		PermClientsList,
		PermTransactionsList,
		PermLogsRead,
		PermLogsList,
		PermMonitoringRead,
	},
	RoleOperator: {
		PermClientsCreate,
		PermClientsUpdate,
		PermTransactionsCreate,
		PermTransactionsUpdate,
		PermLogsCreate,
		PermIntegrationsCEP,
	},
	RoleAnalyst: {
		PermClientsExport,
		PermTransactionsExport,
		PermLogsExport,
		PermMonitoringRead,
		PermMonitoringMetrics,
		PermAuditRead,
		PermAuditExport,
	},
	RoleManager: {
		PermClientsCreate,
		PermClientsUpdate,
		PermClientsDelete,
		PermTransactionsCreate,
		PermTransactionsUpdate,
		PermTransactionsApprove,
		PermMonitoringAlerts,
		PermIntegrationsBanking,
		PermIntegrationsNotifications,
	},
	RoleAdmin: {
		PermTransactionsDelete,
		PermLogsDelete,
		PermMonitoringConfig,
		PermAdminUsers,
		PermAdminRoles,
		PermAdminSystem,
		PermAdminDatabase,
		PermAdminBackup,
	},
}

// roleNarrowings removes inherited permissions from a role. Operators
// do day-to-day CRUD but lose the monitoring view; analysts report and
// export but cannot mutate records.
var roleNarrowings = map[Role][]string{
	RoleOperator: {
		PermMonitoringRead,
	},
	RoleAnalyst: {
		PermClientsCreate,
		PermClientsUpdate,
		PermTransactionsCreate,
		PermTransactionsUpdate,
		PermLogsCreate,
	},
}

// Evaluator answers authorization checks against permission sets
// flattened once at construction, so Authorize is a constant-time
// membership test with no hierarchy walk at request time.
type Evaluator struct {
	perms map[Role]map[string]struct{}
}

// NewEvaluator flattens the role hierarchy and validates it: every role
// in the order must have a grant entry, and each role's effective set
// must contain everything the role below it has, minus the role's
// explicit narrowings. Violations are configuration errors, fatal at
// startup.
func NewEvaluator() (*Evaluator, error) {
	e := &Evaluator{perms: make(map[Role]map[string]struct{}, len(roleOrder))}

	var lower map[string]struct{}
	var lowerRole Role
	for _, role := range roleOrder {
		grants, ok := roleGrants[role]
		if !ok {
			return nil, fmt.Errorf("%w: no grants configured for %q", ErrUnknownRole, role)
		}
		set := make(map[string]struct{}, len(lower)+len(grants))
		for p := range lower {
			set[p] = struct{}{}
		}
		for _, p := range grants {
			set[p] = struct{}{}
		}
		narrowed := make(map[string]struct{})
		for _, p := range roleNarrowings[role] {
			if _, inherited := lower[p]; !inherited {
				return nil, fmt.Errorf("auth: role %q narrows %q which %q does not grant", role, p, lowerRole)
			}
			delete(set, p)
			narrowed[p] = struct{}{}
		}

		// Subsumption invariant: set must cover lower minus narrowings.
		for p := range lower {
			if _, cut := narrowed[p]; cut {
				continue
			}
			if _, ok := set[p]; !ok {
				return nil, fmt.Errorf("auth: role %q dropped %q inherited from %q without narrowing", role, p, lowerRole)
			}
		}

		for _, p := range grants {
			if !strings.Contains(p, ":") {
				return nil, fmt.Errorf("auth: malformed permission %q for role %q", p, role)
			}
		}

		e.perms[role] = set
		lower, lowerRole = set, role
	}
	return e, nil
}

// Authorize reports whether the role grants the permission. It never
// mutates state and never fails: unknown permission names are simply
// not granted. Reporting a denial is the caller's responsibility.
func (e *Evaluator) Authorize(role Role, permission string) bool {
	set, ok := e.perms[role]
	if !ok {
		return false
	}
	_, granted := set[permission]
	return granted
}

// Permissions returns the role's effective permission set, sorted.
func (e *Evaluator) Permissions(role Role) []string {
	set, ok := e.perms[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
