package auth

import (
	"errors"
	"sort"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("role table failed validation: %v", err)
	}
	return e
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("  Operator ")
	if err != nil || r != RoleOperator {
		t.Fatalf("ParseRole: r=%q err=%v", r, err)
	}
	if _, err := ParseRole("superuser"); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestRoleLevelsAreOrdered(t *testing.T) {
	prev := 0
	for _, r := range roleOrder {
		if r.Level() <= prev {
			t.Fatalf("role %q level %d not above previous %d", r, r.Level(), prev)
		}
		prev = r.Level()
	}
	if Role("nobody").Level() != 0 {
		t.Fatal("unknown role must sit below guest")
	}
}

func TestOperatorPermissions(t *testing.T) {
	e := newTestEvaluator(t)

	granted := []string{
		PermClientsRead,
		PermClientsCreate,
		PermClientsUpdate,
		PermTransactionsCreate,
		PermLogsCreate,
	}
	for _, p := range granted {
		if !e.Authorize(RoleOperator, p) {
			t.Fatalf("operator should hold %q", p)
		}
	}

	denied := []string{
		PermClientsDelete,
		PermMonitoringRead, // narrowed away from operators
		PermAdminUsers,
	}
	for _, p := range denied {
		if e.Authorize(RoleOperator, p) {
			t.Fatalf("operator must not hold %q", p)
		}
	}
}

func TestAnalystNarrowings(t *testing.T) {
	e := newTestEvaluator(t)

	if !e.Authorize(RoleAnalyst, PermClientsExport) {
		t.Fatal("analyst should export clients")
	}
	if !e.Authorize(RoleAnalyst, PermMonitoringRead) {
		t.Fatal("analyst regains the monitoring view")
	}
	if e.Authorize(RoleAnalyst, PermClientsCreate) {
		t.Fatal("analyst must not mutate clients")
	}
	if e.Authorize(RoleAnalyst, PermTransactionsUpdate) {
		t.Fatal("analyst must not mutate transactions")
	}
}

func TestAdminHoldsEverythingGranted(t *testing.T) {
	e := newTestEvaluator(t)
	for role, grants := range roleGrants {
		if role == RoleOperator || role == RoleAnalyst {
			continue // their grants can be narrowed higher up
		}
		for _, p := range grants {
			if !e.Authorize(RoleAdmin, p) {
				t.Fatalf("admin missing %q granted to %q", p, role)
			}
		}
	}
}

func TestHierarchyMonotoneOutsideNarrowings(t *testing.T) {
	e := newTestEvaluator(t)
	for i := 1; i < len(roleOrder); i++ {
		lower, upper := roleOrder[i-1], roleOrder[i]
		narrowed := make(map[string]struct{})
		for _, p := range roleNarrowings[upper] {
			narrowed[p] = struct{}{}
		}
		for _, p := range e.Permissions(lower) {
			if _, cut := narrowed[p]; cut {
				continue
			}
			if !e.Authorize(upper, p) {
				t.Fatalf("%q lost %q inherited from %q", upper, p, lower)
			}
		}
	}
}

func TestAuthorizeUnknownInputs(t *testing.T) {
	e := newTestEvaluator(t)
	if e.Authorize(Role("nobody"), PermClientsRead) {
		t.Fatal("unknown role authorized")
	}
	if e.Authorize(RoleAdmin, "clients:teleport") {
		t.Fatal("unknown permission authorized")
	}
}

func TestPermissionsSortedAndCopied(t *testing.T) {
	e := newTestEvaluator(t)
	perms := e.Permissions(RoleManager)
	if len(perms) == 0 {
		t.Fatal("manager has no permissions")
	}
	if !sort.StringsAreSorted(perms) {
		t.Fatalf("permissions not sorted: %v", perms)
	}
	perms[0] = "tampered"
	if e.Permissions(RoleManager)[0] == "tampered" {
		t.Fatal("Permissions exposed internal state")
	}
	if e.Permissions(Role("nobody")) != nil {
		t.Fatal("unknown role should have no permission list")
	}
}
