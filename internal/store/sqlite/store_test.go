package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockanalysis/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateRole(t *testing.T, s *Store, name string, codenames ...string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateRole(ctx, name, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(codenames) > 0 {
		if _, err := s.ApplyPermissionChange(ctx, id, model.ActionSet, codenames); err != nil {
			t.Fatal(err)
		}
	}
	return id
}

// ────────────────────────────────────────────────────────────
// Price history
// ────────────────────────────────────────────────────────────

func TestPriceHistory_UnknownSymbol(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PriceHistory(context.Background(), "NOPE")
	if !errors.Is(err, model.ErrStockNotFound) {
		t.Errorf("expected ErrStockNotFound, got %v", err)
	}
}

func TestPriceHistory_AscendingOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stockID, err := s.UpsertStock(ctx, model.Stock{Symbol: "ACME", Name: "Acme Corp"})
	if err != nil {
		t.Fatal(err)
	}

	// Insert out of order; reads must come back ascending.
	dates := []string{"2024-01-03", "2024-01-01", "2024-01-02"}
	for i, d := range dates {
		day, _ := time.Parse(dateLayout, d)
		if _, err := s.InsertPriceBar(ctx, stockID, model.PriceBar{
			Date: day, Open: 10, High: 11, Low: 9, Close: float64(10 + i), Volume: 1000,
		}); err != nil {
			t.Fatal(err)
		}
	}

	bars, err := s.PriceHistory(ctx, "ACME")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			t.Errorf("bars not ascending at index %d: %v then %v", i, bars[i-1].Date, bars[i].Date)
		}
	}
}

func TestSaveIndicators_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stockID, err := s.UpsertStock(ctx, model.Stock{Symbol: "ACME"})
	if err != nil {
		t.Fatal(err)
	}
	day, _ := time.Parse(dateLayout, "2024-01-01")
	barID, err := s.InsertPriceBar(ctx, stockID, model.PriceBar{
		Date: day, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	ma := 10.25
	macd := 0.1234
	ind := model.IndicatorSet{MA5: &ma, MACD: &macd} // rest stay nil (warm-up)
	if err := s.SaveIndicators(ctx, barID, ind); err != nil {
		t.Fatal(err)
	}

	bars, err := s.PriceHistory(ctx, "ACME")
	if err != nil {
		t.Fatal(err)
	}
	got := bars[0].Indicators
	if got.MA5 == nil || *got.MA5 != 10.25 {
		t.Errorf("MA5: got %v, want 10.25", got.MA5)
	}
	if got.MACD == nil || *got.MACD != 0.1234 {
		t.Errorf("MACD: got %v, want 0.1234", got.MACD)
	}
	if got.MA10 != nil || got.RSI != nil {
		t.Errorf("warm-up fields should stay NULL: %+v", got)
	}
}

func TestSaveIndicators_UnknownBar(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveIndicators(context.Background(), 12345, model.IndicatorSet{}); err == nil {
		t.Error("expected error for unknown bar id")
	}
}

func TestInsertPriceBar_ReplaceClearsIndicators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stockID, err := s.UpsertStock(ctx, model.Stock{Symbol: "ACME"})
	if err != nil {
		t.Fatal(err)
	}
	day, _ := time.Parse(dateLayout, "2024-01-01")
	barID, err := s.InsertPriceBar(ctx, stockID, model.PriceBar{Date: day, Close: 10})
	if err != nil {
		t.Fatal(err)
	}
	rsi := 55.0
	if err := s.SaveIndicators(ctx, barID, model.IndicatorSet{RSI: &rsi}); err != nil {
		t.Fatal(err)
	}

	// Re-inserting the same date replaces the row: stale indicators gone.
	if _, err := s.InsertPriceBar(ctx, stockID, model.PriceBar{Date: day, Close: 11}); err != nil {
		t.Fatal(err)
	}
	bars, err := s.PriceHistory(ctx, "ACME")
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if bars[0].Close != 11 {
		t.Errorf("close: got %v, want 11", bars[0].Close)
	}
	if bars[0].Indicators.RSI != nil {
		t.Error("replaced bar should have NULL indicators")
	}
}

func TestListSymbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, sym := range []string{"BBB", "AAA"} {
		if _, err := s.UpsertStock(ctx, model.Stock{Symbol: sym}); err != nil {
			t.Fatal(err)
		}
	}
	syms, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 2 || syms[0] != "AAA" || syms[1] != "BBB" {
		t.Errorf("got %v, want [AAA BBB]", syms)
	}
}

// ────────────────────────────────────────────────────────────
// Roles and permissions
// ────────────────────────────────────────────────────────────

func TestApplyPermissionChange_SetAddRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	roleID := mustCreateRole(t, s, "analyst", "view_stock")

	role, err := s.ApplyPermissionChange(ctx, roleID, model.ActionAdd, []string{"change_stock"})
	if err != nil {
		t.Fatal(err)
	}
	if got := role.Codenames(); len(got) != 2 {
		t.Fatalf("after add: %v", got)
	}

	role, err = s.ApplyPermissionChange(ctx, roleID, model.ActionRemove, []string{"change_stock"})
	if err != nil {
		t.Fatal(err)
	}
	if got := role.Codenames(); len(got) != 1 || got[0] != "view_stock" {
		t.Fatalf("after remove: %v", got)
	}

	role, err = s.ApplyPermissionChange(ctx, roleID, model.ActionSet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(role.Permissions) != 0 {
		t.Errorf("set with empty list should clear all: %v", role.Codenames())
	}
}

func TestApplyPermissionChange_UnknownCodenameIgnored(t *testing.T) {
	s := newTestStore(t)
	roleID := mustCreateRole(t, s, "analyst", "view_stock")

	role, err := s.ApplyPermissionChange(context.Background(), roleID, model.ActionAdd,
		[]string{"view_user", "not_a_permission"})
	if err != nil {
		t.Fatal(err)
	}
	got := role.Codenames()
	if len(got) != 2 {
		t.Errorf("unknown codename must be dropped silently: %v", got)
	}
}

func TestApplyPermissionChange_AddIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	roleID := mustCreateRole(t, s, "analyst", "view_stock")

	role, err := s.ApplyPermissionChange(ctx, roleID, model.ActionAdd, []string{"view_stock"})
	if err != nil {
		t.Fatal(err)
	}
	if len(role.Permissions) != 1 {
		t.Errorf("re-adding a held permission must not duplicate: %v", role.Codenames())
	}
}

func TestApplyPermissionChange_RoleNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ApplyPermissionChange(context.Background(), 999, model.ActionSet, []string{"view_stock"})
	if !errors.Is(err, model.ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestUserRoleAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	roleID := mustCreateRole(t, s, "analyst", "view_stock")

	created, err := s.AssignRole(ctx, 10, roleID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first assignment should create")
	}
	created, err = s.AssignRole(ctx, 10, roleID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate assignment should not create")
	}

	users, err := s.UsersWithRole(ctx, roleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != 10 {
		t.Errorf("users with role: %v", users)
	}

	roles, err := s.UserRoles(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0].Name != "analyst" {
		t.Errorf("user roles: %v", roles)
	}
	if got := roles[0].Codenames(); len(got) != 1 || got[0] != "view_stock" {
		t.Errorf("permissions not loaded with user roles: %v", got)
	}

	if err := s.RemoveRole(ctx, 10, roleID); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveRole(ctx, 10, roleID); !errors.Is(err, model.ErrUserRoleNotFound) {
		t.Errorf("expected ErrUserRoleNotFound, got %v", err)
	}
}

func TestAssignRole_UnknownRole(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AssignRole(context.Background(), 10, 999, 1)
	if !errors.Is(err, model.ErrRoleNotFound) {
		t.Errorf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestListPermissions_Seeded(t *testing.T) {
	s := newTestStore(t)
	perms, err := s.ListPermissions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(perms) == 0 {
		t.Fatal("permission catalogue should be seeded")
	}
	seen := make(map[string]bool)
	for _, p := range perms {
		seen[p.Codename] = true
	}
	for _, want := range []string{"view_stock", "change_stock", "view_user", "change_role"} {
		if !seen[want] {
			t.Errorf("missing seeded permission %q", want)
		}
	}
}
