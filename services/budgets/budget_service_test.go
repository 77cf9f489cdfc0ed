package budgets

import (
	"testing"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingNotifier struct {
	warnings []int
}

func (r *recordingNotifier) BudgetWarning(_ *models.Budget, utilizedPct int) {
	r.warnings = append(r.warnings, utilizedPct)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.FeeCategory{}, &models.Budget{}, &models.BudgetCategoryAllocation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intp(v int) *int { return &v }

func activeBudget(t *testing.T, svc *BudgetService, total string, warnPct, freezePct *int, override bool, caps ...CategoryCap) *models.Budget {
	t.Helper()
	b, err := svc.CreateDraft("Operations", "2025/2026", models.BudgetTypeAnnual, dec(total), warnPct, freezePct, override, caps)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	b, err = svc.Approve(b.ID, 3)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return b
}

func TestCreateDraftValidation(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)

	tests := []struct {
		name   string
		total  string
		warn   *int
		freeze *int
		caps   []CategoryCap
	}{
		{name: "non-positive total", total: "0"},
		{name: "warning threshold out of range", total: "1000", warn: intp(120)},
		{name: "freeze below warning", total: "1000", warn: intp(90), freeze: intp(80)},
		{
			name: "caps exceed total", total: "1000",
			caps: []CategoryCap{{CategoryID: 1, CapAmount: dec("700")}, {CategoryID: 2, CapAmount: dec("500")}},
		},
		{
			name: "duplicate category cap", total: "1000",
			caps: []CategoryCap{{CategoryID: 1, CapAmount: dec("100")}, {CategoryID: 1, CapAmount: dec("100")}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDraft("Ops", "2025/2026", models.BudgetTypeTerm, dec(tt.total), tt.warn, tt.freeze, false, tt.caps)
			if errs.KindOf(err) != errs.KindValidation {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestBudgetLifecycle(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)

	b, err := svc.CreateDraft("Maintenance", "2025/2026", models.BudgetTypeProject, dec("5000"), nil, nil, false, nil)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if b.Status != models.BudgetStatusDraft {
		t.Fatalf("status = %s, want draft", b.Status)
	}

	// Drafts never accept expenditure.
	res, err := svc.Reserve(b.ID, 0, dec("100"))
	if err != nil {
		t.Fatalf("reserve on draft: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetNotActive {
		t.Errorf("decision = %s/%s, want DENY/%s", res.Decision, res.Reason, ReasonBudgetNotActive)
	}

	b, err = svc.Approve(b.ID, 3)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if b.Status != models.BudgetStatusActive || b.ApprovedByID == nil || b.ApprovedAt == nil {
		t.Errorf("approval not recorded: %+v", b)
	}

	_, err = svc.Approve(b.ID, 3)
	if errs.CodeOf(err) != CodeInvalidBudgetState {
		t.Errorf("double approve err = %v, want %s", err, CodeInvalidBudgetState)
	}

	b, err = svc.Close(b.ID, "year end")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if b.Status != models.BudgetStatusClosed || b.ClosureNotes != "year end" {
		t.Errorf("closed budget = %+v", b)
	}
	res, err = svc.Reserve(b.ID, 0, dec("100"))
	if err != nil {
		t.Fatalf("reserve on closed: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetNotActive {
		t.Errorf("decision = %s/%s after close", res.Decision, res.Reason)
	}
}

func TestCancelDraftOnly(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)
	b, err := svc.CreateDraft("Trip", "2025/2026", models.BudgetTypeSpecial, dec("2000"), nil, nil, false, nil)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := svc.CancelBudget(b.ID); err != nil {
		t.Fatalf("cancel draft: %v", err)
	}

	active := activeBudget(t, svc, "2000", nil, nil, false)
	_, err = svc.CancelBudget(active.ID)
	if errs.CodeOf(err) != CodeInvalidBudgetState {
		t.Errorf("cancel active err = %v, want %s", err, CodeInvalidBudgetState)
	}
}

func TestReserveFreezeThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewBudgetService(newTestDB(t), notifier)
	b := activeBudget(t, svc, "10000", nil, intp(90), false)

	// Just under the freeze line is fine.
	res, err := svc.Reserve(b.ID, 0, dec("8900"))
	if err != nil {
		t.Fatalf("reserve to 89%%: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Fatalf("decision at 89%% = %s/%s, want ALLOW", res.Decision, res.Reason)
	}

	// Landing exactly on the freeze line denies.
	res, err = svc.Reserve(b.ID, 0, dec("100"))
	if err != nil {
		t.Fatalf("reserve to freeze line: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetFrozen {
		t.Errorf("decision at 90%% = %s/%s, want DENY/%s", res.Decision, res.Reason, ReasonBudgetFrozen)
	}

	// A fractional crossing denies too; the comparison must not round the
	// prospective percentage down first.
	res, err = svc.Reserve(b.ID, 0, dec("140"))
	if err != nil {
		t.Fatalf("reserve to 90.4%%: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetFrozen {
		t.Errorf("decision at 90.4%% = %s/%s, want DENY/%s", res.Decision, res.Reason, ReasonBudgetFrozen)
	}

	// Denied reservations leave no trace.
	got, err := svc.Get(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UtilizedAmount.Equal(dec("8900")) {
		t.Errorf("utilized = %s after deny, want 8900", got.UtilizedAmount)
	}
}

func TestFreezeThresholdIgnoresOverride(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)
	b := activeBudget(t, svc, "10000", nil, intp(90), true)

	res, err := svc.Reserve(b.ID, 0, dec("9000"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetFrozen {
		t.Errorf("decision = %s/%s, want DENY/%s even with override", res.Decision, res.Reason, ReasonBudgetFrozen)
	}

	got, _ := svc.Get(b.ID)
	if !got.UtilizedAmount.IsZero() {
		t.Errorf("utilized = %s after deny, want 0", got.UtilizedAmount)
	}
}

func TestReserveWarningThreshold(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewBudgetService(newTestDB(t), notifier)
	b := activeBudget(t, svc, "10000", intp(80), nil, false)

	// 79.6% rounds to 80 for display but must not trigger the warning.
	res, err := svc.Reserve(b.ID, 0, dec("7960"))
	if err != nil {
		t.Fatalf("reserve to 79.6%%: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Fatalf("decision at 79.6%% = %s/%s, want ALLOW", res.Decision, res.Reason)
	}

	res, err = svc.Reserve(b.ID, 0, dec("540"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Decision != DecisionWarn {
		t.Fatalf("decision = %s, want WARN", res.Decision)
	}
	if res.UtilizedPct != 85 {
		t.Errorf("utilized pct = %d, want 85", res.UtilizedPct)
	}

	// WARN still records the expenditure and fires the notifier.
	got, _ := svc.Get(b.ID)
	if !got.UtilizedAmount.Equal(dec("8500")) {
		t.Errorf("utilized = %s, want 8500", got.UtilizedAmount)
	}
	if len(notifier.warnings) != 1 || notifier.warnings[0] != 85 {
		t.Errorf("warnings = %v, want [85]", notifier.warnings)
	}
}

func TestReserveCategoryCap(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)
	b := activeBudget(t, svc, "10000", nil, nil, false,
		CategoryCap{CategoryID: 5, CapAmount: dec("1000")})

	res, err := svc.Reserve(b.ID, 5, dec("1200"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonCategoryAllocationExceeded {
		t.Errorf("decision = %s/%s, want DENY/%s", res.Decision, res.Reason, ReasonCategoryAllocationExceeded)
	}

	if res, _ = svc.Reserve(b.ID, 5, dec("800")); res.Decision != DecisionAllow {
		t.Fatalf("reserve within cap = %s/%s", res.Decision, res.Reason)
	}
	if res, _ = svc.Reserve(b.ID, 5, dec("300")); res.Decision != DecisionDeny {
		t.Errorf("reserve beyond remaining cap = %s, want DENY", res.Decision)
	}

	// Uncapped categories only answer to the budget total.
	if res, _ = svc.Reserve(b.ID, 6, dec("5000")); res.Decision != DecisionAllow {
		t.Errorf("uncapped category = %s/%s, want ALLOW", res.Decision, res.Reason)
	}

	got, _ := svc.Get(b.ID)
	if !got.UtilizedAmount.Equal(dec("5800")) {
		t.Errorf("utilized = %s, want 5800", got.UtilizedAmount)
	}
	for _, alloc := range got.CategoryAllocations {
		if alloc.CategoryID == 5 && !alloc.UtilizedAmount.Equal(dec("800")) {
			t.Errorf("category utilized = %s, want 800", alloc.UtilizedAmount)
		}
	}
}

func TestReserveOverBudget(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewBudgetService(newTestDB(t), notifier)

	strict := activeBudget(t, svc, "1000", nil, nil, false)
	res, err := svc.Reserve(strict.ID, 0, dec("1500"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Decision != DecisionDeny || res.Reason != ReasonBudgetExceeded {
		t.Errorf("decision = %s/%s, want DENY/%s", res.Decision, res.Reason, ReasonBudgetExceeded)
	}

	// An explicit override flag lets spending run past the total, but the
	// breach is flagged and notified, never a plain allow.
	loose, err := svc.CreateDraft("Flexible", "2025/2026", models.BudgetTypeTerm, dec("1000"), nil, nil, true, nil)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if _, err := svc.Approve(loose.ID, 3); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err = svc.Reserve(loose.ID, 0, dec("1500"))
	if err != nil {
		t.Fatalf("reserve with override: %v", err)
	}
	if res.Decision != DecisionWarn || res.Reason != ReasonBudgetExceeded {
		t.Errorf("decision = %s/%s, want WARN/%s with override", res.Decision, res.Reason, ReasonBudgetExceeded)
	}

	got, _ := svc.Get(loose.ID)
	if !got.UtilizedAmount.Equal(dec("1500")) {
		t.Errorf("utilized = %s, want 1500", got.UtilizedAmount)
	}
	if len(notifier.warnings) != 1 || notifier.warnings[0] != 150 {
		t.Errorf("warnings = %v, want [150]", notifier.warnings)
	}
}

func TestCheckDoesNotRecord(t *testing.T) {
	svc := NewBudgetService(newTestDB(t), nil)
	b := activeBudget(t, svc, "10000", nil, nil, false)

	res, err := svc.Check(b.ID, 0, dec("4000"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Decision != DecisionAllow {
		t.Errorf("decision = %s, want ALLOW", res.Decision)
	}
	if !res.RemainingAfter.Equal(dec("6000")) {
		t.Errorf("remaining after = %s, want 6000", res.RemainingAfter)
	}

	got, _ := svc.Get(b.ID)
	if !got.UtilizedAmount.IsZero() {
		t.Errorf("utilized = %s after check, want 0", got.UtilizedAmount)
	}
}
