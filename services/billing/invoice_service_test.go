package billing

import (
	"fmt"
	"testing"
	"time"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	// One in-memory database per test; extra connections would each get
	// their own empty database.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{}, &models.Student{}, &models.FeeCategory{},
		&models.FeeDefinition{}, &models.FeeDefinitionItem{},
		&models.Invoice{}, &models.InvoiceItem{},
		&models.Payment{}, &models.PaymentItem{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedStudent(t *testing.T, db *gorm.DB, userID uint, class string) *models.Student {
	t.Helper()
	student := &models.Student{
		UserID:       userID,
		FirstName:    "Ama",
		LastName:     "Mensah",
		AdmissionNo:  fmt.Sprintf("ADM-%03d", userID),
		CurrentClass: class,
		AcademicYear: "2025/2026",
		Term:         "term1",
	}
	if err := db.Create(student).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}
	return student
}

func seedFeeDefinition(t *testing.T, db *gorm.DB, class string, amounts ...string) *models.FeeDefinition {
	t.Helper()
	tuition := &models.FeeCategory{Name: "Tuition " + class, Code: "TUI-" + class, Active: true}
	if err := db.Create(tuition).Error; err != nil {
		t.Fatalf("seed category: %v", err)
	}
	def := &models.FeeDefinition{
		Name:         "Fees " + class,
		ClassLevel:   class,
		AcademicYear: "2025/2026",
		Term:         "term1",
		Active:       true,
	}
	for i, a := range amounts {
		def.Items = append(def.Items, models.FeeDefinitionItem{
			Name:       "Fee line",
			CategoryID: tuition.ID,
			Amount:     decimal.RequireFromString(a),
			SortOrder:  i + 1,
		})
	}
	if err := db.Create(def).Error; err != nil {
		t.Fatalf("seed fee definition: %v", err)
	}
	return def
}

func testPeriod() Period {
	return Period{
		AcademicYear: "2025/2026",
		Term:         "term1",
		StartDate:    time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestGenerateSnapshotsFeeDefinition(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "1200.00", "350.50")
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	inv, err := svc.Generate(student.ID, def.ID, testPeriod(), due)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if inv.Status != models.InvoiceStatusPending {
		t.Errorf("status = %s, want pending", inv.Status)
	}
	if want := decimal.RequireFromString("1550.50"); !inv.TotalAmount.Equal(want) {
		t.Errorf("total = %s, want %s", inv.TotalAmount, want)
	}
	if !inv.BalanceAmount.Equal(inv.TotalAmount) || !inv.PaidAmount.IsZero() {
		t.Errorf("fresh invoice should owe its full total, got paid=%s balance=%s", inv.PaidAmount, inv.BalanceAmount)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(inv.Items))
	}

	// Edits to the fee definition after generation must not leak into the
	// issued invoice.
	if err := db.Model(&models.FeeDefinitionItem{}).
		Where("fee_definition_id = ?", def.ID).
		Update("amount", decimal.RequireFromString("9999.00")).Error; err != nil {
		t.Fatalf("mutate fee definition: %v", err)
	}
	reloaded, err := svc.Get(inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := decimal.RequireFromString("1550.50"); !reloaded.TotalAmount.Equal(want) {
		t.Errorf("total after fee edit = %s, want %s", reloaded.TotalAmount, want)
	}
	if !reloaded.Items[0].Amount.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("item amount changed after fee edit: %s", reloaded.Items[0].Amount)
	}
}

func TestGenerateRejectsDuplicatePeriod(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "500.00")
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	first, err := svc.Generate(student.ID, def.ID, testPeriod(), due)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	_, err = svc.Generate(student.ID, def.ID, testPeriod(), due)
	if errs.CodeOf(err) != CodeDuplicateInvoice {
		t.Fatalf("second generate err = %v, want %s", err, CodeDuplicateInvoice)
	}

	// A cancelled invoice no longer blocks the period.
	if _, err := svc.Cancel(first.ID, "issued in error"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Generate(student.ID, def.ID, testPeriod(), due); err != nil {
		t.Fatalf("regenerate after cancel: %v", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "500.00")

	inactive := seedFeeDefinition(t, db, "grade5", "100.00")
	if err := db.Model(inactive).Update("active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	empty := &models.FeeDefinition{
		Name: "Empty", ClassLevel: "grade6",
		AcademicYear: "2025/2026", Term: "term1", Active: true,
	}
	if err := db.Create(empty).Error; err != nil {
		t.Fatalf("seed empty definition: %v", err)
	}

	start := testPeriod().StartDate
	tests := []struct {
		name      string
		studentID uint
		defID     uint
		period    Period
		dueDate   time.Time
		wantCode  string
		wantKind  errs.Kind
	}{
		{
			name:      "missing term",
			studentID: student.ID, defID: def.ID,
			period:   Period{AcademicYear: "2025/2026", StartDate: start},
			dueDate:  start.AddDate(0, 1, 0),
			wantCode: CodeInvalidPeriod, wantKind: errs.KindValidation,
		},
		{
			name:      "due date before period start",
			studentID: student.ID, defID: def.ID,
			period:   testPeriod(),
			dueDate:  start.AddDate(0, 0, -1),
			wantCode: CodeInvalidPeriod, wantKind: errs.KindValidation,
		},
		{
			name:      "unknown student",
			studentID: 9999, defID: def.ID,
			period:   testPeriod(),
			dueDate:  start.AddDate(0, 1, 0),
			wantCode: CodeStudentNotFound, wantKind: errs.KindNotFound,
		},
		{
			name:      "unknown fee definition",
			studentID: student.ID, defID: 9999,
			period:   testPeriod(),
			dueDate:  start.AddDate(0, 1, 0),
			wantCode: CodeFeeDefinitionNotFound, wantKind: errs.KindNotFound,
		},
		{
			name:      "inactive fee definition",
			studentID: student.ID, defID: inactive.ID,
			period:   testPeriod(),
			dueDate:  start.AddDate(0, 1, 0),
			wantCode: CodeFeeDefinitionNotFound, wantKind: errs.KindNotFound,
		},
		{
			name:      "fee definition without items",
			studentID: student.ID, defID: empty.ID,
			period:   testPeriod(),
			dueDate:  start.AddDate(0, 1, 0),
			wantCode: CodeEmptyFeeDefinition, wantKind: errs.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Generate(tt.studentID, tt.defID, tt.period, tt.dueDate)
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
			if errs.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", errs.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestCancelBlockedOncePaid(t *testing.T) {
	db := newTestDB(t)
	invoices := NewInvoiceService(db)
	payments := NewPaymentService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "500.00")
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	inv, err := invoices.Generate(student.ID, def.ID, testPeriod(), due)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = payments.Process(inv.ID, decimal.RequireFromString("100.00"), models.PaymentModeCash,
		[]Allocation{{InvoiceItemID: inv.Items[0].ID, Amount: decimal.RequireFromString("100.00")}}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	_, err = invoices.Cancel(inv.ID, "no longer needed")
	if errs.CodeOf(err) != CodeCancelBlocked {
		t.Fatalf("cancel err = %v, want %s", err, CodeCancelBlocked)
	}
	reloaded, err := invoices.Get(inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status == models.InvoiceStatusCancelled {
		t.Error("invoice was cancelled despite recorded payments")
	}
}

func TestUpdateDueDate(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "500.00")
	start := testPeriod().StartDate

	inv, err := svc.Generate(student.ID, def.ID, testPeriod(), start.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = svc.UpdateDueDate(inv.ID, start.AddDate(0, 0, -5))
	if errs.CodeOf(err) != CodeInvalidPeriod {
		t.Fatalf("early due date err = %v, want %s", err, CodeInvalidPeriod)
	}

	moved, err := svc.UpdateDueDate(inv.ID, start.AddDate(0, 2, 0))
	if err != nil {
		t.Fatalf("update due date: %v", err)
	}
	if !moved.DueDate.Equal(start.AddDate(0, 2, 0)) {
		t.Errorf("due date = %s", moved.DueDate)
	}
	if moved.Version != inv.Version+1 {
		t.Errorf("version = %d, want %d", moved.Version, inv.Version+1)
	}
}

func TestMarkOverdue(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	def := seedFeeDefinition(t, db, "grade4", "500.00")
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	late := seedStudent(t, db, 1, "grade4")
	onTime := seedStudent(t, db, 2, "grade4")
	lateInv, err := svc.Generate(late.ID, def.ID, testPeriod(), due)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	onTimeInv, err := svc.Generate(onTime.ID, def.ID, testPeriod(), due.AddDate(0, 3, 0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	n, err := svc.MarkOverdue(due.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if n != 1 {
		t.Errorf("flipped %d invoices, want 1", n)
	}
	got, _ := svc.Get(lateInv.ID)
	if got.Status != models.InvoiceStatusOverdue {
		t.Errorf("late invoice status = %s, want overdue", got.Status)
	}
	got, _ = svc.Get(onTimeInv.ID)
	if got.Status != models.InvoiceStatusPending {
		t.Errorf("on-time invoice status = %s, want pending", got.Status)
	}
}

func TestStatementOrdersByPeriod(t *testing.T) {
	db := newTestDB(t)
	svc := NewInvoiceService(db)
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "500.00")

	term2 := Period{
		AcademicYear: "2025/2026",
		Term:         "term2",
		StartDate:    time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	if _, err := svc.Generate(student.ID, def.ID, term2, term2.StartDate.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("generate term2: %v", err)
	}
	if _, err := svc.Generate(student.ID, def.ID, testPeriod(), testPeriod().StartDate.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("generate term1: %v", err)
	}

	stmt, err := svc.Statement(student.ID)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(stmt) != 2 {
		t.Fatalf("statement rows = %d, want 2", len(stmt))
	}
	if stmt[0].Term != "term1" || stmt[1].Term != "term2" {
		t.Errorf("statement order = [%s %s], want chronological", stmt[0].Term, stmt[1].Term)
	}
}
