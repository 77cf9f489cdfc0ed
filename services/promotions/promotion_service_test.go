package promotions

import (
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
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&models.Student{}, &models.Invoice{}, &models.InvoiceItem{},
		&models.FeeBalanceTransfer{}, &models.FeeBalanceDetail{}, &models.Promotion{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedStudent(t *testing.T, db *gorm.DB, class string) *models.Student {
	t.Helper()
	student := &models.Student{
		UserID:       1,
		FirstName:    "Kofi",
		LastName:     "Owusu",
		AdmissionNo:  "ADM-001",
		CurrentClass: class,
		AcademicYear: "2025/2026",
		Term:         "term3",
	}
	if err := db.Create(student).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}
	return student
}

// seedInvoice creates one invoice with one item per amount pair
// (total, paid).
func seedInvoice(t *testing.T, db *gorm.DB, studentID uint, number string, status models.InvoiceStatus, items ...[2]string) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{
		InvoiceNumber: number,
		StudentID:     studentID,
		AcademicYear:  "2025/2026",
		Term:          "term3",
		PeriodStart:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
		Status:        status,
		Version:       1,
	}
	total, paid := decimal.Zero, decimal.Zero
	for _, pair := range items {
		amount, itemPaid := dec(pair[0]), dec(pair[1])
		inv.Items = append(inv.Items, models.InvoiceItem{
			Name:          "Fee line",
			CategoryID:    1,
			Category:      "Tuition",
			Amount:        amount,
			PaidAmount:    itemPaid,
			BalanceAmount: amount.Sub(itemPaid),
			DueDate:       inv.DueDate,
		})
		total = total.Add(amount)
		paid = paid.Add(itemPaid)
	}
	inv.TotalAmount = total
	inv.PaidAmount = paid
	inv.BalanceAmount = total.Sub(paid)
	if err := db.Create(inv).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return inv
}

func promoteReq(studentID uint, toClass string) PromoteRequest {
	return PromoteRequest{
		StudentID:      studentID,
		ToClass:        toClass,
		ToAcademicYear: "2026/2027",
		ToTerm:         "term1",
		Remarks:        "end of year",
		PromotedByID:   3,
	}
}

func TestPromoteWithoutBalance(t *testing.T) {
	db := newTestDB(t)
	svc := NewPromotionService(db)
	student := seedStudent(t, db, "grade6")
	seedInvoice(t, db, student.ID, "INV-1", models.InvoiceStatusPaid, [2]string{"500.00", "500.00"})

	promo, err := svc.Promote(promoteReq(student.ID, "grade7"))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promo.TransferID != nil {
		t.Error("fully settled student should promote without a transfer")
	}
	if promo.FromClass != "grade6" || promo.ToClass != "grade7" {
		t.Errorf("promotion classes = %s -> %s", promo.FromClass, promo.ToClass)
	}

	var updated models.Student
	if err := db.First(&updated, student.ID).Error; err != nil {
		t.Fatalf("reload student: %v", err)
	}
	if updated.CurrentClass != "grade7" || updated.AcademicYear != "2026/2027" || updated.Term != "term1" {
		t.Errorf("student not moved: %s %s %s", updated.CurrentClass, updated.AcademicYear, updated.Term)
	}
}

func TestPromoteSnapshotsOutstandingBalances(t *testing.T) {
	db := newTestDB(t)
	svc := NewPromotionService(db)
	student := seedStudent(t, db, "grade3")
	seedInvoice(t, db, student.ID, "INV-1", models.InvoiceStatusPartiallyPaid,
		[2]string{"800.00", "500.00"}, // 300.00 outstanding
		[2]string{"200.00", "200.00"}) // settled, must not appear
	seedInvoice(t, db, student.ID, "INV-2", models.InvoiceStatusPending,
		[2]string{"200.00", "0"}) // 200.00 outstanding
	seedInvoice(t, db, student.ID, "INV-3", models.InvoiceStatusCancelled,
		[2]string{"999.00", "0"}) // cancelled, must not appear

	promo, err := svc.Promote(promoteReq(student.ID, "grade4"))
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promo.TransferID == nil {
		t.Fatal("outstanding balances should produce a transfer")
	}

	transfer, err := svc.GetTransfer(*promo.TransferID)
	if err != nil {
		t.Fatalf("get transfer: %v", err)
	}
	if !transfer.TotalTransferred.Equal(dec("500.00")) {
		t.Errorf("total transferred = %s, want 500.00", transfer.TotalTransferred)
	}
	if transfer.Status != models.TransferStatusTransferred {
		t.Errorf("transfer status = %s", transfer.Status)
	}
	if len(transfer.Details) != 2 {
		t.Fatalf("details = %d, want 2", len(transfer.Details))
	}
	first := transfer.Details[0]
	if first.InvoiceNumber != "INV-1" || !first.BalanceAmount.Equal(dec("300.00")) || !first.OriginalAmount.Equal(dec("800.00")) {
		t.Errorf("detail provenance = %+v", first)
	}

	// The snapshot is historical; source invoices keep their own balances.
	var inv models.Invoice
	if err := db.Where("invoice_number = ?", "INV-1").First(&inv).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	if !inv.BalanceAmount.Equal(dec("300.00")) {
		t.Errorf("source invoice balance = %s, want 300.00", inv.BalanceAmount)
	}
}

func TestPromoteRejections(t *testing.T) {
	db := newTestDB(t)
	svc := NewPromotionService(db)
	student := seedStudent(t, db, "grade5")

	tests := []struct {
		name     string
		req      PromoteRequest
		wantCode string
		wantKind errs.Kind
	}{
		{name: "skip a class", req: promoteReq(student.ID, "grade7"), wantCode: CodeInvalidProgression, wantKind: errs.KindStateConflict},
		{name: "demotion", req: promoteReq(student.ID, "grade4"), wantCode: CodeInvalidProgression, wantKind: errs.KindStateConflict},
		{name: "unknown class", req: promoteReq(student.ID, "grade99"), wantCode: CodeInvalidProgression, wantKind: errs.KindStateConflict},
		{name: "unknown student", req: promoteReq(9999, "grade6"), wantCode: CodeStudentNotFound, wantKind: errs.KindNotFound},
		{
			name: "missing target period",
			req: PromoteRequest{
				StudentID: student.ID, ToClass: "grade6",
				ToAcademicYear: "2026/2027",
			},
			wantCode: CodeInvalidTargetPeriod,
			wantKind: errs.KindValidation,
		},
		{
			name: "target period equals current",
			req: PromoteRequest{
				StudentID: student.ID, ToClass: "grade6",
				ToAcademicYear: "2025/2026", ToTerm: "term3",
			},
			wantCode: CodeInvalidTargetPeriod,
			wantKind: errs.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Promote(tt.req)
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
			if errs.KindOf(err) != tt.wantKind {
				t.Errorf("err kind = %v, want %v", errs.KindOf(err), tt.wantKind)
			}
		})
	}

	var updated models.Student
	if err := db.First(&updated, student.ID).Error; err != nil {
		t.Fatalf("reload student: %v", err)
	}
	if updated.CurrentClass != "grade5" {
		t.Errorf("student moved to %s by a rejected promotion", updated.CurrentClass)
	}
}

func TestGrade10IsTerminal(t *testing.T) {
	db := newTestDB(t)
	svc := NewPromotionService(db)
	student := seedStudent(t, db, "grade10")

	for _, to := range []string{"grade10", "grade11", "grade1"} {
		_, err := svc.Promote(promoteReq(student.ID, to))
		if errs.CodeOf(err) != CodeInvalidProgression {
			t.Errorf("promote grade10 -> %s err = %v, want %s", to, err, CodeInvalidProgression)
		}
	}
}

func TestHistoryAcrossYears(t *testing.T) {
	db := newTestDB(t)
	svc := NewPromotionService(db)
	student := seedStudent(t, db, "grade6")
	seedInvoice(t, db, student.ID, "INV-1", models.InvoiceStatusPending, [2]string{"400.00", "0"})

	if _, err := svc.Promote(promoteReq(student.ID, "grade7")); err != nil {
		t.Fatalf("first promotion: %v", err)
	}
	second := PromoteRequest{
		StudentID: student.ID, ToClass: "grade8",
		ToAcademicYear: "2027/2028", ToTerm: "term1",
		PromotedByID: 3,
	}
	if _, err := svc.Promote(second); err != nil {
		t.Fatalf("second promotion: %v", err)
	}

	history, err := svc.History(student.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].ToClass != "grade7" || history[1].ToClass != "grade8" {
		t.Errorf("history order = [%s %s]", history[0].ToClass, history[1].ToClass)
	}
	if history[0].TransferID == nil || history[0].Transfer == nil {
		t.Fatal("first promotion should carry its transfer")
	}
	if !history[0].Transfer.TotalTransferred.Equal(dec("400.00")) {
		t.Errorf("first transfer total = %s, want 400.00", history[0].Transfer.TotalTransferred)
	}

	// The second promotion re-snapshots the still-unpaid item.
	if history[1].TransferID == nil {
		t.Fatal("second promotion should also snapshot the unpaid balance")
	}
	transfers, err := svc.TransfersForStudent(student.ID)
	if err != nil {
		t.Fatalf("transfers: %v", err)
	}
	if len(transfers) != 2 {
		t.Errorf("transfers = %d, want 2", len(transfers))
	}
}
