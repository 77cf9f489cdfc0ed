package billing

import (
	"sync"
	"testing"
	"time"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	invoices *InvoiceService
	payments *PaymentService
	invoice  *models.Invoice
}

// newPaymentFixture seeds one pending invoice with two items, 1200.00 and
// 300.00.
func newPaymentFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:       db,
		invoices: NewInvoiceService(db),
		payments: NewPaymentService(db),
	}
	student := seedStudent(t, db, 1, "grade4")
	def := seedFeeDefinition(t, db, "grade4", "1200.00", "300.00")
	inv, err := f.invoices.Generate(student.ID, def.ID, testPeriod(),
		time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	f.invoice = inv
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestProcessCashPayment(t *testing.T) {
	f := newPaymentFixture(t)
	itemA, itemB := f.invoice.Items[0], f.invoice.Items[1]

	p, err := f.payments.Process(f.invoice.ID, dec("500.00"), models.PaymentModeCash, []Allocation{
		{InvoiceItemID: itemA.ID, Amount: dec("400.00")},
		{InvoiceItemID: itemB.ID, Amount: dec("100.00")},
	}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if p.Status != models.PaymentStatusCompleted {
		t.Errorf("cash payment status = %s, want completed", p.Status)
	}
	if !p.NetAmount.Equal(dec("500.00")) || !p.RefundedAmount.IsZero() {
		t.Errorf("net = %s refunded = %s", p.NetAmount, p.RefundedAmount)
	}
	if len(p.Items) != 2 {
		t.Fatalf("payment items = %d, want 2", len(p.Items))
	}

	inv, err := f.invoices.Get(f.invoice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inv.Status != models.InvoiceStatusPartiallyPaid {
		t.Errorf("invoice status = %s, want partially_paid", inv.Status)
	}
	if !inv.PaidAmount.Equal(dec("500.00")) || !inv.BalanceAmount.Equal(dec("1000.00")) {
		t.Errorf("invoice paid = %s balance = %s", inv.PaidAmount, inv.BalanceAmount)
	}
	for _, it := range inv.Items {
		switch it.ID {
		case itemA.ID:
			if !it.PaidAmount.Equal(dec("400.00")) || !it.BalanceAmount.Equal(dec("800.00")) {
				t.Errorf("item A paid = %s balance = %s", it.PaidAmount, it.BalanceAmount)
			}
		case itemB.ID:
			if !it.PaidAmount.Equal(dec("100.00")) || !it.BalanceAmount.Equal(dec("200.00")) {
				t.Errorf("item B paid = %s balance = %s", it.PaidAmount, it.BalanceAmount)
			}
		}
	}
}

func TestProcessFullBalanceClosesInvoice(t *testing.T) {
	f := newPaymentFixture(t)
	itemA, itemB := f.invoice.Items[0], f.invoice.Items[1]

	_, err := f.payments.Process(f.invoice.ID, dec("1500.00"), models.PaymentModeCash, []Allocation{
		{InvoiceItemID: itemA.ID, Amount: dec("1200.00")},
		{InvoiceItemID: itemB.ID, Amount: dec("300.00")},
	}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	inv, _ := f.invoices.Get(f.invoice.ID)
	if inv.Status != models.InvoiceStatusPaid {
		t.Errorf("invoice status = %s, want paid", inv.Status)
	}
	if !inv.BalanceAmount.IsZero() {
		t.Errorf("balance = %s, want 0", inv.BalanceAmount)
	}

	// A settled invoice accepts no further payments.
	_, err = f.payments.Process(f.invoice.ID, dec("1.00"), models.PaymentModeCash,
		[]Allocation{{InvoiceItemID: itemA.ID, Amount: dec("1.00")}}, 7)
	if errs.CodeOf(err) != CodeInvalidInvoiceState {
		t.Errorf("payment on paid invoice err = %v, want %s", err, CodeInvalidInvoiceState)
	}
}

func TestProcessRejections(t *testing.T) {
	f := newPaymentFixture(t)
	itemA, itemB := f.invoice.Items[0], f.invoice.Items[1]

	tests := []struct {
		name     string
		amount   decimal.Decimal
		allocs   []Allocation
		wantCode string
		wantKind errs.Kind
	}{
		{
			name:   "allocations do not sum to amount",
			amount: dec("500.00"),
			allocs: []Allocation{
				{InvoiceItemID: itemA.ID, Amount: dec("300.00")},
				{InvoiceItemID: itemB.ID, Amount: dec("100.00")},
			},
			wantCode: CodeAllocationMismatch, wantKind: errs.KindValidation,
		},
		{
			name:     "non-positive allocation",
			amount:   dec("100.00"),
			allocs:   []Allocation{{InvoiceItemID: itemA.ID, Amount: dec("0")}},
			wantCode: CodeAllocationMismatch, wantKind: errs.KindValidation,
		},
		{
			name:     "no allocations",
			amount:   dec("100.00"),
			allocs:   nil,
			wantCode: CodeAllocationMismatch, wantKind: errs.KindValidation,
		},
		{
			name:   "exceeds invoice balance",
			amount: dec("1600.00"),
			allocs: []Allocation{
				{InvoiceItemID: itemA.ID, Amount: dec("1300.00")},
				{InvoiceItemID: itemB.ID, Amount: dec("300.00")},
			},
			wantCode: CodeOverpaymentRejected, wantKind: errs.KindStateConflict,
		},
		{
			name:     "exceeds item balance",
			amount:   dec("400.00"),
			allocs:   []Allocation{{InvoiceItemID: itemB.ID, Amount: dec("400.00")}},
			wantCode: CodeItemOverpaymentRejected, wantKind: errs.KindStateConflict,
		},
		{
			name:   "split allocations exceed item balance",
			amount: dec("400.00"),
			allocs: []Allocation{
				{InvoiceItemID: itemB.ID, Amount: dec("200.00")},
				{InvoiceItemID: itemB.ID, Amount: dec("200.00")},
			},
			wantCode: CodeItemOverpaymentRejected, wantKind: errs.KindStateConflict,
		},
		{
			name:     "item from another invoice",
			amount:   dec("100.00"),
			allocs:   []Allocation{{InvoiceItemID: 9999, Amount: dec("100.00")}},
			wantCode: CodeItemOverpaymentRejected, wantKind: errs.KindStateConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.payments.Process(f.invoice.ID, tt.amount, models.PaymentModeCash, tt.allocs, 7)
			if errs.CodeOf(err) != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
			if errs.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", errs.KindOf(err), tt.wantKind)
			}
		})
	}

	// No rejected attempt may leave a trace on the invoice.
	inv, _ := f.invoices.Get(f.invoice.ID)
	if !inv.PaidAmount.IsZero() || inv.Status != models.InvoiceStatusPending {
		t.Errorf("invoice mutated by rejected payments: paid=%s status=%s", inv.PaidAmount, inv.Status)
	}
}

func TestVerifyTransferPayment(t *testing.T) {
	f := newPaymentFixture(t)
	itemA := f.invoice.Items[0]

	p, err := f.payments.Process(f.invoice.ID, dec("200.00"), models.PaymentModeTransfer,
		[]Allocation{{InvoiceItemID: itemA.ID, Amount: dec("200.00")}}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if p.Status != models.PaymentStatusPending {
		t.Fatalf("transfer payment status = %s, want pending", p.Status)
	}

	// Balances move at processing time, not at verification.
	inv, _ := f.invoices.Get(f.invoice.ID)
	if !inv.PaidAmount.Equal(dec("200.00")) {
		t.Errorf("invoice paid = %s before verification, want 200.00", inv.PaidAmount)
	}

	verified, err := f.payments.Verify(p.ID, 42)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.Status != models.PaymentStatusCompleted {
		t.Errorf("status = %s, want completed", verified.Status)
	}
	if verified.VerifiedByID == nil || *verified.VerifiedByID != 42 || verified.VerifiedAt == nil {
		t.Error("verification audit fields not recorded")
	}

	_, err = f.payments.Verify(p.ID, 42)
	if errs.CodeOf(err) != CodeInvalidPaymentState {
		t.Errorf("double verify err = %v, want %s", err, CodeInvalidPaymentState)
	}
}

func TestCancelRestoresBalances(t *testing.T) {
	f := newPaymentFixture(t)
	itemA, itemB := f.invoice.Items[0], f.invoice.Items[1]

	p, err := f.payments.Process(f.invoice.ID, dec("500.00"), models.PaymentModeCash, []Allocation{
		{InvoiceItemID: itemA.ID, Amount: dec("400.00")},
		{InvoiceItemID: itemB.ID, Amount: dec("100.00")},
	}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	cancelled, err := f.payments.Cancel(p.ID, "posted to wrong invoice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.PaymentStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	inv, _ := f.invoices.Get(f.invoice.ID)
	if inv.Status != models.InvoiceStatusPending {
		t.Errorf("invoice status = %s, want pending after full reversal", inv.Status)
	}
	if !inv.PaidAmount.IsZero() || !inv.BalanceAmount.Equal(inv.TotalAmount) {
		t.Errorf("invoice paid = %s balance = %s after cancel", inv.PaidAmount, inv.BalanceAmount)
	}
	for _, it := range inv.Items {
		if !it.PaidAmount.IsZero() || !it.BalanceAmount.Equal(it.Amount) {
			t.Errorf("item %d not restored: paid=%s balance=%s", it.ID, it.PaidAmount, it.BalanceAmount)
		}
	}

	_, err = f.payments.Cancel(p.ID, "again")
	if errs.CodeOf(err) != CodeInvalidPaymentState {
		t.Errorf("double cancel err = %v, want %s", err, CodeInvalidPaymentState)
	}
}

func TestRefundLifecycle(t *testing.T) {
	f := newPaymentFixture(t)
	itemA := f.invoice.Items[0]

	p, err := f.payments.Process(f.invoice.ID, dec("600.00"), models.PaymentModeCash,
		[]Allocation{{InvoiceItemID: itemA.ID, Amount: dec("600.00")}}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	partial, err := f.payments.Refund(p.ID, dec("150.00"), "RF-001")
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.Status != models.PaymentStatusCompleted {
		t.Errorf("status after partial refund = %s, want completed", partial.Status)
	}
	if !partial.RefundedAmount.Equal(dec("150.00")) || !partial.NetAmount.Equal(dec("450.00")) {
		t.Errorf("refunded = %s net = %s", partial.RefundedAmount, partial.NetAmount)
	}

	// Refunds are independent events; the invoice ledger does not move.
	inv, _ := f.invoices.Get(f.invoice.ID)
	if !inv.PaidAmount.Equal(dec("600.00")) {
		t.Errorf("invoice paid = %s after refund, want 600.00", inv.PaidAmount)
	}

	_, err = f.payments.Refund(p.ID, dec("500.00"), "RF-002")
	if errs.CodeOf(err) != CodeRefundExceedsPayment {
		t.Fatalf("over-refund err = %v, want %s", err, CodeRefundExceedsPayment)
	}

	full, err := f.payments.Refund(p.ID, dec("450.00"), "RF-003")
	if err != nil {
		t.Fatalf("final refund: %v", err)
	}
	if full.Status != models.PaymentStatusRefunded || !full.NetAmount.IsZero() {
		t.Errorf("status = %s net = %s after full refund", full.Status, full.NetAmount)
	}

	// Refunded payments leave the cancel path.
	_, err = f.payments.Cancel(p.ID, "cleanup")
	if errs.CodeOf(err) != CodeInvalidPaymentState {
		t.Errorf("cancel refunded payment err = %v, want %s", err, CodeInvalidPaymentState)
	}
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	f := newPaymentFixture(t)
	itemA := f.invoice.Items[0]

	p, err := f.payments.Process(f.invoice.ID, dec("200.00"), models.PaymentModeCheque,
		[]Allocation{{InvoiceItemID: itemA.ID, Amount: dec("200.00")}}, 7)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	_, err = f.payments.Refund(p.ID, dec("50.00"), "RF-010")
	if errs.CodeOf(err) != CodeInvalidPaymentState {
		t.Errorf("refund pending payment err = %v, want %s", err, CodeInvalidPaymentState)
	}
}

// Two callers race to pay the full remaining balance. Exactly one payment
// may land; the loser gets a conflict it can surface or retry.
func TestConcurrentFullBalancePayments(t *testing.T) {
	f := newPaymentFixture(t)
	itemA, itemB := f.invoice.Items[0], f.invoice.Items[1]
	full := []Allocation{
		{InvoiceItemID: itemA.ID, Amount: dec("1200.00")},
		{InvoiceItemID: itemB.ID, Amount: dec("300.00")},
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.payments.Process(f.invoice.ID, dec("1500.00"), models.PaymentModeCash, full, 7)
		}(i)
	}
	wg.Wait()

	var ok, failed int
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		failed++
		switch errs.KindOf(err) {
		case errs.KindStateConflict, errs.KindConcurrency:
		default:
			t.Errorf("loser got unexpected error: %v", err)
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("successes = %d failures = %d, want exactly one of each", ok, failed)
	}

	inv, _ := f.invoices.Get(f.invoice.ID)
	if !inv.PaidAmount.Equal(dec("1500.00")) || !inv.BalanceAmount.IsZero() {
		t.Errorf("invoice paid = %s balance = %s, want fully paid exactly once", inv.PaidAmount, inv.BalanceAmount)
	}
	var count int64
	if err := f.db.Model(&models.Payment{}).Where("invoice_id = ?", f.invoice.ID).Count(&count).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if count != 1 {
		t.Errorf("payments recorded = %d, want 1", count)
	}
}
