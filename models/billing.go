package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusPending       InvoiceStatus = "pending"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentMode string

const (
	PaymentModeCash       PaymentMode = "cash"
	PaymentModeTransfer   PaymentMode = "transfer"
	PaymentModeDebitCard  PaymentMode = "debit_card"
	PaymentModeCreditCard PaymentMode = "credit_card"
	PaymentModeCheque     PaymentMode = "cheque"
)

// Invoice is one bill for a student for one academic period.
// TotalAmount always equals the sum of item amounts; PaidAmount the sum of
// item paid amounts; BalanceAmount = TotalAmount - PaidAmount. Only the
// payment service mutates the aggregates. Cancellation is terminal and an
// invoice is never deleted.
type Invoice struct {
	BaseModel
	InvoiceNumber string        `json:"invoice_number" gorm:"size:100;not null;uniqueIndex"`
	StudentID     uint          `json:"student_id" gorm:"not null;index"`
	AcademicYear  string        `json:"academic_year" gorm:"size:20;not null;index:idx_invoice_period"`
	Term          string        `json:"term" gorm:"size:20;not null;index:idx_invoice_period"`
	PeriodStart   time.Time     `json:"period_start" gorm:"not null"`
	DueDate       time.Time     `json:"due_date" gorm:"not null"`
	TotalAmount   decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	PaidAmount    decimal.Decimal `json:"paid_amount" gorm:"type:decimal(12,2);not null"`
	BalanceAmount decimal.Decimal `json:"balance_amount" gorm:"type:decimal(12,2);not null"`
	Status        InvoiceStatus `json:"status" gorm:"size:50;not null;default:'pending'"`
	CancelledReason string      `json:"cancelled_reason,omitempty" gorm:"type:text"`
	Version       int           `json:"version" gorm:"not null;default:1"`

	// Relationships
	Student Student       `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Items   []InvoiceItem `json:"items,omitempty" gorm:"foreignKey:InvoiceID"`
}

// InvoiceItem is one fee line, snapshotted from a fee definition item at
// generation time. Amount never changes after creation; PaidAmount stays
// within [0, Amount].
type InvoiceItem struct {
	BaseModel
	InvoiceID     uint            `json:"invoice_id" gorm:"not null;index"`
	Name          string          `json:"name" gorm:"size:255;not null"`
	CategoryID    uint            `json:"category_id" gorm:"not null"`
	Category      string          `json:"category" gorm:"size:100;not null"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	PaidAmount    decimal.Decimal `json:"paid_amount" gorm:"type:decimal(12,2);not null"`
	BalanceAmount decimal.Decimal `json:"balance_amount" gorm:"type:decimal(12,2);not null"`
	DueDate       time.Time       `json:"due_date" gorm:"not null"`
}

// Payment is one payment event against exactly one invoice. Amount equals
// the sum of its PaymentItems. RefundedAmount/NetAmount track refunds as
// independent events; refunds never restore invoice balances.
type Payment struct {
	BaseModel
	ReceiptNumber   string          `json:"receipt_number" gorm:"size:100;not null;uniqueIndex"`
	InvoiceID       uint            `json:"invoice_id" gorm:"not null;index"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount" gorm:"type:decimal(12,2);not null"`
	NetAmount       decimal.Decimal `json:"net_amount" gorm:"type:decimal(12,2);not null"`
	Mode            PaymentMode     `json:"mode" gorm:"size:50;not null"`
	Status          PaymentStatus   `json:"status" gorm:"size:50;not null;default:'pending'"`
	CollectedByID   uint            `json:"collected_by_id" gorm:"not null"`
	VerifiedByID    *uint           `json:"verified_by_id,omitempty"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
	CancelledReason string          `json:"cancelled_reason,omitempty" gorm:"type:text"`
	RefundReference string          `json:"refund_reference,omitempty" gorm:"size:255"`
	Version         int             `json:"version" gorm:"not null;default:1"`

	// Relationships
	Invoice     Invoice       `json:"invoice,omitempty" gorm:"foreignKey:InvoiceID"`
	Items       []PaymentItem `json:"items,omitempty" gorm:"foreignKey:PaymentID"`
	CollectedBy User          `json:"collected_by,omitempty" gorm:"foreignKey:CollectedByID"`
}

// PaymentItem allocates part of a payment to one invoice item.
type PaymentItem struct {
	BaseModel
	PaymentID     uint            `json:"payment_id" gorm:"not null;index"`
	InvoiceItemID uint            `json:"invoice_item_id" gorm:"not null;index"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Sequence      int             `json:"sequence" gorm:"not null"`
}

type TransferStatus string

const (
	TransferStatusTransferred TransferStatus = "transferred"
)

// FeeBalanceTransfer is the immutable point-in-time snapshot of a student's
// outstanding balances taken at promotion. It is a historical record for the
// new period; the source invoices keep their own balances.
type FeeBalanceTransfer struct {
	BaseModel
	TransferNumber   string          `json:"transfer_number" gorm:"size:100;not null;uniqueIndex"`
	StudentID        uint            `json:"student_id" gorm:"not null;index"`
	FromClass        string          `json:"from_class" gorm:"size:50;not null"`
	ToClass          string          `json:"to_class" gorm:"size:50;not null"`
	FromAcademicYear string          `json:"from_academic_year" gorm:"size:20;not null"`
	FromTerm         string          `json:"from_term" gorm:"size:20;not null"`
	ToAcademicYear   string          `json:"to_academic_year" gorm:"size:20;not null"`
	ToTerm           string          `json:"to_term" gorm:"size:20;not null"`
	TotalTransferred decimal.Decimal `json:"total_transferred" gorm:"type:decimal(12,2);not null"`
	Status           TransferStatus  `json:"status" gorm:"size:50;not null;default:'transferred'"`

	// Relationships
	Details []FeeBalanceDetail `json:"details,omitempty" gorm:"foreignKey:TransferID"`
}

// FeeBalanceDetail preserves per-item provenance inside a transfer.
type FeeBalanceDetail struct {
	BaseModel
	TransferID     uint            `json:"transfer_id" gorm:"not null;index"`
	InvoiceItemID  uint            `json:"invoice_item_id" gorm:"not null"`
	InvoiceNumber  string          `json:"invoice_number" gorm:"size:100;not null"`
	ItemName       string          `json:"item_name" gorm:"size:255;not null"`
	Category       string          `json:"category" gorm:"size:100;not null"`
	OriginalAmount decimal.Decimal `json:"original_amount" gorm:"type:decimal(12,2);not null"`
	BalanceAmount  decimal.Decimal `json:"balance_amount" gorm:"type:decimal(12,2);not null"`
}

// Promotion is one class-advancement history entry.
type Promotion struct {
	BaseModel
	StudentID        uint   `json:"student_id" gorm:"not null;index"`
	FromClass        string `json:"from_class" gorm:"size:50;not null"`
	ToClass          string `json:"to_class" gorm:"size:50;not null"`
	FromAcademicYear string `json:"from_academic_year" gorm:"size:20;not null"`
	FromTerm         string `json:"from_term" gorm:"size:20;not null"`
	ToAcademicYear   string `json:"to_academic_year" gorm:"size:20;not null"`
	ToTerm           string `json:"to_term" gorm:"size:20;not null"`
	Remarks          string `json:"remarks" gorm:"type:text"`
	PromotedByID     uint   `json:"promoted_by_id"`
	TransferID       *uint  `json:"transfer_id,omitempty"`

	// Relationships
	Transfer *FeeBalanceTransfer `json:"transfer,omitempty" gorm:"foreignKey:TransferID"`
}
