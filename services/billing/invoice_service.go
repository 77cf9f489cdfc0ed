package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Error codes surfaced by the invoice service.
const (
	CodeFeeDefinitionNotFound  = "FeeDefinitionNotFound"
	CodeStudentNotFound        = "StudentNotFound"
	CodeInvoiceNotFound        = "InvoiceNotFound"
	CodeDuplicateInvoice       = "DuplicateInvoice"
	CodeInvalidPeriod          = "InvalidPeriod"
	CodeEmptyFeeDefinition     = "EmptyFeeDefinition"
	CodeCancelBlocked          = "CancelBlocked"
	CodeInvalidInvoiceState    = "InvalidInvoiceState"
	CodeConcurrentModification = "ConcurrentModification"
)

// Period identifies the academic period an invoice bills for.
type Period struct {
	AcademicYear string    `json:"academic_year"`
	Term         string    `json:"term"`
	StartDate    time.Time `json:"start_date"`
}

// InvoiceService generates invoices from fee-definition snapshots and owns
// invoice-level state transitions that do not involve money movement.
type InvoiceService struct {
	db *gorm.DB
}

func NewInvoiceService(db *gorm.DB) *InvoiceService {
	return &InvoiceService{db: db}
}

// Generate builds an invoice and its items for one student and period.
// The fee definition's items are copied by value; later fee edits never
// affect the generated invoice. Invoice and items are created in one
// transaction.
func (s *InvoiceService) Generate(studentID, feeDefinitionID uint, period Period, dueDate time.Time) (*models.Invoice, error) {
	if period.AcademicYear == "" || period.Term == "" || period.StartDate.IsZero() {
		return nil, errs.Validation(CodeInvalidPeriod, "academic year, term and start date are required")
	}
	if dueDate.Before(period.StartDate) {
		return nil, errs.Validation(CodeInvalidPeriod, "due date %s is before period start %s",
			dueDate.Format("2006-01-02"), period.StartDate.Format("2006-01-02"))
	}

	var invoice *models.Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var student models.Student
		if err := tx.First(&student, studentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeStudentNotFound, "student %d not found", studentID)
			}
			return err
		}

		var def models.FeeDefinition
		if err := tx.Preload("Items.Category").First(&def, feeDefinitionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeFeeDefinitionNotFound, "fee definition %d not found", feeDefinitionID)
			}
			return err
		}
		if !def.Active {
			return errs.NotFound(CodeFeeDefinitionNotFound, "fee definition %d is not active", feeDefinitionID)
		}
		if len(def.Items) == 0 {
			return errs.Validation(CodeEmptyFeeDefinition, "fee definition %d has no items", feeDefinitionID)
		}

		var existing int64
		if err := tx.Model(&models.Invoice{}).
			Where("student_id = ? AND academic_year = ? AND term = ? AND status <> ?",
				studentID, period.AcademicYear, period.Term, models.InvoiceStatusCancelled).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errs.Conflict(CodeDuplicateInvoice,
				"student %d already has an invoice for %s %s", studentID, period.AcademicYear, period.Term)
		}

		total := decimal.Zero
		items := make([]models.InvoiceItem, 0, len(def.Items))
		for _, fi := range def.Items {
			items = append(items, models.InvoiceItem{
				Name:          fi.Name,
				CategoryID:    fi.CategoryID,
				Category:      fi.Category.Name,
				Amount:        fi.Amount,
				PaidAmount:    decimal.Zero,
				BalanceAmount: fi.Amount,
				DueDate:       dueDate,
			})
			total = total.Add(fi.Amount)
		}

		invoice = &models.Invoice{
			InvoiceNumber: newInvoiceNumber(period),
			StudentID:     studentID,
			AcademicYear:  period.AcademicYear,
			Term:          period.Term,
			PeriodStart:   period.StartDate,
			DueDate:       dueDate,
			TotalAmount:   total,
			PaidAmount:    decimal.Zero,
			BalanceAmount: total,
			Status:        models.InvoiceStatusPending,
			Version:       1,
			Items:         items,
		}
		return tx.Create(invoice).Error
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// Cancel marks an invoice cancelled. Blocked once any payment has been
// applied; cancellation is terminal and the row is never deleted.
func (s *InvoiceService) Cancel(invoiceID uint, reason string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeInvoiceNotFound, "invoice %d not found", invoiceID)
			}
			return err
		}
		if invoice.Status == models.InvoiceStatusCancelled {
			return errs.Conflict(CodeInvalidInvoiceState, "invoice %s is already cancelled", invoice.InvoiceNumber)
		}
		if invoice.PaidAmount.IsPositive() {
			return errs.Conflict(CodeCancelBlocked,
				"invoice %s has received payments and cannot be cancelled", invoice.InvoiceNumber)
		}

		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version).
			Updates(map[string]interface{}{
				"status":           models.InvoiceStatusCancelled,
				"cancelled_reason": reason,
				"version":          invoice.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "invoice %d changed concurrently", invoice.ID)
		}
		invoice.Status = models.InvoiceStatusCancelled
		invoice.CancelledReason = reason
		invoice.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateDueDate moves the invoice due date. The new date must not precede
// the period start.
func (s *InvoiceService) UpdateDueDate(invoiceID uint, dueDate time.Time) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeInvoiceNotFound, "invoice %d not found", invoiceID)
			}
			return err
		}
		if invoice.Status == models.InvoiceStatusCancelled {
			return errs.Conflict(CodeInvalidInvoiceState, "invoice %s is cancelled", invoice.InvoiceNumber)
		}
		if dueDate.Before(invoice.PeriodStart) {
			return errs.Validation(CodeInvalidPeriod, "due date is before period start")
		}

		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version).
			Updates(map[string]interface{}{
				"due_date": dueDate,
				"version":  invoice.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "invoice %d changed concurrently", invoice.ID)
		}
		invoice.DueDate = dueDate
		invoice.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// MarkOverdue flips unpaid invoices past their due date to overdue.
// Driven by the nightly scheduler; overdue invoices still accept payments.
func (s *InvoiceService) MarkOverdue(now time.Time) (int64, error) {
	res := s.db.Model(&models.Invoice{}).
		Where("status IN ? AND due_date < ?",
			[]models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusPartiallyPaid}, now).
		Update("status", models.InvoiceStatusOverdue)
	return res.RowsAffected, res.Error
}

// Get loads an invoice with its items.
func (s *InvoiceService) Get(invoiceID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := s.db.Preload("Items").Preload("Student").First(&invoice, invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(CodeInvoiceNotFound, "invoice %d not found", invoiceID)
		}
		return nil, err
	}
	return &invoice, nil
}

// Statement returns all invoices for a student with items and payments.
// Read-only; tolerates in-flight writes.
func (s *InvoiceService) Statement(studentID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.db.Preload("Items").
		Where("student_id = ?", studentID).
		Order("period_start, id").
		Find(&invoices).Error
	return invoices, err
}

func newInvoiceNumber(period Period) string {
	ref := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("INV-%s-%s-%s", period.AcademicYear, strings.ToUpper(period.Term), ref)
}
