package promotions

import (
	"errors"
	"fmt"
	"strings"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Error codes surfaced by the promotion service.
const (
	CodeStudentNotFound     = "StudentNotFound"
	CodeTransferNotFound    = "TransferNotFound"
	CodeInvalidProgression  = "InvalidProgression"
	CodeInvalidTargetPeriod = "InvalidTargetPeriod"
)

// PromotionService advances students up the class ladder and snapshots
// their outstanding fee balances into carry-forward transfers. Promotion,
// transfer and student update happen in one transaction.
type PromotionService struct {
	db *gorm.DB
}

func NewPromotionService(db *gorm.DB) *PromotionService {
	return &PromotionService{db: db}
}

// PromoteRequest names the target class and period for one promotion.
type PromoteRequest struct {
	StudentID      uint   `json:"student_id"`
	ToClass        string `json:"to_class"`
	ToAcademicYear string `json:"to_academic_year"`
	ToTerm         string `json:"to_term"`
	Remarks        string `json:"remarks"`
	PromotedByID   uint   `json:"promoted_by_id"`
}

// outstandingItem is one unpaid invoice line at promotion time.
type outstandingItem struct {
	ItemID        uint
	InvoiceNumber string
	Name          string
	Category      string
	Amount        decimal.Decimal
	PaidAmount    decimal.Decimal
}

// Promote moves a student to the next class and, if the student owes
// anything, records a balance transfer listing every unpaid item. The
// source invoices keep their balances; the transfer is a snapshot for the
// new period, not a money movement.
func (s *PromotionService) Promote(req PromoteRequest) (*models.Promotion, error) {
	if req.ToAcademicYear == "" || req.ToTerm == "" {
		return nil, errs.Validation(CodeInvalidTargetPeriod, "target academic year and term are required")
	}

	var promotion *models.Promotion
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var student models.Student
		if err := tx.First(&student, req.StudentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeStudentNotFound, "student %d not found", req.StudentID)
			}
			return err
		}
		if !IsValidProgression(student.CurrentClass, req.ToClass) {
			return errs.Conflict(CodeInvalidProgression,
				"cannot promote from %s to %s", student.CurrentClass, req.ToClass)
		}
		if req.ToAcademicYear == student.AcademicYear && req.ToTerm == student.Term {
			return errs.Validation(CodeInvalidTargetPeriod,
				"target period %s %s equals the student's current period", req.ToAcademicYear, req.ToTerm)
		}

		items, err := s.outstanding(tx, student.ID)
		if err != nil {
			return err
		}

		var transferID *uint
		if len(items) > 0 {
			transfer := &models.FeeBalanceTransfer{
				TransferNumber:   newTransferNumber(),
				StudentID:        student.ID,
				FromClass:        student.CurrentClass,
				ToClass:          req.ToClass,
				FromAcademicYear: student.AcademicYear,
				FromTerm:         student.Term,
				ToAcademicYear:   req.ToAcademicYear,
				ToTerm:           req.ToTerm,
				Status:           models.TransferStatusTransferred,
			}
			total := decimal.Zero
			details := make([]models.FeeBalanceDetail, 0, len(items))
			for _, it := range items {
				balance := it.Amount.Sub(it.PaidAmount)
				details = append(details, models.FeeBalanceDetail{
					InvoiceItemID:  it.ItemID,
					InvoiceNumber:  it.InvoiceNumber,
					ItemName:       it.Name,
					Category:       it.Category,
					OriginalAmount: it.Amount,
					BalanceAmount:  balance,
				})
				total = total.Add(balance)
			}
			transfer.TotalTransferred = total
			transfer.Details = details
			if err := tx.Create(transfer).Error; err != nil {
				return err
			}
			transferID = &transfer.ID
		}

		promotion = &models.Promotion{
			StudentID:        student.ID,
			FromClass:        student.CurrentClass,
			ToClass:          req.ToClass,
			FromAcademicYear: student.AcademicYear,
			FromTerm:         student.Term,
			ToAcademicYear:   req.ToAcademicYear,
			ToTerm:           req.ToTerm,
			Remarks:          req.Remarks,
			PromotedByID:     req.PromotedByID,
			TransferID:       transferID,
		}
		if err := tx.Create(promotion).Error; err != nil {
			return err
		}

		return tx.Model(&models.Student{}).Where("id = ?", student.ID).
			Updates(map[string]interface{}{
				"current_class": req.ToClass,
				"academic_year": req.ToAcademicYear,
				"term":          req.ToTerm,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return promotion, nil
}

// outstanding collects every invoice item with a positive balance on a
// non-cancelled invoice of the student. Soft-delete filters are explicit
// because the join bypasses the model scopes.
func (s *PromotionService) outstanding(tx *gorm.DB, studentID uint) ([]outstandingItem, error) {
	var rows []outstandingItem
	err := tx.Table("invoice_items").
		Select("invoice_items.id AS item_id, invoices.invoice_number, invoice_items.name, invoice_items.category, invoice_items.amount, invoice_items.paid_amount").
		Joins("JOIN invoices ON invoices.id = invoice_items.invoice_id").
		Where("invoices.student_id = ?", studentID).
		Where("invoices.status <> ?", models.InvoiceStatusCancelled).
		Where("invoice_items.balance_amount > 0").
		Where("invoices.deleted_at IS NULL").
		Where("invoice_items.deleted_at IS NULL").
		Order("invoices.period_start, invoice_items.id").
		Scan(&rows).Error
	return rows, err
}

// History returns a student's promotions, oldest first, with transfers.
func (s *PromotionService) History(studentID uint) ([]models.Promotion, error) {
	var out []models.Promotion
	err := s.db.Preload("Transfer.Details").
		Where("student_id = ?", studentID).
		Order("id").
		Find(&out).Error
	return out, err
}

// GetTransfer loads one balance transfer with its details.
func (s *PromotionService) GetTransfer(transferID uint) (*models.FeeBalanceTransfer, error) {
	var transfer models.FeeBalanceTransfer
	if err := s.db.Preload("Details").First(&transfer, transferID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(CodeTransferNotFound, "transfer %d not found", transferID)
		}
		return nil, err
	}
	return &transfer, nil
}

// TransfersForStudent lists a student's balance transfers, newest first.
func (s *PromotionService) TransfersForStudent(studentID uint) ([]models.FeeBalanceTransfer, error) {
	var out []models.FeeBalanceTransfer
	err := s.db.Preload("Details").
		Where("student_id = ?", studentID).
		Order("id DESC").
		Find(&out).Error
	return out, err
}

func newTransferNumber() string {
	return fmt.Sprintf("TRF-%s", strings.ToUpper(uuid.New().String()[:12]))
}
