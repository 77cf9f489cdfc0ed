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

// Error codes surfaced by the payment service.
const (
	CodePaymentNotFound         = "PaymentNotFound"
	CodeAllocationMismatch      = "AllocationMismatch"
	CodeOverpaymentRejected     = "OverpaymentRejected"
	CodeItemOverpaymentRejected = "ItemOverpaymentRejected"
	CodeInvalidPaymentState     = "InvalidPaymentState"
	CodeRefundExceedsPayment    = "RefundExceedsPayment"
)

// Allocation is the caller's instruction to apply part of a payment to one
// invoice item.
type Allocation struct {
	InvoiceItemID uint            `json:"invoice_item_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// PaymentService applies payments across invoice items, keeping item-level
// and invoice-level balances consistent inside a single transaction. The
// invoice row carries an optimistic version; concurrent mutations of the
// same invoice abort with ConcurrentModification so the caller can retry.
type PaymentService struct {
	db *gorm.DB
}

func NewPaymentService(db *gorm.DB) *PaymentService {
	return &PaymentService{db: db}
}

var validModes = map[models.PaymentMode]bool{
	models.PaymentModeCash:       true,
	models.PaymentModeTransfer:   true,
	models.PaymentModeDebitCard:  true,
	models.PaymentModeCreditCard: true,
	models.PaymentModeCheque:     true,
}

// Process records one payment against an invoice and applies each
// allocation to its invoice item. Preconditions are checked in order;
// the first failure wins. Cash payments complete immediately, other modes
// stay pending until verified.
func (s *PaymentService) Process(invoiceID uint, totalAmount decimal.Decimal, mode models.PaymentMode, allocations []Allocation, collectedBy uint) (*models.Payment, error) {
	if !validModes[mode] {
		return nil, errs.Validation(CodeInvalidPaymentState, "unknown payment mode %q", mode)
	}
	if !totalAmount.IsPositive() {
		return nil, errs.Validation(CodeAllocationMismatch, "payment amount must be positive")
	}
	if len(allocations) == 0 {
		return nil, errs.Validation(CodeAllocationMismatch, "at least one allocation is required")
	}
	for _, a := range allocations {
		if !a.Amount.IsPositive() {
			return nil, errs.Validation(CodeAllocationMismatch, "allocation for item %d must be positive", a.InvoiceItemID)
		}
	}

	var payment *models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := tx.First(&invoice, invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeInvoiceNotFound, "invoice %d not found", invoiceID)
			}
			return err
		}

		// 1. Invoice must be open for payment.
		if invoice.Status == models.InvoiceStatusCancelled || invoice.Status == models.InvoiceStatusPaid {
			return errs.Conflict(CodeInvalidInvoiceState,
				"invoice %s is %s and cannot accept payments", invoice.InvoiceNumber, invoice.Status)
		}

		// 2. Allocations must add up to the payment amount exactly.
		allocTotal := decimal.Zero
		for _, a := range allocations {
			allocTotal = allocTotal.Add(a.Amount)
		}
		if !allocTotal.Equal(totalAmount) {
			return errs.Validation(CodeAllocationMismatch,
				"allocations sum to %s, payment amount is %s", allocTotal, totalAmount)
		}

		// 3. Never take in more than the invoice is owed.
		if totalAmount.GreaterThan(invoice.BalanceAmount) {
			return errs.Conflict(CodeOverpaymentRejected,
				"payment %s exceeds invoice balance %s", totalAmount, invoice.BalanceAmount)
		}

		// 4. Each allocation must target an item of this invoice and fit
		// within that item's remaining balance.
		var items []models.InvoiceItem
		if err := tx.Where("invoice_id = ?", invoice.ID).Find(&items).Error; err != nil {
			return err
		}
		byID := make(map[uint]*models.InvoiceItem, len(items))
		for i := range items {
			byID[items[i].ID] = &items[i]
		}
		perItem := make(map[uint]decimal.Decimal)
		for _, a := range allocations {
			item, ok := byID[a.InvoiceItemID]
			if !ok {
				return errs.Conflict(CodeItemOverpaymentRejected,
					"item %d does not belong to invoice %s", a.InvoiceItemID, invoice.InvoiceNumber)
			}
			sum := perItem[a.InvoiceItemID].Add(a.Amount)
			if sum.GreaterThan(item.BalanceAmount) {
				return errs.Conflict(CodeItemOverpaymentRejected,
					"allocation %s exceeds balance %s of item %q", sum, item.BalanceAmount, item.Name)
			}
			perItem[a.InvoiceItemID] = sum
		}

		status := models.PaymentStatusPending
		if mode == models.PaymentModeCash {
			status = models.PaymentStatusCompleted
		}
		paymentItems := make([]models.PaymentItem, 0, len(allocations))
		for i, a := range allocations {
			paymentItems = append(paymentItems, models.PaymentItem{
				InvoiceItemID: a.InvoiceItemID,
				Amount:        a.Amount,
				Sequence:      i + 1,
			})
		}
		payment = &models.Payment{
			ReceiptNumber:  newReceiptNumber(),
			InvoiceID:      invoice.ID,
			Amount:         totalAmount,
			RefundedAmount: decimal.Zero,
			NetAmount:      totalAmount,
			Mode:           mode,
			Status:         status,
			CollectedByID:  collectedBy,
			Version:        1,
			Items:          paymentItems,
		}
		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		for itemID, amount := range perItem {
			item := byID[itemID]
			newPaid := item.PaidAmount.Add(amount)
			if err := tx.Model(&models.InvoiceItem{}).Where("id = ?", itemID).
				Updates(map[string]interface{}{
					"paid_amount":    newPaid,
					"balance_amount": item.Amount.Sub(newPaid),
				}).Error; err != nil {
				return err
			}
		}

		newPaid := invoice.PaidAmount.Add(totalAmount)
		newBalance := invoice.TotalAmount.Sub(newPaid)
		newStatus := models.InvoiceStatusPartiallyPaid
		if newBalance.IsZero() {
			newStatus = models.InvoiceStatusPaid
		}
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version).
			Updates(map[string]interface{}{
				"paid_amount":    newPaid,
				"balance_amount": newBalance,
				"status":         newStatus,
				"version":        invoice.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification,
				"invoice %d was modified by a concurrent payment", invoice.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Verify moves a pending payment to completed. Balances were applied when
// the payment was processed; verification only flips the status.
func (s *PaymentService) Verify(paymentID, verifiedBy uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodePaymentNotFound, "payment %d not found", paymentID)
			}
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return errs.Conflict(CodeInvalidPaymentState,
				"payment %s is %s, only pending payments can be verified", payment.ReceiptNumber, payment.Status)
		}

		now := time.Now()
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND version = ?", payment.ID, payment.Version).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusCompleted,
				"verified_by_id": verifiedBy,
				"verified_at":    now,
				"version":        payment.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "payment %d changed concurrently", payment.ID)
		}
		payment.Status = models.PaymentStatusCompleted
		payment.VerifiedByID = &verifiedBy
		payment.VerifiedAt = &now
		payment.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Cancel reverses a payment: every affected item and the invoice get their
// pre-payment balances back, in the same transaction that cancels the
// payment row. Refunded payments cannot be cancelled.
func (s *PaymentService) Cancel(paymentID uint, reason string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodePaymentNotFound, "payment %d not found", paymentID)
			}
			return err
		}
		if payment.Status == models.PaymentStatusCancelled {
			return errs.Conflict(CodeInvalidPaymentState, "payment %s is already cancelled", payment.ReceiptNumber)
		}
		if payment.Status == models.PaymentStatusRefunded || payment.RefundedAmount.IsPositive() {
			return errs.Conflict(CodeInvalidPaymentState,
				"payment %s has refunds recorded and cannot be cancelled", payment.ReceiptNumber)
		}

		var invoice models.Invoice
		if err := tx.First(&invoice, payment.InvoiceID).Error; err != nil {
			return err
		}

		for _, pi := range payment.Items {
			var item models.InvoiceItem
			if err := tx.First(&item, pi.InvoiceItemID).Error; err != nil {
				return err
			}
			newPaid := item.PaidAmount.Sub(pi.Amount)
			if err := tx.Model(&models.InvoiceItem{}).Where("id = ?", item.ID).
				Updates(map[string]interface{}{
					"paid_amount":    newPaid,
					"balance_amount": item.Amount.Sub(newPaid),
				}).Error; err != nil {
				return err
			}
		}

		newPaid := invoice.PaidAmount.Sub(payment.Amount)
		newBalance := invoice.TotalAmount.Sub(newPaid)
		newStatus := models.InvoiceStatusPartiallyPaid
		if newPaid.IsZero() {
			newStatus = models.InvoiceStatusPending
		}
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, invoice.Version).
			Updates(map[string]interface{}{
				"paid_amount":    newPaid,
				"balance_amount": newBalance,
				"status":         newStatus,
				"version":        invoice.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification,
				"invoice %d was modified by a concurrent payment", invoice.ID)
		}

		res = tx.Model(&models.Payment{}).
			Where("id = ? AND version = ?", payment.ID, payment.Version).
			Updates(map[string]interface{}{
				"status":           models.PaymentStatusCancelled,
				"cancelled_reason": reason,
				"version":          payment.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "payment %d changed concurrently", payment.ID)
		}
		payment.Status = models.PaymentStatusCancelled
		payment.CancelledReason = reason
		payment.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Refund records a refund against a completed payment. The refund is an
// independent auditable event: invoice and item balances stay untouched,
// the payment's net amount tracks what was actually kept.
func (s *PaymentService) Refund(paymentID uint, amount decimal.Decimal, reference string) (*models.Payment, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation(CodeRefundExceedsPayment, "refund amount must be positive")
	}

	var payment models.Payment
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodePaymentNotFound, "payment %d not found", paymentID)
			}
			return err
		}
		if payment.Status != models.PaymentStatusCompleted {
			return errs.Conflict(CodeInvalidPaymentState,
				"payment %s is %s, only completed payments can be refunded", payment.ReceiptNumber, payment.Status)
		}
		remaining := payment.Amount.Sub(payment.RefundedAmount)
		if amount.GreaterThan(remaining) {
			return errs.Conflict(CodeRefundExceedsPayment,
				"refund %s exceeds refundable amount %s", amount, remaining)
		}

		newRefunded := payment.RefundedAmount.Add(amount)
		newNet := payment.Amount.Sub(newRefunded)
		newStatus := models.PaymentStatusCompleted
		if newNet.IsZero() {
			newStatus = models.PaymentStatusRefunded
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND version = ?", payment.ID, payment.Version).
			Updates(map[string]interface{}{
				"refunded_amount":  newRefunded,
				"net_amount":       newNet,
				"status":           newStatus,
				"refund_reference": reference,
				"version":          payment.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "payment %d changed concurrently", payment.ID)
		}
		payment.RefundedAmount = newRefunded
		payment.NetAmount = newNet
		payment.Status = newStatus
		payment.RefundReference = reference
		payment.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// Get loads a payment with its allocations.
func (s *PaymentService) Get(paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.Preload("Items").Preload("Invoice").First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(CodePaymentNotFound, "payment %d not found", paymentID)
		}
		return nil, err
	}
	return &payment, nil
}

func newReceiptNumber() string {
	return fmt.Sprintf("RCP-%s", strings.ToUpper(uuid.New().String()[:12]))
}
