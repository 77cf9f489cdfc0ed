package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/billing"
	"schoolledger_go/services/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type PaymentController struct {
	payments *billing.PaymentService
	invoices *billing.InvoiceService
}

func NewPaymentController() *PaymentController {
	db := database.GetDB()
	return &PaymentController{
		payments: billing.NewPaymentService(db),
		invoices: billing.NewInvoiceService(db),
	}
}

type processPaymentRequest struct {
	InvoiceID   uint                 `json:"invoice_id" validate:"required"`
	Amount      decimal.Decimal      `json:"amount" validate:"required"`
	Mode        models.PaymentMode   `json:"mode" validate:"required"`
	Allocations []billing.Allocation `json:"allocations" validate:"required"`
}

// ProcessPayment records a payment and applies it across invoice items
func (pc *PaymentController) ProcessPayment(c *fiber.Ctx) error {
	var req processPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	payment, err := pc.payments.Process(req.InvoiceID, req.Amount, req.Mode, req.Allocations, user.ID)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "payments", payment.ID, fiber.Map{
		"receipt_number": payment.ReceiptNumber,
		"invoice_id":     payment.InvoiceID,
		"amount":         payment.Amount,
		"mode":           payment.Mode,
	})

	// Receipt notifications run off the request path
	if invoice, err := pc.invoices.Get(payment.InvoiceID); err == nil {
		go notifications.NewService().PaymentReceived(payment, invoice)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Payment processed successfully",
		"payment": payment,
	})
}

// VerifyPayment confirms a pending non-cash payment
func (pc *PaymentController) VerifyPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payment ID",
		})
	}

	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	payment, err := pc.payments.Verify(id, user.ID)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "payments", payment.ID, fiber.Map{
		"action":         "verify",
		"receipt_number": payment.ReceiptNumber,
	})

	return c.JSON(fiber.Map{
		"message": "Payment verified successfully",
		"payment": payment,
	})
}

// CancelPayment reverses a payment and restores invoice balances
func (pc *PaymentController) CancelPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payment ID",
		})
	}

	var req struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	payment, err := pc.payments.Cancel(id, req.Reason)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "payments", payment.ID, fiber.Map{
		"action": "cancel",
		"reason": req.Reason,
	})

	return c.JSON(fiber.Map{
		"message": "Payment cancelled successfully",
		"payment": payment,
	})
}

// RefundPayment records a refund against a completed payment
func (pc *PaymentController) RefundPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payment ID",
		})
	}

	var req struct {
		Amount    decimal.Decimal `json:"amount" validate:"required"`
		Reference string          `json:"reference"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	payment, err := pc.payments.Refund(id, req.Amount, req.Reference)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "payments", payment.ID, fiber.Map{
		"action":    "refund",
		"amount":    req.Amount,
		"reference": req.Reference,
	})

	return c.JSON(fiber.Map{
		"message": "Refund recorded successfully",
		"payment": payment,
	})
}

// GetPayment returns a specific payment with its allocations
func (pc *PaymentController) GetPayment(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payment ID",
		})
	}

	payment, err := pc.payments.Get(id)
	if err != nil {
		return respondDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"payment": payment,
	})
}

// GetPayments lists payments with optional filters
func (pc *PaymentController) GetPayments(c *fiber.Ctx) error {
	var payments []models.Payment

	query := database.DB.Model(&models.Payment{}).Preload("Items")

	if invoiceID := c.Query("invoice_id"); invoiceID != "" {
		query = query.Where("invoice_id = ?", invoiceID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if mode := c.Query("mode"); mode != "" {
		query = query.Where("mode = ?", mode)
	}

	if err := query.Order("id DESC").Find(&payments).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch payments",
		})
	}

	return c.JSON(fiber.Map{
		"payments": payments,
		"total":    len(payments),
	})
}
