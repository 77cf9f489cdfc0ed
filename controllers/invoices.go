package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/billing"
	"time"

	"github.com/gofiber/fiber/v2"
)

type InvoiceController struct {
	svc *billing.InvoiceService
}

func NewInvoiceController() *InvoiceController {
	return &InvoiceController{svc: billing.NewInvoiceService(database.GetDB())}
}

type generateInvoiceRequest struct {
	StudentID       uint      `json:"student_id" validate:"required"`
	FeeDefinitionID uint      `json:"fee_definition_id" validate:"required"`
	AcademicYear    string    `json:"academic_year" validate:"required"`
	Term            string    `json:"term" validate:"required"`
	PeriodStart     time.Time `json:"period_start" validate:"required"`
	DueDate         time.Time `json:"due_date" validate:"required"`
}

// GenerateInvoice issues an invoice for one student and period
func (ic *InvoiceController) GenerateInvoice(c *fiber.Ctx) error {
	var req generateInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	invoice, err := ic.svc.Generate(req.StudentID, req.FeeDefinitionID, billing.Period{
		AcademicYear: req.AcademicYear,
		Term:         req.Term,
		StartDate:    req.PeriodStart,
	}, req.DueDate)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "invoices", invoice.ID, fiber.Map{
		"invoice_number": invoice.InvoiceNumber,
		"student_id":     invoice.StudentID,
		"total_amount":   invoice.TotalAmount,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Invoice generated successfully",
		"invoice": invoice,
	})
}

// GetInvoices lists invoices with optional filters
func (ic *InvoiceController) GetInvoices(c *fiber.Ctx) error {
	var invoices []models.Invoice

	query := database.DB.Model(&models.Invoice{}).Preload("Items").Preload("Student")

	if studentID := c.Query("student_id"); studentID != "" {
		query = query.Where("student_id = ?", studentID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if year := c.Query("academic_year"); year != "" {
		query = query.Where("academic_year = ?", year)
	}
	if term := c.Query("term"); term != "" {
		query = query.Where("term = ?", term)
	}

	if err := query.Order("id DESC").Find(&invoices).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch invoices",
		})
	}

	return c.JSON(fiber.Map{
		"invoices": invoices,
		"total":    len(invoices),
	})
}

// GetInvoice returns a specific invoice by ID
func (ic *InvoiceController) GetInvoice(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid invoice ID",
		})
	}

	invoice, err := ic.svc.Get(id)
	if err != nil {
		return respondDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"invoice": invoice,
	})
}

// CancelInvoice voids an unpaid invoice
func (ic *InvoiceController) CancelInvoice(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid invoice ID",
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

	invoice, err := ic.svc.Cancel(id, req.Reason)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "invoices", invoice.ID, fiber.Map{
		"action": "cancel",
		"reason": req.Reason,
	})

	return c.JSON(fiber.Map{
		"message": "Invoice cancelled successfully",
		"invoice": invoice,
	})
}

// UpdateDueDate moves an invoice's due date
func (ic *InvoiceController) UpdateDueDate(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid invoice ID",
		})
	}

	var req struct {
		DueDate time.Time `json:"due_date" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	invoice, err := ic.svc.UpdateDueDate(id, req.DueDate)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "invoices", invoice.ID, fiber.Map{
		"action":   "due_date",
		"due_date": req.DueDate,
	})

	return c.JSON(fiber.Map{
		"message": "Due date updated successfully",
		"invoice": invoice,
	})
}

// GetStatement returns a student's full invoice statement
func (ic *InvoiceController) GetStatement(c *fiber.Ctx) error {
	studentID, err := parseIDParam(c, "student_id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid student ID",
		})
	}

	invoices, err := ic.svc.Statement(studentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch statement",
		})
	}

	return c.JSON(fiber.Map{
		"student_id": studentID,
		"invoices":   invoices,
		"total":      len(invoices),
	})
}
