package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/budgets"
	"schoolledger_go/services/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type BudgetController struct {
	svc *budgets.BudgetService
}

func NewBudgetController() *BudgetController {
	return &BudgetController{
		svc: budgets.NewBudgetService(database.GetDB(), notifications.NewService()),
	}
}

type createBudgetRequest struct {
	Name             string                `json:"name" validate:"required"`
	FiscalYear       string                `json:"fiscal_year" validate:"required"`
	BudgetType       models.BudgetType     `json:"budget_type" validate:"required"`
	TotalAmount      decimal.Decimal       `json:"total_amount" validate:"required"`
	WarningThreshold *int                  `json:"warning_threshold"`
	FreezeThreshold  *int                  `json:"freeze_threshold"`
	OverrideAllowed  bool                  `json:"override_allowed"`
	CategoryCaps     []budgets.CategoryCap `json:"category_caps"`
}

// CreateBudget creates a draft budget
func (bc *BudgetController) CreateBudget(c *fiber.Ctx) error {
	var req createBudgetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	budget, err := bc.svc.CreateDraft(req.Name, req.FiscalYear, req.BudgetType, req.TotalAmount,
		req.WarningThreshold, req.FreezeThreshold, req.OverrideAllowed, req.CategoryCaps)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "budgets", budget.ID, fiber.Map{
		"name":         budget.Name,
		"fiscal_year":  budget.FiscalYear,
		"total_amount": budget.TotalAmount,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Budget created successfully",
		"budget":  budget,
	})
}

// ApproveBudget activates a draft budget
func (bc *BudgetController) ApproveBudget(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	budget, err := bc.svc.Approve(id, user.ID)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "budgets", budget.ID, fiber.Map{
		"action": "approve",
	})

	return c.JSON(fiber.Map{
		"message": "Budget approved successfully",
		"budget":  budget,
	})
}

// CloseBudget ends an active budget
func (bc *BudgetController) CloseBudget(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	budget, err := bc.svc.Close(id, req.Notes)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "budgets", budget.ID, fiber.Map{
		"action": "close",
		"notes":  req.Notes,
	})

	return c.JSON(fiber.Map{
		"message": "Budget closed successfully",
		"budget":  budget,
	})
}

// CancelBudget voids a draft budget
func (bc *BudgetController) CancelBudget(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	budget, err := bc.svc.CancelBudget(id)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "UPDATE", "budgets", budget.ID, fiber.Map{
		"action": "cancel",
	})

	return c.JSON(fiber.Map{
		"message": "Budget cancelled successfully",
		"budget":  budget,
	})
}

type expenditureRequest struct {
	CategoryID uint            `json:"category_id"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
}

// CheckExpenditure evaluates an expenditure without recording it
func (bc *BudgetController) CheckExpenditure(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	var req expenditureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := bc.svc.Check(id, req.CategoryID, req.Amount)
	if err != nil {
		return respondDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"result": result,
	})
}

// ReserveExpenditure records an expenditure against a budget. A denied
// reservation answers 409 with the decision payload.
func (bc *BudgetController) ReserveExpenditure(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	var req expenditureRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := bc.svc.Reserve(id, req.CategoryID, req.Amount)
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "budget_expenditures", id, fiber.Map{
		"category_id": req.CategoryID,
		"amount":      req.Amount,
		"decision":    result.Decision,
		"reason":      result.Reason,
	})

	if result.Decision == budgets.DecisionDeny {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "Expenditure denied",
			"result":  result,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Expenditure recorded successfully",
		"result":  result,
	})
}

// GetBudget returns a specific budget with its category caps
func (bc *BudgetController) GetBudget(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid budget ID",
		})
	}

	budget, err := bc.svc.Get(id)
	if err != nil {
		return respondDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"budget": budget,
	})
}

// GetBudgets lists budgets, optionally filtered by fiscal year
func (bc *BudgetController) GetBudgets(c *fiber.Ctx) error {
	list, err := bc.svc.List(c.Query("fiscal_year"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch budgets",
		})
	}

	return c.JSON(fiber.Map{
		"budgets": list,
		"total":   len(list),
	})
}
