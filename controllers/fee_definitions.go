package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/promotions"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type FeeDefinitionController struct{}

// GetFeeCategories lists fee categories
func (fc *FeeDefinitionController) GetFeeCategories(c *fiber.Ctx) error {
	var categories []models.FeeCategory
	if err := database.DB.Order("name").Find(&categories).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch fee categories",
		})
	}

	return c.JSON(fiber.Map{
		"categories": categories,
		"total":      len(categories),
	})
}

type createFeeCategoryRequest struct {
	Name        string `json:"name" validate:"required"`
	Code        string `json:"code" validate:"required"`
	Description string `json:"description"`
}

// CreateFeeCategory adds a fee category
func (fc *FeeDefinitionController) CreateFeeCategory(c *fiber.Ctx) error {
	var req createFeeCategoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Name == "" || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Name and code are required",
		})
	}

	var existing models.FeeCategory
	if err := database.DB.Where("name = ? OR code = ?", req.Name, req.Code).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Fee category already exists",
		})
	}

	category := models.FeeCategory{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		Active:      true,
	}
	if err := database.DB.Create(&category).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create fee category",
		})
	}

	middleware.LogActivity(c, "CREATE", "fee_categories", category.ID, fiber.Map{
		"name": category.Name,
		"code": category.Code,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Fee category created successfully",
		"category": category,
	})
}

type feeDefinitionItemRequest struct {
	Name       string          `json:"name" validate:"required"`
	CategoryID uint            `json:"category_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	SortOrder  int             `json:"sort_order"`
}

type createFeeDefinitionRequest struct {
	Name         string                     `json:"name" validate:"required"`
	ClassLevel   string                     `json:"class_level" validate:"required"`
	AcademicYear string                     `json:"academic_year" validate:"required"`
	Term         string                     `json:"term" validate:"required"`
	Items        []feeDefinitionItemRequest `json:"items" validate:"required,min=1"`
}

// CreateFeeDefinition creates the fee structure for a class level and period
func (fc *FeeDefinitionController) CreateFeeDefinition(c *fiber.Ctx) error {
	var req createFeeDefinitionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !promotions.IsKnownClass(req.ClassLevel) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown class level",
		})
	}
	if len(req.Items) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one fee item is required",
		})
	}
	for _, item := range req.Items {
		if !item.Amount.IsPositive() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Fee item amounts must be positive",
			})
		}
	}

	var categoryIDs []uint
	for _, item := range req.Items {
		categoryIDs = append(categoryIDs, item.CategoryID)
	}
	var categoryCount int64
	if err := database.DB.Model(&models.FeeCategory{}).
		Where("id IN ? AND active = ?", categoryIDs, true).
		Count(&categoryCount).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to validate categories",
		})
	}
	// Duplicate category IDs across items are fine, so compare against
	// the distinct set
	distinct := make(map[uint]struct{}, len(categoryIDs))
	for _, id := range categoryIDs {
		distinct[id] = struct{}{}
	}
	if int(categoryCount) != len(distinct) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "One or more fee categories do not exist or are inactive",
		})
	}

	def := models.FeeDefinition{
		Name:         req.Name,
		ClassLevel:   req.ClassLevel,
		AcademicYear: req.AcademicYear,
		Term:         req.Term,
		Active:       true,
	}
	for i, item := range req.Items {
		sortOrder := item.SortOrder
		if sortOrder == 0 {
			sortOrder = i + 1
		}
		def.Items = append(def.Items, models.FeeDefinitionItem{
			Name:       item.Name,
			CategoryID: item.CategoryID,
			Amount:     item.Amount,
			SortOrder:  sortOrder,
		})
	}

	if err := database.DB.Create(&def).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create fee definition",
		})
	}

	middleware.LogActivity(c, "CREATE", "fee_definitions", def.ID, fiber.Map{
		"name":        def.Name,
		"class_level": def.ClassLevel,
		"items":       len(def.Items),
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":        "Fee definition created successfully",
		"fee_definition": def,
	})
}

// GetFeeDefinitions lists fee definitions with optional filters
func (fc *FeeDefinitionController) GetFeeDefinitions(c *fiber.Ctx) error {
	var defs []models.FeeDefinition

	query := database.DB.Model(&models.FeeDefinition{}).Preload("Items.Category")

	if class := c.Query("class_level"); class != "" {
		query = query.Where("class_level = ?", class)
	}
	if year := c.Query("academic_year"); year != "" {
		query = query.Where("academic_year = ?", year)
	}
	if term := c.Query("term"); term != "" {
		query = query.Where("term = ?", term)
	}

	if err := query.Order("id DESC").Find(&defs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch fee definitions",
		})
	}

	return c.JSON(fiber.Map{
		"fee_definitions": defs,
		"total":           len(defs),
	})
}

// GetFeeDefinition returns a fee definition with its items
func (fc *FeeDefinitionController) GetFeeDefinition(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid fee definition ID",
		})
	}

	var def models.FeeDefinition
	if err := database.DB.Preload("Items.Category").First(&def, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Fee definition not found",
		})
	}

	return c.JSON(fiber.Map{
		"fee_definition": def,
	})
}

// DeactivateFeeDefinition retires a fee definition so new invoices cannot
// use it. Invoices already generated from it are untouched.
func (fc *FeeDefinitionController) DeactivateFeeDefinition(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid fee definition ID",
		})
	}

	var def models.FeeDefinition
	if err := database.DB.First(&def, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Fee definition not found",
		})
	}

	if err := database.DB.Model(&def).Update("active", false).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to deactivate fee definition",
		})
	}

	middleware.LogActivity(c, "UPDATE", "fee_definitions", def.ID, fiber.Map{
		"action": "deactivate",
	})

	return c.JSON(fiber.Map{
		"message":        "Fee definition deactivated successfully",
		"fee_definition": def,
	})
}
