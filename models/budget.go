package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BudgetStatus string

const (
	BudgetStatusDraft     BudgetStatus = "draft"
	BudgetStatusActive    BudgetStatus = "active"
	BudgetStatusClosed    BudgetStatus = "closed"
	BudgetStatusCancelled BudgetStatus = "cancelled"
)

type BudgetType string

const (
	BudgetTypeAnnual  BudgetType = "annual"
	BudgetTypeTerm    BudgetType = "term"
	BudgetTypeMonthly BudgetType = "monthly"
	BudgetTypeProject BudgetType = "project"
	BudgetTypeSpecial BudgetType = "special"
)

// Budget is a spending envelope for a fiscal period. RemainingAmount always
// equals TotalAmount - AllocatedAmount. UtilizedAmount moves only through the
// atomic reserve operation; it may exceed AllocatedAmount only via an
// explicit, flagged override.
type Budget struct {
	BaseModel
	Name             string          `json:"name" gorm:"size:255;not null"`
	FiscalYear       string          `json:"fiscal_year" gorm:"size:20;not null"`
	BudgetType       BudgetType      `json:"budget_type" gorm:"size:50;not null"`
	TotalAmount      decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null"`
	AllocatedAmount  decimal.Decimal `json:"allocated_amount" gorm:"type:decimal(12,2);not null"`
	UtilizedAmount   decimal.Decimal `json:"utilized_amount" gorm:"type:decimal(12,2);not null"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount" gorm:"type:decimal(12,2);not null"`
	WarningThreshold *int            `json:"warning_threshold,omitempty"` // percent of total
	FreezeThreshold  *int            `json:"freeze_threshold,omitempty"`  // percent of total
	OverrideAllowed  bool            `json:"override_allowed" gorm:"default:false"`
	Status           BudgetStatus    `json:"status" gorm:"size:50;not null;default:'draft'"`
	ApprovedByID     *uint           `json:"approved_by_id,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	ClosureNotes     string          `json:"closure_notes,omitempty" gorm:"type:text"`
	Version          int             `json:"version" gorm:"not null;default:1"`

	// Relationships
	CategoryAllocations []BudgetCategoryAllocation `json:"category_allocations,omitempty" gorm:"foreignKey:BudgetID"`
}

// BudgetCategoryAllocation caps spending for one category inside a budget.
type BudgetCategoryAllocation struct {
	BaseModel
	BudgetID       uint            `json:"budget_id" gorm:"not null;uniqueIndex:idx_budget_category"`
	CategoryID     uint            `json:"category_id" gorm:"not null;uniqueIndex:idx_budget_category"`
	CapAmount      decimal.Decimal `json:"cap_amount" gorm:"type:decimal(12,2);not null"`
	UtilizedAmount decimal.Decimal `json:"utilized_amount" gorm:"type:decimal(12,2);not null"`

	// Relationships
	Category FeeCategory `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}
