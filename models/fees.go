package models

import "github.com/shopspring/decimal"

// FeeDefinition is the fee structure for one class level and period.
// Invoices snapshot its items at generation time; later edits never touch
// already-issued invoices.
type FeeDefinition struct {
	BaseModel
	Name         string `json:"name" gorm:"size:255;not null"`
	ClassLevel   string `json:"class_level" gorm:"size:50;not null"`
	AcademicYear string `json:"academic_year" gorm:"size:20;not null"`
	Term         string `json:"term" gorm:"size:20;not null"`
	Active       bool   `json:"active" gorm:"default:true"`

	// Relationships
	Items []FeeDefinitionItem `json:"items,omitempty" gorm:"foreignKey:FeeDefinitionID"`
}

// FeeDefinitionItem is one chargeable line of a fee definition.
type FeeDefinitionItem struct {
	BaseModel
	FeeDefinitionID uint            `json:"fee_definition_id" gorm:"not null;index"`
	Name            string          `json:"name" gorm:"size:255;not null"`
	CategoryID      uint            `json:"category_id" gorm:"not null"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	SortOrder       int             `json:"sort_order" gorm:"default:1"`

	// Relationships
	Category FeeCategory `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}
