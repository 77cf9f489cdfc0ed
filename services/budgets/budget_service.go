package budgets

import (
	"errors"
	"time"

	"schoolledger_go/errs"
	"schoolledger_go/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var nowFunc = time.Now

// Error codes surfaced by the budget service.
const (
	CodeBudgetNotFound         = "BudgetNotFound"
	CodeInvalidBudgetState     = "InvalidBudgetState"
	CodeInvalidAllocation      = "InvalidAllocation"
	CodeConcurrentModification = "ConcurrentModification"
)

// Decision is the outcome of a budget check or reservation. DENY is a
// normal decision value, not an error: the expenditure was evaluated and
// rejected by policy.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionWarn  Decision = "WARN"
	DecisionDeny  Decision = "DENY"
)

// Deny reason codes.
const (
	ReasonBudgetFrozen               = "BudgetFrozen"
	ReasonBudgetNotActive            = "BudgetNotActive"
	ReasonBudgetExceeded             = "BudgetExceeded"
	ReasonCategoryAllocationExceeded = "CategoryAllocationExceeded"
)

// ReserveResult reports what a check or reservation decided and why.
type ReserveResult struct {
	Decision       Decision        `json:"decision"`
	Reason         string          `json:"reason,omitempty"`
	UtilizedAfter  decimal.Decimal `json:"utilized_after"`
	UtilizedPct    int             `json:"utilized_pct"`
	RemainingAfter decimal.Decimal `json:"remaining_after"`
}

// Notifier receives threshold-crossing events. The notifications service
// implements it; tests swap in a recorder.
type Notifier interface {
	BudgetWarning(budget *models.Budget, utilizedPct int)
}

type noopNotifier struct{}

func (noopNotifier) BudgetWarning(*models.Budget, int) {}

// BudgetService owns the budget lifecycle and the atomic reserve operation
// that moves utilized amounts. Reservations check and record in one
// transaction; two racing reservations never both pass a limit check.
type BudgetService struct {
	db       *gorm.DB
	notifier Notifier
}

func NewBudgetService(db *gorm.DB, notifier Notifier) *BudgetService {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &BudgetService{db: db, notifier: notifier}
}

// CategoryCap is a per-category spending cap inside a new budget.
type CategoryCap struct {
	CategoryID uint            `json:"category_id"`
	CapAmount  decimal.Decimal `json:"cap_amount"`
}

// CreateDraft creates a budget in draft state. Category caps may not sum
// to more than the budget total.
func (s *BudgetService) CreateDraft(name, fiscalYear string, budgetType models.BudgetType, total decimal.Decimal, warnPct, freezePct *int, overrideAllowed bool, caps []CategoryCap) (*models.Budget, error) {
	if name == "" || fiscalYear == "" {
		return nil, errs.Validation(CodeInvalidAllocation, "name and fiscal year are required")
	}
	if !total.IsPositive() {
		return nil, errs.Validation(CodeInvalidAllocation, "budget total must be positive")
	}
	if warnPct != nil && (*warnPct <= 0 || *warnPct > 100) {
		return nil, errs.Validation(CodeInvalidAllocation, "warning threshold must be within 1..100")
	}
	if freezePct != nil && (*freezePct <= 0 || *freezePct > 100) {
		return nil, errs.Validation(CodeInvalidAllocation, "freeze threshold must be within 1..100")
	}
	if warnPct != nil && freezePct != nil && *warnPct > *freezePct {
		return nil, errs.Validation(CodeInvalidAllocation, "warning threshold cannot exceed freeze threshold")
	}

	allocated := decimal.Zero
	rows := make([]models.BudgetCategoryAllocation, 0, len(caps))
	seen := make(map[uint]bool, len(caps))
	for _, c := range caps {
		if seen[c.CategoryID] {
			return nil, errs.Validation(CodeInvalidAllocation, "duplicate cap for category %d", c.CategoryID)
		}
		seen[c.CategoryID] = true
		if !c.CapAmount.IsPositive() {
			return nil, errs.Validation(CodeInvalidAllocation, "cap for category %d must be positive", c.CategoryID)
		}
		allocated = allocated.Add(c.CapAmount)
		rows = append(rows, models.BudgetCategoryAllocation{
			CategoryID:     c.CategoryID,
			CapAmount:      c.CapAmount,
			UtilizedAmount: decimal.Zero,
		})
	}
	if allocated.GreaterThan(total) {
		return nil, errs.Validation(CodeInvalidAllocation,
			"category caps %s exceed budget total %s", allocated, total)
	}

	budget := &models.Budget{
		Name:                name,
		FiscalYear:          fiscalYear,
		BudgetType:          budgetType,
		TotalAmount:         total,
		AllocatedAmount:     allocated,
		UtilizedAmount:      decimal.Zero,
		RemainingAmount:     total.Sub(allocated),
		WarningThreshold:    warnPct,
		FreezeThreshold:     freezePct,
		OverrideAllowed:     overrideAllowed,
		Status:              models.BudgetStatusDraft,
		Version:             1,
		CategoryAllocations: rows,
	}
	if err := s.db.Create(budget).Error; err != nil {
		return nil, err
	}
	return budget, nil
}

// Approve activates a draft budget. Only active budgets accept reservations.
func (s *BudgetService) Approve(budgetID, approvedBy uint) (*models.Budget, error) {
	return s.transition(budgetID, models.BudgetStatusDraft, models.BudgetStatusActive,
		func(b *models.Budget, fields map[string]interface{}) error {
			now := nowFunc()
			fields["approved_by_id"] = approvedBy
			fields["approved_at"] = now
			b.ApprovedByID = &approvedBy
			b.ApprovedAt = &now
			return nil
		})
}

// Close ends an active budget. Reservations against a closed budget are
// denied; the utilization history stays queryable.
func (s *BudgetService) Close(budgetID uint, notes string) (*models.Budget, error) {
	return s.transition(budgetID, models.BudgetStatusActive, models.BudgetStatusClosed,
		func(b *models.Budget, fields map[string]interface{}) error {
			fields["closure_notes"] = notes
			b.ClosureNotes = notes
			return nil
		})
}

// CancelBudget voids a draft that was never activated.
func (s *BudgetService) CancelBudget(budgetID uint) (*models.Budget, error) {
	return s.transition(budgetID, models.BudgetStatusDraft, models.BudgetStatusCancelled, nil)
}

func (s *BudgetService) transition(budgetID uint, from, to models.BudgetStatus, mutate func(*models.Budget, map[string]interface{}) error) (*models.Budget, error) {
	var budget models.Budget
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&budget, budgetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound(CodeBudgetNotFound, "budget %d not found", budgetID)
			}
			return err
		}
		if budget.Status != from {
			return errs.Conflict(CodeInvalidBudgetState,
				"budget %q is %s, expected %s", budget.Name, budget.Status, from)
		}

		fields := map[string]interface{}{
			"status":  to,
			"version": budget.Version + 1,
		}
		if mutate != nil {
			if err := mutate(&budget, fields); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Budget{}).
			Where("id = ? AND version = ?", budget.ID, budget.Version).
			Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "budget %d changed concurrently", budget.ID)
		}
		budget.Status = to
		budget.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// Check evaluates an expenditure without recording it. The answer is only
// advisory; a later Reserve re-evaluates against current state.
func (s *BudgetService) Check(budgetID, categoryID uint, amount decimal.Decimal) (*ReserveResult, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation(CodeInvalidAllocation, "expenditure amount must be positive")
	}
	var result *ReserveResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		r, _, _, err := s.evaluate(tx, budgetID, categoryID, amount)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reserve evaluates and records an expenditure atomically. A DENY decision
// leaves all amounts untouched. A WARN records the expenditure and fires
// the notifier after commit.
func (s *BudgetService) Reserve(budgetID, categoryID uint, amount decimal.Decimal) (*ReserveResult, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation(CodeInvalidAllocation, "expenditure amount must be positive")
	}

	var (
		result *ReserveResult
		warned *models.Budget
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		r, budget, alloc, err := s.evaluate(tx, budgetID, categoryID, amount)
		if err != nil {
			return err
		}
		result = r
		if r.Decision == DecisionDeny {
			return nil
		}

		if alloc != nil {
			if err := tx.Model(&models.BudgetCategoryAllocation{}).
				Where("id = ?", alloc.ID).
				Update("utilized_amount", alloc.UtilizedAmount.Add(amount)).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&models.Budget{}).
			Where("id = ? AND version = ?", budget.ID, budget.Version).
			Updates(map[string]interface{}{
				"utilized_amount": r.UtilizedAfter,
				"version":         budget.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.Concurrency(CodeConcurrentModification, "budget %d changed concurrently", budget.ID)
		}
		if r.Decision == DecisionWarn {
			budget.UtilizedAmount = r.UtilizedAfter
			warned = budget
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if warned != nil {
		s.notifier.BudgetWarning(warned, result.UtilizedPct)
	}
	return result, nil
}

// evaluate loads current state and decides, without writing. Caller holds
// the transaction.
func (s *BudgetService) evaluate(tx *gorm.DB, budgetID, categoryID uint, amount decimal.Decimal) (*ReserveResult, *models.Budget, *models.BudgetCategoryAllocation, error) {
	var budget models.Budget
	if err := tx.First(&budget, budgetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, errs.NotFound(CodeBudgetNotFound, "budget %d not found", budgetID)
		}
		return nil, nil, nil, err
	}

	utilizedAfter := budget.UtilizedAmount.Add(amount)
	// Threshold comparisons use the exact prospective percentage; rounding
	// it first would let spending slip past a threshold by up to half a
	// percent. The rounded value is kept for display only.
	exactPct := decimal.Zero
	if !budget.TotalAmount.IsZero() {
		exactPct = utilizedAfter.Div(budget.TotalAmount).Mul(decimal.NewFromInt(100))
	}
	result := &ReserveResult{
		UtilizedAfter:  utilizedAfter,
		UtilizedPct:    pctOf(utilizedAfter, budget.TotalAmount),
		RemainingAfter: budget.TotalAmount.Sub(utilizedAfter),
	}

	if budget.Status != models.BudgetStatusActive {
		result.Decision = DecisionDeny
		result.Reason = ReasonBudgetNotActive
		return result, &budget, nil, nil
	}

	// Category cap first: a capped category denies even when the budget as
	// a whole has headroom.
	var alloc *models.BudgetCategoryAllocation
	if categoryID != 0 {
		var row models.BudgetCategoryAllocation
		err := tx.Where("budget_id = ? AND category_id = ?", budgetID, categoryID).First(&row).Error
		if err == nil {
			alloc = &row
			if row.UtilizedAmount.Add(amount).GreaterThan(row.CapAmount) {
				result.Decision = DecisionDeny
				result.Reason = ReasonCategoryAllocationExceeded
				return result, &budget, nil, nil
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, err
		}
	}

	// The freeze threshold is a hard stop; the override flag does not lift it.
	if budget.FreezeThreshold != nil && exactPct.GreaterThanOrEqual(decimal.NewFromInt(int64(*budget.FreezeThreshold))) {
		result.Decision = DecisionDeny
		result.Reason = ReasonBudgetFrozen
		return result, &budget, nil, nil
	}
	if utilizedAfter.GreaterThan(budget.TotalAmount) {
		if !budget.OverrideAllowed {
			result.Decision = DecisionDeny
			result.Reason = ReasonBudgetExceeded
			return result, &budget, nil, nil
		}
		// Override lets the spend through, but flagged so finance hears
		// about it.
		result.Decision = DecisionWarn
		result.Reason = ReasonBudgetExceeded
		return result, &budget, alloc, nil
	}

	if budget.WarningThreshold != nil && exactPct.GreaterThanOrEqual(decimal.NewFromInt(int64(*budget.WarningThreshold))) {
		result.Decision = DecisionWarn
	} else {
		result.Decision = DecisionAllow
	}
	return result, &budget, alloc, nil
}

// Get loads a budget with its category caps.
func (s *BudgetService) Get(budgetID uint) (*models.Budget, error) {
	var budget models.Budget
	if err := s.db.Preload("CategoryAllocations.Category").First(&budget, budgetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound(CodeBudgetNotFound, "budget %d not found", budgetID)
		}
		return nil, err
	}
	return &budget, nil
}

// List returns budgets for one fiscal year, newest first.
func (s *BudgetService) List(fiscalYear string) ([]models.Budget, error) {
	var out []models.Budget
	q := s.db.Preload("CategoryAllocations")
	if fiscalYear != "" {
		q = q.Where("fiscal_year = ?", fiscalYear)
	}
	err := q.Order("id DESC").Find(&out).Error
	return out, err
}

// pctOf returns utilized/total as a whole percent, rounded half up.
func pctOf(utilized, total decimal.Decimal) int {
	if total.IsZero() {
		return 0
	}
	pct := utilized.Div(total).Mul(decimal.NewFromInt(100)).Round(0)
	return int(pct.IntPart())
}
