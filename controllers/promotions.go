package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/services/promotions"

	"github.com/gofiber/fiber/v2"
)

type PromotionController struct {
	svc *promotions.PromotionService
}

func NewPromotionController() *PromotionController {
	return &PromotionController{svc: promotions.NewPromotionService(database.GetDB())}
}

type promoteRequest struct {
	StudentID      uint   `json:"student_id" validate:"required"`
	ToClass        string `json:"to_class" validate:"required"`
	ToAcademicYear string `json:"to_academic_year" validate:"required"`
	ToTerm         string `json:"to_term" validate:"required"`
	Remarks        string `json:"remarks"`
}

// PromoteStudent advances a student one class and carries outstanding
// balances forward
func (pc *PromotionController) PromoteStudent(c *fiber.Ctx) error {
	var req promoteRequest
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

	promotion, err := pc.svc.Promote(promotions.PromoteRequest{
		StudentID:      req.StudentID,
		ToClass:        req.ToClass,
		ToAcademicYear: req.ToAcademicYear,
		ToTerm:         req.ToTerm,
		Remarks:        req.Remarks,
		PromotedByID:   user.ID,
	})
	if err != nil {
		return respondDomainError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "promotions", promotion.ID, fiber.Map{
		"student_id": promotion.StudentID,
		"from_class": promotion.FromClass,
		"to_class":   promotion.ToClass,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "Student promoted successfully",
		"promotion": promotion,
	})
}

// GetPromotionHistory returns a student's promotion history
func (pc *PromotionController) GetPromotionHistory(c *fiber.Ctx) error {
	studentID, err := parseIDParam(c, "student_id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid student ID",
		})
	}

	history, err := pc.svc.History(studentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch promotion history",
		})
	}

	return c.JSON(fiber.Map{
		"student_id": studentID,
		"promotions": history,
		"total":      len(history),
	})
}

// GetTransfer returns one balance transfer with its details
func (pc *PromotionController) GetTransfer(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid transfer ID",
		})
	}

	transfer, err := pc.svc.GetTransfer(id)
	if err != nil {
		return respondDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"transfer": transfer,
	})
}

// GetStudentTransfers lists a student's balance transfers
func (pc *PromotionController) GetStudentTransfers(c *fiber.Ctx) error {
	studentID, err := parseIDParam(c, "student_id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid student ID",
		})
	}

	transfers, err := pc.svc.TransfersForStudent(studentID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch transfers",
		})
	}

	return c.JSON(fiber.Map{
		"student_id": studentID,
		"transfers":  transfers,
		"total":      len(transfers),
	})
}
