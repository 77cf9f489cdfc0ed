package controllers

import (
	"schoolledger_go/database"
	"schoolledger_go/middleware"
	"schoolledger_go/models"
	"schoolledger_go/services/promotions"
	"schoolledger_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type StudentController struct{}

// GetStudents returns students with optional filters
func (sc *StudentController) GetStudents(c *fiber.Ctx) error {
	var students []models.Student

	query := database.DB.Model(&models.Student{}).Preload("User")

	if class := c.Query("class"); class != "" {
		query = query.Where("current_class = ?", class)
	}
	if year := c.Query("academic_year"); year != "" {
		query = query.Where("academic_year = ?", year)
	}

	if err := query.Find(&students).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch students",
		})
	}

	return c.JSON(fiber.Map{
		"students": students,
		"total":    len(students),
	})
}

// GetStudent returns a specific student by ID
func (sc *StudentController) GetStudent(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid student ID",
		})
	}

	var student models.Student
	if err := database.DB.Preload("User").First(&student, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Student not found",
		})
	}

	return c.JSON(fiber.Map{
		"student": student,
	})
}

type createStudentRequest struct {
	Username       string `json:"username" validate:"required"`
	Password       string `json:"password" validate:"required,min=6"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name" validate:"required"`
	LastName       string `json:"last_name" validate:"required"`
	Gender         string `json:"gender"`
	GuardianName   string `json:"guardian_name"`
	GuardianPhone  string `json:"guardian_phone"`
	GuardianLineID string `json:"guardian_line_id"`
	AdmissionNo    string `json:"admission_no" validate:"required"`
	CurrentClass   string `json:"current_class" validate:"required"`
	AcademicYear   string `json:"academic_year" validate:"required"`
	Term           string `json:"term" validate:"required"`
}

// CreateStudent enrols a student together with their login account
func (sc *StudentController) CreateStudent(c *fiber.Ctx) error {
	var req createStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// The admission number backs a unique index, so an empty one would
	// collide with the next empty one.
	if req.Username == "" || req.Password == "" || req.AdmissionNo == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Username, password and admission number are required",
		})
	}
	if !promotions.IsKnownClass(req.CurrentClass) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown class level",
		})
	}

	var existing models.Student
	if err := database.DB.Where("admission_no = ?", req.AdmissionNo).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Admission number already exists",
		})
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	user := models.User{
		Username: req.Username,
		Password: hashedPassword,
		Email:    req.Email,
		Role:     "student",
		Status:   "active",
	}
	student := models.Student{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Gender:         req.Gender,
		GuardianName:   req.GuardianName,
		GuardianPhone:  req.GuardianPhone,
		GuardianLineID: req.GuardianLineID,
		AdmissionNo:    req.AdmissionNo,
		CurrentClass:   req.CurrentClass,
		AcademicYear:   req.AcademicYear,
		Term:           req.Term,
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		student.UserID = user.ID
		return tx.Create(&student).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create student",
		})
	}

	middleware.LogActivity(c, "CREATE", "students", student.ID, fiber.Map{
		"admission_no": student.AdmissionNo,
		"class":        student.CurrentClass,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Student created successfully",
		"student": student,
	})
}

type updateStudentRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Gender         string `json:"gender"`
	GuardianName   string `json:"guardian_name"`
	GuardianPhone  string `json:"guardian_phone"`
	GuardianLineID string `json:"guardian_line_id"`
}

// UpdateStudent edits a student's profile. Class and period fields are
// excluded; those move only through promotions.
func (sc *StudentController) UpdateStudent(c *fiber.Ctx) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid student ID",
		})
	}

	var student models.Student
	if err := database.DB.First(&student, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Student not found",
		})
	}

	var req updateStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := database.DB.Model(&student).Updates(models.Student{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Gender:         req.Gender,
		GuardianName:   req.GuardianName,
		GuardianPhone:  req.GuardianPhone,
		GuardianLineID: req.GuardianLineID,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update student",
		})
	}

	middleware.LogActivity(c, "UPDATE", "students", student.ID, req)

	return c.JSON(fiber.Map{
		"message": "Student updated successfully",
		"student": student,
	})
}
