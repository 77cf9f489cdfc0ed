package routes

import (
	"schoolledger_go/controllers"
	"schoolledger_go/middleware"
	"schoolledger_go/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// SetupRoutes configures all application routes
func SetupRoutes(app *fiber.App, wsHub *websocket.Hub) {
	authController := &controllers.AuthController{}
	studentController := &controllers.StudentController{}
	feeController := &controllers.FeeDefinitionController{}
	feeImportController := &controllers.FeeImportController{}
	invoiceController := controllers.NewInvoiceController()
	paymentController := controllers.NewPaymentController()
	budgetController := controllers.NewBudgetController()
	promotionController := controllers.NewPromotionController()
	notificationController := &controllers.NotificationController{}
	logController := controllers.NewLogController()
	healthController := &controllers.HealthController{}
	wsController := controllers.NewWebSocketController(wsHub)

	api := app.Group("/api")

	// Public routes (no authentication required)
	api.Get("/health", healthController.GetHealthStatus)

	// Authentication routes
	auth := api.Group("/auth")
	auth.Post("/login", authController.Login)

	// Protected routes
	protected := api.Group("/", middleware.JWTMiddleware())

	protected.Get("/profile", authController.GetProfile)
	protected.Put("/profile/password", authController.ChangePassword)
	protected.Post("/auth/logout", authController.Logout)

	// User management (admin/owner only)
	users := protected.Group("/users", middleware.RequireOwnerOrAdmin())
	users.Post("/", authController.Register)

	// Student management
	students := protected.Group("/students")
	students.Get("/", middleware.RequireBursarOrAbove(), studentController.GetStudents)
	students.Get("/:id", middleware.RequireBursarOrAbove(), studentController.GetStudent)
	students.Post("/", middleware.RequireBursarOrAbove(), studentController.CreateStudent)
	students.Put("/:id", middleware.RequireBursarOrAbove(), studentController.UpdateStudent)

	students.Get("/:student_id/statement", middleware.RequireBursarOrAbove(), invoiceController.GetStatement)
	students.Get("/:student_id/promotions", middleware.RequireBursarOrAbove(), promotionController.GetPromotionHistory)
	students.Get("/:student_id/transfers", middleware.RequireBursarOrAbove(), promotionController.GetStudentTransfers)

	// Fee structure management
	fees := protected.Group("/fees", middleware.RequireBursarOrAbove())
	fees.Get("/categories", feeController.GetFeeCategories)
	fees.Post("/categories", middleware.RequireOwnerOrAdmin(), feeController.CreateFeeCategory)
	fees.Get("/definitions", feeController.GetFeeDefinitions)
	fees.Get("/definitions/:id", feeController.GetFeeDefinition)
	fees.Post("/definitions", middleware.RequireOwnerOrAdmin(), feeController.CreateFeeDefinition)
	fees.Patch("/definitions/:id/deactivate", middleware.RequireOwnerOrAdmin(), feeController.DeactivateFeeDefinition)

	// Bulk import
	api.Post("/import/fee-items", middleware.JWTMiddleware(), middleware.RequireOwnerOrAdmin(), feeImportController.Import)

	// Invoice management
	invoices := protected.Group("/invoices", middleware.RequireBursarOrAbove())
	invoices.Post("/generate", invoiceController.GenerateInvoice)
	invoices.Get("/", invoiceController.GetInvoices)
	invoices.Get("/:id", invoiceController.GetInvoice)
	invoices.Patch("/:id/cancel", invoiceController.CancelInvoice)
	invoices.Patch("/:id/due-date", invoiceController.UpdateDueDate)

	// Payment management
	payments := protected.Group("/payments", middleware.RequireBursarOrAbove())
	payments.Post("/", paymentController.ProcessPayment)
	payments.Get("/", paymentController.GetPayments)
	payments.Get("/:id", paymentController.GetPayment)
	payments.Patch("/:id/verify", paymentController.VerifyPayment)
	payments.Patch("/:id/cancel", paymentController.CancelPayment)
	payments.Patch("/:id/refund", paymentController.RefundPayment)

	// Budget management
	budgets := protected.Group("/budgets", middleware.RequireBursarOrAbove())
	budgets.Post("/", middleware.RequireOwnerOrAdmin(), budgetController.CreateBudget)
	budgets.Get("/", budgetController.GetBudgets)
	budgets.Get("/:id", budgetController.GetBudget)
	budgets.Patch("/:id/approve", middleware.RequireOwnerOrAdmin(), budgetController.ApproveBudget)
	budgets.Patch("/:id/close", middleware.RequireOwnerOrAdmin(), budgetController.CloseBudget)
	budgets.Patch("/:id/cancel", middleware.RequireOwnerOrAdmin(), budgetController.CancelBudget)
	budgets.Post("/:id/check", budgetController.CheckExpenditure)
	budgets.Post("/:id/reserve", budgetController.ReserveExpenditure)

	// Promotions
	promotions := protected.Group("/promotions", middleware.RequireBursarOrAbove())
	promotions.Post("/", promotionController.PromoteStudent)
	protected.Get("/transfers/:id", middleware.RequireBursarOrAbove(), promotionController.GetTransfer)

	// Notification management
	notifications := protected.Group("/notifications")
	notifications.Get("/", notificationController.GetNotifications)
	notifications.Get("/unread-count", notificationController.GetUnreadCount)
	notifications.Post("/", middleware.RequireOwnerOrAdmin(), notificationController.CreateNotification)
	notifications.Patch("/:id/read", notificationController.MarkAsRead)
	notifications.Patch("/mark-all-read", notificationController.MarkAllAsRead)

	// Log management (admin/owner only)
	logs := protected.Group("/logs", middleware.RequireOwnerOrAdmin())
	logs.Get("/", logController.GetLogs)
	logs.Get("/stats", logController.GetLogStats)
	logs.Get("/archives", logController.GetArchives)
	logs.Get("/archives/:id/download", logController.DownloadArchive)
	logs.Get("/:id", logController.GetLog)
	logs.Post("/flush-cache", logController.FlushCachedLogs)
	logs.Post("/archive", logController.ArchiveLogs)

	// WebSocket routes
	ws := protected.Group("/ws")
	ws.Get("/stats", middleware.RequireOwnerOrAdmin(), wsController.GetWebSocketStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", wsController.WebSocketHandler())
}
