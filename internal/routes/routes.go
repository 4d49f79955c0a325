package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/dastarxon/internal/config"
	"github.com/example/dastarxon/internal/handlers"
	"github.com/example/dastarxon/internal/middleware"
	"github.com/example/dastarxon/internal/services"
)

// Register wires up all HTTP routes. Services are constructed here and
// injected into the handlers; nothing self-starts on import.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, log *zap.Logger) {
	telegramService := services.NewTelegramService(log, cfg.TelegramBotToken, cfg.TelegramAdminChat)
	paymeService := services.NewPaymeService(db, log, telegramService, cfg.PaymeMerchantID, cfg.PaymeCheckoutURL)
	cardService := services.NewCardService(db, log, cfg.PaymeCardAPIURL, cfg.PaymeMerchantID, cfg.PaymeMerchantKey)

	authHandler := handlers.NewAuthHandler(db, cfg)
	orderHandler := handlers.NewOrderHandler(db)
	paymeHandler := handlers.NewPaymeHandler(db, paymeService, cardService, log)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Payme payment routes. /pay is called by the provider and gated by
	// the merchant key; checkout and card are end-user calls.
	payme := api.Group("/payme")
	payme.Get("/transactions", paymeHandler.ListTransactions)
	payme.Post("/pay", middleware.PaymeAuthMiddleware(cfg.PaymeMerchantKey), paymeHandler.Pay)
	payme.Post("/checkout", middleware.AuthMiddleware(cfg), paymeHandler.Checkout)
	payme.Post("/card", middleware.AuthMiddleware(cfg), paymeHandler.Card)

	// Protected routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
}
