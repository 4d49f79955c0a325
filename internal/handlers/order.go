package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/dastarxon/internal/middleware"
	"github.com/example/dastarxon/internal/models"
	"github.com/example/dastarxon/internal/utils"
)

// OrderHandler manages order endpoints.
type OrderHandler struct {
	db *gorm.DB
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(db *gorm.DB) *OrderHandler {
	return &OrderHandler{db: db}
}

type orderItemRequest struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Discount    int64  `json:"discount"`
	VATPercent  int    `json:"vat_percent"`
	Code        string `json:"code"`
	PackageCode string `json:"package_code"`
}

type createOrderRequest struct {
	Currency string             `json:"currency"`
	Notes    string             `json:"notes"`
	Items    []orderItemRequest `json:"items"`
}

// CreateOrder allows authenticated users to place an order. The total
// is computed server-side from the items in minor units.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Items) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "order must contain at least one item")
	}

	order := models.Order{
		UserID:      userID,
		OrderNumber: fmt.Sprintf("ORD-%d", time.Now().UnixNano()),
		Status:      "pending",
		PlacedAt:    time.Now(),
		Currency:    req.Currency,
		Notes:       req.Notes,
	}
	if order.Currency == "" {
		order.Currency = "UZS"
	}

	for _, item := range req.Items {
		if item.Title == "" || item.Price <= 0 || item.Count <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid order item")
		}
		order.Items = append(order.Items, models.OrderItem{
			Title:       item.Title,
			Price:       item.Price,
			Count:       item.Count,
			Discount:    item.Discount,
			VATPercent:  item.VATPercent,
			Code:        item.Code,
			PackageCode: item.PackageCode,
		})
		order.Price += item.Price*int64(item.Count) - item.Discount
	}

	if err := h.db.Create(&order).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

// GetOrder returns one of the caller's orders with its items.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid order id")
	}

	var order models.Order
	if err := h.db.Preload("Items").
		First(&order, "id = ? AND user_id = ?", orderID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}

	return c.JSON(order)
}

// ListOrders returns the caller's orders, newest first.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)

	var total int64
	if err := h.db.Model(&models.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return err
	}

	var orders []models.Order
	if err := h.db.Preload("Items").
		Where("user_id = ?", userID).
		Order("placed_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&orders).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}
