package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/dastarxon/internal/middleware"
	"github.com/example/dastarxon/internal/models"
	"github.com/example/dastarxon/internal/services"
	"github.com/example/dastarxon/internal/utils"
)

// PaymeHandler exposes the merchant RPC endpoint plus the user-facing
// checkout and card endpoints that reuse the same service.
type PaymeHandler struct {
	db    *gorm.DB
	payme *services.PaymeService
	cards *services.CardService
	log   *zap.Logger
}

func NewPaymeHandler(db *gorm.DB, payme *services.PaymeService, cards *services.CardService, log *zap.Logger) *PaymeHandler {
	return &PaymeHandler{db: db, payme: payme, cards: cards, log: log}
}

type paymeRPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     any             `json:"id"`
}

// Pay dispatches Payme JSON-RPC calls on /payme/pay. Domain errors are
// rendered as the provider's error envelope with HTTP 200; anything
// else falls through to the generic error handler.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	var req paymeRPCRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	h.log.Debug("payme rpc call",
		zap.String("method", req.Method),
		zap.Any("id", req.ID))

	ctx := c.UserContext()

	switch req.Method {
	case services.MethodCheckPerformTransaction:
		var params services.CheckPerformParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid params")
		}
		result, err := h.payme.CheckPerformTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case services.MethodCheckTransaction:
		var params services.CheckTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
			return writePaymeError(c, &services.TransactionError{
				Info: services.PaymeErrorTransactionNotFound, ID: req.ID,
			})
		}
		result, err := h.payme.CheckTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case services.MethodCreateTransaction:
		var params services.CreateTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
			return writePaymeError(c, &services.TransactionError{
				Info: services.PaymeErrorTransactionNotFound, ID: req.ID,
			})
		}
		result, err := h.payme.CreateTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case services.MethodPerformTransaction:
		var params services.PerformTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
			return writePaymeError(c, &services.TransactionError{
				Info: services.PaymeErrorTransactionNotFound, ID: req.ID,
			})
		}
		result, err := h.payme.PerformTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case services.MethodCancelTransaction:
		var params services.CancelTransactionParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
			return writePaymeError(c, &services.TransactionError{
				Info: services.PaymeErrorTransactionNotFound, ID: req.ID,
			})
		}
		result, err := h.payme.CancelTransaction(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": result, "id": req.ID})
	case services.MethodGetStatement:
		var params services.StatementParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid params")
		}
		result, err := h.payme.GetStatement(ctx, params, req.ID)
		if err != nil {
			return writePaymeError(c, err)
		}
		return c.JSON(fiber.Map{"result": fiber.Map{"transactions": result}, "id": req.ID})
	default:
		// Payme expects a well-formed error envelope, not a dropped
		// request, for methods outside the protocol.
		return writePaymeError(c, &services.TransactionError{
			Info: services.PaymeErrorMethodNotFound, ID: req.ID,
		})
	}
}

type paymeCheckoutRequest struct {
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
}

// Checkout returns a hosted payment page URL for one of the caller's
// own orders.
func (h *PaymeHandler) Checkout(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req paymeCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ProductID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "product_id is required")
	}
	if req.Amount <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid amount")
	}

	var order models.Order
	if err := h.db.First(&order, "id = ? AND user_id = ?", req.ProductID, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "order not found")
		}
		return err
	}
	if order.Price != req.Amount {
		return fiber.NewError(fiber.StatusBadRequest, "amount does not match order price")
	}

	url := h.payme.CheckoutURL(userID.String(), order.ID.String(), req.Amount)
	return c.JSON(fiber.Map{"url": url})
}

type paymeCardRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Card proxies card tokenization and receipt calls to Payme's REST API
// on behalf of the authenticated user.
func (h *PaymeHandler) Card(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req paymeCardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Method == "" {
		return fiber.NewError(fiber.StatusBadRequest, "method is required")
	}

	result, err := h.cards.Call(c.UserContext(), userID, req.Method, req.Params)
	if err != nil {
		var apiErr *services.CardAPIError
		if errors.As(err, &apiErr) {
			return c.JSON(fiber.Map{"error": apiErr})
		}
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	return c.JSON(fiber.Map{"result": result})
}

// ListTransactions returns Payme transaction history, optionally filtered.
func (h *PaymeHandler) ListTransactions(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.PaymeTransaction{})

	if provider := strings.TrimSpace(c.Query("provider")); provider != "" {
		query = query.Where("provider = ?", provider)
	}
	if state := strings.TrimSpace(c.Query("state")); state != "" {
		code, err := strconv.Atoi(state)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid state")
		}
		query = query.Where("state = ?", code)
	}
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if productID := strings.TrimSpace(c.Query("product_id")); productID != "" {
		query = query.Where("product_id = ?", productID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var txns []models.PaymeTransaction
	if err := query.
		Order("create_time desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&txns).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txns,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

func writePaymeError(c *fiber.Ctx, err error) error {
	var txErr *services.TransactionError
	if errors.As(err, &txErr) {
		info := txErr.Info
		return c.JSON(fiber.Map{
			"error": fiber.Map{
				"code": info.Code,
				"message": fiber.Map{
					"uz": info.Message["uz"],
					"ru": info.Message["ru"],
					"en": info.Message["en"],
				},
				"data": txErr.Data,
			},
			"id": txErr.ID,
		})
	}
	return err
}
