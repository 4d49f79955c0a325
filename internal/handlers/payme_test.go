package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/dastarxon/internal/database"
	"github.com/example/dastarxon/internal/middleware"
	"github.com/example/dastarxon/internal/models"
	"github.com/example/dastarxon/internal/services"
)

const testMerchantKey = "test-merchant-key"

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	payme := services.NewPaymeService(db, log, nil, "test-merchant", "https://checkout.payme.uz")
	handler := NewPaymeHandler(db, payme, nil, log)

	app := fiber.New()
	app.Post("/api/payme/pay", middleware.PaymeAuthMiddleware(testMerchantKey), handler.Pay)

	return app, db
}

func seedAccount(t *testing.T, db *gorm.DB, price int64) (models.User, models.Order) {
	t.Helper()

	user := models.User{FirstName: "Ali", Phone: "+998901234567", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	order := models.Order{
		UserID:      user.ID,
		OrderNumber: fmt.Sprintf("ORD-%d", time.Now().UnixNano()),
		Status:      "pending",
		PlacedAt:    time.Now(),
		Price:       price,
		Currency:    "UZS",
		Items:       []models.OrderItem{{Title: "Lagman", Price: price, Count: 1}},
	}
	require.NoError(t, db.Create(&order).Error)

	return user, order
}

func rpcRequest(t *testing.T, app *fiber.App, authed bool, method string, params any, id any) map[string]any {
	t.Helper()

	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": id})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/payme/pay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		token := base64.StdEncoding.EncodeToString([]byte("Paycom:" + testMerchantKey))
		req.Header.Set("Authorization", "Basic "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func errorCode(t *testing.T, body map[string]any) int {
	t.Helper()

	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, ok := errObj["code"].(float64)
	require.True(t, ok)
	return int(code)
}

func TestPayAuthorization(t *testing.T) {
	t.Run("missing header rejected with request id echoed", func(t *testing.T) {
		app, _ := newTestApp(t)

		body := rpcRequest(t, app, false, services.MethodCheckTransaction, map[string]any{"id": "tx1"}, "rpc-7")
		require.Equal(t, services.PaymeErrorInvalidAuthorization.Code, errorCode(t, body))
		require.Equal(t, "rpc-7", body["id"])
	})

	t.Run("wrong merchant key rejected", func(t *testing.T) {
		app, _ := newTestApp(t)

		payload, _ := json.Marshal(map[string]any{"method": services.MethodCheckTransaction, "id": 1})
		req := httptest.NewRequest(http.MethodPost, "/api/payme/pay", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("Paycom:wrong")))

		resp, err := app.Test(req, -1)
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, services.PaymeErrorInvalidAuthorization.Code, errorCode(t, body))
	})
}

func TestPayDispatch(t *testing.T) {
	t.Run("unknown method returns method not found envelope", func(t *testing.T) {
		app, _ := newTestApp(t)

		body := rpcRequest(t, app, true, "SomethingElse", map[string]any{}, "rpc-1")
		require.Equal(t, services.PaymeErrorMethodNotFound.Code, errorCode(t, body))
		require.Equal(t, "rpc-1", body["id"])
	})

	t.Run("check perform wraps allow and detail", func(t *testing.T) {
		app, db := newTestApp(t)
		user, order := seedAccount(t, db, 50000)

		body := rpcRequest(t, app, true, services.MethodCheckPerformTransaction, map[string]any{
			"amount": 50000,
			"account": map[string]any{
				"user_id":    user.ID.String(),
				"product_id": order.ID.String(),
			},
		}, "rpc-2")

		result, ok := body["result"].(map[string]any)
		require.True(t, ok, "expected result envelope, got %v", body)
		require.Equal(t, true, result["allow"])
		detail, ok := result["detail"].(map[string]any)
		require.True(t, ok)
		require.NotEmpty(t, detail["items"])
	})

	t.Run("create then check round-trips through the envelope", func(t *testing.T) {
		app, db := newTestApp(t)
		user, order := seedAccount(t, db, 50000)

		created := rpcRequest(t, app, true, services.MethodCreateTransaction, map[string]any{
			"id":     "tx1",
			"time":   time.Now().UnixMilli(),
			"amount": 50000 * 100,
			"account": map[string]any{
				"user_id":    user.ID.String(),
				"product_id": order.ID.String(),
			},
		}, "rpc-3")

		result, ok := created["result"].(map[string]any)
		require.True(t, ok, "expected result envelope, got %v", created)
		require.Equal(t, "tx1", result["transaction"])
		require.Equal(t, float64(services.TransactionStatePending), result["state"])
		require.Equal(t, "rpc-3", created["id"])

		checked := rpcRequest(t, app, true, services.MethodCheckTransaction, map[string]any{"id": "tx1"}, "rpc-4")
		checkResult, ok := checked["result"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, float64(services.TransactionStatePending), checkResult["state"])
	})

	t.Run("transaction errors map to the provider envelope", func(t *testing.T) {
		app, _ := newTestApp(t)

		body := rpcRequest(t, app, true, services.MethodCheckTransaction, map[string]any{"id": "missing"}, "rpc-5")
		require.Equal(t, services.PaymeErrorTransactionNotFound.Code, errorCode(t, body))
		require.Equal(t, "rpc-5", body["id"])
	})

	t.Run("statement nests transactions", func(t *testing.T) {
		app, db := newTestApp(t)
		user, order := seedAccount(t, db, 50000)

		require.NoError(t, db.Create(&models.PaymeTransaction{
			ID: "tx1", State: services.TransactionStatePending, Amount: 50000,
			UserID: user.ID.String(), ProductID: order.ID.String(),
			Provider: services.ProviderPayme, CreateTime: 1500,
		}).Error)

		body := rpcRequest(t, app, true, services.MethodGetStatement, map[string]any{"from": 1000, "to": 2000}, "rpc-6")
		result, ok := body["result"].(map[string]any)
		require.True(t, ok)
		txns, ok := result["transactions"].([]any)
		require.True(t, ok)
		require.Len(t, txns, 1)
	})
}
