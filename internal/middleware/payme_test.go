package middleware

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/example/dastarxon/internal/services"
)

func newGatedApp(key string) *fiber.App {
	app := fiber.New()
	app.Post("/pay", PaymeAuthMiddleware(key), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestPaymeAuthMiddleware(t *testing.T) {
	const key = "secret-key"

	post := func(t *testing.T, app *fiber.App, auth string) map[string]any {
		t.Helper()

		body, _ := json.Marshal(map[string]any{"method": "CheckTransaction", "id": "rpc-9"})
		req := httptest.NewRequest(http.MethodPost, "/pay", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var decoded map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
		return decoded
	}

	t.Run("valid login:key token passes", func(t *testing.T) {
		app := newGatedApp(key)
		token := base64.StdEncoding.EncodeToString([]byte("Paycom:" + key))
		body := post(t, app, "Basic "+token)
		require.Equal(t, true, body["ok"])
	})

	t.Run("missing header fails with the request id", func(t *testing.T) {
		app := newGatedApp(key)
		body := post(t, app, "")
		errObj := body["error"].(map[string]any)
		require.Equal(t, float64(services.PaymeErrorInvalidAuthorization.Code), errObj["code"])
		require.Equal(t, "rpc-9", body["id"])
	})

	t.Run("undecodable token fails", func(t *testing.T) {
		app := newGatedApp(key)
		body := post(t, app, "Basic not-base64!!!")
		require.Contains(t, body, "error")
	})

	t.Run("wrong key fails", func(t *testing.T) {
		app := newGatedApp(key)
		token := base64.StdEncoding.EncodeToString([]byte("Paycom:other"))
		body := post(t, app, "Basic "+token)
		require.Contains(t, body, "error")
	})
}
