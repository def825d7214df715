package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	pkgError "github.com/atendezap/zapdesk/pkg/error"
	"github.com/atendezap/zapdesk/pkg/utils"
)

func recoveryTestApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "req-77")
		return c.Next()
	})
	app.Use(Recovery())
	app.Get("/boom", handler)
	return app
}

func TestRecoveryMapsTypedError(t *testing.T) {
	app := recoveryTestApp(func(c *fiber.Ctx) error {
		panic(pkgError.ValidationError("phone is required"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body utils.ResponseData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Code != "VALIDATION_ERROR" || body.Message != "phone is required" {
		t.Errorf("unexpected envelope %+v", body)
	}
}

func TestRecoveryHidesUntypedPanicDetail(t *testing.T) {
	app := recoveryTestApp(func(c *fiber.Ctx) error {
		panic("dsn=postgres://user:secret@db/app")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test() error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Status  int            `json:"status"`
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Results map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Code != "INTERNAL_SERVER_ERROR" {
		t.Errorf("unexpected code %q", body.Code)
	}
	if body.Message != "Unexpected server error" {
		t.Errorf("panic detail leaked into response: %q", body.Message)
	}
	if body.Results["requestId"] != "req-77" {
		t.Errorf("expected request id for correlation, got %+v", body.Results)
	}
}
