package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func loginApp(cache *redis.Client, limit int) *fiber.App {
	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, limit), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func attemptLogin(t *testing.T, app *fiber.App, address string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"address":"`+address+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginRateLimitWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := loginApp(cache, 2)
	for i := 0; i < 2; i++ {
		if status := attemptLogin(t, app, "alice"); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, status)
		}
	}
	if status := attemptLogin(t, app, "alice"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status := attemptLogin(t, app, "bob"); status != fiber.StatusOK {
		t.Fatalf("other address should not be limited, got %d", status)
	}
	if ttl := mr.TTL("rl:login:alice"); ttl <= 0 {
		t.Fatalf("expected counter expiry, got %s", ttl)
	}
}

func TestLoginRateLimitInProcess(t *testing.T) {
	app := loginApp(nil, 3)
	for i := 0; i < 3; i++ {
		if status := attemptLogin(t, app, "carol"); status != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, status)
		}
	}
	if status := attemptLogin(t, app, "carol"); status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
	if status := attemptLogin(t, app, "dave"); status != fiber.StatusOK {
		t.Fatalf("other address should not be limited, got %d", status)
	}
}
