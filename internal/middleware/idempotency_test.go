package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, func()) {
	t.Helper()
	app, _, cleanup := setupCountingApp(t)
	return app, cleanup
}

// setupCountingApp mounts a handler that counts invocations and fails when
// the request carries ?fail=1. The caller address comes from the X-Caller header.
func setupCountingApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	calls := 0
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(auth.LocalAddress, c.Get("X-Caller"))
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/other", func(c *fiber.Ctx) error {
		calls++
		return c.SendStatus(fiber.StatusCreated)
	})
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls++
		if c.Query("fail") == "1" {
			return fiber.NewError(fiber.StatusConflict, "transfer has already been sent")
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": calls})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &calls, cleanup
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, cleanup := setupTestApp(t)
	defer cleanup()

	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, resp.StatusCode)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, cleanup := setupTestApp(t)
	defer cleanup()

	body := strings.NewReader("{}")
	req := httptest.NewRequest(fiber.MethodPost, "/resource", body)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, "abc123")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()

	// Second request should return the cached response without invoking handler again.
	req2 := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req2.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req2.Header.Set(idempotencyKeyHeader, "abc123")

	resp2, err := app.Test(req2)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}

	if resp2.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, resp2.StatusCode)
	}
	if resp2.Header.Get(idempotencyReplayHeader) != "true" {
		t.Fatalf("expected replay marker on cached response")
	}

	cachedPayload, err := io.ReadAll(resp2.Body)
	if err != nil {
		t.Fatalf("read cached body: %v", err)
	}
	resp2.Body.Close()

	if string(cachedPayload) != string(payload) {
		t.Fatalf("expected cached payload %s got %s", string(payload), string(cachedPayload))
	}

	var decoded map[string]any
	if err := json.Unmarshal(cachedPayload, &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func postWithKey(t *testing.T, app *fiber.App, path, caller, key string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(idempotencyKeyHeader, key)
	req.Header.Set("X-Caller", caller)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	postWithKey(t, app, "/resource", "alice", "same-key")
	postWithKey(t, app, "/resource", "alice", "same-key")
	postWithKey(t, app, "/resource", "bob", "same-key")

	if *calls != 2 {
		t.Fatalf("expected one handler call per caller, got %d", *calls)
	}
}

func TestIdempotencyDoesNotReplayErrors(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	if status := postWithKey(t, app, "/resource?fail=1", "alice", "k1"); status != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if status := postWithKey(t, app, "/resource", "alice", "k1"); status != fiber.StatusCreated {
		t.Fatalf("expected retry to reach handler, got %d", status)
	}
	if *calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", *calls)
	}
}

func TestIdempotencyRejectsKeyReuseAcrossRoutes(t *testing.T) {
	app, calls, cleanup := setupCountingApp(t)
	defer cleanup()

	if status := postWithKey(t, app, "/resource", "alice", "k2"); status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if status := postWithKey(t, app, "/other", "alice", "k2"); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for key reuse, got %d", status)
	}
	if *calls != 1 {
		t.Fatalf("expected a single handler call, got %d", *calls)
	}
}
