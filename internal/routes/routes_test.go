package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody/internal/config"
	"github.com/congo-pay/custody/internal/logging"
)

func setupApp(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{
		AppName:         "custody-test",
		AppEnv:          "test",
		JWTSecret:       "access-secret",
		RefreshSecret:   "refresh-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		IdempotencyTTL:  time.Minute,
		LoginRateLimit:  50,
	}
	app := fiber.New()
	if err := Setup(context.Background(), app, Deps{Cfg: cfg, Cache: rdb, Logger: logging.Discard()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

type request struct {
	method string
	path   string
	token  string
	key    string
	body   string
}

func do(t *testing.T, app *fiber.App, r request) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if r.body != "" {
		reader = strings.NewReader(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if r.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+r.token)
	}
	if r.key != "" {
		req.Header.Set("Idempotency-Key", r.key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", r.method, r.path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func registerAndLogin(t *testing.T, app *fiber.App, address string) string {
	t.Helper()
	creds := fmt.Sprintf(`{"address":%q,"pin":"1234","device_id":"dev-%s"}`, address, address)
	if status, body := do(t, app, request{method: fiber.MethodPost, path: "/api/v1/identity/register", body: creds}); status != fiber.StatusCreated {
		t.Fatalf("register %s: got %d %v", address, status, body)
	}
	status, body := do(t, app, request{method: fiber.MethodPost, path: "/api/v1/auth/login", body: creds})
	if status != fiber.StatusOK {
		t.Fatalf("login %s: got %d %v", address, status, body)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login %s: missing access token in %v", address, body)
	}
	return token
}

func TestCustodyFlowOverHTTP(t *testing.T) {
	app := setupApp(t)
	alice := registerAndLogin(t, app, "alice")
	bob := registerAndLogin(t, app, "bob")
	registerAndLogin(t, app, "xavier")

	status, body := do(t, app, request{method: fiber.MethodPost, path: "/api/v1/accounts/me/fund/card", token: alice, key: "fund-1",
		body: `{"card_number":"4111111111111111","expiry":"12/30","cvv":"123","amount_cfa":1000}`})
	if status != fiber.StatusCreated || body["account_balance_cfa"].(float64) != 1_000 {
		t.Fatalf("card in: got %d %v", status, body)
	}

	status, body = do(t, app, request{method: fiber.MethodPost, path: "/api/v1/custody/wallets", token: alice, key: "deploy-1",
		body: `{"approvers":["alice","bob"],"quorum":2,"initial_deposit":800}`})
	if status != fiber.StatusCreated {
		t.Fatalf("deploy: got %d %v", status, body)
	}
	base := "/api/v1/custody/wallets/" + body["id"].(string)

	if status, body = do(t, app, request{method: fiber.MethodPost, path: base + "/transfers", token: alice, key: "create-1",
		body: `{"amount":300,"recipient":"xavier"}`}); status != fiber.StatusCreated {
		t.Fatalf("create transfer: got %d %v", status, body)
	}
	if status, body = do(t, app, request{method: fiber.MethodPost, path: base + "/transfers/0/approve", token: alice, key: "approve-a"}); status != fiber.StatusOK {
		t.Fatalf("approve alice: got %d %v", status, body)
	}
	status, first := do(t, app, request{method: fiber.MethodPost, path: base + "/transfers/0/approve", token: bob, key: "approve-b"})
	if status != fiber.StatusOK || !first["sent"].(bool) {
		t.Fatalf("approve bob: got %d %v", status, first)
	}

	// a client retry with the same key replays the first outcome instead of AlreadySent
	status, replay := do(t, app, request{method: fiber.MethodPost, path: base + "/transfers/0/approve", token: bob, key: "approve-b"})
	if status != fiber.StatusOK || replay["approvals"] != first["approvals"] || replay["sent"] != true {
		t.Fatalf("replay: got %d %v", status, replay)
	}
	if status, body = do(t, app, request{method: fiber.MethodPost, path: base + "/transfers/0/approve", token: bob, key: "approve-b2"}); status != fiber.StatusConflict {
		t.Fatalf("fresh retry after send: expected 409, got %d %v", status, body)
	}

	status, body = do(t, app, request{method: fiber.MethodGet, path: "/api/v1/accounts/xavier/balance", token: alice})
	if status != fiber.StatusOK || body["balance"].(float64) != 300 {
		t.Fatalf("recipient balance: got %d %v", status, body)
	}
	status, body = do(t, app, request{method: fiber.MethodGet, path: base, token: bob})
	if status != fiber.StatusOK || body["balance"].(float64) != 500 {
		t.Fatalf("wallet: got %d %v", status, body)
	}
	status, body = do(t, app, request{method: fiber.MethodGet, path: "/api/v1/accounts/me", token: alice})
	if status != fiber.StatusOK || body["balance"].(float64) != 200 {
		t.Fatalf("alice account: got %d %v", status, body)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := setupApp(t)
	for _, path := range []string{"/api/v1/me", "/api/v1/accounts/me", "/api/v1/custody/wallets/x"} {
		if status, _ := do(t, app, request{method: fiber.MethodGet, path: path}); status != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, status)
		}
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	app := setupApp(t)
	token := registerAndLogin(t, app, "carol")

	if status, body := do(t, app, request{method: fiber.MethodGet, path: "/api/v1/me", token: token}); status != fiber.StatusOK || body["address"] != "carol" {
		t.Fatalf("me: got %d %v", status, body)
	}
	if status, body := do(t, app, request{method: fiber.MethodPost, path: "/api/v1/auth/logout", token: token, key: "logout-1"}); status >= 300 {
		t.Fatalf("logout: got %d %v", status, body)
	}
	if status, _ := do(t, app, request{method: fiber.MethodGet, path: "/api/v1/me", token: token}); status != fiber.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", status)
	}
}

func TestHealthReportsDisabledDatabase(t *testing.T) {
	app := setupApp(t)
	status, body := do(t, app, request{method: fiber.MethodGet, path: "/healthz"})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d %v", status, body)
	}
	deps := body["status"].(map[string]any)
	if deps["postgres"] != "disabled" || deps["redis"] != "ok" {
		t.Fatalf("unexpected health %v", deps)
	}
}
