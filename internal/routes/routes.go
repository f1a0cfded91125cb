package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/custody/internal/account"
	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/config"
	"github.com/congo-pay/custody/internal/custody"
	"github.com/congo-pay/custody/internal/funding"
	"github.com/congo-pay/custody/internal/identity"
	"github.com/congo-pay/custody/internal/ledger"
	"github.com/congo-pay/custody/internal/middleware"
	"github.com/congo-pay/custody/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Logger    *slog.Logger
	Scheduler gocron.Scheduler
}

// Setup configures middlewares and all application routes, restores custody
// wallets from their journals, and schedules vault reconciliation.
func Setup(ctx context.Context, app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Metrics())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Services and handlers
	var (
		ledgerBackend ledger.Ledger
		identityRepo  identity.Repository
		journal       custody.Journal
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		journal = custody.NewPostgresJournal(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
		journal = custody.NewMemoryJournal()
	}

	accountSvc := account.NewService(ledgerBackend)
	identitySvc := identity.NewService(identityRepo, accountSvc)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	fundingSvc, err := funding.NewService(ctx, ledgerBackend, accountSvc, nil)
	if err != nil {
		return err
	}
	notifier := notification.Fanout{notification.NewLoggerNotifier(d.Logger)}
	if d.Cache != nil {
		notifier = append(notifier, notification.NewRedisOutbox(d.Cache, 0))
	}
	custodySvc := custody.NewService(ledgerBackend, journal, notifier, d.Logger)

	loaded, err := custodySvc.RestoreAll(ctx)
	if err != nil {
		// corrupt journals are reported and skipped; the rest of the wallets serve traffic
		d.Logger.ErrorContext(ctx, "custody restore incomplete", slog.Int("loaded", loaded), slog.Any("error", err))
	} else {
		d.Logger.InfoContext(ctx, "custody wallets restored", slog.Int("loaded", loaded))
	}
	if d.Scheduler != nil && d.Cfg.ReconcileInterval > 0 {
		if _, err := custody.NewReconciler(custodySvc, d.Logger).Schedule(d.Scheduler, d.Cfg.ReconcileInterval); err != nil {
			return fmt.Errorf("schedule reconciliation: %w", err)
		}
	}

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, authSvc), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginRateLimit))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc), middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	RegisterLogoutRoute(protected, auth.NewHandler(identitySvc, authSvc))
	RegisterProfileRoute(protected, identitySvc)
	RegisterAccountRoutes(protected, account.NewHandler(accountSvc))
	RegisterFundingRoutes(protected, funding.NewHandler(fundingSvc))
	RegisterCustodyRoutes(protected, custody.NewHandler(custodySvc))

	return nil
}
