package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/auth"
)

// Audit emits structured logs for each request/response lifecycle event,
// including the authenticated address when the route is protected.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := statusOf(c, err)
		requestID, _ := c.Locals(requestIDHeader).(string)
		caller, _ := c.Locals(auth.LocalAddress).(string)

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if caller != "" {
			attrs = append(attrs, slog.String("caller", caller))
		}
		ctx := c.UserContext()
		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			attrs = append(attrs, slog.Any("error", err))
			logger.ErrorContext(ctx, "request completed", attrs...)
		case err != nil:
			attrs = append(attrs, slog.Any("error", err))
			logger.WarnContext(ctx, "request completed", attrs...)
		default:
			logger.InfoContext(ctx, "request completed", attrs...)
		}
		return err
	}
}
