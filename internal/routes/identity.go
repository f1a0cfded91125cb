package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/identity"
)

// RegisterIdentityRoutes wires public identity endpoints. Registration also
// opens the principal's settlement account.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
	r.Post("/identity/authenticate", h.Authenticate)
}

// RegisterProfileRoute exposes the authenticated principal's profile.
func RegisterProfileRoute(r fiber.Router, ids *identity.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		address, _ := c.Locals(auth.LocalAddress).(string)
		if address == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		p, err := ids.Lookup(c.UserContext(), address)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "principal not found")
		}
		return c.JSON(fiber.Map{
			"id":            p.ID,
			"address":       p.Address,
			"tier":          p.Tier,
			"device_id":     p.DeviceID,
			"token_version": p.TokenVersion,
			"created_at":    p.CreatedAt,
			"last_login":    p.LastLogin,
		})
	})
}
