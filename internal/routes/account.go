package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/account"
)

// RegisterAccountRoutes wires settlement account inspection endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Get("/accounts/me", h.Me)
	r.Get("/accounts/:address/balance", h.Balance)
}
