package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/funding"
)

// RegisterFundingRoutes wires card funding/withdrawal endpoints on the caller's account.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/accounts/me/fund/card", h.CardIn)
	r.Post("/accounts/me/withdraw/card", h.CardOut)
}
