package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/custody"
)

// RegisterCustodyRoutes wires multi-approver wallet endpoints.
func RegisterCustodyRoutes(r fiber.Router, h *custody.Handler) {
	w := r.Group("/custody/wallets")
	w.Post("/", h.Deploy)
	w.Get("/:walletId", h.Get)
	w.Get("/:walletId/approvers", h.Approvers)
	w.Get("/:walletId/transfers", h.Transfers)
	w.Post("/:walletId/deposits", h.Deposit)
	w.Post("/:walletId/transfers", h.CreateTransfer)
	w.Post("/:walletId/transfers/:transferId/approve", h.Approve)
	w.Get("/:walletId/journal/verify", h.VerifyJournal)
}
