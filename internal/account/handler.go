package account

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type entryResponse struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Reference     string    `json:"reference"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	PostedAt      time.Time `json:"posted_at"`
}

// Me returns the caller's balance and recent postings.
func (h *Handler) Me(c *fiber.Ctx) error {
	address, _ := c.Locals(auth.LocalAddress).(string)
	if address == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	balance, err := h.service.Balance(c.UserContext(), address)
	if err != nil {
		return toHTTPError(c, err)
	}
	entries, err := h.service.Statement(c.UserContext(), address, c.QueryInt("limit", defaultStatementLimit))
	if err != nil {
		return toHTTPError(c, err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			TransactionID: e.TransactionID,
			Kind:          e.Kind,
			Reference:     e.ClientTxID,
			Amount:        e.Amount,
			Status:        e.Status,
			PostedAt:      e.PostedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":   balance.Address,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
		"entries":   out,
	})
}

// Balance returns the balance held by any address.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), c.Params("address"))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":   balance.Address,
		"balance":   balance.Amount,
		"timestamp": balance.AsOf,
	})
}

func toHTTPError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		slog.ErrorContext(c.UserContext(), "account request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
