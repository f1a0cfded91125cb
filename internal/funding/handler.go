package funding

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/ledger"
)

// Handler exposes card funding endpoints on the caller's own account.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CardIn processes account top-ups funded by cards.
func (h *Handler) CardIn(c *fiber.Ctx) error {
	address, err := caller(c)
	if err != nil {
		return err
	}
	var req CardInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.CardIn(c.UserContext(), req.input(address))
	return respond(c, result, err)
}

// CardOut processes account withdrawals to cards.
func (h *Handler) CardOut(c *fiber.Ctx) error {
	address, err := caller(c)
	if err != nil {
		return err
	}
	var req CardOutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	result, err := h.service.CardOut(c.UserContext(), req.input(address))
	return respond(c, result, err)
}

func caller(c *fiber.Ctx) (string, error) {
	address, _ := c.Locals(auth.LocalAddress).(string)
	if address == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return address, nil
}

func respond(c *fiber.Ctx, result FundingResult, err error) error {
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(toResponse(result, false))
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		return c.Status(http.StatusOK).JSON(toResponse(result, true))
	case errors.Is(err, ErrCardDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCard):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(c.UserContext(), "funding request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
