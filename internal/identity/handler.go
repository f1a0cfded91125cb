package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Address  string `json:"address"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

type principalResponse struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Tier     string `json:"tier"`
	DeviceID string `json:"device_id"`
}

// Register handles principal onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Register(c.UserContext(), Credentials{Address: req.Address, PIN: req.PIN, DeviceID: req.DeviceID})
	switch {
	case errors.Is(err, ErrPrincipalExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(p))
}

// Authenticate verifies login credentials without issuing tokens.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Authenticate(c.UserContext(), Credentials{Address: req.Address, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(p))
}

func toResponse(p Principal) principalResponse {
	return principalResponse{ID: p.ID, Address: p.Address, Tier: p.Tier, DeviceID: p.DeviceID}
}
