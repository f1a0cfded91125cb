package custody

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody/internal/auth"
	"github.com/congo-pay/custody/internal/ledger"
)

// Handler exposes custody wallet HTTP endpoints. The caller identity is the
// address placed in the request locals by the JWT middleware.
type Handler struct {
	service *Service
}

// NewHandler constructs a custody handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type deployRequest struct {
	Approvers      []string `json:"approvers"`
	Quorum         int      `json:"quorum"`
	InitialDeposit int64    `json:"initial_deposit"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type createTransferRequest struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
}

type transferResponse struct {
	ID             uint64     `json:"id"`
	Amount         int64      `json:"amount"`
	Recipient      string     `json:"recipient"`
	Approvals      int        `json:"approvals"`
	ApprovedBy     []string   `json:"approved_by"`
	Sent           bool       `json:"sent"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	SettlementTxID string     `json:"settlement_tx_id,omitempty"`
}

type walletResponse struct {
	ID            string    `json:"id"`
	Approvers     []string  `json:"approvers"`
	Quorum        int       `json:"quorum"`
	Balance       int64     `json:"balance"`
	TransferCount int       `json:"transfer_count"`
	Deployer      string    `json:"deployer"`
	DeployedAt    time.Time `json:"deployed_at"`
	JournalSeq    uint64    `json:"journal_seq"`
	JournalHash   string    `json:"journal_hash"`
}

// Deploy creates a wallet with the caller as deployer.
func (h *Handler) Deploy(c *fiber.Ctx) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	var req deployRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	approvers, err := ParseAddresses(req.Approvers)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.service.Deploy(c.UserContext(), DeployInput{
		Deployer:       caller,
		Approvers:      approvers,
		Quorum:         req.Quorum,
		InitialDeposit: req.InitialDeposit,
	})
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(snap))
}

// Get returns wallet configuration and balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	snap, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(snap))
}

// Approvers lists the approver set in deployment order.
func (h *Handler) Approvers(c *fiber.Ctx) error {
	snap, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"approvers": addressStrings(snap.Approvers),
		"quorum":    snap.Quorum,
	})
}

// Transfers lists transfer requests in id order.
func (h *Handler) Transfers(c *fiber.Ctx) error {
	transfers, err := h.service.Transfers(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return h.httpError(c, err)
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transfers": out})
}

// Deposit moves funds from the caller's account into the pool.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	walletID := c.Params("walletId")
	balance, err := h.service.Deposit(c.UserContext(), walletID, caller, req.Amount)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"wallet_id": walletID,
		"balance":   balance,
	})
}

// CreateTransfer opens a transfer request.
func (h *Handler) CreateTransfer(c *fiber.Ctx) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	var req createTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	recipient, err := ParseAddress(req.Recipient)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	t, err := h.service.CreateTransfer(c.UserContext(), c.Params("walletId"), caller, req.Amount, recipient)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toTransferResponse(t))
}

// Approve records the caller's approval of a transfer.
func (h *Handler) Approve(c *fiber.Ctx) error {
	caller, err := callerAddress(c)
	if err != nil {
		return err
	}
	transferID, err := strconv.ParseUint(c.Params("transferId"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "transfer id must be a non-negative integer")
	}
	t, err := h.service.ApproveTransfer(c.UserContext(), c.Params("walletId"), caller, transferID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toTransferResponse(t))
}

// VerifyJournal checks the wallet's hash chain.
func (h *Handler) VerifyJournal(c *fiber.Ctx) error {
	head, err := h.service.Verify(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return h.httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"valid": true,
		"seq":   head.Seq,
		"hash":  head.Hash,
	})
}

func callerAddress(c *fiber.Ctx) (Address, error) {
	raw, _ := c.Locals(auth.LocalAddress).(string)
	addr, err := ParseAddress(raw)
	if err != nil {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return addr, nil
}

func (h *Handler) httpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrTransferNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadySent), errors.Is(err, ErrDuplicateApproval), errors.Is(err, ErrJournalConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrJournalCorrupt):
		return fiber.NewError(http.StatusConflict, "journal failed verification")
	default:
		// storage and settlement failures carry hosts and driver detail
		h.service.logger.ErrorContext(c.UserContext(), "custody request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func toWalletResponse(s Snapshot) walletResponse {
	return walletResponse{
		ID:            s.ID,
		Approvers:     addressStrings(s.Approvers),
		Quorum:        s.Quorum,
		Balance:       s.Balance,
		TransferCount: len(s.Transfers),
		Deployer:      string(s.Deployer),
		DeployedAt:    s.DeployedAt,
		JournalSeq:    s.Head.Seq,
		JournalHash:   s.Head.Hash,
	}
}

func toTransferResponse(t Transfer) transferResponse {
	resp := transferResponse{
		ID:             t.ID,
		Amount:         t.Amount,
		Recipient:      string(t.Recipient),
		Approvals:      t.Approvals,
		ApprovedBy:     addressStrings(t.ApprovedBy),
		Sent:           t.Sent,
		CreatedBy:      string(t.CreatedBy),
		CreatedAt:      t.CreatedAt,
		SettlementTxID: t.SettlementTxID,
	}
	if t.Sent {
		sentAt := t.SentAt
		resp.SentAt = &sentAt
	}
	return resp
}

func addressStrings(in []Address) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = string(a)
	}
	return out
}
