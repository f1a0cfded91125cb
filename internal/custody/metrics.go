package custody

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_operations_total",
		Help: "Custody wallet operations by operation and outcome.",
	}, []string{"operation", "result"})

	transfersSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_transfers_sent_total",
		Help: "Transfers executed after reaching quorum.",
	})

	paidOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_paid_out_amount_total",
		Help: "Sum of amounts delivered to recipients, in minor units.",
	})

	walletsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_wallets_loaded",
		Help: "Wallets currently held in memory.",
	})

	reconcileDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_reconcile_drift",
		Help: "Vault account balance minus wallet balance, per wallet.",
	}, []string{"wallet_id"})
)

func recordOperation(op string, err error) {
	operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadySent):
		return "already_sent"
	case errors.Is(err, ErrDuplicateApproval):
		return "duplicate_approval"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidAddress):
		return "invalid"
	case errors.Is(err, ErrTransferNotFound), errors.Is(err, ErrWalletNotFound):
		return "not_found"
	default:
		return "error"
	}
}
