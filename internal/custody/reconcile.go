package custody

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/congo-pay/custody/internal/ledger"
)

// Drift is a disagreement between a wallet's pool balance and its vault account.
type Drift struct {
	WalletID      string
	WalletBalance int64
	VaultBalance  int64
}

// Reconciler compares every loaded wallet with the settlement book.
type Reconciler struct {
	service *Service
	logger  *slog.Logger
}

// NewReconciler builds a reconciler for the wallets hosted by service.
func NewReconciler(service *Service, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{service: service, logger: logger}
}

// Run checks each loaded wallet once and returns the wallets that drifted.
func (r *Reconciler) Run(ctx context.Context) ([]Drift, error) {
	var drifts []Drift
	for _, w := range r.service.Loaded() {
		walletBal, vaultBal, err := w.reconcile(ctx)
		if err != nil {
			return drifts, fmt.Errorf("reconcile wallet %s: %w", w.ID(), err)
		}
		reconcileDrift.WithLabelValues(w.ID()).Set(float64(vaultBal - walletBal))
		if walletBal != vaultBal {
			d := Drift{WalletID: w.ID(), WalletBalance: walletBal, VaultBalance: vaultBal}
			r.logger.ErrorContext(ctx, "custody vault drift",
				slog.String("wallet_id", d.WalletID),
				slog.Int64("wallet_balance", d.WalletBalance),
				slog.Int64("vault_balance", d.VaultBalance),
			)
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

// Schedule registers Run as a recurring job on s.
func (r *Reconciler) Schedule(s gocron.Scheduler, every time.Duration) (gocron.Job, error) {
	return s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), every)
			defer cancel()
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error("custody reconcile failed", slog.Any("error", err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}

// reconcile catches the wallet up with the journal and reads both balances
// under the lock, so no operation on this host is half-way between its
// settlement posting and its commit.
func (w *Wallet) reconcile(ctx context.Context) (int64, int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.catchUpLocked(ctx); err != nil {
		return 0, 0, err
	}
	vault, err := w.book.Balance(ctx, ledger.VaultAccount(w.id))
	if err != nil {
		return 0, 0, err
	}
	return w.balance, vault, nil
}
