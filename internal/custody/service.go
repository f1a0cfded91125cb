package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/congo-pay/custody/internal/notification"
)

// Service hosts custody wallets, loading them from the journal on demand.
type Service struct {
	book     Settlement
	journal  Journal
	notifier notification.Notifier
	logger   *slog.Logger

	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// NewService builds a custody service.
func NewService(book Settlement, journal Journal, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		book:     book,
		journal:  journal,
		notifier: notifier,
		logger:   logger,
		wallets:  make(map[string]*Wallet),
	}
}

// DeployInput captures the parameters of a new wallet.
type DeployInput struct {
	Deployer       Address
	Approvers      []Address
	Quorum         int
	InitialDeposit int64
}

// Deploy creates a wallet and, when requested, funds it from the deployer.
// A failed initial deposit leaves the deployed wallet in place and returns
// its snapshot together with the error.
func (s *Service) Deploy(ctx context.Context, in DeployInput) (Snapshot, error) {
	if in.InitialDeposit < 0 {
		return Snapshot{}, fmt.Errorf("%w: initial deposit %d", ErrInvalidAmount, in.InitialDeposit)
	}
	w, err := Deploy(ctx, Deployment{
		ID:        uuid.NewString(),
		Approvers: in.Approvers,
		Quorum:    in.Quorum,
		Deployer:  in.Deployer,
	}, s.book, s.journal)
	recordOperation("deploy", err)
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.wallets[w.ID()] = w
	walletsLoaded.Set(float64(len(s.wallets)))
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "custody wallet deployed",
		slog.String("wallet_id", w.ID()),
		slog.Int("approvers", len(in.Approvers)),
		slog.Int("quorum", in.Quorum),
	)

	if in.InitialDeposit > 0 {
		if _, err := s.Deposit(ctx, w.ID(), in.Deployer, in.InitialDeposit); err != nil {
			return w.Snapshot(), fmt.Errorf("initial deposit into %s: %w", w.ID(), err)
		}
	}
	return w.Snapshot(), nil
}

// Wallet returns a loaded wallet, restoring it from the journal on a miss.
func (s *Service) Wallet(ctx context.Context, id string) (*Wallet, error) {
	s.mu.RLock()
	w, ok := s.wallets[id]
	s.mu.RUnlock()
	if ok {
		return w, nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}

	restored, err := Restore(ctx, id, s.book, s.journal)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.wallets[id]; ok {
		return existing, nil
	}
	s.wallets[id] = restored
	walletsLoaded.Set(float64(len(s.wallets)))
	return restored, nil
}

// RestoreAll loads every journaled wallet. A wallet whose journal fails to
// verify is skipped and reported in the returned error.
func (s *Service) RestoreAll(ctx context.Context) (int, error) {
	ids, err := s.journal.WalletIDs(ctx)
	if err != nil {
		return 0, err
	}
	var (
		loaded int
		errs   []error
	)
	for _, id := range ids {
		if _, err := s.Wallet(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "custody wallet restore failed", slog.String("wallet_id", id), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errors.Join(errs...)
}

// Loaded returns the wallets currently held in memory.
func (s *Service) Loaded() []*Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	return out
}

// current returns a wallet caught up with events appended by other writers.
func (s *Service) current(ctx context.Context, id string) (*Wallet, error) {
	w, err := s.Wallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := w.Refresh(ctx); err != nil {
		s.evictOnCorrupt(ctx, id, err)
		return nil, err
	}
	return w, nil
}

// evictOnCorrupt drops a wallet whose journal no longer matches its memory
// state so the next access restores it from scratch.
func (s *Service) evictOnCorrupt(ctx context.Context, id string, err error) {
	if !errors.Is(err, ErrJournalCorrupt) {
		return
	}
	s.mu.Lock()
	delete(s.wallets, id)
	walletsLoaded.Set(float64(len(s.wallets)))
	s.mu.Unlock()
	s.logger.ErrorContext(ctx, "custody wallet evicted", slog.String("wallet_id", id), slog.Any("error", err))
}

// Get returns a snapshot of a wallet.
func (s *Service) Get(ctx context.Context, id string) (Snapshot, error) {
	w, err := s.current(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return w.Snapshot(), nil
}

// Transfers lists the transfer requests of a wallet.
func (s *Service) Transfers(ctx context.Context, id string) ([]Transfer, error) {
	w, err := s.current(ctx, id)
	if err != nil {
		return nil, err
	}
	return w.Transfers(), nil
}

// Deposit adds funds to a wallet and returns the new pool balance.
func (s *Service) Deposit(ctx context.Context, id string, from Address, amount int64) (int64, error) {
	w, err := s.Wallet(ctx, id)
	if err != nil {
		return 0, err
	}
	balance, err := w.Deposit(ctx, from, amount)
	recordOperation("deposit", err)
	if err != nil {
		s.evictOnCorrupt(ctx, id, err)
		return 0, err
	}
	s.logger.InfoContext(ctx, "custody deposit",
		slog.String("wallet_id", id),
		slog.String("from", string(from)),
		slog.Int64("amount", amount),
		slog.Int64("balance", balance),
	)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindDeposit,
		Destination: string(from),
		Body:        fmt.Sprintf("Deposited %d into custody wallet %s", amount, id),
	})
	return balance, nil
}

// CreateTransfer opens a transfer request on behalf of an approver.
func (s *Service) CreateTransfer(ctx context.Context, id string, caller Address, amount int64, recipient Address) (Transfer, error) {
	w, err := s.Wallet(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	t, err := w.CreateTransfer(ctx, caller, amount, recipient)
	recordOperation("create_transfer", err)
	if err != nil {
		s.evictOnCorrupt(ctx, id, err)
		return Transfer{}, err
	}
	s.logger.InfoContext(ctx, "custody transfer created",
		slog.String("wallet_id", id),
		slog.Uint64("transfer_id", t.ID),
		slog.String("caller", string(caller)),
		slog.String("recipient", string(recipient)),
		slog.Int64("amount", amount),
	)
	for _, a := range w.Approvers() {
		s.notify(ctx, notification.Message{
			Kind:        notification.KindTransferCreated,
			Destination: string(a),
			Body:        fmt.Sprintf("Transfer %d of %d to %s awaits approval in wallet %s", t.ID, amount, recipient, id),
		})
	}
	return t, nil
}

// ApproveTransfer records an approval and reports whether it executed the transfer.
func (s *Service) ApproveTransfer(ctx context.Context, id string, caller Address, transferID uint64) (Transfer, error) {
	w, err := s.Wallet(ctx, id)
	if err != nil {
		return Transfer{}, err
	}
	t, err := w.ApproveTransfer(ctx, caller, transferID)
	recordOperation("approve_transfer", err)
	if err != nil {
		s.evictOnCorrupt(ctx, id, err)
		s.logger.WarnContext(ctx, "custody approval rejected",
			slog.String("wallet_id", id),
			slog.Uint64("transfer_id", transferID),
			slog.String("caller", string(caller)),
			slog.Any("error", err),
		)
		return Transfer{}, err
	}

	s.logger.InfoContext(ctx, "custody transfer approved",
		slog.String("wallet_id", id),
		slog.Uint64("transfer_id", t.ID),
		slog.String("caller", string(caller)),
		slog.Int("approvals", t.Approvals),
		slog.Bool("sent", t.Sent),
	)
	if t.Sent {
		transfersSentTotal.Inc()
		paidOutTotal.Add(float64(t.Amount))
		s.notify(ctx, notification.Message{
			Kind:        notification.KindTransferSent,
			Destination: string(t.Recipient),
			Body:        fmt.Sprintf("You received %d from custody wallet %s", t.Amount, id),
		})
	}
	return t, nil
}

// Verify checks the stored journal of a wallet and returns its head.
func (s *Service) Verify(ctx context.Context, id string) (JournalHead, error) {
	events, err := s.journal.Load(ctx, id)
	if err != nil {
		return JournalHead{}, err
	}
	if len(events) == 0 {
		return JournalHead{}, fmt.Errorf("%w: %s", ErrWalletNotFound, id)
	}
	return VerifyChain(events)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}
