package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/custody/internal/ledger"
)

// Settlement is the value-transfer primitive a wallet moves funds through.
// ledger.Ledger satisfies it.
type Settlement interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Transfer(ctx context.Context, posting ledger.Posting) (ledger.TransactionResult, error)
}

// Wallet is a pool of funds jointly controlled by a fixed set of approvers.
// An outgoing transfer executes on the approval that reaches the quorum.
//
// The wallet lock is held for the whole of a mutating operation, including the
// settlement posting and the journal append, so operations on one wallet are
// applied one at a time and each either commits fully or leaves no trace.
type Wallet struct {
	mu sync.RWMutex

	id          string
	deployer    Address
	deployedAt  time.Time
	approvers   []Address
	approverSet map[Address]struct{}
	quorum      int
	balance     int64
	transfers   []Transfer

	nextSeq uint64
	head    []byte

	book    Settlement
	journal Journal
	now     func() time.Time
}

func newWallet(id string, book Settlement, journal Journal) *Wallet {
	return &Wallet{
		id:      id,
		head:    genesisHash,
		book:    book,
		journal: journal,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Deploy validates d, opens the wallet's vault account, and records the deployment.
func Deploy(ctx context.Context, d Deployment, book Settlement, journal Journal) (*Wallet, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := book.EnsureAccount(ctx, ledger.VaultAccount(d.ID)); err != nil {
		return nil, fmt.Errorf("open vault account: %w", err)
	}

	w := newWallet(d.ID, book, journal)
	w.mu.Lock()
	defer w.mu.Unlock()

	e := Event{
		Kind:      EventDeployed,
		Actor:     d.Deployer,
		Approvers: append([]Address(nil), d.Approvers...),
		Quorum:    d.Quorum,
	}
	if err := w.commit(ctx, e); err != nil {
		return nil, err
	}
	return w, nil
}

// Restore rebuilds a wallet by verifying and replaying its journal. No
// settlement postings are made.
func Restore(ctx context.Context, walletID string, book Settlement, journal Journal) (*Wallet, error) {
	events, err := journal.Load(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, walletID)
	}
	if _, err := VerifyChain(events); err != nil {
		return nil, fmt.Errorf("wallet %s: %w", walletID, err)
	}

	w := newWallet(walletID, book, journal)
	for _, e := range events {
		if err := w.apply(e); err != nil {
			return nil, fmt.Errorf("%w: wallet %s seq %d: %v", ErrJournalCorrupt, walletID, e.Seq, err)
		}
		w.nextSeq = e.Seq + 1
		w.head = e.Hash
	}
	return w, nil
}

// ID returns the wallet identifier.
func (w *Wallet) ID() string { return w.id }

// Approvers returns the approver set in deployment order.
func (w *Wallet) Approvers() []Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Address(nil), w.approvers...)
}

// Quorum returns the number of approvals that executes a transfer.
func (w *Wallet) Quorum() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.quorum
}

// Balance returns the pooled funds.
func (w *Wallet) Balance() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balance
}

// Transfers returns every transfer request in id order.
func (w *Wallet) Transfers() []Transfer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.transfersLocked()
}

// Snapshot returns a copy of the whole wallet state.
func (w *Wallet) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked()
}

// IsApprover reports whether a belongs to the approver set.
func (w *Wallet) IsApprover(a Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.approverSet[a]
	return ok
}

// Deposit adds amount to the pool, moving it from the depositor's account.
// Anyone may deposit. When the deposit cannot be journaled the posting is
// reversed, so the depositor is never left debited for an unrecorded deposit.
func (w *Wallet) Deposit(ctx context.Context, from Address, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if parsed, err := ParseAddress(string(from)); err != nil {
		return 0, err
	} else if parsed != from {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, from)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.catchUpLocked(ctx); err != nil {
		return 0, err
	}
	source := ledger.AddressAccount(string(from))
	if err := w.book.EnsureAccount(ctx, source); err != nil {
		return 0, fmt.Errorf("open depositor account: %w", err)
	}
	for attempt := 1; ; attempt++ {
		err := w.depositOnce(ctx, source, from, amount)
		if err == nil {
			return w.balance, nil
		}
		if !w.retryable(ctx, err, attempt) {
			return 0, err
		}
	}
}

func (w *Wallet) depositOnce(ctx context.Context, source string, from Address, amount int64) error {
	txID := uuid.NewString()
	res, err := w.book.Transfer(ctx, ledger.Posting{
		Kind:       ledger.KindDeposit,
		ClientTxID: txID,
		From:       source,
		To:         ledger.VaultAccount(w.id),
		Amount:     amount,
	})
	if err != nil {
		return fmt.Errorf("deposit from %s: %w", from, err)
	}

	e := Event{Kind: EventDeposited, Actor: from, Amount: amount, SettlementTxID: res.TransactionID}
	if err := w.commit(ctx, e); err != nil {
		if rerr := w.reverseDeposit(ctx, source, txID, amount); rerr != nil {
			// not retryable: the depositor still carries the first posting
			return fmt.Errorf("reverse deposit %s after %v: %w", txID, err, rerr)
		}
		return err
	}
	return nil
}

func (w *Wallet) reverseDeposit(ctx context.Context, source, txID string, amount int64) error {
	_, err := w.book.Transfer(ctx, ledger.Posting{
		Kind:       ledger.KindDepositReversal,
		ClientTxID: txID + ":reversal",
		From:       ledger.VaultAccount(w.id),
		To:         source,
		Amount:     amount,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return err
	}
	return nil
}

// CreateTransfer records a new transfer request with the next sequential id.
// The creator's approval is not implied. Balance is only checked on execution.
func (w *Wallet) CreateTransfer(ctx context.Context, caller Address, amount int64, recipient Address) (Transfer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.catchUpLocked(ctx); err != nil {
		return Transfer{}, err
	}
	if err := w.requireApprover(caller); err != nil {
		return Transfer{}, err
	}
	if amount <= 0 {
		return Transfer{}, ErrInvalidAmount
	}
	if parsed, err := ParseAddress(string(recipient)); err != nil {
		return Transfer{}, err
	} else if parsed != recipient {
		return Transfer{}, fmt.Errorf("%w: %q", ErrInvalidAddress, recipient)
	}
	for attempt := 1; ; attempt++ {
		id := uint64(len(w.transfers))
		e := Event{
			Kind:       EventTransferCreated,
			Actor:      caller,
			TransferID: id,
			Amount:     amount,
			Recipient:  recipient,
		}
		err := w.commit(ctx, e)
		if err == nil {
			return w.transfers[id].clone(), nil
		}
		if !w.retryable(ctx, err, attempt) {
			return Transfer{}, err
		}
	}
}

// ApproveTransfer records caller's approval of transfer id. The approval that
// brings the count to the quorum executes the transfer: funds are delivered to
// the recipient first, and only then are the approval, the sent flag, and the
// balance deduction committed together.
//
// When the journal moved on underneath the wallet, the approval is validated
// again against the caught-up state. A payout already posted by an earlier
// attempt is recognised by its deterministic id and never posted twice.
func (w *Wallet) ApproveTransfer(ctx context.Context, caller Address, id uint64) (Transfer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.catchUpLocked(ctx); err != nil {
		return Transfer{}, err
	}
	for attempt := 1; ; attempt++ {
		e, err := w.approval(ctx, caller, id)
		if err != nil {
			return Transfer{}, err
		}
		err = w.commit(ctx, e)
		if err == nil {
			return w.transfers[id].clone(), nil
		}
		if !w.retryable(ctx, err, attempt) {
			return Transfer{}, err
		}
	}
}

// approval validates caller's approval of transfer id against the current
// state and, when it reaches the quorum, delivers the payout.
func (w *Wallet) approval(ctx context.Context, caller Address, id uint64) (Event, error) {
	if err := w.requireApprover(caller); err != nil {
		return Event{}, err
	}
	if id >= uint64(len(w.transfers)) {
		return Event{}, fmt.Errorf("%w: %d", ErrTransferNotFound, id)
	}
	t := w.transfers[id]
	if t.Sent {
		return Event{}, fmt.Errorf("%w: transfer %d", ErrAlreadySent, id)
	}
	if t.HasApproved(caller) {
		return Event{}, fmt.Errorf("%w: transfer %d by %s", ErrDuplicateApproval, id, caller)
	}

	e := Event{Kind: EventTransferApproved, Actor: caller, TransferID: id}
	if t.Approvals+1 >= w.quorum {
		if w.balance < t.Amount {
			return Event{}, fmt.Errorf("%w: transfer %d needs %d, pool holds %d", ErrInsufficientFunds, id, t.Amount, w.balance)
		}
		txID, err := w.deliver(ctx, t)
		if err != nil {
			return Event{}, err
		}
		e.Executed = true
		e.Amount = t.Amount
		e.Recipient = t.Recipient
		e.SettlementTxID = txID
	}
	return e, nil
}

// PayoutTxID is the settlement client transaction id of a transfer's payout.
// It is deterministic so a retried execution can never post twice.
func PayoutTxID(walletID string, transferID uint64) string {
	return fmt.Sprintf("%s:%d", walletID, transferID)
}

func (w *Wallet) deliver(ctx context.Context, t Transfer) (string, error) {
	dest := ledger.AddressAccount(string(t.Recipient))
	if err := w.book.EnsureAccount(ctx, dest); err != nil {
		return "", fmt.Errorf("open recipient account: %w", err)
	}
	res, err := w.book.Transfer(ctx, ledger.Posting{
		Kind:       ledger.KindPayout,
		ClientTxID: PayoutTxID(w.id, t.ID),
		From:       ledger.VaultAccount(w.id),
		To:         dest,
		Amount:     t.Amount,
	})
	switch {
	case err == nil:
		return res.TransactionID, nil
	case errors.Is(err, ledger.ErrDuplicateTransaction):
		// posted by an earlier attempt whose journal append failed
		return res.TransactionID, nil
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "", fmt.Errorf("%w: vault of wallet %s cannot cover transfer %d", ErrInsufficientFunds, w.id, t.ID)
	default:
		return "", fmt.Errorf("deliver transfer %d: %w", t.ID, err)
	}
}

func (w *Wallet) requireApprover(caller Address) error {
	if _, ok := w.approverSet[caller]; !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// maxCommitAttempts bounds how often one operation re-validates after losing
// a journal race to another writer.
const maxCommitAttempts = 3

// retryable reports whether a failed commit should be attempted again. A
// journal conflict means another writer extended the chain; the wallet catches
// up so the next attempt validates against the current state.
func (w *Wallet) retryable(ctx context.Context, err error, attempt int) bool {
	if !errors.Is(err, ErrJournalConflict) || attempt >= maxCommitAttempts {
		return false
	}
	return w.catchUpLocked(ctx) == nil
}

// Refresh applies events appended to the journal by other writers since the
// wallet was loaded.
func (w *Wallet) Refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.catchUpLocked(ctx)
}

func (w *Wallet) catchUpLocked(ctx context.Context) error {
	events, err := w.journal.Since(ctx, w.id, w.nextSeq)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(events) == 0 {
		return nil
	}
	if err := verifyFrom(w.id, w.nextSeq, w.head, events); err != nil {
		return fmt.Errorf("wallet %s: %w", w.id, err)
	}
	for _, e := range events {
		if err := w.apply(e); err != nil {
			return fmt.Errorf("%w: wallet %s seq %d: %v", ErrJournalCorrupt, w.id, e.Seq, err)
		}
		w.nextSeq = e.Seq + 1
		w.head = e.Hash
	}
	return nil
}

// commit seals e, appends it to the journal, and applies it. Callers hold the
// write lock and have validated e against the current state.
func (w *Wallet) commit(ctx context.Context, e Event) error {
	e.WalletID = w.id
	e.Seq = w.nextSeq
	e.At = w.now()
	if err := e.seal(w.head); err != nil {
		return err
	}
	if err := w.journal.Append(ctx, e); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if err := w.apply(e); err != nil {
		// the journal accepted an event the state machine rejects; only reachable
		// through a programming error in validation
		panic(fmt.Sprintf("custody: apply committed event %s seq %d: %v", e.Kind, e.Seq, err))
	}
	w.nextSeq = e.Seq + 1
	w.head = e.Hash
	return nil
}

// apply mutates in-memory state for one event without side effects.
func (w *Wallet) apply(e Event) error {
	switch e.Kind {
	case EventDeployed:
		if e.Seq != 0 {
			return errors.New("deployment is not the first event")
		}
		w.approvers = append([]Address(nil), e.Approvers...)
		w.approverSet = make(map[Address]struct{}, len(e.Approvers))
		for _, a := range e.Approvers {
			w.approverSet[a] = struct{}{}
		}
		w.quorum = e.Quorum
		w.deployer = e.Actor
		w.deployedAt = e.At
		return Deployment{ID: w.id, Approvers: w.approvers, Quorum: w.quorum}.Validate()

	case EventDeposited:
		if e.Amount <= 0 {
			return ErrInvalidAmount
		}
		w.balance += e.Amount
		return nil

	case EventTransferCreated:
		if e.TransferID != uint64(len(w.transfers)) {
			return fmt.Errorf("transfer id %d out of order", e.TransferID)
		}
		w.transfers = append(w.transfers, Transfer{
			ID:        e.TransferID,
			Amount:    e.Amount,
			Recipient: e.Recipient,
			CreatedBy: e.Actor,
			CreatedAt: e.At,
		})
		return nil

	case EventTransferApproved:
		if e.TransferID >= uint64(len(w.transfers)) {
			return ErrTransferNotFound
		}
		t := &w.transfers[e.TransferID]
		if t.Sent {
			return ErrAlreadySent
		}
		if t.HasApproved(e.Actor) {
			return ErrDuplicateApproval
		}
		t.ApprovedBy = append(t.ApprovedBy, e.Actor)
		t.Approvals++
		if e.Executed {
			if w.balance < t.Amount {
				return ErrInsufficientFunds
			}
			t.Sent = true
			t.SentAt = e.At
			t.SettlementTxID = e.SettlementTxID
			w.balance -= t.Amount
		}
		return nil
	}
	return fmt.Errorf("unknown event kind %q", e.Kind)
}

func (w *Wallet) transfersLocked() []Transfer {
	out := make([]Transfer, len(w.transfers))
	for i, t := range w.transfers {
		out[i] = t.clone()
	}
	return out
}

func (w *Wallet) snapshotLocked() Snapshot {
	head := JournalHead{Hash: fmt.Sprintf("%x", w.head)}
	if w.nextSeq > 0 {
		head.Seq = w.nextSeq - 1
	}
	return Snapshot{
		ID:         w.id,
		Approvers:  append([]Address(nil), w.approvers...),
		Quorum:     w.quorum,
		Balance:    w.balance,
		Transfers:  w.transfersLocked(),
		DeployedAt: w.deployedAt,
		Deployer:   w.deployer,
		Head:       head,
	}
}
