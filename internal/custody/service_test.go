package custody

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/congo-pay/custody/internal/ledger"
	"github.com/congo-pay/custody/internal/logging"
	"github.com/congo-pay/custody/internal/notification"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func (n *recordingNotifier) byKind(kind string) []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Message
	for _, m := range n.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, ledger.Ledger, Journal, *recordingNotifier) {
	t.Helper()
	book := ledger.NewInMemory()
	journal := NewMemoryJournal()
	notifier := &recordingNotifier{}
	return NewService(book, journal, notifier, logging.Discard()), book, journal, notifier
}

func TestServiceDeployWithInitialDeposit(t *testing.T) {
	ctx := context.Background()
	svc, book, _, _ := newTestService(t)
	ledger.SeedBalance(book, ledger.AddressAccount("alice"), 1_500)

	snap, err := svc.Deploy(ctx, DeployInput{
		Deployer:       alice,
		Approvers:      []Address{alice, bob, carol},
		Quorum:         2,
		InitialDeposit: 1_000,
	})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if snap.ID == "" || snap.Balance != 1_000 || snap.Deployer != alice {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	remaining, _ := book.Balance(ctx, ledger.AddressAccount("alice"))
	if remaining != 500 {
		t.Fatalf("expected deployer to keep 500, got %d", remaining)
	}
}

func TestServiceDeployKeepsWalletWhenInitialDepositFails(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	snap, err := svc.Deploy(ctx, DeployInput{
		Deployer:       alice,
		Approvers:      []Address{alice},
		Quorum:         1,
		InitialDeposit: 10,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient depositor funds, got %v", err)
	}
	if snap.ID == "" {
		t.Fatalf("expected deployed wallet snapshot")
	}
	if _, err := svc.Get(ctx, snap.ID); err != nil {
		t.Fatalf("wallet should remain deployed: %v", err)
	}
}

func TestServiceRejectsInvalidDeployment(t *testing.T) {
	svc, _, journal, _ := newTestService(t)
	_, err := svc.Deploy(context.Background(), DeployInput{Approvers: []Address{alice}, Quorum: 2})
	if !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if ids, _ := journal.WalletIDs(context.Background()); len(ids) != 0 {
		t.Fatalf("expected nothing journaled, got %v", ids)
	}
}

func TestServiceFlowNotifies(t *testing.T) {
	ctx := context.Background()
	svc, book, _, notifier := newTestService(t)
	ledger.SeedBalance(book, ledger.AddressAccount("alice"), 1_000)

	snap, err := svc.Deploy(ctx, DeployInput{Deployer: alice, Approvers: []Address{alice, bob, carol}, Quorum: 2, InitialDeposit: 1_000})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, snap.ID, alice, 100, xavier); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := len(notifier.byKind(notification.KindTransferCreated)); got != 3 {
		t.Fatalf("expected 3 approver notifications, got %d", got)
	}
	if _, err := svc.ApproveTransfer(ctx, snap.ID, alice, 0); err != nil {
		t.Fatalf("approve alice: %v", err)
	}
	if got := len(notifier.byKind(notification.KindTransferSent)); got != 0 {
		t.Fatalf("no payout notification expected below quorum, got %d", got)
	}
	tr, err := svc.ApproveTransfer(ctx, snap.ID, bob, 0)
	if err != nil {
		t.Fatalf("approve bob: %v", err)
	}
	if !tr.Sent {
		t.Fatalf("expected sent")
	}
	sent := notifier.byKind(notification.KindTransferSent)
	if len(sent) != 1 || sent[0].Destination != "xavier" {
		t.Fatalf("expected recipient notification, got %+v", sent)
	}
}

func TestServiceRestoresWalletsLazily(t *testing.T) {
	ctx := context.Background()
	svc, book, journal, _ := newTestService(t)
	ledger.SeedBalance(book, ledger.AddressAccount("alice"), 1_000)

	snap, err := svc.Deploy(ctx, DeployInput{Deployer: alice, Approvers: []Address{alice, bob}, Quorum: 2, InitialDeposit: 600})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	svc.CreateTransfer(ctx, snap.ID, bob, 200, xavier)
	svc.ApproveTransfer(ctx, snap.ID, alice, 0)

	fresh := NewService(book, journal, nil, logging.Discard())
	tr, err := fresh.ApproveTransfer(ctx, snap.ID, bob, 0)
	if err != nil {
		t.Fatalf("approve after restart: %v", err)
	}
	if !tr.Sent || tr.Approvals != 2 {
		t.Fatalf("expected execution after restart, got %+v", tr)
	}
	got, _ := fresh.Get(ctx, snap.ID)
	if got.Balance != 400 {
		t.Fatalf("expected 400, got %d", got.Balance)
	}
}

func TestServiceUnknownWallet(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	for _, id := range []string{"not-a-uuid", "5f1c1b55-8f47-4d4c-9ad6-3a4f3e0e9b10"} {
		if _, err := svc.Get(context.Background(), id); !errors.Is(err, ErrWalletNotFound) {
			t.Fatalf("%s: expected wallet not found, got %v", id, err)
		}
	}
}

func TestServiceRestoreAllSkipsCorruptWallets(t *testing.T) {
	ctx := context.Background()
	svc, book, journal, _ := newTestService(t)

	good, err := svc.Deploy(ctx, DeployInput{Approvers: []Address{alice}, Quorum: 1})
	if err != nil {
		t.Fatalf("deploy good: %v", err)
	}
	bad, err := svc.Deploy(ctx, DeployInput{Approvers: []Address{bob}, Quorum: 1})
	if err != nil {
		t.Fatalf("deploy bad: %v", err)
	}
	journal.(*memoryJournal).events[bad.ID][0].Quorum = 5

	fresh := NewService(book, journal, nil, logging.Discard())
	loaded, err := fresh.RestoreAll(ctx)
	if loaded != 1 {
		t.Fatalf("expected 1 wallet loaded, got %d", loaded)
	}
	if !errors.Is(err, ErrJournalCorrupt) {
		t.Fatalf("expected corrupt journal error, got %v", err)
	}
	if _, err := fresh.Get(ctx, good.ID); err != nil {
		t.Fatalf("good wallet should be loaded: %v", err)
	}
	if _, err := fresh.Verify(ctx, bad.ID); !errors.Is(err, ErrJournalCorrupt) {
		t.Fatalf("expected verify to flag corruption, got %v", err)
	}
}

func TestReconcilerReportsDrift(t *testing.T) {
	ctx := context.Background()
	svc, book, _, _ := newTestService(t)
	ledger.SeedBalance(book, ledger.AddressAccount("alice"), 500)

	snap, err := svc.Deploy(ctx, DeployInput{Deployer: alice, Approvers: []Address{alice}, Quorum: 1, InitialDeposit: 500})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	r := NewReconciler(svc, logging.Discard())

	drifts, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift, got %+v", drifts)
	}

	// funds moved into the vault outside the wallet
	ledger.SeedBalance(book, ledger.VaultAccount(snap.ID), 650)
	drifts, err = r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("expected 1 drift, got %+v", drifts)
	}
	d := drifts[0]
	if d.WalletID != snap.ID || d.WalletBalance != 500 || d.VaultBalance != 650 {
		t.Fatalf("unexpected drift %+v", d)
	}
}

func TestServiceSeesWritesFromAnotherHost(t *testing.T) {
	ctx := context.Background()
	svc, book, journal, _ := newTestService(t)
	ledger.SeedBalance(book, ledger.AddressAccount("alice"), 600)

	snap, err := svc.Deploy(ctx, DeployInput{Deployer: alice, Approvers: []Address{alice, bob}, Quorum: 2, InitialDeposit: 600})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	other := NewService(book, journal, nil, logging.Discard())
	if _, err := other.CreateTransfer(ctx, snap.ID, bob, 200, xavier); err != nil {
		t.Fatalf("create on second host: %v", err)
	}
	if _, err := other.ApproveTransfer(ctx, snap.ID, alice, 0); err != nil {
		t.Fatalf("approve on second host: %v", err)
	}

	transfers, err := svc.Transfers(ctx, snap.ID)
	if err != nil || len(transfers) != 1 || transfers[0].Approvals != 1 {
		t.Fatalf("expected the second host's transfer, got %+v (%v)", transfers, err)
	}
	tr, err := svc.ApproveTransfer(ctx, snap.ID, bob, 0)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !tr.Sent {
		t.Fatalf("expected execution, got %+v", tr)
	}
	if got, _ := book.Balance(ctx, ledger.AddressAccount("xavier")); got != 200 {
		t.Fatalf("expected recipient to hold 200, got %d", got)
	}
	got, _ := other.Get(ctx, snap.ID)
	if got.Balance != 400 || !got.Transfers[0].Sent {
		t.Fatalf("second host did not see the execution: %+v", got)
	}
}

func TestServiceEvictsWalletWithCorruptJournal(t *testing.T) {
	ctx := context.Background()
	svc, _, journal, _ := newTestService(t)

	snap, err := svc.Deploy(ctx, DeployInput{Approvers: []Address{alice}, Quorum: 1})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	mem := journal.(*memoryJournal)
	head := mem.events[snap.ID][0]
	mem.events[snap.ID] = append(mem.events[snap.ID], Event{
		WalletID: snap.ID,
		Seq:      1,
		Kind:     EventDeposited,
		Amount:   5,
		PrevHash: head.Hash,
		Hash:     make([]byte, hashSize),
	})

	if _, err := svc.Get(ctx, snap.ID); !errors.Is(err, ErrJournalCorrupt) {
		t.Fatalf("expected corrupt journal, got %v", err)
	}
	if n := len(svc.Loaded()); n != 0 {
		t.Fatalf("expected the wallet to be evicted, %d loaded", n)
	}
}
