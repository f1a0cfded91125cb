package account

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/custody/internal/ledger"
)

func TestServiceOpenAndBalance(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(led)
	ctx := context.Background()

	if err := svc.Open(ctx, "alice"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := svc.Open(ctx, "alice"); err != nil {
		t.Fatalf("open twice: %v", err)
	}

	ledger.SeedBalance(led, ledger.AddressAccount("alice"), 2_500)

	balance, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Amount != 2_500 || balance.Address != "alice" {
		t.Fatalf("unexpected balance %+v", balance)
	}
}

func TestServiceStatement(t *testing.T) {
	led := ledger.NewInMemory()
	svc := NewService(led)
	ctx := context.Background()

	svc.Open(ctx, "alice")
	svc.Open(ctx, "bob")
	ledger.SeedBalance(led, ledger.AddressAccount("alice"), 100)
	for _, id := range []string{"t1", "t2", "t3"} {
		if _, err := led.Transfer(ctx, ledger.Posting{Kind: ledger.KindPayout, ClientTxID: id, From: ledger.AddressAccount("alice"), To: ledger.AddressAccount("bob"), Amount: 10}); err != nil {
			t.Fatalf("transfer %s: %v", id, err)
		}
	}

	entries, err := svc.Statement(ctx, "bob", 2)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(entries) != 2 || entries[0].ClientTxID != "t3" || entries[0].Amount != 10 {
		t.Fatalf("unexpected statement %+v", entries)
	}
}

func TestServiceRejectsUnknownAndInvalid(t *testing.T) {
	svc := NewService(ledger.NewInMemory())
	ctx := context.Background()

	if _, err := svc.Balance(ctx, "ghost"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if err := svc.Open(ctx, "two words"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
}
