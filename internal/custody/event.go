package custody

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// EventKind names a journal event.
type EventKind string

const (
	EventDeployed         EventKind = "deployed"
	EventDeposited        EventKind = "deposited"
	EventTransferCreated  EventKind = "transfer_created"
	EventTransferApproved EventKind = "transfer_approved"
)

const hashSize = 32

// genesisHash is the previous-hash of every wallet's first event.
var genesisHash = make([]byte, hashSize)

// Event is one committed state transition of a wallet. Every successful mutating
// operation produces exactly one event, so replaying the journal rebuilds the wallet.
type Event struct {
	WalletID       string    `cbor:"1,keyasint"`
	Seq            uint64    `cbor:"2,keyasint"`
	Kind           EventKind `cbor:"3,keyasint"`
	Actor          Address   `cbor:"4,keyasint,omitempty"`
	At             time.Time `cbor:"5,keyasint"`
	Approvers      []Address `cbor:"6,keyasint,omitempty"`
	Quorum         int       `cbor:"7,keyasint,omitempty"`
	TransferID     uint64    `cbor:"8,keyasint,omitempty"`
	Amount         int64     `cbor:"9,keyasint,omitempty"`
	Recipient      Address   `cbor:"10,keyasint,omitempty"`
	Executed       bool      `cbor:"11,keyasint,omitempty"`
	SettlementTxID string    `cbor:"12,keyasint,omitempty"`

	PrevHash []byte `cbor:"-"`
	Hash     []byte `cbor:"-"`
}

var eventEncMode = mustEventEncMode()

func mustEventEncMode() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("custody: cbor enc mode: %v", err))
	}
	return em
}

// MarshalBody returns the deterministic CBOR encoding hashed into the chain.
func (e Event) MarshalBody() ([]byte, error) {
	e.At = e.At.UTC()
	return eventEncMode.Marshal(e)
}

// UnmarshalEvent decodes a body produced by MarshalBody.
func UnmarshalEvent(body []byte) (Event, error) {
	var e Event
	if err := cbor.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	e.At = e.At.UTC()
	return e, nil
}

func chainHash(prev, body []byte) []byte {
	h := blake3.New()
	h.Write(prev)
	h.Write(body)
	out := make([]byte, hashSize)
	h.Sum(out[:0])
	return out
}

// seal links e to prev and stamps its hash.
func (e *Event) seal(prev []byte) error {
	body, err := e.MarshalBody()
	if err != nil {
		return err
	}
	e.PrevHash = append([]byte(nil), prev...)
	e.Hash = chainHash(prev, body)
	return nil
}

// HashHex is the hex form of the event hash.
func (e Event) HashHex() string {
	return hex.EncodeToString(e.Hash)
}

// VerifyChain checks that events form a dense, correctly linked chain for one
// wallet starting with its deployment.
func VerifyChain(events []Event) (JournalHead, error) {
	if len(events) == 0 {
		return JournalHead{}, fmt.Errorf("%w: empty journal", ErrJournalCorrupt)
	}
	if events[0].Kind != EventDeployed {
		return JournalHead{}, fmt.Errorf("%w: first event is %s", ErrJournalCorrupt, events[0].Kind)
	}
	if err := verifyFrom(events[0].WalletID, 0, genesisHash, events); err != nil {
		return JournalHead{}, err
	}
	last := events[len(events)-1]
	return JournalHead{Seq: last.Seq, Hash: last.HashHex()}, nil
}

// verifyFrom checks that events continue the chain of walletID whose next
// sequence is seq and whose last hash is prev.
func verifyFrom(walletID string, seq uint64, prev []byte, events []Event) error {
	for _, e := range events {
		if e.WalletID != walletID {
			return fmt.Errorf("%w: seq %d belongs to wallet %s", ErrJournalCorrupt, e.Seq, e.WalletID)
		}
		if e.Seq != seq {
			return fmt.Errorf("%w: expected seq %d, got %d", ErrJournalCorrupt, seq, e.Seq)
		}
		if !bytes.Equal(e.PrevHash, prev) {
			return fmt.Errorf("%w: broken link at seq %d", ErrJournalCorrupt, e.Seq)
		}
		body, err := e.MarshalBody()
		if err != nil {
			return err
		}
		if !bytes.Equal(e.Hash, chainHash(prev, body)) {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrJournalCorrupt, e.Seq)
		}
		prev = e.Hash
		seq++
	}
	return nil
}
