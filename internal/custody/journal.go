package custody

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// Journal is the append-only, hash-chained event log that makes wallet state durable.
type Journal interface {
	// Append stores a sealed event. It fails with ErrJournalConflict when the
	// sequence is already taken or does not extend the stored chain.
	Append(ctx context.Context, e Event) error
	// Load returns every event of a wallet ordered by sequence.
	Load(ctx context.Context, walletID string) ([]Event, error)
	// Since returns the events of a wallet with a sequence of at least seq, in order.
	Since(ctx context.Context, walletID string, seq uint64) ([]Event, error)
	// WalletIDs lists deployed wallets in deployment order.
	WalletIDs(ctx context.Context) ([]string, error)
}

type memoryJournal struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []string
}

// NewMemoryJournal builds an in-memory journal for tests and development runs.
func NewMemoryJournal() Journal {
	return &memoryJournal{events: make(map[string][]Event)}
}

func (j *memoryJournal) Append(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	chain := j.events[e.WalletID]
	if e.Seq != uint64(len(chain)) {
		return fmt.Errorf("%w: wallet %s seq %d, next is %d", ErrJournalConflict, e.WalletID, e.Seq, len(chain))
	}
	prev := genesisHash
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	if !bytes.Equal(prev, e.PrevHash) {
		return fmt.Errorf("%w: wallet %s seq %d does not extend the chain", ErrJournalConflict, e.WalletID, e.Seq)
	}
	if len(chain) == 0 {
		j.order = append(j.order, e.WalletID)
	}
	j.events[e.WalletID] = append(chain, e)
	return nil
}

func (j *memoryJournal) Load(_ context.Context, walletID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	chain := j.events[walletID]
	out := make([]Event, len(chain))
	copy(out, chain)
	return out, nil
}

func (j *memoryJournal) Since(_ context.Context, walletID string, seq uint64) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	chain := j.events[walletID]
	if seq >= uint64(len(chain)) {
		return nil, nil
	}
	out := make([]Event, len(chain)-int(seq))
	copy(out, chain[seq:])
	return out, nil
}

func (j *memoryJournal) WalletIDs(_ context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]string(nil), j.order...), nil
}
