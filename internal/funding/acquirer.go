package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCardDeclined is returned when the acquirer refuses an authorization.
var ErrCardDeclined = errors.New("card declined")

// Direction tells the acquirer which way money moves relative to the card.
type Direction string

const (
	// Pull debits the card (top-up of an address account).
	Pull Direction = "pull"
	// Push credits the card (cash-out from an address account).
	Push Direction = "push"
)

// Authorization is what the acquirer sees of a card operation.
type Authorization struct {
	Direction  Direction
	CardNumber string
	Expiry     string
	CVV        string
	Amount     int64
	Reference  string
}

// Decision is the acquirer's answer. Reference identifies the operation on the processor side.
type Decision struct {
	Reference string
	Status    string
}

// Acquirer is a connector to an external card processor.
type Acquirer interface {
	Authorize(ctx context.Context, auth Authorization) (Decision, error)
}

// StaticAcquirer approves everything up to MaxAmount per operation. Zero means no ceiling.
type StaticAcquirer struct {
	MaxAmount int64
}

// Authorize returns an approval with a synthetic reference, or ErrCardDeclined above the ceiling.
func (a StaticAcquirer) Authorize(_ context.Context, auth Authorization) (Decision, error) {
	if a.MaxAmount > 0 && auth.Amount > a.MaxAmount {
		return Decision{Status: "declined"}, fmt.Errorf("%w: %s of %d exceeds %d", ErrCardDeclined, auth.Direction, auth.Amount, a.MaxAmount)
	}
	return Decision{Reference: uuid.NewString(), Status: "approved"}, nil
}
