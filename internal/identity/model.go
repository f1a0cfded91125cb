package identity

import (
	"errors"
	"time"
)

var (
	// ErrPrincipalExists is returned when registering an address twice.
	ErrPrincipalExists = errors.New("principal already registered")
	// ErrPrincipalNotFound is returned when no principal matches the lookup.
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrInvalidPIN        = errors.New("invalid PIN")
	ErrDeviceRequired    = errors.New("device binding required")
	ErrDeviceMismatch    = errors.New("device mismatch")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Principal is a registered address holder: a custody approver, depositor or recipient.
type Principal struct {
	ID           string
	Address      string
	Tier         string
	PINHash      []byte
	DeviceID     string
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    time.Time
}

// Credentials request structure.
type Credentials struct {
	Address  string
	PIN      string
	DeviceID string
}
