package custody

import (
	"fmt"
	"strings"
	"time"
)

const maxAddressLength = 128

// Address identifies an account holder. Two addresses are the same identity
// when their strings are equal.
type Address string

// ParseAddress trims and validates an address.
func ParseAddress(raw string) (Address, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if len(s) > maxAddressLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidAddress, maxAddressLength)
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidAddress, s)
	}
	return Address(s), nil
}

// ParseAddresses validates every entry of raw, preserving order.
func ParseAddresses(raw []string) ([]Address, error) {
	out := make([]Address, 0, len(raw))
	for _, r := range raw {
		a, err := ParseAddress(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (a Address) String() string { return string(a) }

// Deployment holds the parameters fixed when a wallet is created.
type Deployment struct {
	ID        string
	Approvers []Address
	Quorum    int
	Deployer  Address
}

// Validate enforces a non-empty, duplicate-free approver set and 1 <= quorum <= len(approvers).
func (d Deployment) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: wallet id is required", ErrInvalidConfiguration)
	}
	if len(d.Approvers) == 0 {
		return fmt.Errorf("%w: no approvers", ErrInvalidConfiguration)
	}
	seen := make(map[Address]struct{}, len(d.Approvers))
	for _, a := range d.Approvers {
		if parsed, err := ParseAddress(string(a)); err != nil || parsed != a {
			return fmt.Errorf("%w: approver %q is not a valid address", ErrInvalidConfiguration, a)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: duplicate approver %s", ErrInvalidConfiguration, a)
		}
		seen[a] = struct{}{}
	}
	if d.Quorum < 1 || d.Quorum > len(d.Approvers) {
		return fmt.Errorf("%w: quorum %d must be between 1 and %d", ErrInvalidConfiguration, d.Quorum, len(d.Approvers))
	}
	return nil
}

// Transfer is a request to move pooled funds to a recipient once quorum approves it.
type Transfer struct {
	ID             uint64
	Amount         int64
	Recipient      Address
	Approvals      int
	ApprovedBy     []Address
	Sent           bool
	CreatedBy      Address
	CreatedAt      time.Time
	SentAt         time.Time
	SettlementTxID string
}

// HasApproved reports whether approver already signed off on the transfer.
func (t Transfer) HasApproved(approver Address) bool {
	for _, a := range t.ApprovedBy {
		if a == approver {
			return true
		}
	}
	return false
}

func (t Transfer) clone() Transfer {
	out := t
	out.ApprovedBy = append([]Address(nil), t.ApprovedBy...)
	return out
}

// Snapshot is a point-in-time copy of a wallet's state.
type Snapshot struct {
	ID         string
	Approvers  []Address
	Quorum     int
	Balance    int64
	Transfers  []Transfer
	DeployedAt time.Time
	Deployer   Address
	Head       JournalHead
}

// JournalHead identifies the latest event of a wallet journal.
type JournalHead struct {
	Seq  uint64
	Hash string
}
