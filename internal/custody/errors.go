package custody

import "errors"

var (
	// ErrInvalidConfiguration rejects a deployment whose approver set or quorum is unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnauthorized is returned when the caller is not a member of the approver set.
	ErrUnauthorized = errors.New("only approver allowed")

	// ErrAlreadySent is returned when approving a transfer that has been executed.
	ErrAlreadySent = errors.New("transfer has already been sent")

	// ErrDuplicateApproval is returned when an approver approves the same transfer twice.
	ErrDuplicateApproval = errors.New("cannot approve transfer twice")

	// ErrInsufficientFunds is returned when quorum is reached but the pool cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrWalletNotFound   = errors.New("wallet not found")

	// ErrJournalConflict means another writer appended to the journal at the same sequence.
	ErrJournalConflict = errors.New("journal sequence conflict")

	// ErrJournalCorrupt means the stored hash chain does not verify.
	ErrJournalCorrupt = errors.New("journal corrupt")
)
