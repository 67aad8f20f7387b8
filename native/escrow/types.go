package escrow

import (
	"fmt"
)

// Status represents the lifecycle states of an escrow account.
type Status uint8

const (
	StatusCreated Status = iota
	StatusActive
	StatusCompleted
	StatusDisputed
	StatusRefunded
	StatusCancelled
	StatusResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusResolved
}

// Terminal reports whether the status coincides with account closure. A
// terminal escrow account no longer exists; existence is the lock on funds.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled, StatusResolved:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusDisputed:
		return "disputed"
	case StatusRefunded:
		return "refunded"
	case StatusCancelled:
		return "cancelled"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Kind distinguishes the asset custody model of a single-payout escrow.
type Kind uint8

const (
	// KindNative locks units of the native asset inside the escrow account.
	KindNative Kind = iota
	// KindToken locks units of an arbitrary fungible mint inside a derived
	// vault account.
	KindToken
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindToken:
		return "token"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DisputeWinner names the party an arbiter rules for.
type DisputeWinner uint8

const (
	WinnerCreator DisputeWinner = iota
	WinnerRecipient
)

// DisputeReasonSize is the fixed capacity of the stored dispute reason.
// Longer inputs are truncated at this boundary; the truncation point is part
// of the observable contract.
const DisputeReasonSize = 64

// Escrow is a single-payout escrow account. Address is the protocol-derived
// account location; the (Creator, EscrowID) pair is unique per kind. For
// KindToken escrows, Mint names the fungible asset and Vault the custody
// sub-account holding the locked balance.
type Escrow struct {
	Address        [20]byte
	Bump           uint8
	Kind           Kind
	Creator        [20]byte
	Recipient      [20]byte
	Mint           [20]byte
	Vault          [20]byte
	VaultBump      uint8
	Amount         uint64
	Status         Status
	Deadline       int64
	TermsHash      [32]byte
	Arbiter        [20]byte
	FeeBasisPoints uint16
	FeeRecipient   [20]byte
	CreatedAt      int64
	EscrowID       uint64
	DisputeReason  [DisputeReasonSize]byte
	AutoReleaseAt  int64
}

// Clone returns a copy of the escrow so callers can safely mutate it without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// SetDisputeReason stores the reason truncated to the fixed capacity and
// zero-pads the remainder.
func (e *Escrow) SetDisputeReason(reason []byte) {
	e.DisputeReason = [DisputeReasonSize]byte{}
	copy(e.DisputeReason[:], reason)
}

// Sanitize validates the structural invariants of an escrow record prior to
// persistence or event emission.
func (e *Escrow) Sanitize() error {
	if e == nil {
		return fmt.Errorf("escrow: nil escrow")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("escrow: invalid status %d", e.Status)
	}
	if e.Amount == 0 {
		return ErrZeroAmount
	}
	if e.FeeBasisPoints > 1000 {
		return ErrFeeTooHigh
	}
	if e.AutoReleaseAt != 0 && e.AutoReleaseAt <= e.Deadline {
		return ErrAutoReleaseInvalidTimestamp
	}
	if e.Kind != KindNative && e.Kind != KindToken {
		return fmt.Errorf("escrow: invalid kind %d", e.Kind)
	}
	return nil
}
