package escrow

import (
	"errors"
	"fmt"

	"agentescrow/native/fees"
)

// Error is a protocol rejection: a stable numeric code with a fixed message.
// Every operation either commits in full or surfaces one of these unchanged;
// there is no warning or retry class.
type Error struct {
	Code    uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("escrow error %d: %s", e.Code, e.Message)
}

// The closed protocol taxonomy. Codes are allocated sequentially from 6000 in
// declaration order and must never be renumbered.
var (
	ErrInvalidStatus               = &Error{6000, "escrow is not in the expected status for this operation"}
	ErrUnauthorizedCreator         = &Error{6001, "only the creator can perform this action"}
	ErrUnauthorizedRecipient       = &Error{6002, "only the recipient can perform this action"}
	ErrUnauthorizedArbiter         = &Error{6003, "only the arbiter can resolve disputes"}
	ErrDeadlineNotReached          = &Error{6004, "deadline has not passed yet"}
	ErrDeadlineExpired             = &Error{6005, "deadline has already passed"}
	ErrFeeTooHigh                  = &Error{6006, "fee basis points exceeds maximum (1000 = 10%)"}
	ErrZeroAmount                  = &Error{6007, "amount must be greater than zero"}
	ErrOverflow                    = &Error{6008, "arithmetic overflow"}
	ErrUnauthorizedDisputer        = &Error{6009, "only creator or recipient can dispute"}
	ErrAutoReleaseInvalidTimestamp = &Error{6010, "auto-release timestamp must be after deadline"}
	ErrAutoReleaseNotEnabled       = &Error{6011, "auto-release is not enabled for this escrow"}
	ErrAutoReleaseNotReady         = &Error{6012, "auto-release timestamp has not been reached yet"}
	ErrTooManyMilestones           = &Error{6013, "too many milestones (max 10)"}
	ErrMilestoneAmountMismatch     = &Error{6014, "milestone amounts must sum to total amount"}
	ErrInvalidMilestoneIndex       = &Error{6015, "invalid milestone index"}
	ErrMilestoneAlreadyReleased    = &Error{6016, "milestone already released"}
	ErrMilestoneNotPending         = &Error{6017, "milestone is not in pending status"}
)

// ErrVaultResidualBalance reports a token vault that still holds a balance
// after a terminal drain. It sits outside the numbered taxonomy: the
// operation must abort, never retry or silently close.
var ErrVaultResidualBalance = errors.New("escrow: vault holds residual balance after terminal transition")

// mapFeeError lifts fee-engine sentinels into the protocol taxonomy.
func mapFeeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fees.ErrFeeTooHigh):
		return ErrFeeTooHigh
	case errors.Is(err, fees.ErrZeroAmount):
		return ErrZeroAmount
	case errors.Is(err, fees.ErrOverflow):
		return ErrOverflow
	default:
		return err
	}
}
