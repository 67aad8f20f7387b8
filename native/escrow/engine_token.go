package escrow

import (
	"agentescrow/crypto"
)

// CreateToken locks amount of the supplied mint inside a derived custody
// vault and initialises a token escrow account. The lifecycle is identical to
// a native escrow; only the custody model differs.
func (e *Engine) CreateToken(creator [20]byte, mint [20]byte, params CreateParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	if err := e.validateCreate(params.Amount, params.FeeBasisPoints, params.Deadline, params.AutoReleaseAt, now); err != nil {
		return nil, err
	}
	addr, bump := crypto.TokenEscrowPDA(creator, params.EscrowID)
	if _, ok, err := e.state.EscrowGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyExists
	}
	vault, vaultBump := crypto.TokenVaultPDA(addr)
	if err := e.state.TokenTransfer(mint, creator, vault, params.Amount); err != nil {
		return nil, err
	}
	esc := &Escrow{
		Address:        addr,
		Bump:           bump,
		Kind:           KindToken,
		Creator:        creator,
		Recipient:      params.Recipient,
		Mint:           mint,
		Vault:          vault,
		VaultBump:      vaultBump,
		Amount:         params.Amount,
		Status:         StatusCreated,
		Deadline:       params.Deadline,
		TermsHash:      params.TermsHash,
		Arbiter:        params.Arbiter,
		FeeBasisPoints: params.FeeBasisPoints,
		FeeRecipient:   params.FeeRecipient,
		CreatedAt:      now,
		EscrowID:       params.EscrowID,
		AutoReleaseAt:  params.AutoReleaseAt,
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexAppend(creator, addr); err != nil {
		return nil, err
	}
	e.rep.EscrowCreated(creator, params.Recipient, params.Amount, now)
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// AcceptToken transitions a token escrow to Active.
func (e *Engine) AcceptToken(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	if err := acceptTransition(esc, caller, e.now()); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewAcceptedEvent(esc))
	return esc.Clone(), nil
}

// ReleaseToken settles a token escrow in favour of the recipient, paying out
// of the vault, and closes both the vault and the escrow account.
func (e *Engine) ReleaseToken(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	if caller != esc.Creator {
		return nil, ErrUnauthorizedCreator
	}
	if esc.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if err := e.settleToRecipient(esc, StatusCompleted); err != nil {
		return nil, err
	}
	e.rep.EscrowCompleted(esc.Creator, esc.Recipient, esc.Amount, e.now())
	e.emit(NewReleasedEvent(esc))
	return esc.Clone(), nil
}

// AutoReleaseToken is the caller-independent release path for token escrows.
func (e *Engine) AutoReleaseToken(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	if err := autoReleaseGuard(esc, e.now()); err != nil {
		return nil, err
	}
	if err := e.settleToRecipient(esc, StatusCompleted); err != nil {
		return nil, err
	}
	e.rep.EscrowCompleted(esc.Creator, esc.Recipient, esc.Amount, e.now())
	e.emit(NewAutoReleasedEvent(esc, caller))
	return esc.Clone(), nil
}

// RefundToken returns the full vault balance to the creator.
func (e *Engine) RefundToken(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	final, err := refundTransition(esc, caller, e.now())
	if err != nil {
		return nil, err
	}
	if err := e.refundToCreator(esc, final); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(esc))
	return esc.Clone(), nil
}

// DisputeToken flags an Active token escrow as disputed.
func (e *Engine) DisputeToken(addr, caller [20]byte, reason []byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	if err := disputeTransition(esc, caller, reason); err != nil {
		return nil, err
	}
	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	e.rep.DisputeInitiated(caller, e.now())
	e.emit(NewDisputedEvent(esc, caller))
	return esc.Clone(), nil
}

// ResolveToken settles a disputed token escrow per the arbiter's ruling.
func (e *Engine) ResolveToken(addr, caller [20]byte, winner DisputeWinner) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindToken)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}
	if caller != esc.Arbiter {
		return nil, ErrUnauthorizedArbiter
	}
	now := e.now()
	switch winner {
	case WinnerRecipient:
		if err := e.settleToRecipient(esc, StatusResolved); err != nil {
			return nil, err
		}
		e.rep.DisputeResolved(esc.Recipient, esc.Creator, now)
	case WinnerCreator:
		if err := e.refundToCreator(esc, StatusResolved); err != nil {
			return nil, err
		}
		e.rep.DisputeResolved(esc.Creator, esc.Recipient, now)
	default:
		return nil, ErrInvalidStatus
	}
	e.emit(NewResolvedEvent(esc, winner))
	return esc.Clone(), nil
}
