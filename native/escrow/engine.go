package escrow

import (
	"errors"
	"time"

	"agentescrow/core/events"
	"agentescrow/core/types"
	"agentescrow/crypto"
	"agentescrow/native/fees"
)

var errNilState = errors.New("escrow engine: state not configured")

var (
	// ErrNotFound marks operations against an escrow account that does not
	// exist. Terminal transitions delete the account, so a settled escrow
	// is indistinguishable from one never created.
	ErrNotFound = errors.New("escrow engine: escrow not found")
	// ErrAlreadyExists rejects creation at an address that already holds an
	// account. Account existence is proof of prior creation.
	ErrAlreadyExists = errors.New("escrow engine: account already exists at derived address")
)

// engineState is the subset of state manager functionality the engine needs.
// Every operation runs inside one atomic state transaction owned by the
// caller: either all mutations commit or none do.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(addr [20]byte) (*Escrow, bool, error)
	EscrowDelete(addr [20]byte) error
	MilestoneEscrowPut(*MilestoneEscrow) error
	MilestoneEscrowGet(addr [20]byte) (*MilestoneEscrow, bool, error)
	MilestoneEscrowDelete(addr [20]byte) error
	NativeCredit(addr [20]byte, amount uint64) error
	NativeDebit(addr [20]byte, amount uint64) error
	TokenBalance(mint, addr [20]byte) (uint64, error)
	TokenTransfer(mint, from, to [20]byte, amount uint64) error
	EscrowIndexAppend(creator, addr [20]byte) error
	EscrowIndexRemove(creator, addr [20]byte) error
}

// ReputationRecorder receives reputation side effects from state transitions.
// Implementations decide whether an escrow's volume clears the accounting
// floor; the engine never inspects reputation state itself.
type ReputationRecorder interface {
	EscrowCreated(creator, recipient [20]byte, amount uint64, now int64)
	EscrowCompleted(creator, recipient [20]byte, amount uint64, now int64)
	DisputeInitiated(disputer [20]byte, now int64)
	DisputeResolved(winner, loser [20]byte, now int64)
}

// NoopRecorder discards all reputation side effects.
type NoopRecorder struct{}

func (NoopRecorder) EscrowCreated(_, _ [20]byte, _ uint64, _ int64)   {}
func (NoopRecorder) EscrowCompleted(_, _ [20]byte, _ uint64, _ int64) {}
func (NoopRecorder) DisputeInitiated(_ [20]byte, _ int64)             {}
func (NoopRecorder) DisputeResolved(_, _ [20]byte, _ int64)           {}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// CreateParams carries the caller-supplied definition of a single-payout
// escrow. The caller is the creator and must have signed the operation.
type CreateParams struct {
	EscrowID       uint64
	Recipient      [20]byte
	Arbiter        [20]byte
	FeeRecipient   [20]byte
	Amount         uint64
	Deadline       int64
	TermsHash      [32]byte
	FeeBasisPoints uint16
	AutoReleaseAt  int64
}

// Engine validates and applies escrow state transitions against an injected
// state backend. It holds no state of its own beyond configuration; the
// surrounding node provides atomicity and serialisation per account.
type Engine struct {
	state   engineState
	emitter events.Emitter
	rep     ReputationRecorder
	nowFn   func() int64
}

// NewEngine creates an escrow engine with no-op event and reputation sinks.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		rep:     NoopRecorder{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRecorder configures the reputation sink. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetRecorder(rep ReputationRecorder) {
	if rep == nil {
		e.rep = NoopRecorder{}
		return
	}
	e.rep = rep
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(addr [20]byte, kind Kind) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || esc.Kind != kind {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) validateCreate(amount uint64, feeBps uint16, deadline, autoReleaseAt, now int64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if feeBps > fees.MaxFeeBasisPoints {
		return ErrFeeTooHigh
	}
	if deadline <= now {
		return ErrDeadlineExpired
	}
	if autoReleaseAt != 0 && autoReleaseAt <= deadline {
		return ErrAutoReleaseInvalidTimestamp
	}
	return nil
}

// Create locks amount from the creator and initialises a native escrow
// account at its derived address. The Created state is entered atomically
// with the fund lock.
func (e *Engine) Create(creator [20]byte, params CreateParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	now := e.now()
	if err := e.validateCreate(params.Amount, params.FeeBasisPoints, params.Deadline, params.AutoReleaseAt, now); err != nil {
		return nil, err
	}
	addr, bump := crypto.EscrowPDA(creator, params.EscrowID)
	if _, ok, err := e.state.EscrowGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyExists
	}
	if err := e.state.NativeDebit(creator, params.Amount); err != nil {
		return nil, err
	}
	esc := &Escrow{
		Address:        addr,
		Bump:           bump,
		Kind:           KindNative,
		Creator:        creator,
		Recipient:      params.Recipient,
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

// Accept transitions the escrow to Active. Only the stored recipient may
// accept, and only before the deadline.
func (e *Engine) Accept(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
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

func acceptTransition(esc *Escrow, caller [20]byte, now int64) error {
	if caller != esc.Recipient {
		return ErrUnauthorizedRecipient
	}
	if esc.Status != StatusCreated {
		return ErrInvalidStatus
	}
	if now >= esc.Deadline {
		return ErrDeadlineExpired
	}
	esc.Status = StatusActive
	return nil
}

// Release settles the escrow in favour of the recipient, splitting the locked
// amount into payout and fee, and closes the account.
func (e *Engine) Release(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
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
	now := e.now()
	e.rep.EscrowCompleted(esc.Creator, esc.Recipient, esc.Amount, now)
	e.emit(NewReleasedEvent(esc))
	return esc.Clone(), nil
}

// AutoRelease performs the caller-independent release path. Anyone may invoke
// it once the stored auto-release timestamp has passed.
func (e *Engine) AutoRelease(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
	if err != nil {
		return nil, err
	}
	if err := autoReleaseGuard(esc, e.now()); err != nil {
		return nil, err
	}
	if err := e.settleToRecipient(esc, StatusCompleted); err != nil {
		return nil, err
	}
	now := e.now()
	e.rep.EscrowCompleted(esc.Creator, esc.Recipient, esc.Amount, now)
	e.emit(NewAutoReleasedEvent(esc, caller))
	return esc.Clone(), nil
}

func autoReleaseGuard(esc *Escrow, now int64) error {
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if esc.AutoReleaseAt == 0 {
		return ErrAutoReleaseNotEnabled
	}
	if now < esc.AutoReleaseAt {
		return ErrAutoReleaseNotReady
	}
	return nil
}

// Refund returns the full locked amount to the creator. A Created escrow can
// be cancelled unconditionally; an Active escrow only after the deadline. No
// fee is ever taken on a refund path.
func (e *Engine) Refund(addr, caller [20]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
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

func refundTransition(esc *Escrow, caller [20]byte, now int64) (Status, error) {
	if caller != esc.Creator {
		return 0, ErrUnauthorizedCreator
	}
	switch esc.Status {
	case StatusCreated:
		return StatusCancelled, nil
	case StatusActive:
		if now < esc.Deadline {
			return 0, ErrDeadlineNotReached
		}
		return StatusRefunded, nil
	default:
		return 0, ErrInvalidStatus
	}
}

// Dispute flags an Active escrow as disputed, storing the truncated reason.
// Only the creator or recipient may dispute.
func (e *Engine) Dispute(addr, caller [20]byte, reason []byte) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
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

func disputeTransition(esc *Escrow, caller [20]byte, reason []byte) error {
	if esc.Status != StatusActive {
		return ErrInvalidStatus
	}
	if caller != esc.Creator && caller != esc.Recipient {
		return ErrUnauthorizedDisputer
	}
	esc.Status = StatusDisputed
	esc.SetDisputeReason(reason)
	return nil
}

// Resolve settles a disputed escrow according to the arbiter's ruling. A
// recipient win pays out with the fee applied; a creator win refunds the full
// amount with no fee. Either way the account closes.
func (e *Engine) Resolve(addr, caller [20]byte, winner DisputeWinner) (*Escrow, error) {
	esc, err := e.loadEscrow(addr, KindNative)
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

// settleToRecipient drains the locked amount as payout + fee and closes the
// account with the supplied terminal status.
func (e *Engine) settleToRecipient(esc *Escrow, final Status) error {
	fee, payout, err := fees.Compute(esc.Amount, esc.FeeBasisPoints)
	if err != nil {
		return mapFeeError(err)
	}
	switch esc.Kind {
	case KindNative:
		if payout > 0 {
			if err := e.state.NativeCredit(esc.Recipient, payout); err != nil {
				return err
			}
		}
		if fee > 0 {
			if err := e.state.NativeCredit(esc.FeeRecipient, fee); err != nil {
				return err
			}
		}
	case KindToken:
		if payout > 0 {
			if err := e.state.TokenTransfer(esc.Mint, esc.Vault, esc.Recipient, payout); err != nil {
				return err
			}
		}
		if fee > 0 {
			if err := e.state.TokenTransfer(esc.Mint, esc.Vault, esc.FeeRecipient, fee); err != nil {
				return err
			}
		}
		if err := e.ensureVaultDrained(esc); err != nil {
			return err
		}
	}
	return e.closeEscrow(esc, final)
}

// refundToCreator returns the full locked amount to the creator and closes
// the account with the supplied terminal status.
func (e *Engine) refundToCreator(esc *Escrow, final Status) error {
	switch esc.Kind {
	case KindNative:
		if err := e.state.NativeCredit(esc.Creator, esc.Amount); err != nil {
			return err
		}
	case KindToken:
		if err := e.state.TokenTransfer(esc.Mint, esc.Vault, esc.Creator, esc.Amount); err != nil {
			return err
		}
		if err := e.ensureVaultDrained(esc); err != nil {
			return err
		}
	}
	return e.closeEscrow(esc, final)
}

// ensureVaultDrained verifies the custody vault is empty before closure. A
// residual balance is a protocol-invariant violation and aborts the
// operation.
func (e *Engine) ensureVaultDrained(esc *Escrow) error {
	balance, err := e.state.TokenBalance(esc.Mint, esc.Vault)
	if err != nil {
		return err
	}
	if balance != 0 {
		return ErrVaultResidualBalance
	}
	return nil
}

func (e *Engine) closeEscrow(esc *Escrow, final Status) error {
	if err := e.state.EscrowDelete(esc.Address); err != nil {
		return err
	}
	if err := e.state.EscrowIndexRemove(esc.Creator, esc.Address); err != nil {
		return err
	}
	esc.Status = final
	return nil
}
