package escrow

import (
	"agentescrow/crypto"
	"agentescrow/native/fees"
)

// MilestoneCreateParams carries the caller-supplied definition of a milestone
// escrow. The total locked amount is the sum of the milestone amounts.
type MilestoneCreateParams struct {
	EscrowID       uint64
	Recipient      [20]byte
	Arbiter        [20]byte
	FeeRecipient   [20]byte
	Deadline       int64
	TermsHash      [32]byte
	FeeBasisPoints uint16
	Milestones     []MilestoneInput
}

func (e *Engine) loadMilestoneEscrow(addr [20]byte) (*MilestoneEscrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.MilestoneEscrowGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

// CreateMilestone locks the summed milestone amounts from the creator and
// initialises a milestone escrow with every milestone Pending.
func (e *Engine) CreateMilestone(creator [20]byte, params MilestoneCreateParams) (*MilestoneEscrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(params.Milestones) == 0 || len(params.Milestones) > MaxMilestones {
		return nil, ErrTooManyMilestones
	}
	if params.FeeBasisPoints > fees.MaxFeeBasisPoints {
		return nil, ErrFeeTooHigh
	}
	now := e.now()
	if params.Deadline <= now {
		return nil, ErrDeadlineExpired
	}
	amounts := make([]uint64, len(params.Milestones))
	for i := range params.Milestones {
		amounts[i] = params.Milestones[i].Amount
	}
	total, err := fees.SumAmounts(amounts)
	if err != nil {
		return nil, ErrOverflow
	}
	if total == 0 {
		return nil, ErrZeroAmount
	}
	addr, bump := crypto.MilestoneEscrowPDA(creator, params.EscrowID)
	if _, ok, err := e.state.MilestoneEscrowGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyExists
	}
	if err := e.state.NativeDebit(creator, total); err != nil {
		return nil, err
	}
	milestones := make([]Milestone, len(params.Milestones))
	for i := range params.Milestones {
		milestones[i] = Milestone{
			Amount:          params.Milestones[i].Amount,
			Status:          MilestonePending,
			DescriptionHash: params.Milestones[i].DescriptionHash,
		}
	}
	esc := &MilestoneEscrow{
		Address:        addr,
		Bump:           bump,
		Creator:        creator,
		Recipient:      params.Recipient,
		TotalAmount:    total,
		ReleasedAmount: 0,
		Status:         StatusCreated,
		Deadline:       params.Deadline,
		TermsHash:      params.TermsHash,
		Arbiter:        params.Arbiter,
		FeeBasisPoints: params.FeeBasisPoints,
		FeeRecipient:   params.FeeRecipient,
		CreatedAt:      now,
		EscrowID:       params.EscrowID,
		Milestones:     milestones,
	}
	if err := e.state.MilestoneEscrowPut(esc); err != nil {
		return nil, err
	}
	if err := e.state.EscrowIndexAppend(creator, addr); err != nil {
		return nil, err
	}
	e.rep.EscrowCreated(creator, params.Recipient, total, now)
	e.emit(NewMilestoneCreatedEvent(esc))
	return esc.Clone(), nil
}

// AcceptMilestone transitions the parent escrow to Active.
func (e *Engine) AcceptMilestone(addr, caller [20]byte) (*MilestoneEscrow, error) {
	esc, err := e.loadMilestoneEscrow(addr)
	if err != nil {
		return nil, err
	}
	if caller != esc.Recipient {
		return nil, ErrUnauthorizedRecipient
	}
	if esc.Status != StatusCreated {
		return nil, ErrInvalidStatus
	}
	if e.now() >= esc.Deadline {
		return nil, ErrDeadlineExpired
	}
	esc.Status = StatusActive
	if err := e.state.MilestoneEscrowPut(esc); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneAcceptedEvent(esc))
	return esc.Clone(), nil
}

// ReleaseMilestone pays out one Pending milestone with the fee applied. When
// the last milestone releases, the parent completes and the account closes.
func (e *Engine) ReleaseMilestone(addr, caller [20]byte, index uint8) (*MilestoneEscrow, error) {
	esc, err := e.loadMilestoneEscrow(addr)
	if err != nil {
		return nil, err
	}
	if caller != esc.Creator {
		return nil, ErrUnauthorizedCreator
	}
	if esc.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if int(index) >= len(esc.Milestones) {
		return nil, ErrInvalidMilestoneIndex
	}
	milestone := &esc.Milestones[index]
	if milestone.Status != MilestonePending {
		return nil, ErrMilestoneAlreadyReleased
	}
	if err := e.payMilestone(esc, milestone); err != nil {
		return nil, err
	}
	e.rep.EscrowCompleted(esc.Creator, esc.Recipient, milestone.Amount, e.now())
	if err := e.finishMilestoneTransition(esc, StatusActive); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneReleasedEvent(esc, index))
	return esc.Clone(), nil
}

// DisputeMilestone marks one Pending milestone as disputed and the parent as
// Disputed. Only the creator or recipient may dispute.
func (e *Engine) DisputeMilestone(addr, caller [20]byte, index uint8) (*MilestoneEscrow, error) {
	esc, err := e.loadMilestoneEscrow(addr)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if caller != esc.Creator && caller != esc.Recipient {
		return nil, ErrUnauthorizedDisputer
	}
	if int(index) >= len(esc.Milestones) {
		return nil, ErrInvalidMilestoneIndex
	}
	if esc.Milestones[index].Status != MilestonePending {
		return nil, ErrMilestoneNotPending
	}
	esc.Milestones[index].Status = MilestoneDisputed
	esc.Status = StatusDisputed
	if err := e.state.MilestoneEscrowPut(esc); err != nil {
		return nil, err
	}
	e.rep.DisputeInitiated(caller, e.now())
	e.emit(NewMilestoneDisputedEvent(esc, index, caller))
	return esc.Clone(), nil
}

// ResolveMilestoneDispute settles one disputed milestone per the arbiter's
// ruling. Either way the milestone is consumed: a recipient win pays out with
// the fee applied; a creator win returns the milestone amount with no fee.
// The parent reverts to Active unless every milestone is now consumed.
func (e *Engine) ResolveMilestoneDispute(addr, caller [20]byte, index uint8, winner DisputeWinner) (*MilestoneEscrow, error) {
	esc, err := e.loadMilestoneEscrow(addr)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}
	if caller != esc.Arbiter {
		return nil, ErrUnauthorizedArbiter
	}
	if int(index) >= len(esc.Milestones) {
		return nil, ErrInvalidMilestoneIndex
	}
	milestone := &esc.Milestones[index]
	if milestone.Status != MilestoneDisputed {
		return nil, ErrMilestoneNotPending
	}
	now := e.now()
	switch winner {
	case WinnerRecipient:
		if err := e.payMilestone(esc, milestone); err != nil {
			return nil, err
		}
		e.rep.DisputeResolved(esc.Recipient, esc.Creator, now)
	case WinnerCreator:
		if err := e.state.NativeCredit(esc.Creator, milestone.Amount); err != nil {
			return nil, err
		}
		milestone.Status = MilestoneReleased
		released := esc.ReleasedAmount + milestone.Amount
		if released < esc.ReleasedAmount {
			return nil, ErrOverflow
		}
		esc.ReleasedAmount = released
		e.rep.DisputeResolved(esc.Creator, esc.Recipient, now)
	default:
		return nil, ErrInvalidStatus
	}
	if err := e.finishMilestoneTransition(esc, StatusActive); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneResolvedEvent(esc, index, winner))
	return esc.Clone(), nil
}

// RefundMilestone returns the unreleased remainder to the creator. A Created
// escrow cancels unconditionally; an Active one only after the deadline.
func (e *Engine) RefundMilestone(addr, caller [20]byte) (*MilestoneEscrow, error) {
	esc, err := e.loadMilestoneEscrow(addr)
	if err != nil {
		return nil, err
	}
	if caller != esc.Creator {
		return nil, ErrUnauthorizedCreator
	}
	var final Status
	switch esc.Status {
	case StatusCreated:
		final = StatusCancelled
	case StatusActive:
		if e.now() < esc.Deadline {
			return nil, ErrDeadlineNotReached
		}
		final = StatusRefunded
	default:
		return nil, ErrInvalidStatus
	}
	unreleased := esc.TotalAmount - esc.ReleasedAmount
	if unreleased > 0 {
		if err := e.state.NativeCredit(esc.Creator, unreleased); err != nil {
			return nil, err
		}
	}
	if err := e.closeMilestoneEscrow(esc, final); err != nil {
		return nil, err
	}
	e.emit(NewMilestoneRefundedEvent(esc, unreleased))
	return esc.Clone(), nil
}

// payMilestone applies the fee split to a single milestone's amount, credits
// the recipient and fee recipient, and marks the milestone released.
func (e *Engine) payMilestone(esc *MilestoneEscrow, milestone *Milestone) error {
	fee, payout, err := fees.Compute(milestone.Amount, esc.FeeBasisPoints)
	if err != nil {
		return mapFeeError(err)
	}
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
	milestone.Status = MilestoneReleased
	released := esc.ReleasedAmount + milestone.Amount
	if released < esc.ReleasedAmount {
		return ErrOverflow
	}
	esc.ReleasedAmount = released
	return nil
}

// finishMilestoneTransition settles the parent status after a milestone is
// consumed: Completed (and closed) when every milestone is released,
// otherwise the supplied fallback status.
func (e *Engine) finishMilestoneTransition(esc *MilestoneEscrow, fallback Status) error {
	if esc.AllReleased() {
		return e.closeMilestoneEscrow(esc, StatusCompleted)
	}
	esc.Status = fallback
	return e.state.MilestoneEscrowPut(esc)
}

func (e *Engine) closeMilestoneEscrow(esc *MilestoneEscrow, final Status) error {
	if err := e.state.MilestoneEscrowDelete(esc.Address); err != nil {
		return err
	}
	if err := e.state.EscrowIndexRemove(esc.Creator, esc.Address); err != nil {
		return err
	}
	esc.Status = final
	return nil
}
