package escrow

import (
	"errors"
	"testing"

	"agentescrow/crypto"
)

func baseMilestoneParams(id uint64) MilestoneCreateParams {
	params := MilestoneCreateParams{
		EscrowID:       id,
		Recipient:      recipAddr,
		Arbiter:        arbiterAddr,
		FeeRecipient:   feeAddr,
		Deadline:       testDeadline,
		FeeBasisPoints: 250,
		Milestones: []MilestoneInput{
			{Amount: 4_000},
			{Amount: 6_000},
		},
	}
	copy(params.TermsHash[:], []byte("agreed-terms-hash-agreed-terms!!"))
	copy(params.Milestones[0].DescriptionHash[:], []byte("design-phase-description-hash!!!"))
	copy(params.Milestones[1].DescriptionHash[:], []byte("delivery-phase-description-hash!"))
	return params
}

func (f *engineFixture) mustCreateMilestone(t *testing.T, params MilestoneCreateParams) *MilestoneEscrow {
	t.Helper()
	var total uint64
	for _, m := range params.Milestones {
		total += m.Amount
	}
	f.state.native[creatorAddr] += total
	esc, err := f.engine.CreateMilestone(creatorAddr, params)
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return esc
}

func (f *engineFixture) mustActivateMilestone(t *testing.T, params MilestoneCreateParams) *MilestoneEscrow {
	t.Helper()
	esc := f.mustCreateMilestone(t, params)
	active, err := f.engine.AcceptMilestone(esc.Address, recipAddr)
	if err != nil {
		t.Fatalf("accept milestone: %v", err)
	}
	return active
}

func TestCreateMilestoneLocksSum(t *testing.T) {
	fix := newFixture(t)
	fix.state.native[creatorAddr] = 10_000

	esc, err := fix.engine.CreateMilestone(creatorAddr, baseMilestoneParams(1))
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	wantAddr, _ := crypto.MilestoneEscrowPDA(creatorAddr, 1)
	if esc.Address != wantAddr {
		t.Fatalf("escrow not at derived address")
	}
	if esc.TotalAmount != 10_000 || esc.ReleasedAmount != 0 {
		t.Fatalf("amounts wrong: total=%d released=%d", esc.TotalAmount, esc.ReleasedAmount)
	}
	if got := fix.state.native[creatorAddr]; got != 0 {
		t.Fatalf("creator balance = %d, want 0", got)
	}
	for i, m := range esc.Milestones {
		if m.Status != MilestonePending {
			t.Fatalf("milestone %d status = %v, want Pending", i, m.Status)
		}
	}
	if fix.recorder.created != 1 || fix.recorder.lastAmount != 10_000 {
		t.Fatalf("reputation create hook not fired with summed volume")
	}
}

func TestCreateMilestoneValidation(t *testing.T) {
	fix := newFixture(t)
	fix.state.native[creatorAddr] = 100_000

	empty := baseMilestoneParams(1)
	empty.Milestones = nil
	if _, err := fix.engine.CreateMilestone(creatorAddr, empty); !errors.Is(err, ErrTooManyMilestones) {
		t.Fatalf("empty milestones err = %v", err)
	}

	crowded := baseMilestoneParams(2)
	crowded.Milestones = make([]MilestoneInput, MaxMilestones+1)
	for i := range crowded.Milestones {
		crowded.Milestones[i].Amount = 1
	}
	if _, err := fix.engine.CreateMilestone(creatorAddr, crowded); !errors.Is(err, ErrTooManyMilestones) {
		t.Fatalf("too many milestones err = %v", err)
	}

	zero := baseMilestoneParams(3)
	zero.Milestones = []MilestoneInput{{Amount: 0}, {Amount: 0}}
	if _, err := fix.engine.CreateMilestone(creatorAddr, zero); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero total err = %v", err)
	}

	wrap := baseMilestoneParams(4)
	wrap.Milestones = []MilestoneInput{{Amount: ^uint64(0)}, {Amount: 1}}
	if _, err := fix.engine.CreateMilestone(creatorAddr, wrap); !errors.Is(err, ErrOverflow) {
		t.Fatalf("overflow err = %v", err)
	}
}

func TestReleaseMilestoneKeepsParentActive(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))

	released, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0)
	if err != nil {
		t.Fatalf("release milestone: %v", err)
	}
	if released.Status != StatusActive {
		t.Fatalf("parent status = %v, want Active", released.Status)
	}
	if released.Milestones[0].Status != MilestoneReleased {
		t.Fatalf("milestone 0 not released")
	}
	if released.ReleasedAmount != 4_000 {
		t.Fatalf("released amount = %d, want 4000", released.ReleasedAmount)
	}
	// 4000 at 250 bps: fee 100, payout 3900.
	if fix.state.native[recipAddr] != 3_900 || fix.state.native[feeAddr] != 100 {
		t.Fatalf("payout wrong: recipient=%d fee=%d", fix.state.native[recipAddr], fix.state.native[feeAddr])
	}
	if fix.recorder.completed != 1 || fix.recorder.lastAmount != 4_000 {
		t.Fatalf("completion hook not fired with milestone volume")
	}

	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0); !errors.Is(err, ErrMilestoneAlreadyReleased) {
		t.Fatalf("double release err = %v", err)
	}
	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 9); !errors.Is(err, ErrInvalidMilestoneIndex) {
		t.Fatalf("bad index err = %v", err)
	}
	if _, err := fix.engine.ReleaseMilestone(esc.Address, recipAddr, 1); !errors.Is(err, ErrUnauthorizedCreator) {
		t.Fatalf("recipient release err = %v", err)
	}
}

func TestReleasingLastMilestoneClosesAccount(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))

	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0); err != nil {
		t.Fatalf("release 0: %v", err)
	}
	final, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 1)
	if err != nil {
		t.Fatalf("release 1: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("final status = %v, want Completed", final.Status)
	}
	if _, ok := fix.state.milestones[esc.Address]; ok {
		t.Fatalf("account survived final release")
	}
	if len(fix.state.index[creatorAddr]) != 0 {
		t.Fatalf("creator index not cleared")
	}
	// Payout plus fees must equal the full locked total.
	sum := fix.state.native[recipAddr] + fix.state.native[feeAddr]
	if sum != 10_000 {
		t.Fatalf("conserved amount = %d, want 10000", sum)
	}
}

func TestDisputeMilestoneFreezesParent(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))

	disputed, err := fix.engine.DisputeMilestone(esc.Address, recipAddr, 1)
	if err != nil {
		t.Fatalf("dispute milestone: %v", err)
	}
	if disputed.Status != StatusDisputed || disputed.Milestones[1].Status != MilestoneDisputed {
		t.Fatalf("dispute not recorded: %+v", disputed)
	}
	if fix.recorder.disputes != 1 {
		t.Fatalf("dispute hook not fired")
	}

	// A disputed parent blocks further releases until the arbiter rules.
	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("release during dispute err = %v", err)
	}
	if _, err := fix.engine.DisputeMilestone(esc.Address, creatorAddr, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second dispute err = %v", err)
	}
}

func TestResolveMilestoneForCreatorRevertsParent(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))
	if _, err := fix.engine.DisputeMilestone(esc.Address, creatorAddr, 0); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if _, err := fix.engine.ResolveMilestoneDispute(esc.Address, creatorAddr, 0, WinnerCreator); !errors.Is(err, ErrUnauthorizedArbiter) {
		t.Fatalf("non-arbiter resolve err = %v", err)
	}
	if _, err := fix.engine.ResolveMilestoneDispute(esc.Address, arbiterAddr, 1, WinnerCreator); !errors.Is(err, ErrMilestoneNotPending) {
		t.Fatalf("resolving undisputed milestone err = %v", err)
	}

	resolved, err := fix.engine.ResolveMilestoneDispute(esc.Address, arbiterAddr, 0, WinnerCreator)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusActive {
		t.Fatalf("parent status = %v, want Active", resolved.Status)
	}
	// Creator win: milestone amount back in full, no fee.
	if fix.state.native[creatorAddr] != 4_000 || fix.state.native[feeAddr] != 0 {
		t.Fatalf("creator win payout wrong: creator=%d fee=%d", fix.state.native[creatorAddr], fix.state.native[feeAddr])
	}
	if fix.recorder.resolutions != 1 {
		t.Fatalf("resolution hook not fired")
	}
}

func TestResolveFinalMilestoneForRecipientClosesAccount(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))
	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0); err != nil {
		t.Fatalf("release 0: %v", err)
	}
	if _, err := fix.engine.DisputeMilestone(esc.Address, recipAddr, 1); err != nil {
		t.Fatalf("dispute 1: %v", err)
	}

	resolved, err := fix.engine.ResolveMilestoneDispute(esc.Address, arbiterAddr, 1, WinnerRecipient)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusCompleted {
		t.Fatalf("parent status = %v, want Completed", resolved.Status)
	}
	if _, ok := fix.state.milestones[esc.Address]; ok {
		t.Fatalf("account survived final resolution")
	}
	// 6000 at 250 bps: fee 150, payout 5850, on top of milestone 0's split.
	if fix.state.native[recipAddr] != 3_900+5_850 || fix.state.native[feeAddr] != 100+150 {
		t.Fatalf("payout wrong: recipient=%d fee=%d", fix.state.native[recipAddr], fix.state.native[feeAddr])
	}
}

func TestRefundMilestoneReturnsUnreleasedRemainder(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustActivateMilestone(t, baseMilestoneParams(1))
	if _, err := fix.engine.ReleaseMilestone(esc.Address, creatorAddr, 0); err != nil {
		t.Fatalf("release 0: %v", err)
	}

	if _, err := fix.engine.RefundMilestone(esc.Address, creatorAddr); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("early refund err = %v", err)
	}

	fix.now = testDeadline
	refunded, err := fix.engine.RefundMilestone(esc.Address, creatorAddr)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Fatalf("status = %v, want Refunded", refunded.Status)
	}
	if got := fix.state.native[creatorAddr]; got != 6_000 {
		t.Fatalf("creator remainder = %d, want 6000", got)
	}
	if _, ok := fix.state.milestones[esc.Address]; ok {
		t.Fatalf("account survived refund")
	}
}

func TestRefundMilestoneCancelsCreatedEscrow(t *testing.T) {
	fix := newFixture(t)
	esc := fix.mustCreateMilestone(t, baseMilestoneParams(1))

	if _, err := fix.engine.RefundMilestone(esc.Address, recipAddr); !errors.Is(err, ErrUnauthorizedCreator) {
		t.Fatalf("stranger refund err = %v", err)
	}
	refunded, err := fix.engine.RefundMilestone(esc.Address, creatorAddr)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Status != StatusCancelled {
		t.Fatalf("status = %v, want Cancelled", refunded.Status)
	}
	if got := fix.state.native[creatorAddr]; got != 10_000 {
		t.Fatalf("creator refund = %d, want full 10000", got)
	}
}
